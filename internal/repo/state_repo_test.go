package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oferrer/wa-gateway/internal/domain"
)

func TestUpsertConversationState_CreateThenAppendHistory(t *testing.T) {
	db := newTestDB(t, &domain.ConversationState{})
	ctx := context.Background()

	if err := UpsertConversationState(ctx, db, "conv-1", "text", true, `{"step":1}`, map[string]string{"event": "dispatched"}, time.Hour); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := UpsertConversationState(ctx, db, "conv-1", "receipt_review", false, `{"step":2}`, map[string]string{"event": "replied"}, time.Hour); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	s, err := GetConversationState(ctx, db, "conv-1")
	if err != nil {
		t.Fatalf("GetConversationState: %v", err)
	}
	if s.Flow != "receipt_review" || s.AwaitingResponse {
		t.Fatalf("state not replaced: %+v", s)
	}
	if strings.Count(s.History, "\n") != 2 {
		t.Fatalf("history must be append-only, got %q", s.History)
	}
	if s.ExpiresAt == nil || time.Until(*s.ExpiresAt) <= 0 {
		t.Fatalf("expiry not stamped: %v", s.ExpiresAt)
	}
}

func TestResetConversationState(t *testing.T) {
	db := newTestDB(t, &domain.ConversationState{})
	ctx := context.Background()

	if err := UpsertConversationState(ctx, db, "conv-2", "text", false, "", nil, 0); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := ResetConversationState(ctx, db, "conv-2"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := GetConversationState(ctx, db, "conv-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after reset, got %v", err)
	}
}

package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oferrer/wa-gateway/internal/domain"
)

func TestCreateIncomingMessage_SetsDefaultsAndRoundtrips(t *testing.T) {
	db := newTestDB(t, &domain.User{}, &domain.Conversation{}, &domain.Message{})
	ctx := context.Background()

	u, _ := GetOrCreateUser(ctx, db, "5215550020", "")
	c, _ := GetOrCreateConversation(ctx, db, u.ID)

	m, err := CreateIncomingMessage(ctx, db, &domain.Message{
		ExternalID:     "wamid.A1",
		ConversationID: c.ID,
		Type:           "text",
		Content:        "hola",
		SenderName:     "Ana",
	})
	if err != nil {
		t.Fatalf("CreateIncomingMessage: %v", err)
	}
	if m.ID == "" || m.Direction != domain.DirectionInbound || m.SenderRole != domain.RoleUser {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Timestamp.IsZero() || time.Since(m.Timestamp) > time.Minute {
		t.Fatalf("timestamp not defaulted: %v", m.Timestamp)
	}

	got, err := GetMessageByExternalID(ctx, db, "wamid.A1")
	if err != nil {
		t.Fatalf("GetMessageByExternalID: %v", err)
	}
	if got.ID != m.ID || got.Content != "hola" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestCreateIncomingMessage_DuplicateExternalID(t *testing.T) {
	db := newTestDB(t, &domain.User{}, &domain.Conversation{}, &domain.Message{})
	ctx := context.Background()

	u, _ := GetOrCreateUser(ctx, db, "5215550021", "")
	c, _ := GetOrCreateConversation(ctx, db, u.ID)

	mk := func() *domain.Message {
		return &domain.Message{ExternalID: "wamid.DUP", ConversationID: c.ID, Type: "text", Content: "x"}
	}
	if _, err := CreateIncomingMessage(ctx, db, mk()); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := CreateIncomingMessage(ctx, db, mk()); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	total, _ := CountMessages(ctx, db, c.ID)
	if total != 1 {
		t.Fatalf("expected exactly 1 persisted message, got %d", total)
	}
}

func TestCreateOutgoingMessage_GeneratesExternalID(t *testing.T) {
	db := newTestDB(t, &domain.User{}, &domain.Conversation{}, &domain.Message{})
	ctx := context.Background()

	u, _ := GetOrCreateUser(ctx, db, "5215550022", "")
	c, _ := GetOrCreateConversation(ctx, db, u.ID)

	m, err := CreateOutgoingMessage(ctx, db, c.ID, domain.RoleAgent, "bot", "text", "hello", "")
	if err != nil {
		t.Fatalf("CreateOutgoingMessage: %v", err)
	}
	if m.ExternalID == "" || m.Direction != domain.DirectionOutbound || m.SenderRole != domain.RoleAgent {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestListRecentMessages_ChronologicalWindow(t *testing.T) {
	db := newTestDB(t, &domain.User{}, &domain.Conversation{}, &domain.Message{})
	ctx := context.Background()

	u, _ := GetOrCreateUser(ctx, db, "5215550023", "")
	c, _ := GetOrCreateConversation(ctx, db, u.ID)

	t0 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i, body := range []string{"one", "two", "three"} {
		m := &domain.Message{
			ExternalID:     "wamid.R" + body,
			ConversationID: c.ID,
			Type:           "text",
			Content:        body,
			Timestamp:      t0.Add(time.Duration(i) * time.Minute),
		}
		if _, err := CreateIncomingMessage(ctx, db, m); err != nil {
			t.Fatalf("seed %s: %v", body, err)
		}
	}

	recent, err := ListRecentMessages(ctx, db, c.ID, 2)
	if err != nil {
		t.Fatalf("ListRecentMessages: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "two" || recent[1].Content != "three" {
		t.Fatalf("unexpected window: %+v", recent)
	}

	page, err := ListMessagesPage(ctx, db, c.ID, 1, 1)
	if err != nil || len(page) != 1 || page[0].Content != "two" {
		t.Fatalf("ListMessagesPage: %+v, %v", page, err)
	}
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oferrer/wa-gateway/internal/domain"
	"github.com/oferrer/wa-gateway/internal/repo"
)

func newConversationService(t *testing.T) (*ConversationService, *fakeReplier, *domain.Conversation) {
	t.Helper()
	db := newServiceDB(t)
	rp := &fakeReplier{}
	svc := &ConversationService{DB: db, Responder: rp}

	ctx := context.Background()
	user, err := repo.GetOrCreateUser(ctx, db, "5215550001", "Ana")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	conv, err := repo.GetOrCreateConversation(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}
	return svc, rp, conv
}

func TestTakeoverAndHandBack(t *testing.T) {
	svc, _, conv := newConversationService(t)
	ctx := context.Background()

	if err := svc.Takeover(ctx, conv.ID); err != nil {
		t.Fatalf("Takeover: %v", err)
	}
	got, _ := repo.GetConversation(ctx, svc.DB, conv.ID)
	if got.OwnedBy != domain.OwnerOperator {
		t.Fatalf("owner = %q", got.OwnedBy)
	}

	// Taking over again is a no-op conflict.
	if err := svc.Takeover(ctx, conv.ID); !errors.Is(err, ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned, got %v", err)
	}

	// Flow state accumulated before the takeover is cleared on hand-back.
	if err := repo.UpsertConversationState(ctx, svc.DB, conv.ID, "receipt", true, "{}", nil, time.Hour); err != nil {
		t.Fatalf("UpsertConversationState: %v", err)
	}

	if err := svc.HandBack(ctx, conv.ID); err != nil {
		t.Fatalf("HandBack: %v", err)
	}
	got, _ = repo.GetConversation(ctx, svc.DB, conv.ID)
	if got.OwnedBy != domain.OwnerAgent {
		t.Fatalf("owner = %q after hand-back", got.OwnedBy)
	}
	if _, err := repo.GetConversationState(ctx, svc.DB, conv.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("flow state survived hand-back: %v", err)
	}
}

func TestTakeover_NotFound(t *testing.T) {
	svc, _, _ := newConversationService(t)
	if err := svc.Takeover(context.Background(), "missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestOperatorSend_DeliversToConversationUser(t *testing.T) {
	svc, rp, conv := newConversationService(t)

	msg, err := svc.OperatorSend(context.Background(), conv.ID, "Sofía", "hola, soy del equipo de soporte")
	if err != nil {
		t.Fatalf("OperatorSend: %v", err)
	}
	if len(rp.sent) != 1 || rp.sent[0].to != "5215550001" {
		t.Fatalf("sent = %+v", rp.sent)
	}
	if rp.lastRole != domain.RoleOperator {
		t.Fatalf("role = %q", rp.lastRole)
	}
	if msg.SenderName != "Sofía" {
		t.Fatalf("sender name = %q", msg.SenderName)
	}
}

func TestOperatorSend_NotFound(t *testing.T) {
	svc, _, _ := newConversationService(t)
	if _, err := svc.OperatorSend(context.Background(), "missing", "Sofía", "hola"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestListPage_AndMessagesPage(t *testing.T) {
	svc, _, conv := newConversationService(t)
	ctx := context.Background()

	items, total, err := svc.ListPage(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != conv.ID {
		t.Fatalf("items=%+v total=%d", items, total)
	}

	for _, body := range []string{"uno", "dos", "tres"} {
		if _, err := repo.CreateIncomingMessage(ctx, svc.DB, &domain.Message{
			ExternalID:     "wamid." + body,
			ConversationID: conv.ID,
			Type:           "text",
			Content:        body,
		}); err != nil {
			t.Fatalf("seed %q: %v", body, err)
		}
	}

	msgs, total, err := svc.MessagesPage(ctx, conv.ID, 1, 2)
	if err != nil {
		t.Fatalf("MessagesPage: %v", err)
	}
	if total != 3 || len(msgs) != 2 {
		t.Fatalf("msgs=%d total=%d", len(msgs), total)
	}

	if _, _, err := svc.MessagesPage(ctx, "missing", 1, 10); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

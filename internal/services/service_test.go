package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oferrer/wa-gateway/internal/domain"
)

// newServiceDB opens a throwaway sqlite database with all pipeline tables.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.ReceiptEmbedding{},
		&domain.ConversationState{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// ----- Fake sender (Responder dependency) -----

type fakeSender struct {
	sent    []sentMessage
	sendErr error
	nextID  string
}

type sentMessage struct {
	to, text, replyTo string
}

func (f *fakeSender) SendText(_ context.Context, to, text string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sentMessage{to: to, text: text})
	return f.providerID(), nil
}

func (f *fakeSender) SendReply(_ context.Context, to, text, replyToID string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sentMessage{to: to, text: text, replyTo: replyToID})
	return f.providerID(), nil
}

func (f *fakeSender) providerID() string {
	if f.nextID != "" {
		return f.nextID
	}
	return fmt.Sprintf("wamid.OUT%d", len(f.sent))
}

// ----- Fake replier (Dispatcher dependency) -----

type fakeReplier struct {
	sent     []sentMessage
	notices  []sentMessage
	sendErr  error
	failures int // NotifyFailure invocations
	lastRole string
}

func (f *fakeReplier) SendAndPersist(_ context.Context, _ *domain.Conversation, toWaID, text, role, replyToID string) (*domain.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{to: toWaID, text: text, replyTo: replyToID})
	f.lastRole = role
	return &domain.Message{ID: "out-1", Content: text, SenderRole: role}, nil
}

func (f *fakeReplier) Notify(_ context.Context, toWaID, text string) {
	f.notices = append(f.notices, sentMessage{to: toWaID, text: text})
}

func (f *fakeReplier) NotifyFailure(_ context.Context, _ string) {
	f.failures++
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ConversationState companion model (flow bookkeeping).
package repo

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oferrer/wa-gateway/internal/domain"
)

// GetConversationState fetches the flow state for a conversation, or ErrNotFound.
func GetConversationState(ctx context.Context, db *gorm.DB, conversationID string) (*domain.ConversationState, error) {
	var s domain.ConversationState
	if err := db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertConversationState records a flow transition. The history column is an
// append-only log of JSON lines; context and flow are replaced wholesale.
// ttl > 0 stamps an expiry so external cleanup can drop stale rows.
func UpsertConversationState(ctx context.Context, db *gorm.DB, conversationID, flow string, awaiting bool, contextPayload string, historyEvent any, ttl time.Duration) error {
	now := time.Now().UTC()

	var entry string
	if historyEvent != nil {
		if raw, err := json.Marshal(historyEvent); err == nil {
			entry = string(raw) + "\n"
		}
	}

	var expires *time.Time
	if ttl > 0 {
		e := now.Add(ttl)
		expires = &e
	}

	existing, err := GetConversationState(ctx, db, conversationID)
	if err == nil {
		updates := map[string]any{
			"flow":              flow,
			"awaiting_response": awaiting,
			"context":           contextPayload,
			"history":           existing.History + entry,
			"expires_at":        expires,
			"updated_at":        now,
		}
		return db.WithContext(ctx).
			Model(&domain.ConversationState{}).
			Where("conversation_id = ?", conversationID).
			Updates(updates).Error
	}

	s := &domain.ConversationState{
		ConversationID:   conversationID,
		Flow:             flow,
		AwaitingResponse: awaiting,
		Context:          contextPayload,
		History:          entry,
		ExpiresAt:        expires,
		UpdatedAt:        now,
	}
	// Two intakes can race on first upsert; conflict resolution keeps one row.
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"flow", "awaiting_response", "context", "expires_at", "updated_at"}),
		}).
		Create(s).Error
}

// ResetConversationState removes the flow state row, if any.
func ResetConversationState(ctx context.Context, db *gorm.DB, conversationID string) error {
	return db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&domain.ConversationState{}).Error
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model, including the ownership flag that gates dispatch and
// the denormalized inbox fields (unread counter, last-message summary).
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oferrer/wa-gateway/internal/domain"
)

// GetConversation fetches a conversation by ID, or ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateConversation resolves the single conversation held with userID,
// creating it with default ownership "agent" when absent.
func GetOrCreateConversation(ctx context.Context, db *gorm.DB, userID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	nc := &domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		OwnedBy:   domain.OwnerAgent,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(nc).Error; err != nil {
		if isUniqueViolation(err) {
			// lost a concurrent first-contact race; take the winner's row
			if gerr := db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error; gerr == nil {
				return &c, nil
			}
		}
		return nil, err
	}
	return nc, nil
}

// SetOwnership flips the ownership flag ("agent"|"operator"). Returns
// ErrNotFound when the conversation does not exist. A takeover also resets
// the unread counter, since the operator is now looking at the thread.
func SetOwnership(ctx context.Context, db *gorm.DB, id, owner string) error {
	updates := map[string]any{"owned_by": owner}
	if owner == domain.OwnerOperator {
		updates["unread_count"] = 0
	}
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IncrementUnread bumps the unread counter by one. The increment is expressed
// as a SQL expression so concurrent handlers for the same conversation remain
// correct without in-process locking.
func IncrementUnread(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error
}

// TouchLastMessage refreshes the denormalized last-message timestamp and
// preview shown in the operator inbox. Last-writer-wins by design.
func TouchLastMessage(ctx context.Context, db *gorm.DB, id string, at time.Time, preview string) error {
	// Truncate on runes; a byte cut can split a multibyte character.
	const maxPreview = 160
	if r := []rune(preview); len(r) > maxPreview {
		preview = string(r[:maxPreview])
	}
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_message_at":      at,
			"last_message_preview": preview,
		}).Error
}

// CountConversations returns the total number of conversations.
func CountConversations(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Conversation{}).Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of conversations ordered by
// last-message recency (most recently active first, nulls last by falling
// back to created_at).
func ListConversationsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Order("COALESCE(last_message_at, created_at) DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

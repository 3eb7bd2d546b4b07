// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model. The external-id unique index enforced here is the idempotency
// authority for the whole intake pipeline: a second writer for the same
// provider message id hits the constraint and receives ErrDuplicate.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oferrer/wa-gateway/internal/domain"
)

// GetMessageByExternalID looks up a message by its provider-assigned id.
// Returns ErrNotFound when no row exists.
func GetMessageByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateIncomingMessage persists an inbound message with sender role "user".
// Returns ErrDuplicate when the external id was already stored.
func CreateIncomingMessage(ctx context.Context, db *gorm.DB, m *domain.Message) (*domain.Message, error) {
	m.ID = uuid.NewString()
	m.Direction = domain.DirectionInbound
	m.SenderRole = domain.RoleUser
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	m.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

// CreateOutgoingMessage persists an outbound message sent on behalf of the
// given role ("agent" or "operator"). When the provider did not return a
// message id, a synthetic one is generated so the unique index holds.
func CreateOutgoingMessage(ctx context.Context, db *gorm.DB, conversationID, role, name, msgType, content, externalID string) (*domain.Message, error) {
	if externalID == "" {
		externalID = "out-" + uuid.NewString()
	}
	m := &domain.Message{
		ID:             uuid.NewString(),
		ExternalID:     externalID,
		ConversationID: conversationID,
		Direction:      domain.DirectionOutbound,
		SenderRole:     role,
		SenderName:     name,
		Type:           msgType,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

// CountMessages returns the number of messages in a conversation.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered deterministically
// (Timestamp ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListRecentMessages returns the newest messages of a conversation in
// chronological order, bounded by limit. Used to build the agent's thread.
func ListRecentMessages(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

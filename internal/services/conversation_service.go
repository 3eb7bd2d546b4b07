// Package services – ConversationService
//
// This file implements the operator-facing side of the ownership state
// machine: listing conversations, reading their history, taking a
// conversation over from the agent, handing it back, and sending messages as
// the operator while in control. Takeover flips OwnedBy to "operator" and
// suppresses agent dispatch at intake until hand-back.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/oferrer/wa-gateway/internal/domain"
	"github.com/oferrer/wa-gateway/internal/repo"
)

// ConversationService exposes conversation administration for operators.
type ConversationService struct {
	DB        *gorm.DB
	Responder Replier
}

// ListPage returns a page of conversations ordered by recent activity.
func (s *ConversationService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Conversation, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize)),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountConversations(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}

	items, err := repo.ListConversationsPage(ctx, s.DB, offset, pageSize)
	return items, total, err
}

// MessagesPage returns a page of one conversation's messages in
// chronological order.
func (s *ConversationService) MessagesPage(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "MessagesPage",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetConversation(ctx, s.DB, conversationID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrConversationNotFound
		}
		return nil, 0, err
	}

	total, err := repo.CountMessages(ctx, s.DB, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(ctx, s.DB, conversationID, offset, pageSize)
	return items, total, err
}

// Takeover transfers a conversation to operator control. Agent dispatch is
// suppressed from the next inbound message on.
func (s *ConversationService) Takeover(ctx context.Context, conversationID string) error {
	return s.setOwner(ctx, conversationID, domain.OwnerOperator)
}

// HandBack returns a conversation to the agent.
func (s *ConversationService) HandBack(ctx context.Context, conversationID string) error {
	return s.setOwner(ctx, conversationID, domain.OwnerAgent)
}

func (s *ConversationService) setOwner(ctx context.Context, conversationID, owner string) error {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "setOwner",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("owner", owner),
		),
	)
	defer span.End()

	conv, err := repo.GetConversation(ctx, s.DB, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	if conv.OwnedBy == owner {
		return ErrAlreadyOwned
	}
	if err := repo.SetOwnership(ctx, s.DB, conversationID, owner); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}

	// A hand-back means the operator resolved whatever the user was in the
	// middle of; stale flow state must not steer the agent's next reply.
	if owner == domain.OwnerAgent {
		if err := repo.ResetConversationState(ctx, s.DB, conversationID); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("flow state reset failed")
		}
	}
	return nil
}

// OperatorSend delivers a message to the conversation's user on behalf of a
// human operator. The conversation does not need to be operator-owned;
// operators may interject at any time.
func (s *ConversationService) OperatorSend(ctx context.Context, conversationID, operatorName, text string) (*domain.Message, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "OperatorSend",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	conv, err := repo.GetConversation(ctx, s.DB, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var user domain.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", conv.UserID).Error; err != nil {
		return nil, err
	}

	msg, err := s.Responder.SendAndPersist(ctx, conv, user.WaID, text, domain.RoleOperator, "")
	if err != nil {
		return nil, err
	}
	if msg.SenderName == "" || operatorName != "" {
		// Best-effort relabel: the responder stamps its default sender name.
		if msg.Durable() {
			_ = s.DB.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", msg.ID).
				Update("sender_name", operatorName).Error
		}
		msg.SenderName = operatorName
	}
	return msg, nil
}

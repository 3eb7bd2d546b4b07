// Package services – Responder
//
// This file implements the outbound side of the pipeline. Sends are
// deliberately non-transactional: the WhatsApp call happens first and the
// local record is written afterwards on a best-effort basis, so a database
// hiccup never blocks a reply the user already deserves. NotifyFailure is the
// last-resort tier: a minimal apology with no persistence at all.
package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/oferrer/wa-gateway/internal/domain"
	"github.com/oferrer/wa-gateway/internal/repo"
	"github.com/oferrer/wa-gateway/internal/webhook"
)

// Sender delivers text messages to a WhatsApp user. Satisfied by *wa.Client.
type Sender interface {
	SendText(ctx context.Context, to, text string) (string, error)
	SendReply(ctx context.Context, to, text, replyToID string) (string, error)
}

// failureNotice is the static last-resort apology.
const failureNotice = "Lo sentimos, tuvimos un problema procesando tu mensaje. Por favor intenta de nuevo en unos minutos."

// Responder sends outbound messages and records them.
type Responder struct {
	DB     *gorm.DB
	Sender Sender

	// SenderName labels persisted agent messages in the admin API.
	SenderName string
}

// SendAndPersist delivers text to the user and records the outbound message.
// When replyToID is set the message is threaded as a reply. The send is
// authoritative: a failure there is returned; a persistence failure after a
// successful send is only logged.
func (r *Responder) SendAndPersist(ctx context.Context, conv *domain.Conversation, toWaID, text, role, replyToID string) (*domain.Message, error) {
	tr := otel.Tracer("services/Responder")
	ctx, span := tr.Start(ctx, "SendAndPersist",
		trace.WithAttributes(
			attribute.String("conversation.id", conv.ID),
			attribute.String("sender.role", role),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	var (
		providerID string
		err        error
	)
	if replyToID != "" {
		providerID, err = r.Sender.SendReply(ctx, toWaID, text, replyToID)
	} else {
		providerID, err = r.Sender.SendText(ctx, toWaID, text)
	}
	if err != nil {
		return nil, err
	}

	msg, perr := repo.CreateOutgoingMessage(ctx, r.DB, conv.ID, role, r.SenderName, webhook.TypeText, text, providerID)
	if perr != nil {
		log.Error().Err(perr).Str("conversation_id", conv.ID).Str("provider_id", providerID).
			Msg("outbound persist failed after successful send")
		return &domain.Message{
			ExternalID:     providerID,
			ConversationID: conv.ID,
			Direction:      domain.DirectionOutbound,
			SenderRole:     role,
			SenderName:     r.SenderName,
			Type:           webhook.TypeText,
			Content:        text,
			Ephemeral:      true,
		}, nil
	}

	if err := repo.TouchLastMessage(ctx, r.DB, conv.ID, msg.Timestamp, text); err != nil {
		log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("last-message refresh failed")
	}
	return msg, nil
}

// Notify sends text without touching the database. This is the minimal
// delivery path for notices that have no conversation to attach to; its own
// failure is only logged.
func (r *Responder) Notify(ctx context.Context, toWaID, text string) {
	if _, err := r.Sender.SendText(ctx, toWaID, text); err != nil {
		log.Error().Err(err).Str("to", toWaID).Msg("notice undeliverable")
	}
}

// NotifyFailure sends the static apology without touching the database. Used
// when every richer reply path has already failed.
func (r *Responder) NotifyFailure(ctx context.Context, toWaID string) {
	r.Notify(ctx, toWaID, failureNotice)
}

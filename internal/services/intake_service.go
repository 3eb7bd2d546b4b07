// Package services – IntakeService
//
// This file implements the admission step of the pipeline. For each parsed
// inbound message it decides exactly one outcome: admit for dispatch, drop as
// a duplicate or self-sent message, park under operator ownership, or reject
// as invalid. Admission is idempotent on the provider-assigned external
// message id: the unique index on messages.external_id is the final arbiter
// when two deliveries race.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the external message id and the admission status.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/oferrer/wa-gateway/internal/domain"
	"github.com/oferrer/wa-gateway/internal/repo"
	"github.com/oferrer/wa-gateway/internal/webhook"
)

// AdmissionStatus is the outcome of intake for one inbound message.
type AdmissionStatus string

const (
	// AdmissionAdmitted means the message is new, persisted, and eligible
	// for dispatch.
	AdmissionAdmitted AdmissionStatus = "admitted"
	// AdmissionDuplicate means the external id was seen before; no side
	// effects were repeated.
	AdmissionDuplicate AdmissionStatus = "duplicate"
	// AdmissionSelf means the message originated from the gateway's own
	// number and is dropped.
	AdmissionSelf AdmissionStatus = "self"
	// AdmissionOperatorOwned means the message was persisted but dispatch is
	// suppressed because a human operator owns the conversation.
	AdmissionOperatorOwned AdmissionStatus = "operator_owned"
	// AdmissionInvalid means the message is missing fields the pipeline
	// depends on.
	AdmissionInvalid AdmissionStatus = "invalid"
)

// Admission is the intake decision plus the records dispatch needs.
type Admission struct {
	Status       AdmissionStatus
	User         *domain.User
	Conversation *domain.Conversation
	Message      *domain.Message
}

// IntakeService admits inbound messages into the pipeline.
type IntakeService struct {
	DB *gorm.DB

	// BotNumber is the gateway's own wa_id; messages from it are dropped.
	BotNumber string
}

// Admit runs the full admission sequence for one inbound message. The
// returned Admission always carries a terminal Status; errors are reserved
// for infrastructure failures that prevented any decision.
//
// A persistence failure after the duplicate check does not block the reply:
// the message continues through dispatch as an ephemeral stand-in and only
// the audit trail is lost.
func (s *IntakeService) Admit(ctx context.Context, msg *webhook.Message, contactName string) (*Admission, error) {
	tr := otel.Tracer("services/IntakeService")
	ctx, span := tr.Start(ctx, "Admit",
		trace.WithAttributes(attribute.String("message.external_id", msg.ID)),
	)
	defer span.End()

	adm, err := s.admit(ctx, msg, contactName)
	if adm != nil {
		span.SetAttributes(attribute.String("admission.status", string(adm.Status)))
		admissionsTotal.WithLabelValues(string(adm.Status)).Inc()
	}
	return adm, err
}

func (s *IntakeService) admit(ctx context.Context, msg *webhook.Message, contactName string) (*Admission, error) {
	if !msg.Valid() {
		return &Admission{Status: AdmissionInvalid}, nil
	}
	contactName = displayName(contactName)
	if s.BotNumber != "" && msg.From == s.BotNumber {
		return &Admission{Status: AdmissionSelf}, nil
	}

	// Fast-path duplicate check. A lookup failure is logged and treated as
	// not-a-duplicate; the unique index below still prevents double intake.
	existing, err := repo.GetMessageByExternalID(ctx, s.DB, msg.ID)
	switch {
	case err == nil:
		log.Info().Str("external_id", msg.ID).Str("message_id", existing.ID).
			Msg("duplicate delivery dropped")
		return &Admission{Status: AdmissionDuplicate, Message: existing}, nil
	case !errors.Is(err, repo.ErrNotFound):
		log.Warn().Err(err).Str("external_id", msg.ID).
			Msg("duplicate lookup failed, proceeding as new")
	}

	user, err := repo.GetOrCreateUser(ctx, s.DB, msg.From, contactName)
	if err != nil {
		return nil, err
	}
	conv, err := repo.GetOrCreateConversation(ctx, s.DB, user.ID)
	if err != nil {
		return nil, err
	}

	record := s.persist(ctx, conv.ID, msg, contactName)
	if record == nil {
		// Unique-index race: another delivery of the same external id won.
		return &Admission{Status: AdmissionDuplicate, User: user, Conversation: conv}, nil
	}

	if conv.OwnedBy == domain.OwnerOperator {
		return &Admission{Status: AdmissionOperatorOwned, User: user, Conversation: conv, Message: record}, nil
	}
	return &Admission{Status: AdmissionAdmitted, User: user, Conversation: conv, Message: record}, nil
}

// persist stores the inbound message and refreshes conversation counters.
// It returns nil only for a duplicate external id; any other storage failure
// degrades to an ephemeral stand-in so the user still gets a reply.
func (s *IntakeService) persist(ctx context.Context, conversationID string, msg *webhook.Message, contactName string) *domain.Message {
	incoming := &domain.Message{
		ExternalID:     msg.ID,
		ConversationID: conversationID,
		SenderName:     contactName,
		Type:           msg.Type,
		Content:        msg.Body(),
		Timestamp:      msg.When(),
	}
	record, err := repo.CreateIncomingMessage(ctx, s.DB, incoming)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil
		}
		log.Error().Err(err).Str("external_id", msg.ID).
			Msg("inbound persist failed, continuing with ephemeral message")
		incoming.ID = ""
		incoming.Direction = domain.DirectionInbound
		incoming.SenderRole = domain.RoleUser
		incoming.Ephemeral = true
		return incoming
	}

	if err := repo.IncrementUnread(ctx, s.DB, conversationID); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("unread increment failed")
	}
	ts := msg.When()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if err := repo.TouchLastMessage(ctx, s.DB, conversationID, ts, msg.Body()); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("last-message refresh failed")
	}
	return record
}

// displayName tidies the contact profile name for storage. Names sent fully
// lower- or upper-cased are title-cased with Spanish rules (the user base is
// Spanish-speaking); mixed-case names are kept as sent. A fresh Caser per
// call: cases.Caser is stateful and not safe for concurrent use.
func displayName(raw string) string {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return name
	}
	if name == strings.ToLower(name) || name == strings.ToUpper(name) {
		return cases.Title(language.Spanish).String(name)
	}
	return name
}

// RecordSkipped persists a message that arrived in the same delivery as a
// newer one and was not dispatched. Only the audit trail is affected;
// failures are logged and swallowed.
func (s *IntakeService) RecordSkipped(ctx context.Context, msg *webhook.Message, contactName string) {
	adm, err := s.admit(ctx, msg, contactName)
	if err != nil {
		log.Warn().Err(err).Str("external_id", msg.ID).Msg("skipped-message persist failed")
		return
	}
	admissionsTotal.WithLabelValues("audit_" + string(adm.Status)).Inc()
}

// Package services – Dispatcher
//
// This file implements per-type message dispatch. Every admitted message is
// routed to the handler for its type; handlers that call the generation agent
// run under a bounded retry with a per-attempt deadline. When a handler's
// budget is spent the dispatcher degrades in tiers: first a typed fallback
// message, and if even that cannot be delivered, the responder's minimal
// failure notice. The user always hears something.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/oferrer/wa-gateway/internal/agent"
	"github.com/oferrer/wa-gateway/internal/domain"
	"github.com/oferrer/wa-gateway/internal/media"
	"github.com/oferrer/wa-gateway/internal/repo"
	"github.com/oferrer/wa-gateway/internal/webhook"
)

// Canned replies, one per degraded path.
const (
	msgUnsupportedType = "Por ahora solo puedo procesar mensajes de texto, imágenes, ubicaciones y contactos."
	msgTextFallback    = "No pude generar una respuesta en este momento. Por favor intenta de nuevo."
	msgImageUnreadable = "No pude leer la imagen. Asegúrate de enviar una foto legible (JPG o PNG)."
	msgImageUnavail    = "No pude descargar la imagen en este momento. Por favor intenta de nuevo."
	msgImageResend     = "No pudimos guardar tu imagen. Por favor vuelve a enviarla."
	msgBadFormat       = "No pudimos procesar el formato de tu mensaje. Por favor envíalo de nuevo."
	msgReceiptShort    = "Recibimos tu imagen, pero no pude leer suficiente texto para validarla como comprobante."
	msgReceiptOK       = "✅ Recibimos tu comprobante. ¡Gracias!"
	msgContactThanks   = "Recibimos el contacto. ¡Gracias!"
)

// promptGreeting stands in for an empty text body: the agent API rejects
// empty content outright.
const promptGreeting = "Hola"

// GenerationAgent produces conversational replies and extracts text from
// images. Satisfied by *agent.Client.
type GenerationAgent interface {
	Generate(ctx context.Context, msgs []agent.Message, opts agent.Options) (*agent.Reply, error)
	ExtractText(ctx context.Context, imageURL, prompt string) (string, error)
}

// MediaProcessor downloads and stores provider media. Satisfied by
// *media.Pipeline.
type MediaProcessor interface {
	ProcessAndStore(ctx context.Context, mediaID string) (*media.Stored, error)
}

// ReceiptChecker runs duplicate detection over extracted receipt text.
// Satisfied by *ReceiptService.
type ReceiptChecker interface {
	CheckAndStore(ctx context.Context, text string) (*ReceiptCheck, error)
}

// Replier delivers outbound messages. Satisfied by *Responder.
type Replier interface {
	SendAndPersist(ctx context.Context, conv *domain.Conversation, toWaID, text, role, replyToID string) (*domain.Message, error)
	Notify(ctx context.Context, toWaID, text string)
	NotifyFailure(ctx context.Context, toWaID string)
}

// Dispatcher routes admitted messages to their type handler.
type Dispatcher struct {
	DB        *gorm.DB
	Agent     GenerationAgent
	Media     MediaProcessor
	Receipts  ReceiptChecker
	Responder Replier

	// Retry bounds agent calls; AgentTimeout caps each individual attempt.
	Retry        RetryPolicy
	AgentTimeout time.Duration

	Temperature float64

	// HistoryLimit caps how many stored messages feed the agent's context.
	HistoryLimit int

	// StateTTL bounds how long conversation flow state stays valid.
	StateTTL time.Duration

	// VerboseFallbacks appends the failure detail to fallback messages.
	// Useful in staging, off in production.
	VerboseFallbacks bool
}

// Dispatch handles one admitted message end to end: type handler, tiered
// degradation, and the conversation-state update. It never returns an error
// for handler failures; by the time it returns, the user has been answered
// one way or another.
func (d *Dispatcher) Dispatch(ctx context.Context, adm *Admission, msg *webhook.Message) {
	tr := otel.Tracer("services/Dispatcher")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.String("message.type", msg.Type),
			attribute.String("message.external_id", msg.ID),
		),
	)
	defer span.End()

	var (
		outcome string
		flow    = msg.Type
	)
	switch msg.Type {
	case webhook.TypeText:
		outcome = d.handleText(ctx, adm, msg)
	case webhook.TypeImage:
		outcome = d.handleImage(ctx, adm, msg)
	case webhook.TypeLocation:
		outcome = d.handleLocation(ctx, adm, msg)
	case webhook.TypeContacts:
		outcome = d.handleContacts(ctx, adm, msg)
	default:
		outcome = d.handleUnsupported(ctx, adm, msg)
		flow = "unsupported"
	}

	dispatchTotal.WithLabelValues(msg.Type, outcome).Inc()
	span.SetAttributes(attribute.String("dispatch.outcome", outcome))

	event := map[string]string{
		"external_id": msg.ID,
		"type":        msg.Type,
		"outcome":     outcome,
	}
	if err := repo.UpsertConversationState(ctx, d.DB, adm.Conversation.ID, flow, false, "", event, d.StateTTL); err != nil {
		log.Warn().Err(err).Str("conversation_id", adm.Conversation.ID).Msg("state update failed")
	}
}

// NotifyInvalid tells a sender their message could not be understood. An
// invalid message has no user or conversation record, so nothing is persisted.
func (d *Dispatcher) NotifyInvalid(ctx context.Context, toWaID string) {
	if toWaID == "" {
		return
	}
	dispatchTotal.WithLabelValues("invalid", "notified").Inc()
	d.Responder.Notify(ctx, toWaID, msgBadFormat)
}

// handleText asks the agent for a reply over the recent conversation window.
func (d *Dispatcher) handleText(ctx context.Context, adm *Admission, msg *webhook.Message) string {
	body := strings.TrimSpace(msg.Body())
	if body == "" {
		body = promptGreeting
	}
	thread := d.buildThread(ctx, adm, body)
	opts := agent.Options{
		ThreadID:    "wa:" + adm.User.WaID,
		ResourceID:  adm.User.WaID,
		Temperature: d.Temperature,
	}

	var reply *agent.Reply
	err := d.Retry.Do(ctx, "agent_generate", func(ctx context.Context) error {
		actx, cancel := d.attemptContext(ctx)
		defer cancel()
		var gerr error
		reply, gerr = d.Agent.Generate(actx, thread, opts)
		return gerr
	})
	if err != nil {
		return d.fallback(ctx, adm, msg, d.withDetail(msgTextFallback, err), err)
	}

	if _, err := d.Responder.SendAndPersist(ctx, adm.Conversation, adm.User.WaID, reply.Text, domain.RoleAgent, msg.ID); err != nil {
		log.Error().Err(err).Str("external_id", msg.ID).Msg("reply send failed")
		d.Responder.NotifyFailure(ctx, adm.User.WaID)
		return "failed"
	}
	return "replied"
}

// handleImage runs the media pipeline, extracts text, and reports the
// duplicate-receipt verdict. A duplicate or too-short extraction gets a canned
// verdict; a novel receipt gets an agent-written reply over the extracted
// text. Both agent calls here are single-attempt, unlike text generation.
func (d *Dispatcher) handleImage(ctx context.Context, adm *Admission, msg *webhook.Message) string {
	// Media storage keys off the message row; a stand-in has no stable id.
	if adm.Message == nil || !adm.Message.Durable() {
		return d.fallback(ctx, adm, msg, msgImageResend, nil)
	}
	if msg.Image == nil || msg.Image.ID == "" {
		return d.fallback(ctx, adm, msg, msgImageUnreadable, nil)
	}

	stored, err := d.Media.ProcessAndStore(ctx, msg.Image.ID)
	if err != nil {
		text := msgImageUnavail
		if media.Classify(err) == media.KindValidation {
			text = msgImageUnreadable
		}
		return d.fallback(ctx, adm, msg, d.withDetail(text, err), err)
	}
	d.attachMedia(ctx, adm.Message, stored.URL)

	actx, cancel := d.attemptContext(ctx)
	extracted, err := d.Agent.ExtractText(actx, stored.URL, "")
	cancel()
	if err != nil {
		return d.fallback(ctx, adm, msg, d.withDetail(msgImageUnreadable, err), err)
	}

	check, err := d.Receipts.CheckAndStore(ctx, extracted)
	if err != nil {
		return d.fallback(ctx, adm, msg, d.withDetail(msgImageUnavail, err), err)
	}

	verdict := receiptVerdict(check, extracted)
	if !check.Skipped && !check.Duplicate {
		opts := agent.Options{
			ThreadID:    "wa:" + adm.User.WaID,
			ResourceID:  adm.User.WaID,
			Temperature: d.Temperature,
		}
		actx, cancel := d.attemptContext(ctx)
		analyzed, aerr := d.Agent.Generate(actx, receiptAnalysisThread(msg, extracted), opts)
		cancel()
		if aerr != nil {
			return d.fallback(ctx, adm, msg, d.withDetail(msgReceiptOK, aerr), aerr)
		}
		verdict = analyzed.Text
	}

	if _, err := d.Responder.SendAndPersist(ctx, adm.Conversation, adm.User.WaID, verdict, domain.RoleAgent, msg.ID); err != nil {
		log.Error().Err(err).Str("external_id", msg.ID).Msg("receipt verdict send failed")
		d.Responder.NotifyFailure(ctx, adm.User.WaID)
		return "failed"
	}
	return "replied"
}

// handleLocation acknowledges a shared pin.
func (d *Dispatcher) handleLocation(ctx context.Context, adm *Admission, msg *webhook.Message) string {
	place := ""
	if msg.Location != nil {
		switch {
		case msg.Location.Name != "":
			place = " de " + msg.Location.Name
		case msg.Location.Address != "":
			place = " de " + msg.Location.Address
		}
	}
	text := fmt.Sprintf("¡Gracias por compartir tu ubicación%s! La hemos registrado.", place)
	if _, err := d.Responder.SendAndPersist(ctx, adm.Conversation, adm.User.WaID, text, domain.RoleAgent, msg.ID); err != nil {
		log.Error().Err(err).Str("external_id", msg.ID).Msg("location ack send failed")
		d.Responder.NotifyFailure(ctx, adm.User.WaID)
		return "failed"
	}
	return "replied"
}

// handleContacts acknowledges shared contact cards by name.
func (d *Dispatcher) handleContacts(ctx context.Context, adm *Admission, msg *webhook.Message) string {
	text := msgContactThanks
	if len(msg.Contacts) > 0 && msg.Contacts[0].Name.FormattedName != "" {
		text = fmt.Sprintf("Recibimos el contacto de %s. ¡Gracias!", msg.Contacts[0].Name.FormattedName)
	}
	if _, err := d.Responder.SendAndPersist(ctx, adm.Conversation, adm.User.WaID, text, domain.RoleAgent, msg.ID); err != nil {
		log.Error().Err(err).Str("external_id", msg.ID).Msg("contact ack send failed")
		d.Responder.NotifyFailure(ctx, adm.User.WaID)
		return "failed"
	}
	return "replied"
}

// handleUnsupported tells the user which types the gateway can process.
func (d *Dispatcher) handleUnsupported(ctx context.Context, adm *Admission, msg *webhook.Message) string {
	if _, err := d.Responder.SendAndPersist(ctx, adm.Conversation, adm.User.WaID, msgUnsupportedType, domain.RoleAgent, msg.ID); err != nil {
		log.Error().Err(err).Str("external_id", msg.ID).Msg("unsupported-type notice send failed")
		d.Responder.NotifyFailure(ctx, adm.User.WaID)
		return "failed"
	}
	return "replied"
}

// fallback delivers a degraded reply after the primary path failed. If the
// fallback itself cannot be sent, the final tier is the responder's minimal
// failure notice.
func (d *Dispatcher) fallback(ctx context.Context, adm *Admission, msg *webhook.Message, text string, cause error) string {
	log.Warn().Err(cause).Str("external_id", msg.ID).Str("type", msg.Type).
		Msg("primary handler exhausted, sending fallback")
	if _, err := d.Responder.SendAndPersist(ctx, adm.Conversation, adm.User.WaID, text, domain.RoleAgent, msg.ID); err != nil {
		log.Error().Err(err).Str("external_id", msg.ID).Msg("fallback send failed")
		d.Responder.NotifyFailure(ctx, adm.User.WaID)
		return "failed"
	}
	return "fallback"
}

// buildThread assembles the agent's conversational context: the recent stored
// window followed by the current body as the final user turn. The current
// message's own row is excluded from the window so the body (which may carry
// the greeting stand-in rather than the raw stored content) is not doubled.
func (d *Dispatcher) buildThread(ctx context.Context, adm *Admission, body string) []agent.Message {
	limit := d.HistoryLimit
	if limit <= 0 {
		limit = 20
	}
	recent, err := repo.ListRecentMessages(ctx, d.DB, adm.Conversation.ID, limit)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", adm.Conversation.ID).Msg("history load failed")
	}

	thread := make([]agent.Message, 0, len(recent)+1)
	for _, m := range recent {
		if adm.Message != nil && m.ID == adm.Message.ID {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := agent.RoleAssistant
		if m.Direction == domain.DirectionInbound {
			role = agent.RoleUser
		}
		thread = append(thread, agent.Message{Role: role, Content: m.Content})
	}
	thread = append(thread, agent.Message{Role: agent.RoleUser, Content: body})
	return thread
}

// attachMedia records the stored media URL on the persisted inbound message.
func (d *Dispatcher) attachMedia(ctx context.Context, m *domain.Message, url string) {
	if m == nil || !m.Durable() {
		return
	}
	if err := d.DB.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", m.ID).
		Update("media_url", url).Error; err != nil {
		log.Warn().Err(err).Str("message_id", m.ID).Msg("media url attach failed")
		return
	}
	m.MediaURL = url
}

// attemptContext bounds one agent attempt.
func (d *Dispatcher) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.AgentTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.AgentTimeout)
}

// withDetail appends the failure cause to a fallback text when verbose
// fallbacks are enabled.
func (d *Dispatcher) withDetail(text string, err error) string {
	if !d.VerboseFallbacks || err == nil {
		return text
	}
	return text + " (" + err.Error() + ")"
}

// receiptAnalysisThread frames a novel receipt's extracted text as a
// single-turn request for the agent to acknowledge and summarize.
func receiptAnalysisThread(msg *webhook.Message, extracted string) []agent.Message {
	var b strings.Builder
	b.WriteString("El usuario envió la imagen de un comprobante de pago.")
	if msg.Image != nil && msg.Image.Caption != "" {
		fmt.Fprintf(&b, " Escribió junto a la imagen: %q.", msg.Image.Caption)
	}
	b.WriteString(" Confirma la recepción y resume los datos relevantes.\n")
	b.WriteString("Texto extraído de la imagen:\n")
	b.WriteString(extracted)
	return []agent.Message{{Role: agent.RoleUser, Content: b.String()}}
}

// receiptVerdict renders the duplicate check for the user. A duplicate reply
// quotes both the new extraction and the stored originals it matched.
func receiptVerdict(check *ReceiptCheck, extracted string) string {
	if check.Skipped {
		return msgReceiptShort
	}
	if !check.Duplicate {
		return msgReceiptOK
	}

	var b strings.Builder
	b.WriteString("⚠️ Este comprobante ya fue recibido anteriormente.\n")
	fmt.Fprintf(&b, "Texto detectado: %s\n", excerpt(extracted))
	for _, m := range check.Matches {
		fmt.Fprintf(&b, "• %.0f%% similar al original: %s\n", m.Score*100, excerpt(m.Text))
	}
	b.WriteString("Si crees que es un error, responde a este mensaje.")
	return b.String()
}

func excerpt(s string) string {
	if r := []rune(s); len(r) > 60 {
		return string(r[:60]) + "…"
	}
	return s
}

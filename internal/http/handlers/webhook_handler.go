// Webhook HTTP handlers.
//
// This file exposes the WhatsApp Cloud API ingress:
//   - GET  /webhook  (subscription handshake)
//   - POST /webhook  (message deliveries)
//
// The POST handler is transport-thin but strict at the door: the HMAC
// signature is verified against the raw body before anything is parsed, and
// a body that does not decode into the expected envelope is rejected without
// side effects. Once a delivery is accepted the provider always gets 200;
// handler failures degrade inside the pipeline, never into a retry storm.
package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/oferrer/wa-gateway/internal/services"
	"github.com/oferrer/wa-gateway/internal/webhook"
)

//
// Service contracts (context-aware)
//

// IntakeService admits parsed messages into the pipeline.
type IntakeService interface {
	// Admit decides the outcome for one inbound message.
	Admit(ctx context.Context, msg *webhook.Message, contactName string) (*services.Admission, error)
	// RecordSkipped persists a message that lost the latest-message selection.
	RecordSkipped(ctx context.Context, msg *webhook.Message, contactName string)
}

// MessageDispatcher routes an admitted message to its type handler.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, adm *services.Admission, msg *webhook.Message)
	// NotifyInvalid answers a sender whose message failed validation.
	NotifyInvalid(ctx context.Context, toWaID string)
}

// ReadMarker flips the provider-side read receipt for an inbound message.
type ReadMarker interface {
	MarkAsRead(ctx context.Context, messageID string) error
}

//
// Handler wiring
//

// WebhookHandlers groups the ingress endpoints.
type WebhookHandlers struct {
	intake     IntakeService
	dispatcher MessageDispatcher
	marker     ReadMarker

	verifyToken string
	appSecret   string
}

// NewWebhook constructs the webhook handlers. An empty appSecret disables
// signature verification; the caller is expected to have warned loudly.
func NewWebhook(intake IntakeService, dispatcher MessageDispatcher, marker ReadMarker, verifyToken, appSecret string) *WebhookHandlers {
	return &WebhookHandlers{
		intake:      intake,
		dispatcher:  dispatcher,
		marker:      marker,
		verifyToken: verifyToken,
		appSecret:   appSecret,
	}
}

// Verify godoc
// @ID          verifyWebhook
// @Summary     Webhook subscription handshake
// @Description Echoes hub.challenge when hub.mode is "subscribe" and hub.verify_token matches the configured token.
// @Tags        Webhook
// @Produce     plain
//
// @Param       hub.mode          query  string  true  "Must be 'subscribe'"
// @Param       hub.verify_token  query  string  true  "Configured verify token"
// @Param       hub.challenge     query  string  true  "Challenge to echo"
//
// @Success     200  {string} string "Challenge value"
// @Failure     403  {object} handlers.ErrorResponse "Verification failed"
// @Router      /webhook [get]
func (h *WebhookHandlers) Verify(c *gin.Context) {
	challenge, okHandshake := webhook.VerifyHandshake(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
		h.verifyToken,
	)
	if !okHandshake {
		log.Warn().Str("mode", c.Query("hub.mode")).Msg("webhook handshake rejected")
		fail(c, http.StatusForbidden, ErrCodeForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, "%s", challenge)
}

// Receive godoc
// @ID          receiveWebhook
// @Summary     Receive a webhook delivery
// @Description Verifies the X-Hub-Signature-256 HMAC, parses the delivery envelope, and runs intake and dispatch for the newest message of each change. Always answers 200 once the delivery is accepted.
// @Tags        Webhook
// @Accept      json
// @Produce     plain
//
// @Param       X-Hub-Signature-256  header  string  false "HMAC-SHA256 of the raw body (sha256=<hex>)"
// @Param       body                 body    webhook.Envelope  true  "Delivery envelope"
//
// @Success     200  {string} string "OK"
// @Failure     400  {object} handlers.ErrorResponse "Malformed delivery"
// @Failure     401  {object} handlers.ErrorResponse "Signature mismatch"
// @Router      /webhook [post]
func (h *WebhookHandlers) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	if !webhook.VerifySignature(body, c.GetHeader("X-Hub-Signature-256"), h.appSecret) {
		log.Warn().Msg("webhook signature mismatch")
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "signature mismatch")
		return
	}

	env, err := webhook.Parse(body)
	if err != nil {
		log.Warn().Err(err).Msg("webhook envelope rejected")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed delivery")
		return
	}

	// A non-200 here would make the provider redeliver the whole batch,
	// including the changes that already succeeded. Failures are logged and
	// the rest of the batch keeps going.
	ctx := c.Request.Context()
	for _, entry := range env.Entry {
		for i := range entry.Changes {
			if err := h.processChange(ctx, &entry.Changes[i].Value); err != nil {
				log.Error().Err(err).Str("entry_id", entry.ID).Msg("change processing failed")
			}
		}
	}

	c.String(http.StatusOK, "OK")
}

// processChange handles one change's worth of events: status transitions and
// provider errors are logged, and of the message batch only the newest goes
// through dispatch; the rest are persisted for audit.
func (h *WebhookHandlers) processChange(ctx context.Context, v *webhook.Value) error {
	for _, st := range v.Statuses {
		log.Info().Str("message_id", st.ID).Str("status", st.Status).
			Str("recipient", st.RecipientID).Msg("delivery status")
	}
	for _, pe := range v.Errors {
		log.Error().Int("code", pe.Code).Str("title", pe.Title).
			Str("detail", pe.ErrorData.Details).Msg("provider error event")
	}

	latest := webhook.LatestMessage(v.Messages)
	if latest == nil {
		return nil
	}

	for i := range v.Messages {
		if v.Messages[i].ID == latest.ID {
			continue
		}
		h.intake.RecordSkipped(ctx, &v.Messages[i], v.ContactName(v.Messages[i].From))
	}

	adm, err := h.intake.Admit(ctx, latest, v.ContactName(latest.From))
	if err != nil {
		return err
	}

	// Read receipts are cosmetic; never block on them.
	if h.marker != nil && adm.Status != services.AdmissionSelf && adm.Status != services.AdmissionInvalid {
		if err := h.marker.MarkAsRead(ctx, latest.ID); err != nil {
			log.Warn().Err(err).Str("external_id", latest.ID).Msg("mark-as-read failed")
		}
	}

	switch adm.Status {
	case services.AdmissionAdmitted:
		h.dispatcher.Dispatch(ctx, adm, latest)
	case services.AdmissionInvalid:
		h.dispatcher.NotifyInvalid(ctx, latest.From)
	}
	return nil
}

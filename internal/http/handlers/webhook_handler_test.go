package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/oferrer/wa-gateway/internal/services"
	"github.com/oferrer/wa-gateway/internal/webhook"
)

// ---------- stubs ----------

type stubIntake struct {
	admissions  map[string]*services.Admission // by external id
	admitErr    error
	admitErrFor string // fail only this external id
	admitted    []string
	skipped     []string
}

func (s *stubIntake) Admit(_ context.Context, msg *webhook.Message, _ string) (*services.Admission, error) {
	if s.admitErr != nil {
		return nil, s.admitErr
	}
	if s.admitErrFor != "" && s.admitErrFor == msg.ID {
		return nil, context.DeadlineExceeded
	}
	s.admitted = append(s.admitted, msg.ID)
	if adm, ok := s.admissions[msg.ID]; ok {
		return adm, nil
	}
	return &services.Admission{Status: services.AdmissionAdmitted}, nil
}

func (s *stubIntake) RecordSkipped(_ context.Context, msg *webhook.Message, _ string) {
	s.skipped = append(s.skipped, msg.ID)
}

type stubDispatcher struct {
	dispatched []string
	notified   []string
}

func (s *stubDispatcher) Dispatch(_ context.Context, _ *services.Admission, msg *webhook.Message) {
	s.dispatched = append(s.dispatched, msg.ID)
}

func (s *stubDispatcher) NotifyInvalid(_ context.Context, toWaID string) {
	s.notified = append(s.notified, toWaID)
}

type stubMarker struct {
	marked []string
	err    error
}

func (s *stubMarker) MarkAsRead(_ context.Context, messageID string) error {
	s.marked = append(s.marked, messageID)
	return s.err
}

// ---------- harness ----------

const testSecret = "app-secret"

func newWebhookRouter(intake *stubIntake, dispatcher *stubDispatcher, marker *stubMarker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewWebhook(intake, dispatcher, marker, "verify-token", testSecret)
	r.GET("/webhook", h.Verify)
	r.POST("/webhook", h.Receive)
	return r
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postDelivery(r *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const deliveryTwoMessages = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "contacts": [{"wa_id": "5215550001", "profile": {"name": "Ana"}}],
        "messages": [
          {"id": "wamid.OLD", "from": "5215550001", "type": "text", "timestamp": "100", "text": {"body": "primero"}},
          {"id": "wamid.NEW", "from": "5215550001", "type": "text", "timestamp": "200", "text": {"body": "segundo"}}
        ]
      }
    }]
  }]
}`

const deliveryTwoChanges = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1",
    "changes": [
      {
        "field": "messages",
        "value": {
          "messaging_product": "whatsapp",
          "contacts": [{"wa_id": "5215550001", "profile": {"name": "Ana"}}],
          "messages": [
            {"id": "wamid.NEW", "from": "5215550001", "type": "text", "timestamp": "200", "text": {"body": "segundo"}}
          ]
        }
      },
      {
        "field": "messages",
        "value": {
          "messaging_product": "whatsapp",
          "contacts": [{"wa_id": "5215550002", "profile": {"name": "Luis"}}],
          "messages": [
            {"id": "wamid.OTHER", "from": "5215550002", "type": "text", "timestamp": "300", "text": {"body": "hola"}}
          ]
        }
      }
    ]
  }]
}`

// ---------- tests ----------

func TestVerify_Handshake(t *testing.T) {
	r := newWebhookRouter(&stubIntake{}, &stubDispatcher{}, &stubMarker{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-token&hub.challenge=c123", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "c123" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=c123", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d for wrong token", w.Code)
	}
}

func TestReceive_DispatchesNewestPersistsRest(t *testing.T) {
	intake := &stubIntake{}
	dispatcher := &stubDispatcher{}
	marker := &stubMarker{}
	r := newWebhookRouter(intake, dispatcher, marker)

	body := []byte(deliveryTwoMessages)
	w := postDelivery(r, body, signBody(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	if len(intake.admitted) != 1 || intake.admitted[0] != "wamid.NEW" {
		t.Fatalf("admitted = %v", intake.admitted)
	}
	if len(intake.skipped) != 1 || intake.skipped[0] != "wamid.OLD" {
		t.Fatalf("skipped = %v", intake.skipped)
	}
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != "wamid.NEW" {
		t.Fatalf("dispatched = %v", dispatcher.dispatched)
	}
	if len(marker.marked) != 1 || marker.marked[0] != "wamid.NEW" {
		t.Fatalf("marked = %v", marker.marked)
	}
}

func TestReceive_SignatureMismatch(t *testing.T) {
	intake := &stubIntake{}
	r := newWebhookRouter(intake, &stubDispatcher{}, &stubMarker{})

	w := postDelivery(r, []byte(deliveryTwoMessages), "sha256=deadbeef")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}
	if len(intake.admitted) != 0 {
		t.Fatalf("intake ran on unsigned delivery: %v", intake.admitted)
	}
}

func TestReceive_MalformedEnvelope(t *testing.T) {
	r := newWebhookRouter(&stubIntake{}, &stubDispatcher{}, &stubMarker{})

	body := []byte(`{"object":"page","entry":[{"id":"1"}]}`)
	w := postDelivery(r, body, signBody(body))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReceive_DuplicateNotDispatched(t *testing.T) {
	intake := &stubIntake{admissions: map[string]*services.Admission{
		"wamid.NEW": {Status: services.AdmissionDuplicate},
	}}
	dispatcher := &stubDispatcher{}
	r := newWebhookRouter(intake, dispatcher, &stubMarker{})

	body := []byte(deliveryTwoMessages)
	w := postDelivery(r, body, signBody(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if len(dispatcher.dispatched) != 0 {
		t.Fatalf("duplicate was dispatched: %v", dispatcher.dispatched)
	}
}

func TestReceive_InvalidMessageGetsFormatNotice(t *testing.T) {
	intake := &stubIntake{admissions: map[string]*services.Admission{
		"wamid.NEW": {Status: services.AdmissionInvalid},
	}}
	dispatcher := &stubDispatcher{}
	marker := &stubMarker{}
	r := newWebhookRouter(intake, dispatcher, marker)

	body := []byte(deliveryTwoMessages)
	w := postDelivery(r, body, signBody(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if len(dispatcher.dispatched) != 0 {
		t.Fatalf("invalid message was dispatched: %v", dispatcher.dispatched)
	}
	if len(dispatcher.notified) != 1 || dispatcher.notified[0] != "5215550001" {
		t.Fatalf("notified = %v", dispatcher.notified)
	}
	if len(marker.marked) != 0 {
		t.Fatalf("invalid message was marked read: %v", marker.marked)
	}
}

func TestReceive_MarkAsReadFailureIsNonFatal(t *testing.T) {
	marker := &stubMarker{err: context.DeadlineExceeded}
	dispatcher := &stubDispatcher{}
	r := newWebhookRouter(&stubIntake{}, dispatcher, marker)

	body := []byte(deliveryTwoMessages)
	w := postDelivery(r, body, signBody(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if len(dispatcher.dispatched) != 1 {
		t.Fatalf("dispatch blocked by read receipt failure")
	}
}

func TestReceive_IntakeFailureStillAnswersOK(t *testing.T) {
	intake := &stubIntake{admitErr: context.DeadlineExceeded}
	dispatcher := &stubDispatcher{}
	r := newWebhookRouter(intake, dispatcher, &stubMarker{})

	// A non-200 would make the provider redeliver the batch; failures past
	// signature and parsing stay inside the pipeline.
	body := []byte(deliveryTwoMessages)
	w := postDelivery(r, body, signBody(body))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if len(dispatcher.dispatched) != 0 {
		t.Fatalf("dispatch ran despite intake failure: %v", dispatcher.dispatched)
	}
}

func TestReceive_FailedChangeDoesNotBlockBatch(t *testing.T) {
	intake := &stubIntake{admitErrFor: "wamid.NEW"}
	dispatcher := &stubDispatcher{}
	r := newWebhookRouter(intake, dispatcher, &stubMarker{})

	body := []byte(deliveryTwoChanges)
	w := postDelivery(r, body, signBody(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != "wamid.OTHER" {
		t.Fatalf("dispatched = %v", dispatcher.dispatched)
	}
}

func TestReceive_StatusOnlyDeliveryAccepted(t *testing.T) {
	intake := &stubIntake{}
	r := newWebhookRouter(intake, &stubDispatcher{}, &stubMarker{})

	body := []byte(`{
	  "object": "whatsapp_business_account",
	  "entry": [{"id": "1", "changes": [{"field": "messages", "value": {
	    "messaging_product": "whatsapp",
	    "statuses": [{"id": "wamid.OUT1", "status": "delivered", "recipient_id": "5215550001", "timestamp": "100"}]
	  }}]}]
	}`)
	w := postDelivery(r, body, signBody(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if len(intake.admitted) != 0 {
		t.Fatalf("status event was admitted: %v", intake.admitted)
	}
}

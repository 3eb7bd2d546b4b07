// Package webhook implements the ingress side of the pipeline: signature
// verification, the GET subscription handshake, and strict parsing of the
// WhatsApp Cloud API delivery envelope into typed events.
package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message type tags as delivered by the provider.
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypeAudio       = "audio"
	TypeVideo       = "video"
	TypeDocument    = "document"
	TypeSticker     = "sticker"
	TypeLocation    = "location"
	TypeContacts    = "contacts"
	TypeInteractive = "interactive"
	TypeButton      = "button"
	TypeSystem      = "system"
)

// envelopeObject is the only accepted discriminator for deliveries.
const envelopeObject = "whatsapp_business_account"

// ParseError describes a rejected delivery body. The caller answers with a
// client-error status and does not proceed.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse envelope: %s: %v", e.Reason, e.Err)
	}
	return "parse envelope: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Envelope is one webhook delivery: entries → changes → values.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change carries one field's worth of events.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

/// Value is the per-change payload: messages, delivery statuses, and
// provider-side errors, plus contact profiles for name hints.
type Value struct {
	MessagingProduct string          `json:"messaging_product"`
	Metadata         *Metadata       `json:"metadata,omitempty"`
	Contacts         []Contact       `json:"contacts,omitempty"`
	Messages         []Message       `json:"messages,omitempty"`
	Statuses         []Status        `json:"statuses,omitempty"`
	Errors           []ProviderError `json:"errors,omitempty"`
}

// Metadata identifies the receiving phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile attached to a delivery.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is one inbound message event. The ID field is the provider-assigned
// external id and the idempotency key for the entire pipeline.
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`

	Text     *Text           `json:"text,omitempty"`
	Image    *Media          `json:"image,omitempty"`
	Audio    *Media          `json:"audio,omitempty"`
	Video    *Media          `json:"video,omitempty"`
	Document *Media          `json:"document,omitempty"`
	Sticker  *Media          `json:"sticker,omitempty"`
	Location *Location       `json:"location,omitempty"`
	Contacts []SharedContact `json:"contacts,omitempty"`
	Context  *Context        `json:"context,omitempty"`
}

// Text is the body of a text message.
type Text struct {
	Body string `json:"body"`
}

// Media references provider-hosted content by id; bytes are fetched through
// the media pipeline.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Location is a shared pin.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// SharedContact is a forwarded contact card.
type SharedContact struct {
	Name struct {
		FormattedName string `json:"formatted_name"`
	} `json:"name"`
	Phones []struct {
		Phone string `json:"phone"`
		WaID  string `json:"wa_id,omitempty"`
	} `json:"phones,omitempty"`
}

// Context is reply metadata: the message being answered and forward flags.
type Context struct {
	From                string `json:"from,omitempty"`
	ID                  string `json:"id,omitempty"`
	Forwarded           bool   `json:"forwarded,omitempty"`
	FrequentlyForwarded bool   `json:"frequently_forwarded,omitempty"`
}

// Status is a delivery-state transition for an outbound message.
type Status struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	RecipientID string          `json:"recipient_id"`
	Timestamp   string          `json:"timestamp"`
	Errors      []ProviderError `json:"errors,omitempty"`
}

// ProviderError is an error event reported by the provider.
type ProviderError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	ErrorData struct {
		Details string `json:"details"`
	} `json:"error_data,omitempty"`
}

// Parse decodes a delivery body into a typed Envelope. It fails closed:
// malformed JSON, a wrong object discriminator, or an entry/change shape
// without the expected structure all yield a *ParseError.
func Parse(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, &ParseError{Reason: "empty body"}
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ParseError{Reason: "malformed JSON", Err: err}
	}
	if env.Object != envelopeObject {
		return nil, &ParseError{Reason: fmt.Sprintf("unexpected object %q", env.Object)}
	}
	if len(env.Entry) == 0 {
		return nil, &ParseError{Reason: "no entries"}
	}
	return &env, nil
}

// ContactName returns the profile name for waID from the change's contact
// list, or "" when the provider did not attach one.
func (v *Value) ContactName(waID string) string {
	for _, c := range v.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}

// LatestMessage selects the newest message of a change by provider timestamp
// (ties broken by position). Returns nil for an empty slice. Intake processes
// only this message through dispatch; the rest flow through the audit branch.
func LatestMessage(msgs []Message) *Message {
	if len(msgs) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(msgs); i++ {
		if msgs[i].When().After(msgs[best].When()) {
			best = i
		}
	}
	return &msgs[best]
}

// When converts the provider's unix-seconds timestamp string to time.Time.
// Unparseable timestamps collapse to the zero time.
func (m *Message) When() time.Time {
	ts := strings.TrimSpace(m.Timestamp)
	if ts == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// Body returns the user-visible text of the message: the text body for text
// messages, the caption for captioned media, "" otherwise.
func (m *Message) Body() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Image != nil:
		return m.Image.Caption
	case m.Document != nil:
		return m.Document.Caption
	case m.Video != nil:
		return m.Video.Caption
	default:
		return ""
	}
}

// Valid reports whether the message carries the fields every pipeline stage
// depends on. Messages failing this check short-circuit to a format-error
// reply before any side effect.
func (m *Message) Valid() bool {
	return m.ID != "" && m.From != "" && m.Type != ""
}

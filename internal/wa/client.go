// Package wa – WhatsApp Cloud API client
//
// This file implements the outbound side of the WhatsApp integration: sending
// text messages (optionally as replies), marking inbound messages as read,
// and resolving/downloading provider-hosted media. All calls go through the
// Graph API with a bearer token; non-2xx responses surface as *APIError so
// callers can distinguish provider rejections from transport failures.
package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oferrer/wa-gateway/internal/config"
)

// maxErrorBody caps how much of a provider error response is retained.
const maxErrorBody = 2048

// APIError is a non-2xx response from the Graph API. Body holds a truncated
// excerpt of the response payload for logging.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api: status %d: %s", e.StatusCode, e.Body)
}

// MediaInfo is the resolved download location of a provider-hosted media
// object. The URL is short-lived and must be fetched with the same bearer
// token.
type MediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
	ID       string `json:"id"`
}

// Client talks to the WhatsApp Cloud API on behalf of one phone number.
type Client struct {
	httpClient    *http.Client
	apiBase       string
	accessToken   string
	phoneNumberID string
}

// NewClient constructs a Client from the WhatsApp configuration block.
func NewClient(cfg config.WhatsAppConfig) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		apiBase:       cfg.APIBase,
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
	}
}

// sendRequest is the wire shape of POST /{phone-number-id}/messages.
type sendRequest struct {
	MessagingProduct string      `json:"messaging_product"`
	RecipientType    string      `json:"recipient_type,omitempty"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             *textBody   `json:"text,omitempty"`
	Context          *msgContext `json:"context,omitempty"`
	Status           string      `json:"status,omitempty"`
	MessageID        string      `json:"message_id,omitempty"`
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// msgContext threads an outbound message as a reply to an earlier one.
type msgContext struct {
	MessageID string `json:"message_id"`
}

// sendResponse is the acknowledgement shape for message sends.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText delivers a plain text message and returns the provider-assigned
// message id.
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	return c.send(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textBody{Body: text},
	})
}

// SendReply delivers a text message threaded as a reply to replyToID.
func (c *Client) SendReply(ctx context.Context, to, text, replyToID string) (string, error) {
	return c.send(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textBody{Body: text},
		Context:          &msgContext{MessageID: replyToID},
	})
}

// MarkAsRead flips the read receipt for an inbound message. Failures are
// cosmetic and callers typically log them at warn level rather than abort.
func (c *Client) MarkAsRead(ctx context.Context, messageID string) error {
	payload := sendRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}
	url := fmt.Sprintf("%s/%s/messages", c.apiBase, c.phoneNumberID)
	_, err := c.post(ctx, url, payload)
	return err
}

// MediaURL resolves a media id into a short-lived download URL plus content
// metadata via GET /{media-id}.
func (c *Client) MediaURL(ctx context.Context, mediaID string) (*MediaInfo, error) {
	url := fmt.Sprintf("%s/%s", c.apiBase, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readAPIError(resp)
	}

	var info MediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode media info: %w", err)
	}
	if info.URL == "" {
		return nil, fmt.Errorf("media %s: empty download url", mediaID)
	}
	return &info, nil
}

// DownloadMedia fetches the bytes behind a resolved media URL. It returns the
// payload and the Content-Type reported by the CDN.
func (c *Client) DownloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", readAPIError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// send posts one message payload and extracts the assigned id.
func (c *Client) send(ctx context.Context, payload sendRequest) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", c.apiBase, c.phoneNumberID)
	raw, err := c.post(ctx, url, payload)
	if err != nil {
		return "", err
	}

	var ack sendResponse
	if err := json.Unmarshal(raw, &ack); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if len(ack.Messages) == 0 {
		log.Warn().Str("to", payload.To).Msg("send acknowledged without message id")
		return "", nil
	}
	return ack.Messages[0].ID, nil
}

// post issues an authenticated JSON POST and returns the raw response body.
func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readAPIError(resp)
	}
	return io.ReadAll(resp.Body)
}

// readAPIError drains a failed response into an *APIError.
func readAPIError(resp *http.Response) error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(excerpt))}
}

// Package agent – generation-agent client
//
// This file implements the client for the OpenAI-compatible endpoint that
// produces conversational replies and extracts text from images. Replies are
// threaded per user so the agent keeps memory across messages; an upstream
// answer with no usable text surfaces as ErrEmptyContent so the dispatch
// layer can treat it as a retryable failure.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/oferrer/wa-gateway/internal/config"
)

// ErrEmptyContent reports a successful upstream call whose answer carried no
// usable text. Callers retry it like any transient failure.
var ErrEmptyContent = errors.New("agent: empty content")

// Conversation roles accepted by the endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversational context sent to the agent.
type Message struct {
	Role    string
	Content string
}

// Options carries per-call generation parameters. ThreadID and ResourceID
// scope the agent's memory to one WhatsApp user.
type Options struct {
	ThreadID    string
	ResourceID  string
	Temperature float64
}

// Reply is the agent's answer to a generation call.
type Reply struct {
	Text         string
	FinishReason string
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	httpClient  *http.Client
	apiBase     string
	apiKey      string
	model       string
	visionModel string
}

// NewClient constructs a Client from the agent configuration block. The HTTP
// client carries no timeout of its own; callers bound each attempt through
// the request context.
func NewClient(cfg config.AgentConfig) *Client {
	return &Client{
		httpClient:  &http.Client{},
		apiBase:     cfg.APIBase,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
	}
}

// chatRequest is the wire shape of POST /chat/completions. Metadata carries
// the thread/resource scoping for endpoints that support server-side memory.
type chatRequest struct {
	Model       string            `json:"model"`
	Messages    []chatMessage     `json:"messages"`
	Temperature *float64          `json:"temperature,omitempty"`
	Stream      bool              `json:"stream"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// chatMessage content is either a plain string or a slice of content parts
// (text + image) for vision calls.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate asks the agent for a reply to the given conversation turns.
// An upstream answer without text yields ErrEmptyContent.
func (c *Client) Generate(ctx context.Context, msgs []Message, opts Options) (*Reply, error) {
	wire := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, chatMessage{Role: m.Role, Content: m.Content})
	}

	body := chatRequest{
		Model:    c.model,
		Messages: wire,
		Stream:   false,
	}
	if opts.Temperature > 0 {
		body.Temperature = &opts.Temperature
	}
	if opts.ThreadID != "" || opts.ResourceID != "" {
		body.Metadata = map[string]string{}
		if opts.ThreadID != "" {
			body.Metadata["thread_id"] = opts.ThreadID
		}
		if opts.ResourceID != "" {
			body.Metadata["resource_id"] = opts.ResourceID
		}
	}

	resp, err := c.complete(ctx, body)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, ErrEmptyContent
	}
	return &Reply{Text: text, FinishReason: resp.Choices[0].FinishReason}, nil
}

// ExtractText runs the vision model over an image and returns the text it
// reads. The prompt steers extraction (e.g. toward receipt fields); an image
// the model finds unreadable yields ErrEmptyContent.
func (c *Client) ExtractText(ctx context.Context, imageURL, prompt string) (string, error) {
	if prompt == "" {
		prompt = "Extract all readable text from this image. Reply with the text only."
	}
	body := chatRequest{
		Model: c.visionModel,
		Messages: []chatMessage{{
			Role: RoleUser,
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageRef{URL: imageURL}},
			},
		}},
		Stream: false,
	}

	resp, err := c.complete(ctx, body)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}

// complete posts one chat-completions request and validates the response has
// at least one choice.
func (c *Client) complete(ctx context.Context, body chatRequest) (*chatResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("agent %d: %s", resp.StatusCode, string(bytes.TrimSpace(respBody)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyContent
	}
	return &out, nil
}

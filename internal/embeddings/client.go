// Package embeddings – text-embedding client and vector math
//
// This file implements the client for the OpenAI-compatible /embeddings
// endpoint used by duplicate-receipt detection, plus the cosine similarity
// used to compare extracted receipt text against the stored corpus.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/oferrer/wa-gateway/internal/config"
)

// ErrEmptyVector reports a successful upstream call that returned no vector.
var ErrEmptyVector = errors.New("embeddings: empty vector")

// Embedder converts text into a dense vector. Satisfied by *Client; services
// accept the interface so tests can substitute a deterministic embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	httpClient *http.Client
	apiBase    string
	apiKey     string
	model      string
}

// NewClient constructs a Client reusing the agent endpoint credentials and
// the receipt policy's embedding model.
func NewClient(agentCfg config.AgentConfig, receiptCfg config.ReceiptConfig) *Client {
	return &Client{
		httpClient: &http.Client{},
		apiBase:    agentCfg.APIBase,
		apiKey:     agentCfg.APIKey,
		model:      receiptCfg.EmbedModel,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the vector for one text. A response without a vector yields
// ErrEmptyVector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	jsonBody, err := json.Marshal(embedRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("embeddings %d: %s", resp.StatusCode, string(bytes.TrimSpace(respBody)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, ErrEmptyVector
	}
	return out.Data[0].Embedding, nil
}

// Cosine returns the cosine similarity of two vectors in [-1, 1]. Mismatched
// lengths and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

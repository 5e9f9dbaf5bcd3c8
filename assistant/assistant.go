// Package assistant delivers cleared message content to the local AI
// agent. Only the pipeline decides what reaches the agent; this package
// is the transport for content that already passed trust and guardrail
// checks.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultDeliverTimeout = 30 * time.Second

// Assistant is the AI delivery sink.
type Assistant interface {
	// Deliver hands a decrypted, trust-cleared message to the agent.
	Deliver(ctx context.Context, sender, body string) error
	// System informs the agent of a relay system event.
	System(ctx context.Context, event, detail string) error
}

// HTTPConfig configures the agent's HTTP inbox.
type HTTPConfig struct {
	// URL is the agent's inbox endpoint.
	URL string
	// Timeout bounds one delivery. Defaults to 30s; agent frameworks
	// can be slow to accept work.
	Timeout time.Duration
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// HTTPAssistant posts deliveries to an agent's HTTP inbox.
type HTTPAssistant struct {
	url    string
	client *http.Client
}

// NewHTTPAssistant creates the HTTP delivery sink.
func NewHTTPAssistant(cfg HTTPConfig) (*HTTPAssistant, error) {
	if cfg.URL == "" {
		return nil, errors.New("assistant URL cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDeliverTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPAssistant{url: cfg.URL, client: client}, nil
}

type delivery struct {
	Kind   string `json:"kind"`
	Sender string `json:"sender,omitempty"`
	Body   string `json:"body,omitempty"`
	Event  string `json:"event,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Deliver posts a message delivery.
func (a *HTTPAssistant) Deliver(ctx context.Context, sender, body string) error {
	return a.post(ctx, delivery{Kind: "message", Sender: sender, Body: body})
}

// System posts a system event.
func (a *HTTPAssistant) System(ctx context.Context, event, detail string) error {
	return a.post(ctx, delivery{Kind: "system", Event: event, Detail: detail})
}

func (a *HTTPAssistant) post(ctx context.Context, d delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver to assistant: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("assistant returned status %d", resp.StatusCode)
	}
	return nil
}

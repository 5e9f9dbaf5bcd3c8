package guardrail

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

const defaultScanTimeout = 10 * time.Second

// RemoteConfig configures the hosted scanning service client.
type RemoteConfig struct {
	// URL is the service's scan endpoint.
	URL string
	// Timeout bounds one scan request. Defaults to 10s.
	Timeout time.Duration
	// HTTPClient overrides the transport. Defaults to a client with
	// Timeout applied.
	HTTPClient *http.Client
}

// Remote consults the hosted scanning service. The service is a black
// box: it receives sender and text and answers flagged or not. Any
// transport failure, timeout, or malformed answer is reported as
// unavailable rather than an error, because the caller's policy for a
// missing scanner is not the scanner's concern.
type Remote struct {
	url    string
	client *http.Client
}

// NewRemote creates a hosted-service scanner.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.URL == "" {
		return nil, errors.New("scan service URL cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultScanTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Remote{url: cfg.URL, client: client}, nil
}

type scanRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type scanResponse struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason"`
}

// Scan submits the body to the hosted service.
func (r *Remote) Scan(ctx context.Context, sender string, body []byte) Result {
	payload, err := json.Marshal(scanRequest{Sender: sender, Text: string(body)})
	if err != nil {
		return Result{Verdict: VerdictUnavailable, Err: fmt.Errorf("failed to encode scan request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return Result{Verdict: VerdictUnavailable, Err: fmt.Errorf("failed to build scan request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{Verdict: VerdictUnavailable, Err: fmt.Errorf("scan request failed: %w", err)}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Verdict: VerdictUnavailable, Err: fmt.Errorf("scan service returned status %d", resp.StatusCode)}
	}

	var answer scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return Result{Verdict: VerdictUnavailable, Err: fmt.Errorf("failed to decode scan response: %w", err)}
	}

	if answer.Flagged {
		return Result{Verdict: VerdictFlagged, Reason: answer.Reason}
	}
	return Result{Verdict: VerdictClean}
}

package relay

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joncooperworks/agentpost/crypto"
)

// StatusError is returned when the relay answers with a non-success
// HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay returned status %d", e.Code)
}

// ClientConfig configures a relay HTTP client.
type ClientConfig struct {
	// BaseURL is the relay's HTTP endpoint, e.g. https://relay.example.com.
	BaseURL string
	// Handle is the local identity the client authenticates as.
	Handle string
	// SigningPriv signs every request's headers.
	SigningPriv ed25519.PrivateKey
	// Timeout bounds each request. Defaults to 30 seconds.
	Timeout time.Duration
	// Logger receives request failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client calls the relay's authenticated HTTP endpoints. All methods
// are safe for concurrent use.
type Client struct {
	baseURL     string
	handle      string
	signingPriv ed25519.PrivateKey
	httpClient  *http.Client
	log         *slog.Logger
}

// NewClient creates a relay client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("relay base URL cannot be empty")
	}
	if err := crypto.ValidateHandle(cfg.Handle); err != nil {
		return nil, err
	}
	if len(cfg.SigningPriv) != ed25519.PrivateKeySize {
		return nil, errors.New("signing key has wrong size")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		handle:      cfg.Handle,
		signingPriv: cfg.SigningPriv,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		log:         cfg.Logger,
	}, nil
}

// Send posts a sealed envelope for a recipient and returns the
// relay-assigned message id.
func (c *Client) Send(ctx context.Context, recipient string, env *crypto.Envelope) (string, error) {
	if env == nil {
		return "", errors.New("envelope cannot be nil")
	}
	if err := crypto.ValidateHandle(recipient); err != nil {
		return "", err
	}

	body, err := json.Marshal(sendRequest{Recipient: recipient, Envelope: *env})
	if err != nil {
		return "", fmt.Errorf("failed to encode send request: %w", err)
	}

	var resp sendResponse
	if err := c.post(ctx, "/v1/messages", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("relay did not assign a message id")
	}
	return resp.ID, nil
}

// Inbox fetches all pending messages for the local handle. Messages
// stay pending until acknowledged.
func (c *Client) Inbox(ctx context.Context) ([]Message, error) {
	var resp inboxResponse
	if err := c.get(ctx, "/v1/inbox", &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// FetchMessage fetches a single message by id, as hinted by a push
// notification.
func (c *Client) FetchMessage(ctx context.Context, id string) (*Message, error) {
	if id == "" {
		return nil, errors.New("message id cannot be empty")
	}
	var msg Message
	if err := c.get(ctx, "/v1/messages/"+id, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Ack acknowledges a batch of message ids, removing them from the
// pending inbox.
func (c *Client) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body, err := json.Marshal(ackRequest{IDs: ids})
	if err != nil {
		return fmt.Errorf("failed to encode ack request: %w", err)
	}
	return c.post(ctx, "/v1/ack", body, nil)
}

// Keys looks up a handle's published public keys in the relay's key
// directory.
func (c *Client) Keys(ctx context.Context, handle string) (*ContactKeys, error) {
	if err := crypto.ValidateHandle(handle); err != nil {
		return nil, err
	}
	var keys ContactKeys
	if err := c.get(ctx, "/v1/keys/"+handle, &keys); err != nil {
		return nil, err
	}
	if len(keys.SigningKey) != ed25519.PublicKeySize || len(keys.AgreementKey) != 32 {
		return nil, fmt.Errorf("relay returned malformed keys for %s", handle)
	}
	return &keys, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	headers, err := crypto.BuildGetHeaders(c.handle, path, c.signingPriv)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = headers
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	headers, err := crypto.BuildPostHeaders(c.handle, string(body), c.signingPriv)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = headers
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &StatusError{Code: resp.StatusCode}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode relay response: %w", err)
	}
	return nil
}

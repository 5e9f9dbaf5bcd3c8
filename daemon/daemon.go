// Package daemon runs the message pipeline: it takes envelopes from
// the relay over push and poll, enforces per-sender trust before
// anything reaches the assistant, and acknowledges only what was fully
// handled.
//
// One goroutine owns the pipeline. Push frames, poll batches, and ack
// flushes all funnel through the daemon's Run loop, which keeps the
// dedup set and ack queue free of locking.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joncooperworks/agentpost/assistant"
	"github.com/joncooperworks/agentpost/crypto/keystore"
	"github.com/joncooperworks/agentpost/guardrail"
	"github.com/joncooperworks/agentpost/notify"
	"github.com/joncooperworks/agentpost/relay"
	"github.com/joncooperworks/agentpost/store"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultAckInterval  = 5 * time.Second

	// drainTimeout bounds the final ack flush during shutdown.
	drainTimeout = 5 * time.Second
)

// RelayAPI is the slice of the relay client the pipeline consumes.
type RelayAPI interface {
	Inbox(ctx context.Context) ([]relay.Message, error)
	FetchMessage(ctx context.Context, id string) (*relay.Message, error)
	Ack(ctx context.Context, ids []string) error
	Keys(ctx context.Context, handle string) (*relay.ContactKeys, error)
}

// Config carries the daemon's dependencies and tuning.
type Config struct {
	// Identity holds the local handle's private keys.
	Identity *keystore.Identity
	// Relay is the HTTP client for inbox, fetch, ack, and key lookup.
	Relay RelayAPI
	// Store persists trust, pinned keys, and held messages.
	Store *store.Store
	// Guardrail classifies decrypted text before assistant delivery.
	Guardrail guardrail.Scanner
	// Notify reaches the human.
	Notify notify.Notifier
	// Assistant receives vetted messages.
	Assistant assistant.Assistant

	// WebSocketURL enables the push session. Empty means poll-only.
	WebSocketURL string
	// PollInterval is the gap between inbox polls.
	PollInterval time.Duration
	// AckInterval is the gap between ack batch flushes.
	AckInterval time.Duration
	// BackoffBase and BackoffCap tune push reconnects.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string

	Logger *slog.Logger
}

// Daemon is one running pipeline for one handle.
type Daemon struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics

	processed processedSet
	acks      ackQueue
	frames    chan relay.Frame
	session   *relay.Session
}

// New validates cfg and builds a daemon, including its push session
// when a WebSocket URL is configured.
func New(cfg Config) (*Daemon, error) {
	if cfg.Identity == nil {
		return nil, errors.New("identity is required")
	}
	if cfg.Relay == nil {
		return nil, errors.New("relay client is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Guardrail == nil {
		return nil, errors.New("guardrail scanner is required")
	}
	if cfg.Notify == nil {
		return nil, errors.New("notifier is required")
	}
	if cfg.Assistant == nil {
		return nil, errors.New("assistant is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.AckInterval <= 0 {
		cfg.AckInterval = defaultAckInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Daemon{
		cfg:       cfg,
		log:       cfg.Logger,
		metrics:   newMetrics(),
		processed: make(processedSet),
		frames:    make(chan relay.Frame, 16),
	}

	if cfg.WebSocketURL != "" {
		session, err := relay.NewSession(relay.SessionConfig{
			URL:         cfg.WebSocketURL,
			Handle:      cfg.Identity.Handle,
			SigningPriv: cfg.Identity.SigningPriv,
			Frames:      d.frames,
			BackoffBase: cfg.BackoffBase,
			BackoffCap:  cfg.BackoffCap,
			Logger:      cfg.Logger,
			OnState: func(state relay.SessionState) {
				d.metrics.sessionState.Set(float64(state))
			},
			OnReconnect: func(attempt int, delay time.Duration) {
				d.metrics.reconnects.Inc()
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build push session: %w", err)
		}
		d.session = session
	}

	return d, nil
}

// Run drives the pipeline until ctx is canceled or the push session
// fails fatally. A fatal session close means the relay rejected this
// identity, and polling would be rejected the same way.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cfg.MetricsAddr != "" {
		stop := d.serveMetrics()
		defer stop()
	}

	// nil channels never fire, so poll-only mode needs no branches.
	var sessErr chan error
	if d.session != nil {
		sessErr = make(chan error, 1)
		go func() {
			sessErr <- d.session.Run(ctx)
		}()
	}

	d.log.Info("daemon started",
		"handle", d.cfg.Identity.Handle,
		"push", d.session != nil,
		"pollInterval", d.cfg.PollInterval)

	pollTicker := time.NewTicker(d.cfg.PollInterval)
	defer pollTicker.Stop()
	ackTicker := time.NewTicker(d.cfg.AckInterval)
	defer ackTicker.Stop()

	// Drain the backlog accumulated while the daemon was down before
	// settling into the steady-state loop.
	d.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			d.drainAcks()
			d.log.Info("daemon stopped")
			return nil

		case err := <-sessErr:
			if err != nil {
				d.drainAcks()
				return fmt.Errorf("push session failed: %w", err)
			}
			// The session only returns nil on cancellation; the
			// ctx.Done branch takes it from here.
			sessErr = nil

		case fr := <-d.frames:
			d.processFrame(ctx, fr)

		case <-pollTicker.C:
			d.poll(ctx)

		case <-ackTicker.C:
			d.flushAcks(ctx)
		}
	}
}

// drainAcks flushes the pending batch on its own deadline so shutdown
// does not lose acknowledgments to an already-canceled context.
func (d *Daemon) drainAcks() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	d.flushAcks(ctx)
}

// serveMetrics starts the Prometheus listener and returns its stop
// function.
func (d *Daemon) serveMetrics() func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.metrics.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: d.cfg.MetricsAddr, Handler: mux}

	go func() {
		d.log.Info("metrics listening", "addr", d.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Metrics are observability, not the mission; the
			// pipeline keeps running without them.
			d.log.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

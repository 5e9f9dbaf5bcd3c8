package relay

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joncooperworks/agentpost/crypto"
)

// Application close codes in the fatal range. The relay sends these
// when the identity itself is rejected; reconnecting cannot help, so
// the session terminates and surfaces the failure to the operator.
const (
	CloseAuthFailed       = 4001
	CloseUnknownHandle    = 4002
	CloseSignatureExpired = 4003
)

// FatalCloseCode reports whether a close code ends the session for
// good. Everything outside the fixed fatal set, including normal and
// abnormal closure, is retryable.
func FatalCloseCode(code int) bool {
	switch code {
	case CloseAuthFailed, CloseUnknownHandle, CloseSignatureExpired:
		return true
	}
	return false
}

// SessionState is the push session's lifecycle position.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAuthenticated
	StateDraining
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

const (
	// pongWait is how long a connection may stay silent before the
	// read loop gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait so a healthy relay
	// always answers in time.
	pingPeriod = 54 * time.Second
)

// SessionConfig configures a push session.
type SessionConfig struct {
	// URL is the relay's WebSocket endpoint, e.g. wss://relay.example.com/v1/ws.
	URL string
	// Handle is the identity to authenticate as.
	Handle string
	// SigningPriv signs the auth frame.
	SigningPriv ed25519.PrivateKey
	// Frames receives every inbound frame. The consumer owns routing;
	// the session never interprets message or system frames.
	Frames chan<- Frame
	// BackoffBase is the first reconnect delay. Defaults to 1s.
	BackoffBase time.Duration
	// BackoffCap bounds the reconnect delay. Defaults to 60s.
	BackoffCap time.Duration
	// Logger receives connection lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
	// OnState, if set, observes every state transition.
	OnState func(SessionState)
	// OnReconnect, if set, observes each scheduled reconnect.
	OnReconnect func(attempt int, delay time.Duration)
	// Dialer overrides the WebSocket dialer. Defaults to
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Session maintains the persistent push connection: authenticate on
// connect, deliver inbound frames, and reconnect with exponential
// backoff on every close that is not in the fatal range. Reconnect
// sleeps block only this session; polling runs independently.
type Session struct {
	cfg   SessionConfig
	state atomic.Int32
	log   *slog.Logger
}

// NewSession creates a push session. Run starts it.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.URL == "" {
		return nil, errors.New("session URL cannot be empty")
	}
	if err := crypto.ValidateHandle(cfg.Handle); err != nil {
		return nil, err
	}
	if len(cfg.SigningPriv) != ed25519.PrivateKeySize {
		return nil, errors.New("signing key has wrong size")
	}
	if cfg.Frames == nil {
		return nil, errors.New("frames channel cannot be nil")
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	s := &Session{cfg: cfg, log: cfg.Logger}
	s.state.Store(int32(StateDisconnected))
	return s, nil
}

// State returns the session's current lifecycle position.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
	if s.cfg.OnState != nil {
		s.cfg.OnState(state)
	}
}

// Run connects and serves the session until ctx is canceled or the
// relay closes with a fatal code. A fatal close returns an error and
// never reconnects; every other failure schedules a reconnect with
// delay min(base*2^attempt, cap) and an unbounded attempt count. On
// cancellation the connection is drained with a normal close frame and
// Run returns nil.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		s.setState(StateConnecting)
		conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateClosed)
				return nil
			}
			s.log.Warn("push dial failed", "error", err)
			if err := s.backoff(ctx, &attempt); err != nil {
				return nil
			}
			continue
		}

		err = s.serveConn(ctx, conn, &attempt)
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return nil
		}

		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && FatalCloseCode(closeErr.Code) {
			s.setState(StateClosed)
			return fmt.Errorf("relay rejected session: %w", closeErr)
		}

		s.log.Warn("push session dropped", "error", err)
		if err := s.backoff(ctx, &attempt); err != nil {
			return nil
		}
	}
}

// serveConn authenticates one connection and pumps frames until it
// fails or ctx is canceled.
func (s *Session) serveConn(ctx context.Context, conn *websocket.Conn, attempt *int) error {
	defer conn.Close()

	ts := time.Now().Unix()
	sig, err := crypto.Sign(crypto.SessionAuthPayload(s.cfg.Handle, ts), s.cfg.SigningPriv)
	if err != nil {
		return fmt.Errorf("failed to sign auth frame: %w", err)
	}
	if err := conn.WriteJSON(Frame{Type: FrameAuth, Handle: s.cfg.Handle, TS: ts, Sig: sig}); err != nil {
		return fmt.Errorf("failed to send auth frame: %w", err)
	}
	s.setState(StateAuthenticated)
	s.log.Info("push session authenticated", "handle", s.cfg.Handle)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Drain on cancellation: a normal close frame tells the relay this
	// is a shutdown, not a fault.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.setState(StateDraining)
			deadline := time.Now().Add(time.Second)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"), deadline)
			conn.Close()
		case <-done:
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	go func() {
		for {
			select {
			case <-ping.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case <-done:
				return
			}
		}
	}()

	for {
		var fr Frame
		if err := conn.ReadJSON(&fr); err != nil {
			return err
		}
		// A healthy read means the relay accepted our auth; reset the
		// backoff schedule.
		*attempt = 0

		select {
		case s.cfg.Frames <- fr:
		case <-ctx.Done():
			return nil
		}
	}
}

// backoff sleeps before the next reconnect attempt. Returns an error
// only when ctx is canceled.
func (s *Session) backoff(ctx context.Context, attempt *int) error {
	delay := backoffDelay(*attempt, s.cfg.BackoffBase, s.cfg.BackoffCap)
	s.setState(StateDisconnected)
	if s.cfg.OnReconnect != nil {
		s.cfg.OnReconnect(*attempt, delay)
	}
	s.log.Info("push session reconnecting", "attempt", *attempt, "delay", delay)
	*attempt++

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		s.setState(StateClosed)
		return ctx.Err()
	}
}

// backoffDelay computes min(base * 2^attempt, cap) without overflow.
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

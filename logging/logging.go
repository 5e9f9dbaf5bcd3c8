// Package logging builds the daemon's structured logger. Every handler
// is wrapped with a redaction layer so values that must never reach a
// log file, decrypted bodies, key material, and signatures, are
// replaced by attribute key before the record is written. Redaction
// matches on key substrings and over-captures on purpose: a false
// positive costs one log value, a false negative leaks plaintext.
//
// Handles get a milder treatment. Routine records at info level and
// below carry only a short prefix of each handle, enough to correlate
// lines without writing the full contact graph to disk. Warn and error
// records keep the full handle because an operator reading them needs
// to know exactly who to investigate.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	redactedValue   = "[REDACTED]"
	handlePrefixLen = 3
)

var sensitiveKeyParts = []string{
	"body", "plaintext", "key", "seed", "secret",
	"token", "sig", "passphrase", "password",
}

// handleKeys are attribute keys whose values are contact handles.
var handleKeys = map[string]struct{}{
	"handle":     {},
	"sender":     {},
	"recipient":  {},
	"introducer": {},
	"context":    {},
}

// New builds the daemon logger writing JSON records to w at the given
// level ("debug", "info", "warn", "error"), with redaction applied.
func New(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(WrapHandler(handler)), nil
}

// RedactingHandler rewrites sensitive attributes before delegating to
// the wrapped handler.
type RedactingHandler struct {
	next slog.Handler
}

// WrapHandler wraps a handler with redaction.
func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &RedactingHandler{next: next}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	truncate := rec.Level <= slog.LevelInfo
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(redactAttr(attr, truncate))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs redacts secrets in pre-bound attributes eagerly. Handle
// truncation only happens per record: attrs bound here exist before
// any record, so their level is unknown.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RedactingHandler{next: h.next.WithAttrs(redactAttrs(attrs, false))}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(attr slog.Attr, truncate bool) slog.Attr {
	key := strings.ToLower(strings.TrimSpace(attr.Key))
	if isSensitiveKey(key) {
		return slog.String(attr.Key, redactedValue)
	}
	if _, ok := handleKeys[key]; ok && truncate {
		return slog.String(attr.Key, truncateHandle(attr.Value.String()))
	}
	if attr.Value.Kind() == slog.KindGroup {
		members := redactAttrs(attr.Value.Group(), truncate)
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(members...)}
	}
	return attr
}

func redactAttrs(attrs []slog.Attr, truncate bool) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, redactAttr(attr, truncate))
	}
	return out
}

func truncateHandle(v string) string {
	runes := []rune(v)
	if len(runes) <= handlePrefixLen {
		return v
	}
	return string(runes[:handlePrefixLen]) + "…"
}

func isSensitiveKey(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

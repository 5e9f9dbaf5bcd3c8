package guardrail

import (
	"context"
	"errors"
	"log/slog"
)

// Chain runs local filters in order, then the hosted service. The
// first flag wins and ends the scan. A filter that fails to run is
// skipped so one broken filter cannot hold up delivery; only the
// hosted service's failure surfaces as unavailable, because that is
// the outcome the pipeline's delivery policy keys on.
type Chain struct {
	filters []Filter
	remote  Scanner
	log     *slog.Logger
}

// NewChain builds a scan chain. remote may be nil when no hosted
// service is configured; the chain then answers from filters alone.
func NewChain(filters []Filter, remote Scanner, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{filters: filters, remote: remote, log: logger}
}

// Scan classifies a message body through every layer.
func (c *Chain) Scan(ctx context.Context, sender string, body []byte) Result {
	for _, f := range c.filters {
		flagged, reason, err := f.Check(body)
		if err != nil {
			c.log.Warn("message filter failed, skipping", "filter", f.Name(), "error", err)
			continue
		}
		if flagged {
			return Result{Verdict: VerdictFlagged, Reason: reason, Filter: f.Name()}
		}
	}

	if c.remote == nil {
		return Result{Verdict: VerdictClean}
	}
	return c.remote.Scan(ctx, sender, body)
}

// Close releases every filter that holds resources.
func (c *Chain) Close() error {
	var errs []error
	for _, f := range c.filters {
		if closer, ok := f.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

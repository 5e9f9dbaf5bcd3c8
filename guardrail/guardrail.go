// Package guardrail classifies decrypted message text before it can
// reach the assistant. Classification is layered: local WASM filters
// run first inside a sandbox with no network or host access, then the
// hosted scanning service is consulted. Outcomes are a closed set so
// the pipeline can match on them exhaustively.
package guardrail

import (
	"context"
	"fmt"
)

// Verdict is the outcome kind of a scan.
type Verdict int

const (
	// VerdictClean means no scanner objected to the content.
	VerdictClean Verdict = iota
	// VerdictFlagged means a scanner identified the content as unsafe
	// for the assistant.
	VerdictFlagged
	// VerdictUnavailable means the scanning service could not be
	// reached or did not answer in time. The pipeline decides what
	// that means; the scanner only reports it.
	VerdictUnavailable
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictFlagged:
		return "flagged"
	case VerdictUnavailable:
		return "unavailable"
	}
	return fmt.Sprintf("unknown(%d)", int(v))
}

// Result is a tagged scan outcome. Reason and Filter are set only when
// flagged; Err is set only when unavailable.
type Result struct {
	Verdict Verdict
	// Reason is the scanner's explanation for a flag.
	Reason string
	// Filter names the local filter that flagged, empty when the
	// hosted service flagged.
	Filter string
	// Err is the failure that made the scan unavailable.
	Err error
}

// Scanner classifies one decrypted message body.
type Scanner interface {
	Scan(ctx context.Context, sender string, body []byte) Result
}

// Filter is one local classifier consulted before the hosted service.
type Filter interface {
	// Name identifies the filter in logs and flag results.
	Name() string
	// Check classifies one message body. A non-nil error means the
	// filter could not run; the chain skips it and moves on.
	Check(body []byte) (flagged bool, reason string, err error)
}

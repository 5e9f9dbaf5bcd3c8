// Package notify delivers human-facing notifications over a chat bot
// API. The channel is send-only: reveal buttons carry callback data
// for the operator's bot to service, and trust/block buttons are links
// into the relay console where a human completes a verification step.
// Nothing in this process can follow those links itself.
package notify

import "context"

// Notifier is the human notification channel the pipeline delivers to.
type Notifier interface {
	// NotifyMessage announces a delivered message with its sender tag.
	NotifyMessage(ctx context.Context, sender, body string) error
	// NotifyBlind announces a message held for human review, with
	// actions to reveal it, trust the sender, or block the sender.
	NotifyBlind(ctx context.Context, sender, messageID string) error
	// NotifyWarning announces content the guardrail flagged. The body
	// is escaped before it touches the notification surface.
	NotifyWarning(ctx context.Context, sender, reason, body string) error
	// NotifySystem announces a relay system event.
	NotifySystem(ctx context.Context, text string) error
}

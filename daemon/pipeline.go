package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/joncooperworks/agentpost/crypto"
	"github.com/joncooperworks/agentpost/guardrail"
	"github.com/joncooperworks/agentpost/relay"
	"github.com/joncooperworks/agentpost/store"
)

// processFrame routes one push frame.
func (d *Daemon) processFrame(ctx context.Context, fr relay.Frame) {
	switch fr.Type {
	case relay.FrameNewMessage:
		msg, err := d.cfg.Relay.FetchMessage(ctx, fr.ID)
		if err != nil {
			d.log.Warn("failed to fetch pushed message, poll will retry", "id", fr.ID, "error", err)
			return
		}
		d.processMessage(ctx, *msg)
	case relay.FrameSystem:
		d.processSystem(ctx, fr)
	default:
		d.log.Debug("ignoring unexpected frame", "type", fr.Type)
	}
}

// poll fetches the inbox backlog and runs every message through the
// pipeline. Push and poll overlap freely; dedup absorbs the overlap.
func (d *Daemon) poll(ctx context.Context) {
	msgs, err := d.cfg.Relay.Inbox(ctx)
	if err != nil {
		d.metrics.pollFailures.Inc()
		d.log.Warn("inbox poll failed", "error", err)
		return
	}
	for _, msg := range msgs {
		d.processMessage(ctx, msg)
	}
}

// processMessage runs one message through trust resolution, dedup,
// decryption, verification, and routing. It never returns an error:
// whatever happens to one message, the intake loop keeps going.
func (d *Daemon) processMessage(ctx context.Context, msg relay.Message) {
	read, err := store.ParseTrustState(msg.EffectiveRead)
	if err != nil {
		// The relay omitted or mangled the read level; fall back to
		// the local trust store's resolution for the sender.
		read = d.cfg.Store.TrustFor(msg.Sender)
	}

	key := dedupKey(msg.ID, read)
	if d.processed.seen(key) {
		d.metrics.dedupHits.Inc()
		return
	}

	// Blocked senders' ciphertext is never even opened.
	if read == store.TrustBlock {
		d.processed.add(key)
		d.metrics.processed.WithLabelValues("blocked").Inc()
		d.log.Info("dropped message from blocked sender", "sender", msg.Sender, "id", msg.ID)
		return
	}

	plaintext, err := crypto.DecryptFromSender(&msg.Envelope, d.cfg.Identity.AgreementPriv)
	if err != nil {
		// Decryption is deterministic, so a redelivery cannot succeed
		// where this attempt failed; record the key to warn once.
		d.processed.add(key)
		d.metrics.decryptFailures.Inc()
		d.log.Warn("failed to decrypt envelope, skipping message", "sender", msg.Sender, "id", msg.ID, "error", err)
		return
	}

	switch read {
	case store.TrustBlind:
		d.processBlind(ctx, msg, key, plaintext)
	case store.TrustTrusted:
		d.processTrusted(ctx, msg, key, plaintext)
	}
}

// processBlind holds a message for human review: cache the body for
// reveal, notify with trust actions, and leave the message
// unacknowledged so the relay redelivers it once trust changes.
func (d *Daemon) processBlind(ctx context.Context, msg relay.Message, key string, plaintext []byte) {
	if err := d.cfg.Store.CacheBlind(msg.Sender, msg.ID, plaintext); err != nil {
		// Without the cache the reveal action has nothing to show;
		// leave the message unprocessed so the next delivery retries.
		d.log.Error("failed to cache held message", "sender", msg.Sender, "id", msg.ID, "error", err)
		return
	}
	if err := d.cfg.Notify.NotifyBlind(ctx, msg.Sender, msg.ID); err != nil {
		d.metrics.sinkFailures.WithLabelValues("notify").Inc()
		d.log.Warn("failed to notify about held message", "sender", msg.Sender, "id", msg.ID, "error", err)
	}
	d.processed.add(key)
	d.metrics.processed.WithLabelValues("blind").Inc()
}

// processTrusted verifies the sender, scans the content, and delivers.
// Only this branch can reach the assistant or the ack queue.
func (d *Daemon) processTrusted(ctx context.Context, msg relay.Message, key string, plaintext []byte) {
	if err := d.verifySender(ctx, msg); err != nil {
		// A trusted read with an unverifiable signature is the
		// red-flag case: never assistant-deliver, never acknowledge,
		// tell the human.
		d.processed.add(key)
		d.metrics.processed.WithLabelValues("rejected").Inc()
		d.log.Warn("sender verification failed", "sender", msg.Sender, "id", msg.ID, "error", err)
		if nerr := d.cfg.Notify.NotifyWarning(ctx, msg.Sender, "sender signature could not be verified", string(plaintext)); nerr != nil {
			d.metrics.sinkFailures.WithLabelValues("notify").Inc()
			d.log.Warn("failed to send verification warning", "sender", msg.Sender, "id", msg.ID, "error", nerr)
		}
		return
	}

	res := d.cfg.Guardrail.Scan(ctx, msg.Sender, plaintext)
	d.metrics.scanVerdicts.WithLabelValues(res.Verdict.String()).Inc()

	switch res.Verdict {
	case guardrail.VerdictFlagged:
		d.processed.add(key)
		d.metrics.processed.WithLabelValues("flagged").Inc()
		d.log.Warn("guardrail flagged message", "sender", msg.Sender, "id", msg.ID, "reason", res.Reason, "filter", res.Filter)
		if err := d.cfg.Notify.NotifyWarning(ctx, msg.Sender, res.Reason, string(plaintext)); err != nil {
			d.metrics.sinkFailures.WithLabelValues("notify").Inc()
			d.log.Warn("failed to send flag warning", "sender", msg.Sender, "id", msg.ID, "error", err)
		}
		// Flagged stays unacknowledged so it remains inspectable.
		return
	case guardrail.VerdictUnavailable:
		d.log.Warn("guardrail unavailable, delivering anyway", "sender", msg.Sender, "id", msg.ID, "error", res.Err)
	}

	// Clean or unavailable: deliver. The sinks are independent calls;
	// either failure is logged and neither holds back the other or
	// the acknowledgment.
	if err := d.cfg.Assistant.Deliver(ctx, msg.Sender, string(plaintext)); err != nil {
		d.metrics.sinkFailures.WithLabelValues("assistant").Inc()
		d.log.Error("failed to deliver to assistant", "sender", msg.Sender, "id", msg.ID, "error", err)
	}
	if err := d.cfg.Notify.NotifyMessage(ctx, msg.Sender, string(plaintext)); err != nil {
		d.metrics.sinkFailures.WithLabelValues("notify").Inc()
		d.log.Warn("failed to notify about message", "sender", msg.Sender, "id", msg.ID, "error", err)
	}

	d.processed.add(key)
	d.metrics.processed.WithLabelValues("trusted").Inc()
	d.acks.add(msg.ID)
}

// verifySender checks the envelope signature against the sender's
// pinned signing key, fetching and pinning keys on first contact.
func (d *Daemon) verifySender(ctx context.Context, msg relay.Message) error {
	contact, err := d.cfg.Store.ContactFor(msg.Sender)
	if errors.Is(err, store.ErrUnknownContact) {
		keys, kerr := d.cfg.Relay.Keys(ctx, msg.Sender)
		if kerr != nil {
			return fmt.Errorf("failed to fetch sender keys: %w", kerr)
		}
		pinned := store.Contact{Handle: msg.Sender, SigningKey: keys.SigningKey}
		copy(pinned.AgreementKey[:], keys.AgreementKey)
		if perr := d.cfg.Store.PinContact(pinned); perr != nil {
			return fmt.Errorf("failed to pin sender keys: %w", perr)
		}
		contact = &pinned
	} else if err != nil {
		return fmt.Errorf("failed to load pinned keys: %w", err)
	}

	if !crypto.VerifyEnvelope(&msg.Envelope, contact.SigningKey) {
		return errors.New("envelope signature does not verify against pinned key")
	}
	return nil
}

// processSystem dispatches a relay system event by subtype. System
// events bypass dedup, crypto, and the guardrail.
func (d *Daemon) processSystem(ctx context.Context, fr relay.Frame) {
	switch fr.Subtype {
	case relay.SystemTrustChanged:
		state, err := store.ParseTrustState(fr.State)
		if err != nil {
			d.log.Warn("trust change with unknown state", "sender", fr.Sender, "state", fr.State)
			return
		}
		// The event records a human console action, so it carries the
		// confirmed source the trust store demands.
		if err := d.cfg.Store.SetTrust(fr.Sender, state, store.SourceHumanConfirmed); err != nil {
			d.log.Error("failed to apply trust change", "sender", fr.Sender, "error", err)
			return
		}
		text := fmt.Sprintf("Trust for @%s is now %s.", fr.Sender, state)
		d.notifyBoth(ctx, relay.SystemTrustChanged, text)

	case relay.SystemAddedToHandle:
		state, err := d.cfg.Store.ApplyIntroduction(fr.Sender, fr.Context)
		if err != nil {
			d.log.Error("failed to apply introduction", "introducer", fr.Sender, "context", fr.Context, "error", err)
			return
		}
		text := fmt.Sprintf("@%s added you to @%s.", fr.Sender, fr.Context)
		if state == store.TrustTrusted {
			text += " Messages there are trusted because you trust the person who added you."
		}
		d.notifyBoth(ctx, relay.SystemAddedToHandle, text)

	case relay.SystemPermissionChanged:
		if err := d.cfg.Assistant.System(ctx, relay.SystemPermissionChanged, fr.Detail); err != nil {
			d.metrics.sinkFailures.WithLabelValues("assistant").Inc()
			d.log.Warn("failed to inform assistant of permission change", "error", err)
		}

	default:
		d.log.Debug("ignoring unknown system event", "subtype", fr.Subtype)
	}
}

// notifyBoth sends a system event to the human and the assistant as
// independent calls.
func (d *Daemon) notifyBoth(ctx context.Context, event, text string) {
	if err := d.cfg.Notify.NotifySystem(ctx, text); err != nil {
		d.metrics.sinkFailures.WithLabelValues("notify").Inc()
		d.log.Warn("failed to notify about system event", "event", event, "error", err)
	}
	if err := d.cfg.Assistant.System(ctx, event, text); err != nil {
		d.metrics.sinkFailures.WithLabelValues("assistant").Inc()
		d.log.Warn("failed to inform assistant of system event", "event", event, "error", err)
	}
}

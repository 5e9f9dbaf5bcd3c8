package store

import (
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/joncooperworks/agentpost/crypto"
)

// TrustState is the per-sender read level. It decides whether a
// sender's messages are dropped unopened, shown only to a human, or
// admitted to the AI pipeline.
type TrustState string

const (
	// TrustBlock drops the sender's messages before decryption.
	TrustBlock TrustState = "block"
	// TrustBlind decrypts for human display only. The default for
	// unknown senders.
	TrustBlind TrustState = "blind"
	// TrustTrusted admits messages to guardrail scanning and, when
	// clean, to the AI.
	TrustTrusted TrustState = "trusted"
)

// TrustSource declares why a trust mutation is allowed. SetTrust
// rejects any other value, so every caller states its authority.
type TrustSource string

const (
	// SourceHumanConfirmed is a mutation backed by a human-solved
	// verification step: the relay's trust/block links or the operator
	// CLI. Agent- or AI-issued commands never carry this source.
	SourceHumanConfirmed TrustSource = "human_confirmed"
	// SourceIntroduction is the automatic upgrade applied when an
	// already-trusted sender introduces a new context.
	SourceIntroduction TrustSource = "introduction"
)

// ErrInvalidTrustState is returned for a state outside block/blind/trusted.
var ErrInvalidTrustState = errors.New("invalid trust state")

// ErrInvalidTrustSource is returned when a trust mutation does not
// declare a recognized source.
var ErrInvalidTrustSource = errors.New("trust mutation requires a confirmed source")

// ParseTrustState converts a wire string into a TrustState.
func ParseTrustState(s string) (TrustState, error) {
	switch TrustState(s) {
	case TrustBlock, TrustBlind, TrustTrusted:
		return TrustState(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTrustState, s)
}

// TrustFor returns the stored trust state for a sender. Unknown senders
// are blind.
func (s *Store) TrustFor(sender string) TrustState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.trustCache[sender]; ok {
		return state
	}
	return TrustBlind
}

// SetTrust records a trust state for a sender. The source names the
// authority for the change and must be SourceHumanConfirmed or
// SourceIntroduction.
func (s *Store) SetTrust(sender string, state TrustState, source TrustSource) error {
	if err := crypto.ValidateHandle(sender); err != nil {
		return err
	}
	if _, err := ParseTrustState(string(state)); err != nil {
		return err
	}
	switch source {
	case SourceHumanConfirmed, SourceIntroduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTrustSource, source)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(trustBucket)).Put([]byte(sender), []byte(state))
	})
	if err != nil {
		return fmt.Errorf("failed to store trust state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trustCache[sender] = state
	return nil
}

// ApplyIntroduction runs the auto-trust rule for an added_to_handle
// event: a new context introduced by an already-trusted sender becomes
// trusted; introduced by anyone else it stays at the blind default.
// Returns the resulting state for the new contact.
func (s *Store) ApplyIntroduction(introducer, contact string) (TrustState, error) {
	if err := crypto.ValidateHandle(contact); err != nil {
		return "", err
	}

	if s.TrustFor(introducer) != TrustTrusted {
		return TrustBlind, nil
	}
	if err := s.SetTrust(contact, TrustTrusted, SourceIntroduction); err != nil {
		return "", err
	}
	return TrustTrusted, nil
}

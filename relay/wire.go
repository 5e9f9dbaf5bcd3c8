// Package relay speaks to the agentpost relay: the authenticated HTTP
// surface for sending, polling, acknowledging, and key lookup, plus the
// persistent push session. The relay stores only sealed envelopes; every
// request here is signed with the local identity's signing key.
package relay

import (
	"github.com/joncooperworks/agentpost/crypto"
)

// Message is one stored message as the relay returns it. EffectiveRead
// is the relay's per-delivery trust resolution for the sender; it is
// recomputed by the relay after human trust actions, which is how a
// blind message comes back a second time as trusted.
type Message struct {
	ID            string          `json:"id"`
	Sender        string          `json:"sender"`
	Recipient     string          `json:"recipient"`
	EffectiveRead string          `json:"effectiveRead"`
	Envelope      crypto.Envelope `json:"envelope"`
}

// ContactKeys is a handle's published public keys from the relay's key
// directory.
type ContactKeys struct {
	Handle       string `json:"handle"`
	SigningKey   []byte `json:"signingKey"`
	AgreementKey []byte `json:"agreementKey"`
}

type sendRequest struct {
	Recipient string          `json:"recipient"`
	Envelope  crypto.Envelope `json:"envelope"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type inboxResponse struct {
	Messages []Message `json:"messages"`
}

type ackRequest struct {
	IDs []string `json:"ids"`
}

// Push frame types.
const (
	FrameAuth       = "auth"
	FrameNewMessage = "new_message"
	FrameSystem     = "system"
)

// System event subtypes.
const (
	SystemTrustChanged      = "trust_changed"
	SystemAddedToHandle     = "added_to_handle"
	SystemPermissionChanged = "permission_changed"
)

// Frame is one push-channel message in either direction. Which fields
// are set depends on Type: auth carries handle/ts/sig, new_message
// carries id, system carries subtype and its event fields.
type Frame struct {
	Type string `json:"type"`

	// auth
	Handle string `json:"handle,omitempty"`
	TS     int64  `json:"ts,omitempty"`
	Sig    []byte `json:"sig,omitempty"`

	// new_message
	ID string `json:"id,omitempty"`

	// system
	Subtype string `json:"subtype,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Context string `json:"context,omitempty"`
	State   string `json:"state,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

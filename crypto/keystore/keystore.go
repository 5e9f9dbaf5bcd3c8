// Package keystore persists agentpost identity keys. An identity is one
// handle's long-lived Ed25519 signing keypair and X25519 agreement
// keypair; private halves live in the operating system's credential
// store and never leave the local machine.
package keystore

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/joncooperworks/agentpost/crypto"
)

// ErrNotFound is returned when no identity exists for a handle.
var ErrNotFound = errors.New("identity not found")

// ErrExists is returned when saving an identity for a handle that
// already has one. Identities are generated once; replacing one is an
// explicit delete-then-save.
var ErrExists = errors.New("identity already exists")

// Identity is one handle's long-lived key material.
type Identity struct {
	// Handle is the stable name this identity signs as.
	Handle string
	// SigningPriv is the Ed25519 private key used for envelope
	// signatures and relay request authentication.
	SigningPriv ed25519.PrivateKey
	// AgreementPriv is the X25519 private scalar inbound envelopes are
	// opened with. Outbound encryption never uses it; every send makes
	// a fresh ephemeral scalar.
	AgreementPriv []byte
}

// NewIdentity generates fresh key material for a handle.
func NewIdentity(handle string) (*Identity, error) {
	if err := crypto.ValidateHandle(handle); err != nil {
		return nil, err
	}

	_, signingPriv, err := crypto.GenerateSigningKeypair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing keypair: %w", err)
	}
	_, agreementPriv, err := crypto.GenerateAgreementKeypair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate agreement keypair: %w", err)
	}

	return &Identity{
		Handle:        handle,
		SigningPriv:   signingPriv,
		AgreementPriv: agreementPriv,
	}, nil
}

// SigningPub returns the public half of the signing keypair.
func (id *Identity) SigningPub() ed25519.PublicKey {
	return id.SigningPriv.Public().(ed25519.PublicKey)
}

// AgreementPub returns the public half of the agreement keypair.
func (id *Identity) AgreementPub() ([32]byte, error) {
	return crypto.ScalarBaseMult(id.AgreementPriv)
}

// Zeroize overwrites the identity's private key material. The identity
// is unusable afterwards; call on shutdown.
func (id *Identity) Zeroize() {
	zeroize(id.SigningPriv)
	zeroize(id.AgreementPriv)
}

// Keystore stores identities by handle.
type Keystore interface {
	// SaveIdentity persists a new identity. Fails with ErrExists if the
	// handle already has one.
	SaveIdentity(id *Identity) error
	// LoadIdentity retrieves the identity for a handle, or ErrNotFound.
	LoadIdentity(handle string) (*Identity, error)
	// DeleteIdentity removes a handle's identity, or ErrNotFound.
	DeleteIdentity(handle string) error
	// ListHandles returns every handle with a stored identity.
	ListHandles() ([]string, error)
}

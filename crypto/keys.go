package crypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrKeyGeneration is returned when the underlying entropy source or
// crypto library fails during keypair generation. It is fatal: callers
// abort startup rather than retry.
var ErrKeyGeneration = errors.New("key generation failed")

// GenerateSigningKeypair creates a long-lived Ed25519 identity keypair.
// The private key signs envelopes and authenticates relay requests; the
// public key is published through the relay's key directory.
func GenerateSigningKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return pub, priv, nil
}

// GenerateAgreementKeypair creates an X25519 keypair. For a long-lived
// identity the public half is the target other parties encrypt to; the
// same function also produces the per-envelope ephemeral keypairs used
// inside EncryptForRecipient.
func GenerateAgreementKeypair() ([32]byte, []byte, error) {
	var pub [32]byte
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return pub, nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	copy(pub[:], key.PublicKey().Bytes())
	return pub, key.Bytes(), nil
}

// Sign signs message with an Ed25519 private key.
func Sign(message []byte, priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key: %w", ErrInvalidKeySize)
	}
	return ed25519.Sign(priv, message), nil
}

// Verify reports whether sig is a valid signature of message under pub.
// Verification never returns an error: a malformed key or signature is
// simply not valid. Callers treat true as the only meaningful branch.
func Verify(message, sig []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

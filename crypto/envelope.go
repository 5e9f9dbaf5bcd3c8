// Package crypto implements the agentpost envelope protocol: Ed25519
// identity signatures, per-envelope ephemeral X25519 key agreement, and
// ChaCha20-Poly1305 authenticated encryption. The relay only ever sees
// sealed envelopes; compromise of a long-term key never exposes past
// traffic because agreement keys are ephemeral and discarded after use.
package crypto

import (
	"crypto/ed25519"
	"crypto/hkdf"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// envelopeKeyInfo is the fixed HKDF info string for envelope key derivation.
// Binding derivation to this protocol prevents cross-protocol key reuse.
const envelopeKeyInfo = "agentpost-envelope-v1"

// NonceSize is the ChaCha20-Poly1305 nonce length in bytes.
const NonceSize = chacha20poly1305.NonceSize

// ErrDecryption is returned when an envelope fails to authenticate:
// tampered fields, a different recipient's key, or a malformed nonce.
// Callers skip the message and keep running; this error never indicates
// a local fault.
var ErrDecryption = errors.New("envelope decryption failed")

// Envelope is the sealed unit carried between sender and recipient through
// the relay. It is produced once per plaintext and recipient and is
// immutable after sealing. JSON encoding base64s every field, matching the
// relay wire shape.
type Envelope struct {
	// Ciphertext is the ChaCha20-Poly1305 output with the 16-byte
	// authentication tag appended.
	Ciphertext []byte `json:"ciphertext"`
	// EphemeralPublicKey is the X25519 public half of the agreement
	// keypair generated for this envelope alone. The private half is
	// zeroized before EncryptForRecipient returns.
	EphemeralPublicKey []byte `json:"ephemeralKey"`
	// Nonce is the fresh random 96-bit AEAD nonce.
	Nonce []byte `json:"nonce"`
	// SenderSignature is the sender's Ed25519 signature over the
	// ciphertext tuple, verifiable without decrypting.
	SenderSignature []byte `json:"senderSig"`
}

// signedTuple builds the byte string covered by SenderSignature:
// the colon-joined base64 encodings of ciphertext, ephemeral key, and
// nonce. Signing ciphertext rather than plaintext lets any holder of the
// sender's public key verify authorship without the ability to decrypt.
func (e *Envelope) signedTuple() []byte {
	tuple := base64.StdEncoding.EncodeToString(e.Ciphertext) +
		":" + base64.StdEncoding.EncodeToString(e.EphemeralPublicKey) +
		":" + base64.StdEncoding.EncodeToString(e.Nonce)
	return []byte(tuple)
}

// EncryptForRecipient seals plaintext for exactly one recipient.
//
// A fresh ephemeral X25519 keypair is generated per call; the shared
// secret is ECDH(ephemeral private, recipient public), so the sender's
// own long-term agreement key never enters the computation. The symmetric
// key is derived with HKDF-SHA256 (no salt, fixed info string) and the
// plaintext sealed under ChaCha20-Poly1305 with a random nonce. Finally
// the ciphertext tuple is signed with the sender's long-term signing key.
//
// The only error paths are underlying crypto-library failures, which are
// not retryable.
func EncryptForRecipient(plaintext []byte, recipientPub [32]byte, signingPriv ed25519.PrivateKey) (*Envelope, error) {
	if len(signingPriv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key: %w", ErrInvalidKeySize)
	}

	ephemeralPub, ephemeralPriv, err := GenerateAgreementKeypair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral keypair: %w", err)
	}
	defer zeroize(ephemeralPriv)

	sharedSecret, err := ScalarMult(ephemeralPriv, recipientPub)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	defer zeroize(sharedSecret[:])

	key, err := deriveEnvelopeKey(sharedSecret[:])
	if err != nil {
		return nil, err
	}
	defer zeroize(key[:])

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	env := &Envelope{
		Ciphertext:         aead.Seal(nil, nonce, plaintext, nil),
		EphemeralPublicKey: ephemeralPub[:],
		Nonce:              nonce,
	}
	env.SenderSignature = ed25519.Sign(signingPriv, env.signedTuple())
	return env, nil
}

// DecryptFromSender opens an envelope addressed to the holder of
// agreementPriv. The shared secret is recomputed as ECDH(recipient
// private, ephemeral public) and the key rederived identically to
// EncryptForRecipient.
//
// Any authentication failure, wrong-recipient key, or malformed envelope
// field returns an error matching ErrDecryption so callers can
// short-circuit without treating it as a daemon fault. Decrypting
// successfully says nothing about who sent the envelope; authorship is
// established only by VerifyEnvelope against a known signing key.
func DecryptFromSender(env *Envelope, agreementPriv []byte) ([]byte, error) {
	if env == nil {
		return nil, errors.New("envelope cannot be nil")
	}
	if len(agreementPriv) != 32 {
		return nil, fmt.Errorf("agreement key: %w", ErrInvalidKeySize)
	}
	if len(env.EphemeralPublicKey) != 32 {
		return nil, fmt.Errorf("%w: bad ephemeral key length %d", ErrDecryption, len(env.EphemeralPublicKey))
	}
	if len(env.Nonce) != NonceSize {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrDecryption, len(env.Nonce))
	}

	var ephemeralPub [32]byte
	copy(ephemeralPub[:], env.EphemeralPublicKey)

	sharedSecret, err := ScalarMult(agreementPriv, ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	defer zeroize(sharedSecret[:])

	key, err := deriveEnvelopeKey(sharedSecret[:])
	if err != nil {
		return nil, err
	}
	defer zeroize(key[:])

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication tag mismatch", ErrDecryption)
	}
	return plaintext, nil
}

// VerifyEnvelope reports whether senderSignature covers this envelope's
// ciphertext tuple under the claimed sender's signing key. It never
// panics or errors: malformed keys, signatures, or a nil envelope all
// report false, because callers only branch on validity.
func VerifyEnvelope(env *Envelope, signingPub ed25519.PublicKey) bool {
	if env == nil {
		return false
	}
	return Verify(env.signedTuple(), env.SenderSignature, signingPub)
}

// deriveEnvelopeKey stretches an X25519 shared secret into the 256-bit
// AEAD key. No salt: derivation context comes entirely from the fixed
// protocol info string, so both sides derive identically with no extra
// wire fields.
func deriveEnvelopeKey(sharedSecret []byte) ([32]byte, error) {
	var key [32]byte
	keyBytes, err := hkdf.Key(sha256.New, sharedSecret, nil, envelopeKeyInfo, chacha20poly1305.KeySize)
	if err != nil {
		return key, fmt.Errorf("failed to derive envelope key: %w", err)
	}
	copy(key[:], keyBytes)
	zeroize(keyBytes)
	return key, nil
}

package crypto

import (
	"crypto/ecdh"
	"errors"
)

// ErrInvalidKeySize is returned when key material has the wrong length
// for its curve or algorithm.
var ErrInvalidKeySize = errors.New("invalid key size")

// ScalarBaseMult computes the X25519 public key for a private scalar.
func ScalarBaseMult(privScalar []byte) ([32]byte, error) {
	if len(privScalar) != 32 {
		return [32]byte{}, ErrInvalidKeySize
	}

	privKey, err := ecdh.X25519().NewPrivateKey(privScalar)
	if err != nil {
		return [32]byte{}, err
	}

	pubKeyBytes := privKey.PublicKey().Bytes()
	if len(pubKeyBytes) != 32 {
		return [32]byte{}, errors.New("invalid public key size")
	}

	var result [32]byte
	copy(result[:], pubKeyBytes)
	return result, nil
}

// ScalarMult computes the X25519 shared secret between a private scalar
// and a peer's public key.
func ScalarMult(privScalar []byte, peerPubKey [32]byte) ([32]byte, error) {
	if len(privScalar) != 32 {
		return [32]byte{}, ErrInvalidKeySize
	}

	privKey, err := ecdh.X25519().NewPrivateKey(privScalar)
	if err != nil {
		return [32]byte{}, err
	}

	peerKey, err := ecdh.X25519().NewPublicKey(peerPubKey[:])
	if err != nil {
		return [32]byte{}, err
	}

	sharedSecret, err := privKey.ECDH(peerKey)
	if err != nil {
		return [32]byte{}, err
	}

	if len(sharedSecret) != 32 {
		return [32]byte{}, errors.New("invalid shared secret size")
	}

	var result [32]byte
	copy(result[:], sharedSecret)
	return result, nil
}

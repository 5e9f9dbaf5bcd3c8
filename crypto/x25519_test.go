package crypto

import (
	"errors"
	"testing"
)

func TestScalarMultAgreement(t *testing.T) {
	t.Parallel()
	alicePub, alicePriv, err := GenerateAgreementKeypair()
	if err != nil {
		t.Fatalf("GenerateAgreementKeypair() error = %v", err)
	}
	bobPub, bobPriv, err := GenerateAgreementKeypair()
	if err != nil {
		t.Fatalf("GenerateAgreementKeypair() error = %v", err)
	}

	aliceShared, err := ScalarMult(alicePriv, bobPub)
	if err != nil {
		t.Fatalf("ScalarMult(alice, bobPub) error = %v", err)
	}
	bobShared, err := ScalarMult(bobPriv, alicePub)
	if err != nil {
		t.Fatalf("ScalarMult(bob, alicePub) error = %v", err)
	}

	if aliceShared != bobShared {
		t.Error("both sides derived different shared secrets")
	}
}

func TestScalarOpsInvalidKeySize(t *testing.T) {
	t.Parallel()
	var peer [32]byte

	if _, err := ScalarBaseMult([]byte("short")); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("ScalarBaseMult() error = %v, want ErrInvalidKeySize", err)
	}
	if _, err := ScalarMult([]byte("short"), peer); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("ScalarMult() error = %v, want ErrInvalidKeySize", err)
	}
}

package keystore

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// serviceName identifies agentpost entries in the OS credential store.
const serviceName = "agentpost"

// storedIdentity is the credential-store serialization of an Identity.
// The signing key is stored as its 32-byte seed; encoding/json base64s
// both fields.
type storedIdentity struct {
	SigningSeed   []byte `json:"signingSeed"`
	AgreementPriv []byte `json:"agreementPriv"`
}

// KeyringKeystore stores identities in the operating system's credential
// store: Keychain on macOS, Credential Manager on Windows, Secret
// Service or kwallet on Linux. Backend selection is handled by the
// keyring library.
type KeyringKeystore struct {
	ring keyring.Keyring
}

// NewKeyringKeystore opens the default credential store for this platform.
func NewKeyringKeystore() (*KeyringKeystore, error) {
	return NewKeyringKeystoreFrom(keyring.Config{
		ServiceName: serviceName,
	})
}

// NewKeyringKeystoreFrom opens a credential store from an explicit
// keyring configuration. Used for non-default backends, such as the
// encrypted file backend on headless hosts.
func NewKeyringKeystoreFrom(cfg keyring.Config) (*KeyringKeystore, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = serviceName
	}
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return &KeyringKeystore{ring: ring}, nil
}

// SaveIdentity persists a new identity in the credential store.
func (k *KeyringKeystore) SaveIdentity(id *Identity) error {
	if id == nil {
		return errors.New("identity cannot be nil")
	}
	if len(id.SigningPriv) != ed25519.PrivateKeySize {
		return errors.New("identity signing key has wrong size")
	}
	if len(id.AgreementPriv) != 32 {
		return errors.New("identity agreement key has wrong size")
	}

	if _, err := k.ring.Get(id.Handle); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, id.Handle)
	} else if !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to check keyring: %w", err)
	}

	data, err := json.Marshal(storedIdentity{
		SigningSeed:   id.SigningPriv.Seed(),
		AgreementPriv: id.AgreementPriv,
	})
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	err = k.ring.Set(keyring.Item{
		Key:   id.Handle,
		Label: serviceName + " identity " + id.Handle,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("failed to store identity in keyring: %w", err)
	}
	return nil
}

// LoadIdentity retrieves an identity from the credential store.
func (k *KeyringKeystore) LoadIdentity(handle string) (*Identity, error) {
	item, err := k.ring.Get(handle)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return nil, fmt.Errorf("failed to get identity from keyring: %w", err)
	}

	var stored storedIdentity
	if err := json.Unmarshal(item.Data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	if len(stored.SigningSeed) != ed25519.SeedSize {
		return nil, errors.New("stored signing seed has wrong size")
	}
	if len(stored.AgreementPriv) != 32 {
		return nil, errors.New("stored agreement key has wrong size")
	}

	return &Identity{
		Handle:        handle,
		SigningPriv:   ed25519.NewKeyFromSeed(stored.SigningSeed),
		AgreementPriv: stored.AgreementPriv,
	}, nil
}

// DeleteIdentity removes an identity from the credential store.
func (k *KeyringKeystore) DeleteIdentity(handle string) error {
	err := k.ring.Remove(handle)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return fmt.Errorf("failed to remove identity from keyring: %w", err)
	}
	return nil
}

// ListHandles returns every handle with a stored identity.
func (k *KeyringKeystore) ListHandles() ([]string, error) {
	keys, err := k.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keyring entries: %w", err)
	}
	return keys, nil
}

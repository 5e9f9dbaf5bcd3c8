package store

import (
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/joncooperworks/agentpost/crypto"
)

// ErrUnknownContact is returned when no keys are pinned for a handle.
var ErrUnknownContact = errors.New("unknown contact")

// ErrKeyMismatch is returned when a directory lookup disagrees with the
// keys pinned on first use. A mismatch means either the relay rekeyed
// the handle or someone is attempting a substitution; both are surfaced
// to the operator, never silently accepted.
var ErrKeyMismatch = errors.New("pinned keys do not match")

// Contact is another handle's published public keys, pinned locally on
// first use.
type Contact struct {
	Handle       string
	SigningKey   ed25519.PublicKey
	AgreementKey [32]byte
}

// contactRecordSize is signing key (32) plus agreement key (32).
const contactRecordSize = ed25519.PublicKeySize + 32

func (c *Contact) encode() []byte {
	record := make([]byte, 0, contactRecordSize)
	record = append(record, c.SigningKey...)
	record = append(record, c.AgreementKey[:]...)
	return record
}

// PinContact stores a contact's keys on first sight. Pinning the same
// keys again is a no-op; different keys fail with ErrKeyMismatch.
func (s *Store) PinContact(c Contact) error {
	if err := crypto.ValidateHandle(c.Handle); err != nil {
		return err
	}
	if len(c.SigningKey) != ed25519.PublicKeySize {
		return errors.New("contact signing key has wrong size")
	}

	record := c.encode()
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(contactsBucket))
		existing := bkt.Get([]byte(c.Handle))
		if existing == nil {
			return bkt.Put([]byte(c.Handle), record)
		}
		if subtle.ConstantTimeCompare(existing, record) != 1 {
			return fmt.Errorf("%w: %s", ErrKeyMismatch, c.Handle)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrKeyMismatch) {
			return err
		}
		return fmt.Errorf("failed to pin contact: %w", err)
	}
	return nil
}

// ContactFor returns the pinned keys for a handle.
func (s *Store) ContactFor(handle string) (*Contact, error) {
	var record []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(contactsBucket)).Get([]byte(handle))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrUnknownContact, handle)
		}
		record = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(record) != contactRecordSize {
		return nil, fmt.Errorf("corrupt contact record for %s", handle)
	}

	c := &Contact{
		Handle:     handle,
		SigningKey: ed25519.PublicKey(record[:ed25519.PublicKeySize]),
	}
	copy(c.AgreementKey[:], record[ed25519.PublicKeySize:])
	return c, nil
}

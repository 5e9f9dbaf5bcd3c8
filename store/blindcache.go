package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotCached is returned when a blind message is not in the cache.
var ErrNotCached = errors.New("message not in blind cache")

// blindEntry is the stored form of a cached blind message body.
type blindEntry struct {
	ReceivedAt int64  `json:"receivedAt"`
	Body       []byte `json:"body"`
}

func blindKey(sender, messageID string) []byte {
	return []byte(sender + "/" + messageID)
}

// CacheBlind stores a decrypted blind message body for later
// human-triggered reveal. Caching the same message again overwrites the
// entry; the body is identical because envelopes are immutable.
func (s *Store) CacheBlind(sender, messageID string, body []byte) error {
	if sender == "" || messageID == "" {
		return errors.New("sender and message id cannot be empty")
	}

	entry, err := json.Marshal(blindEntry{
		ReceivedAt: time.Now().Unix(),
		Body:       body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode blind entry: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(blindBucket)).Put(blindKey(sender, messageID), entry)
	})
	if err != nil {
		return fmt.Errorf("failed to cache blind message: %w", err)
	}
	return nil
}

// RevealBlind fetches a cached blind body. The entry is not removed: a
// blind message stays revealable until a trust change causes the relay
// to redeliver it through the trusted path.
func (s *Store) RevealBlind(sender, messageID string) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(blindBucket)).Get(blindKey(sender, messageID))
		if v == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotCached, sender, messageID)
		}
		raw = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var entry blindEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("corrupt blind entry for %s/%s: %w", sender, messageID, err)
	}
	return entry.Body, nil
}

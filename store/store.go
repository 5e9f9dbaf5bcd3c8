// Package store persists the daemon's local state in a single bbolt
// database: per-sender trust levels, pinned contact keys, and the blind
// message cache. Trust mutations are gated on a declared source, either
// a human-confirmed action or the introduction rule, and no agent-driven
// code path is ever given one.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	trustBucket    = "trust"
	contactsBucket = "contacts"
	blindBucket    = "blindcache"
	metadataBucket = "metadata"
	versionKey     = "version"
)

// schemaVersion is bumped when the bucket layout changes incompatibly.
const schemaVersion = 1

// Store is the daemon's local database. Safe for concurrent use; trust
// reads are served from an in-memory cache kept in sync with writes.
type Store struct {
	mu sync.RWMutex

	db         *bolt.DB
	trustCache map[string]TrustState
}

// Open creates or loads the database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	// The file lock backs off instead of blocking so a second process
	// (the daemon and a CLI on the same database) fails fast.
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Store{
		db:         db,
		trustCache: make(map[string]TrustState),
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		trust, err := tx.CreateBucketIfNotExists([]byte(trustBucket))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(contactsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(blindBucket)); err != nil {
			return err
		}

		if v := meta.Get([]byte(versionKey)); v != nil {
			// Loaded an existing database.
			if len(v) != 1 || v[0] != schemaVersion {
				return fmt.Errorf("incompatible store version: %v", v)
			}
			return trust.ForEach(func(k, v []byte) error {
				state, err := ParseTrustState(string(v))
				if err != nil {
					return fmt.Errorf("corrupt trust entry for %q: %w", k, err)
				}
				s.trustCache[string(k)] = state
				return nil
			})
		}

		return meta.Put([]byte(versionKey), []byte{schemaVersion})
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return s, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("failed to sync store: %w", err)
	}
	return s.db.Close()
}

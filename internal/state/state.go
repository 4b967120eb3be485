// Package state persists subscription records in a bbolt database, one
// JSON value per deck hash.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/deck-sync/internal/collab"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var subscriptionsBucket = []byte("subscriptions")

// Store wraps a bbolt database holding all persisted subscription
// state. It implements collab.Store.
type Store struct {
	db *bolt.DB
}

// Open opens the subscription database at the given path, creating it
// and its parent directory if they do not exist. The subscriptions
// bucket is created on open.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(subscriptionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns all persisted subscriptions keyed by deck hash.
func (s *Store) Load() (map[string]collab.Subscription, error) {
	subs := make(map[string]collab.Subscription)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(subscriptionsBucket)

		return b.ForEach(func(k, v []byte) error {
			var sub collab.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return fmt.Errorf("subscription %s: %w", k, err)
			}

			subs[string(k)] = sub

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}

	return subs, nil
}

// Save rewrites the full subscription set in a single transaction.
// Entries absent from the map are removed, so external removal of a
// subscription takes effect on the next save.
func (s *Store) Save(subs map[string]collab.Subscription) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(subscriptionsBucket); err != nil {
			return err
		}

		b, err := tx.CreateBucket(subscriptionsBucket)
		if err != nil {
			return err
		}

		for hash, sub := range subs {
			data, err := json.Marshal(sub)
			if err != nil {
				return fmt.Errorf("subscription %s: %w", hash, err)
			}

			if err := b.Put([]byte(hash), data); err != nil {
				return err
			}
		}

		return nil
	})
}

// Add registers a new subscription for a deck hash with DeckID 0
// (pending install). Adding an already-known hash is an error; the
// deck hash is immutable once created.
func (s *Store) Add(deckHash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(subscriptionsBucket)

		if b.Get([]byte(deckHash)) != nil {
			return fmt.Errorf("subscription %s already exists", deckHash)
		}

		sub := collab.Subscription{
			DeckHash:     deckHash,
			OptionalTags: map[string]bool{},
		}

		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}

		return b.Put([]byte(deckHash), data)
	})
}

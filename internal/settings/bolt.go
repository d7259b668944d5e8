package settings

import (
	"fmt"
	"log/slog"

	"go.etcd.io/bbolt"
)

const bucketName = "settings"

// BoltStore persists settings in a bucket of an existing bbolt database. The
// database handle is owned by the caller.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates the settings bucket if needed.
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating settings bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Lookup implements Provider. Read failures are logged and reported as unset
// so callers fall back to defaults.
func (s *BoltStore) Lookup(key string) (string, bool) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data != nil {
			value = string(data)
			found = true
		}
		return nil
	})
	if err != nil {
		slog.Warn("Failed to read setting", "key", key, "error", err)
		return "", false
	}
	return value, found
}

// Set stores value under key
func (s *BoltStore) Set(key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), []byte(value))
	})
}

// Delete removes an override so the default applies again
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}

// All returns every stored override
func (s *BoltStore) All() (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	return out, nil
}

// Package history remembers recently used campaign fields on the client,
// such as sender addresses and subjects, for the CLI.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// MaxEntries is how many values are kept per field
const MaxEntries = 10

// Fields recorded by the CLI
const (
	FieldSender  = "sender"
	FieldSubject = "subject"
)

var bucketHistory = []byte("history")

// Store is a bbolt-backed history cache
type Store struct {
	db *bolt.DB
}

// Open opens or creates the history database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 2 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Add records value as the most recent entry of field. An existing entry
// that differs only in case is replaced. Blank values are ignored.
func (s *Store) Add(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)

		entries, err := decode(b.Get([]byte(field)))
		if err != nil {
			return err
		}

		next := make([]string, 0, MaxEntries)
		next = append(next, value)
		for _, e := range entries {
			if len(next) == MaxEntries {
				break
			}
			if !strings.EqualFold(e, value) {
				next = append(next, e)
			}
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal history: %w", err)
		}
		return b.Put([]byte(field), data)
	})
}

// List returns the entries of field, most recent first
func (s *Store) List(field string) ([]string, error) {
	var entries []string
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		entries, err = decode(tx.Bucket(bucketHistory).Get([]byte(field)))
		return err
	})
	return entries, err
}

// Clear removes every entry of field
func (s *Store) Clear(field string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).Delete([]byte(field))
	})
}

func decode(data []byte) ([]string, error) {
	if data == nil {
		return []string{}, nil
	}
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return entries, nil
}

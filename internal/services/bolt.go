package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oogiv/oogiv-web/internal/session"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements session storage on a BoltDB file. Every browser session gets its own bucket,
// holding the session keys as plain string values.
type BoltDB struct {
	db *bolt.DB
}

type boltSession struct {
	db     *bolt.DB
	bucket []byte
}

const boltSessionPrefix = "session-"

// NewBoltDB opens the database at path, creating the file with 0600 permissions if it doesn't
// exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return BoltDB{db: db}, nil
}

func sessionBucketName(sessionID string) []byte {
	return []byte(boltSessionPrefix + sessionID)
}

// Session returns the storage of the session sessionID.
func (b BoltDB) Session(sessionID string) session.Storage {
	return boltSession{db: b.db, bucket: sessionBucketName(sessionID)}
}

// Sessions lists the ids of the sessions that have stored data.
func (b BoltDB) Sessions(context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if id, ok := strings.CutPrefix(string(name), boltSessionPrefix); ok {
				ids = append(ids, id)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteSession removes every key of the session sessionID.
func (b BoltDB) DeleteSession(_ context.Context, sessionID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(sessionBucketName(sessionID))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func (s boltSession) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}

		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		// v is only valid inside the transaction.
		value, found = string(v), true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, found, nil
}

func (s boltSession) Set(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return fmt.Errorf("failed to create session bucket: %w", err)
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s boltSession) Delete(_ context.Context, keys ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}

		for _, key := range keys {
			if err := b.Delete([]byte(key)); err != nil {
				return fmt.Errorf("failed to delete %s: %w", key, err)
			}
		}
		return nil
	})
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"ragchat/internal/domain"
)

var bucketSessions = []byte("sessions")

// BoltStore persists sessions in a bbolt file, one JSON value per thread id,
// so conversations survive a restart.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("session: init %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Name() string { return "bolt" }

// Get returns the stored state, or an empty State for an unknown thread.
func (s *BoltStore) Get(_ context.Context, threadID string) (domain.State, error) {
	var st domain.State
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		st, err = read(tx.Bucket(bucketSessions), threadID)
		return err
	})
	if err != nil {
		return domain.State{}, fmt.Errorf("session: get %s: %w", threadID, err)
	}
	return st, nil
}

// Apply reads, updates and writes the thread's state in one transaction.
func (s *BoltStore) Apply(_ context.Context, threadID string, d Delta) (domain.State, error) {
	var next domain.State
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		cur, err := read(b, threadID)
		if err != nil {
			return err
		}
		next = d.ApplyTo(cur)
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return b.Put([]byte(threadID), data)
	})
	if err != nil {
		return domain.State{}, fmt.Errorf("session: apply %s: %w", threadID, err)
	}
	return next, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// read decodes the value for threadID. The returned State owns its memory;
// bbolt values are only valid inside the transaction.
func read(b *bbolt.Bucket, threadID string) (domain.State, error) {
	var st domain.State
	data := b.Get([]byte(threadID))
	if data == nil {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, err
	}
	return st, nil
}

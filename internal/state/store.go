package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketState   = []byte("state")
	keyCheckpoint = []byte("checkpoint")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore creates a new BoltDB-backed state store.
func NewBoltStore(path string) (*BoltStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.path
}

// Save stores cp, replacing the previous checkpoint.
func (s *BoltStore) Save(cp *Checkpoint) error {
	if cp.Version == 0 {
		cp.Version = CheckpointVersion
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put(keyCheckpoint, data)
	})
}

// Load returns the stored checkpoint.
func (s *BoltStore) Load() (*Checkpoint, error) {
	var cp Checkpoint
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		data := b.Get(keyCheckpoint)
		if data == nil {
			return nil
		}

		found = true
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if cp.Version > CheckpointVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported %d", cp.Version, CheckpointVersion)
	}

	return &cp, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemoryStore implements Store using in-memory storage. Saved checkpoints
// are copied through JSON so later mutation by the caller is not observed.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save saves the checkpoint in memory.
func (s *MemoryStore) Save(cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.saves++
	s.mu.Unlock()
	return nil
}

// Load returns the stored checkpoint.
func (s *MemoryStore) Load() (*Checkpoint, error) {
	s.mu.Lock()
	data := s.data
	s.mu.Unlock()

	if data == nil {
		return nil, nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

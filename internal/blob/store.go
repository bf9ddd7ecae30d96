// Package blob stores verbatim raw payload bytes for audit and replay.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists raw fetch payloads. Implementations must be write-once per
// location: a stored blob is never mutated.
type Store interface {
	// Put writes the payload and returns its storage location.
	Put(ctx context.Context, dataType string, payload []byte) (location string, err error)
	// Get returns the verbatim bytes previously stored at location.
	Get(ctx context.Context, location string) ([]byte, error)
}

// Checksum returns the SHA-256 hex digest of the canonical payload bytes.
func Checksum(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// FSStore writes blobs under root as <data_type>_<epoch_ms>.json, UTF-8,
// verbatim.
type FSStore struct {
	root string
	// now is swappable in tests.
	now func() time.Time
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root, now: time.Now}, nil
}

func (s *FSStore) Put(ctx context.Context, dataType string, payload []byte) (string, error) {
	name := fmt.Sprintf("%s_%d.json", dataType, s.now().UnixMilli())
	location := filepath.Join(s.root, name)

	// O_EXCL keeps the write-once guarantee; a timestamp collision within the
	// same millisecond gets a retry with the next tick.
	f, err := os.OpenFile(location, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		name = fmt.Sprintf("%s_%d.json", dataType, s.now().UnixMilli()+1)
		location = filepath.Join(s.root, name)
		f, err = os.OpenFile(location, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", fmt.Errorf("open blob file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(payload); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return location, nil
}

func (s *FSStore) Get(ctx context.Context, location string) ([]byte, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", location, err)
	}
	return data, nil
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	seq   int
}

func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

func (s *MemStore) Put(ctx context.Context, dataType string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	location := fmt.Sprintf("mem://%s/%d", dataType, s.seq)
	s.blobs[location] = append([]byte(nil), payload...)
	return location, nil
}

func (s *MemStore) Get(ctx context.Context, location string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[location]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", location)
	}
	return append([]byte(nil), data...), nil
}

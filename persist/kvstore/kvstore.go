// Package kvstore implements an in-memory persist.Client, used for
// tests and the loopback deployment mode. It follows the teacher's
// map+mutex keyed-state pattern (kv_registry.go's in-memory "kv"
// abstraction) rather than its FoundationDB transaction machinery,
// which a single process has no use for.
package kvstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/vactorio/vactor/persist"
)

type record struct {
	data    []byte
	version string
}

// Store is an in-memory keyed-version store.
type Store struct {
	mu   sync.RWMutex
	rows map[string]record
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{rows: make(map[string]record)}
}

func (s *Store) Load(ctx context.Context, key []byte) ([]byte, string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[string(key)]
	if !ok {
		return nil, "", false, nil
	}
	return append([]byte(nil), r.data...), r.version, true, nil
}

func (s *Store) Store(ctx context.Context, key []byte, data []byte, baseline *string, newVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := string(key)
	existing, exists := s.rows[k]

	if baseline != nil {
		if !exists || existing.version != *baseline {
			return persist.ErrConflict
		}
	}

	s.rows[k] = record{data: append([]byte(nil), data...), version: newVersion}
	return nil
}

func (s *Store) Query(ctx context.Context, keyPrefix []byte) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte)
	for k, r := range s.rows {
		if bytes.HasPrefix([]byte(k), keyPrefix) {
			out[k] = append([]byte(nil), r.data...)
		}
	}
	return out, nil
}

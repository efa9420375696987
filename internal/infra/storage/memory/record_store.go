// Package memory provides in-process implementations of the revalidation
// storage ports for tests and local development.
package memory

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
)

var _ revalidation.RecordStore = (*RecordStore)(nil)

// RecordStore is a thread-safe ordered key-value store.
type RecordStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewRecordStore creates an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{data: make(map[string][]byte)}
}

// Put stores value under key, replacing any previous value.
func (s *RecordStore) Put(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = bytes.Clone(value)
}

// Get returns the value for key and whether it exists.
func (s *RecordStore) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	return bytes.Clone(v), ok
}

// Len returns the number of stored keys.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *RecordStore) Delete(_ context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

// IterateByPrefix snapshots the keys under prefix and visits them in
// lexicographic order. Writes made by the visitor (e.g. revocations) do not
// disturb the iteration.
func (s *RecordStore) IterateByPrefix(
	ctx context.Context,
	prefix []byte,
	fn revalidation.RecordVisitor,
	timeout time.Duration,
) error {
	type kv struct {
		key   []byte
		value []byte
	}

	s.mu.RLock()
	entries := make([]kv, 0)
	for k, v := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			entries = append(entries, kv{key: []byte(k), value: bytes.Clone(v)})
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].key, entries[j].key) < 0 })

	iterCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		iterCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for _, e := range entries {
		if err := iterCtx.Err(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return revalidation.ErrIterationTimeout
		}
		if err := fn(e.key, e.value); err != nil {
			if errors.Is(err, revalidation.ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}

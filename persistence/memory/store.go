// Package memory is an in-process persistence.Store. Transactions are
// serialized; an update works on a copy of every bucket that replaces the
// live state only when the callback succeeds.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/goliatone/go-process/persistence"
)

var errReadOnly = errors.New("write in read-only transaction")

// Store is a thread-safe in-memory persistence.Store.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
	closed  bool
}

var _ persistence.Store = (*Store)(nil)

// New constructs an empty store.
func New() *Store {
	buckets := make(map[string]map[string][]byte, len(persistence.Buckets))
	for _, name := range persistence.Buckets {
		buckets[name] = make(map[string][]byte)
	}
	return &Store{buckets: buckets}
}

// View runs fn against the committed state.
func (s *Store) View(ctx context.Context, fn func(persistence.Tx) error) error {
	if s == nil {
		return errors.New("in-memory store not configured")
	}
	if fn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("in-memory store closed")
	}
	return fn(persistence.NewTx(&kv{buckets: s.buckets, readOnly: true}))
}

// Update applies fn atomically with rollback on error.
func (s *Store) Update(ctx context.Context, fn func(persistence.Tx) error) error {
	if s == nil {
		return errors.New("in-memory store not configured")
	}
	if fn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("in-memory store closed")
	}

	tx := &kv{buckets: cloneBuckets(s.buckets)}
	if err := fn(persistence.NewTx(tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.buckets = tx.buckets
	return nil
}

// Close releases the state. Later transactions fail.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	return nil
}

type kv struct {
	buckets  map[string]map[string][]byte
	readOnly bool
}

func (k *kv) bucket(name string) (map[string][]byte, error) {
	b, ok := k.buckets[name]
	if !ok {
		return nil, errors.New("unknown bucket " + name)
	}
	return b, nil
}

func (k *kv) Get(bucket, key string) ([]byte, error) {
	b, err := k.bucket(bucket)
	if err != nil {
		return nil, err
	}
	return b[key], nil
}

func (k *kv) Put(bucket, key string, value []byte) error {
	if k.readOnly {
		return errReadOnly
	}
	b, err := k.bucket(bucket)
	if err != nil {
		return err
	}
	b[key] = value
	return nil
}

func (k *kv) Delete(bucket, key string) error {
	if k.readOnly {
		return errReadOnly
	}
	b, err := k.bucket(bucket)
	if err != nil {
		return err
	}
	delete(b, key)
	return nil
}

// ForEach visits keys in order so listings match the bolt backend.
func (k *kv) ForEach(bucket string, fn func(key string, value []byte) error) error {
	b, err := k.bucket(bucket)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(b))
	for key := range b {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := fn(key, b[key]); err != nil {
			return err
		}
	}
	return nil
}

// Stored values are never mutated in place, so copying the maps is enough.
func cloneBuckets(in map[string]map[string][]byte) map[string]map[string][]byte {
	out := make(map[string]map[string][]byte, len(in))
	for name, b := range in {
		cp := make(map[string][]byte, len(b))
		for key, value := range b {
			cp[key] = value
		}
		out[name] = cp
	}
	return out
}

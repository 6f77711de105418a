// Package bolt is a persistence.Store backed by a BoltDB file.
package bolt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/goliatone/go-process/persistence"
	"go.etcd.io/bbolt"
)

// Options configures Open.
type Options struct {
	// Timeout bounds the wait for the file lock. Zero waits forever.
	Timeout time.Duration
	// FileMode is used when the file is created.
	FileMode os.FileMode
}

// Store wraps a BoltDB database. Each Update is a single bbolt write
// transaction, so it commits or rolls back as a whole.
type Store struct {
	db *bbolt.DB
}

var _ persistence.Store = (*Store)(nil)

// Open opens or creates the database at path and ensures every bucket exists.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("bolt store path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	mode := opts.FileMode
	if mode == 0 {
		mode = 0o600
	}
	db, err := bbolt.Open(path, mode, &bbolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range persistence.Buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// View executes fn within a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(persistence.Tx) error) error {
	if fn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(persistence.NewTx(&kv{tx: tx}))
	})
}

// Update executes fn within a write transaction. The transaction is rolled
// back when fn fails or ctx is done before commit.
func (s *Store) Update(ctx context.Context, fn func(persistence.Tx) error) error {
	if fn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := fn(persistence.NewTx(&kv{tx: tx})); err != nil {
			return err
		}
		return ctx.Err()
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.db.Path()
}

type kv struct {
	tx *bbolt.Tx
}

func (k *kv) bucket(name string) (*bbolt.Bucket, error) {
	b := k.tx.Bucket([]byte(name))
	if b == nil {
		return nil, errors.New("unknown bucket " + name)
	}
	return b, nil
}

// Get copies the value out since bbolt memory is only valid inside the
// transaction.
func (k *kv) Get(bucket, key string) ([]byte, error) {
	b, err := k.bucket(bucket)
	if err != nil {
		return nil, err
	}
	v := b.Get([]byte(key))
	if v == nil {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (k *kv) Put(bucket, key string, value []byte) error {
	b, err := k.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), value)
}

func (k *kv) Delete(bucket, key string) error {
	b, err := k.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Delete([]byte(key))
}

func (k *kv) ForEach(bucket string, fn func(key string, value []byte) error) error {
	b, err := k.bucket(bucket)
	if err != nil {
		return err
	}
	return b.ForEach(func(key, value []byte) error {
		return fn(string(key), value)
	})
}

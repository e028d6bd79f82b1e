// Package badger implements store.Backend using BadgerDB, an embedded
// ordered key/value store. Buckets are modelled as key prefixes.
package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/ostramo/parley/store"
)

// Backend implements store.Backend on a local Badger database.
type Backend struct {
	db *badgerdb.DB
}

var _ store.Backend = (*Backend)(nil)

// New opens (or creates) a Badger database at dbPath.
func New(dbPath string) (*Backend, error) {
	opts := badgerdb.DefaultOptions(dbPath)
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Backend{db: db}, nil
}

// NewInMemory opens an ephemeral in-memory database. Used by tests and
// throwaway deployments.
func NewInMemory() (*Backend, error) {
	opts := badgerdb.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger database: %w", err)
	}
	return &Backend{db: db}, nil
}

func composite(bucket, key string) []byte {
	return []byte(bucket + "/" + key)
}

func (b *Backend) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(composite(bucket, key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err == badgerdb.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s/%s: %w", bucket, key, err)
	}
	return out, nil
}

func (b *Backend) Put(ctx context.Context, bucket, key string, value []byte) error {
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(composite(bucket, key), value)
	})
	if err != nil {
		return fmt.Errorf("badger put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(composite(bucket, key))
	})
	if err != nil && err != badgerdb.ErrKeyNotFound {
		return fmt.Errorf("badger delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

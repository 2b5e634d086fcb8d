// Package pebble provides an embedded Store on top of a Pebble LSM database.
package pebble

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/cockroachdb/pebble"
)

// PebbleStore implements the Store interface on an embedded Pebble DB.
// Pebble allows a single process per directory, so the conditional writes
// only need to be serialized within this process.
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex
}

// Open opens (or creates) a Pebble database at path
func Open(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		slog.Error("Failed to open pebble store", "path", path, "error", err)
		return nil, errors.NewConnectionError(path, err)
	}
	slog.Debug("Pebble store opened", "path", path)
	return &PebbleStore{db: db}, nil
}

// Close closes the database
func (p *PebbleStore) Close() error {
	return p.db.Close()
}

// Get returns the value stored at key
func (p *PebbleStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.NewStoreError("get", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores value at key
func (p *PebbleStore) Set(ctx context.Context, key string, value []byte) error {
	if err := p.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return errors.NewStoreError("set", key, err)
	}
	return nil
}

// SetNX stores value only if key is absent
func (p *PebbleStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.Get(ctx, key)
	if err == nil {
		return false, nil
	}
	if !errors.IsNotFound(err) {
		return false, err
	}
	if err := p.Set(ctx, key, value); err != nil {
		return false, err
	}
	return true, nil
}

// CompareAndSwap replaces value at key if it currently equals old
func (p *PebbleStore) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.Get(ctx, key)
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(current, old) {
		return false, nil
	}
	if err := p.Set(ctx, key, next); err != nil {
		return false, err
	}
	return true, nil
}

// CompareAndDelete removes key if it currently equals old
func (p *PebbleStore) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.Get(ctx, key)
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(current, old) {
		return false, nil
	}
	if err := p.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes keys in a single batch
func (p *PebbleStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	b := p.db.NewBatch()
	defer b.Close()
	for _, key := range keys {
		if err := b.Delete([]byte(key), nil); err != nil {
			return errors.NewStoreError("delete", key, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return errors.NewStoreError("delete", strings.Join(keys, ","), err)
	}
	return nil
}

// Keys lists keys with prefix in ascending order
func (p *PebbleStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, errors.NewStoreError("keys", prefix, err)
	}
	defer iter.Close()

	keys := make([]string, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, errors.NewStoreError("keys", prefix, err)
	}
	return keys, nil
}

// upperBound returns the smallest key greater than every key with prefix,
// or nil when no such key exists.
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

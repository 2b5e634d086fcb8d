// Package store defines the persistent key-value store the batch processor
// keeps its queue, counters, lock and results in. Implementations live in
// the subpackages.
package store

import "context"

// Store is a byte-oriented key-value store. Get returns errors.ErrNotFound
// for absent keys. SetNX and CompareAndSwap must be atomic against the
// backing store, as must CompareAndDelete; the lock manager relies on them
// for mutual exclusion.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error

	// SetNX writes value only when key is absent and reports whether it did
	SetNX(ctx context.Context, key string, value []byte) (bool, error)

	// CompareAndSwap replaces the value of key with next only when the
	// current value equals old, and reports whether it did
	CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error)

	// CompareAndDelete removes key only when its current value equals old,
	// and reports whether it did
	CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error)

	Delete(ctx context.Context, keys ...string) error

	// Keys lists keys with the given prefix in ascending byte order
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// Key namespaces name under a processor identifier
func Key(identifier, name string) string {
	return identifier + ":" + name
}

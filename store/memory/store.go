package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/BranchIntl/couponqueue/errors"
)

// MemoryStore implements the Store interface using in-memory storage
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewStore creates a new in-memory store
func NewStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get returns a copy of the value stored at key
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.NewStoreError("get", key, errors.ErrNotConnected)
	}

	v, ok := m.data[key]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return clone(v), nil
}

// Set stores value at key
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.NewStoreError("set", key, errors.ErrNotConnected)
	}

	m.data[key] = clone(value)
	return nil
}

// SetNX stores value only if key is absent
func (m *MemoryStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, errors.NewStoreError("setnx", key, errors.ErrNotConnected)
	}

	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = clone(value)
	return true, nil
}

// CompareAndSwap replaces the value at key if it currently equals old
func (m *MemoryStore) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, errors.NewStoreError("cas", key, errors.ErrNotConnected)
	}

	current, exists := m.data[key]
	if !exists || !bytes.Equal(current, old) {
		return false, nil
	}
	m.data[key] = clone(next)
	return true, nil
}

// CompareAndDelete removes key if it currently equals old
func (m *MemoryStore) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, errors.NewStoreError("cad", key, errors.ErrNotConnected)
	}

	current, exists := m.data[key]
	if !exists || !bytes.Equal(current, old) {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

// Delete removes keys; absent keys are ignored
func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.NewStoreError("delete", strings.Join(keys, ","), errors.ErrNotConnected)
	}

	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

// Keys lists keys with prefix in ascending order
func (m *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.NewStoreError("keys", prefix, errors.ErrNotConnected)
	}

	keys := make([]string, 0)
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close marks the store closed; later calls fail with ErrNotConnected
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Package storetest provides store doubles for tests.
package storetest

import (
	"context"
	"sync"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/BranchIntl/couponqueue/store"
)

// ErrInjected is the cause of every injected failure
var ErrInjected = errors.New("injected store failure")

// FailingStore wraps a Store and fails selected operations on demand.
// Operation names are "get", "set", "setnx", "cas", "cad", "delete" and
// "keys".
type FailingStore struct {
	store.Store

	mu       sync.Mutex
	fail     map[string]bool
	failKeys map[string]bool
	calls    map[string]int
}

// Wrap returns a FailingStore delegating to s
func Wrap(s store.Store) *FailingStore {
	return &FailingStore{
		Store:    s,
		fail:     make(map[string]bool),
		failKeys: make(map[string]bool),
		calls:    make(map[string]int),
	}
}

// Fail makes op return ErrInjected until Heal is called
func (f *FailingStore) Fail(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = true
}

// FailKey makes op return ErrInjected for key only, until Heal is called
func (f *FailingStore) FailKey(op, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failKeys[op+" "+key] = true
}

// Heal clears all injected failures
func (f *FailingStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]bool)
	f.failKeys = make(map[string]bool)
}

// Calls returns how many times op was invoked
func (f *FailingStore) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FailingStore) check(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.fail[op] || f.failKeys[op+" "+key] {
		return errors.NewStoreError(op, key, ErrInjected)
	}
	return nil
}

func (f *FailingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.check("get", key); err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, key)
}

func (f *FailingStore) Set(ctx context.Context, key string, value []byte) error {
	if err := f.check("set", key); err != nil {
		return err
	}
	return f.Store.Set(ctx, key, value)
}

func (f *FailingStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	if err := f.check("setnx", key); err != nil {
		return false, err
	}
	return f.Store.SetNX(ctx, key, value)
}

func (f *FailingStore) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	if err := f.check("cas", key); err != nil {
		return false, err
	}
	return f.Store.CompareAndSwap(ctx, key, old, next)
}

func (f *FailingStore) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	if err := f.check("cad", key); err != nil {
		return false, err
	}
	return f.Store.CompareAndDelete(ctx, key, old)
}

func (f *FailingStore) Delete(ctx context.Context, keys ...string) error {
	if err := f.check("delete", ""); err != nil {
		return err
	}
	return f.Store.Delete(ctx, keys...)
}

func (f *FailingStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := f.check("keys", prefix); err != nil {
		return nil, err
	}
	return f.Store.Keys(ctx, prefix)
}

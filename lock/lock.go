// Package lock implements single-writer mutual exclusion per processor
// identifier with stale lock takeover.
package lock

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/BranchIntl/couponqueue/store"
)

// DefaultStaleAfter is how old a lock may get before it is treated as
// abandoned by a crashed invocation.
const DefaultStaleAfter = 10 * time.Minute

// Manager acquires and releases process locks
type Manager struct {
	store      store.Store
	staleAfter time.Duration
	now        func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithStaleAfter overrides DefaultStaleAfter
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a lock manager over s
func NewManager(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:      s,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lease is a held process lock
type Lease struct {
	identifier string
	token      []byte
}

// TryLock takes the lock for identifier. It returns a nil lease without error
// when a fresh lock is held by someone else. A stale lock is replaced
// atomically, so of several concurrent takeovers only one succeeds.
func (m *Manager) TryLock(ctx context.Context, identifier string) (*Lease, error) {
	key := lockKey(identifier)
	lease := &Lease{identifier: identifier, token: m.token()}

	ok, err := m.store.SetNX(ctx, key, lease.token)
	if err != nil {
		return nil, err
	}
	if ok {
		return lease, nil
	}

	current, err := m.store.Get(ctx, key)
	if errors.IsNotFound(err) {
		// released between the two calls
		ok, err = m.store.SetNX(ctx, key, lease.token)
		return held(lease, ok, err)
	}
	if err != nil {
		return nil, err
	}

	lockedAt, perr := parseToken(current)
	if perr == nil && m.now().Sub(lockedAt) < m.staleAfter {
		return nil, nil
	}

	slog.Warn("Taking over stale process lock", "identifier", identifier, "locked_at", lockedAt)
	ok, err = m.store.CompareAndSwap(ctx, key, current, lease.token)
	return held(lease, ok, err)
}

func held(lease *Lease, ok bool, err error) (*Lease, error) {
	if err != nil || !ok {
		return nil, err
	}
	return lease, nil
}

// Acquire is TryLock for callers that never release
func (m *Manager) Acquire(ctx context.Context, identifier string) (bool, error) {
	lease, err := m.TryLock(ctx, identifier)
	return lease != nil, err
}

// Release drops the lock held by lease. A lock that was taken over after
// the lease went stale belongs to its new holder and is left in place.
func (m *Manager) Release(ctx context.Context, lease *Lease) error {
	deleted, err := m.store.CompareAndDelete(ctx, lockKey(lease.identifier), lease.token)
	if err != nil {
		return err
	}
	if !deleted {
		slog.Warn("Process lock was taken over, leaving it in place", "identifier", lease.identifier)
	}
	return nil
}

// ForceRelease drops the lock for identifier whoever holds it
func (m *Manager) ForceRelease(ctx context.Context, identifier string) error {
	return m.store.Delete(ctx, lockKey(identifier))
}

// IsLocked reports whether a fresh lock is held for identifier
func (m *Manager) IsLocked(ctx context.Context, identifier string) (bool, error) {
	current, err := m.store.Get(ctx, lockKey(identifier))
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	lockedAt, err := parseToken(current)
	if err != nil {
		return false, nil
	}
	return m.now().Sub(lockedAt) < m.staleAfter, nil
}

func (m *Manager) token() []byte {
	return []byte(strconv.FormatInt(m.now().UnixNano(), 10))
}

func parseToken(b []byte) (time.Time, error) {
	ns, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, ns), nil
}

func lockKey(identifier string) string {
	return store.Key(identifier, "process_lock")
}

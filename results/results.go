// Package results keeps the durable list of items produced by completed
// runs, such as the identifiers of generated coupons.
package results

import (
	"context"
	"strings"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/BranchIntl/couponqueue/store"
)

// DefaultKey is where Store keeps its list when no key is given
const DefaultKey = "couponqueue:produced_items"

// Registry receives the produced items of a finished run
type Registry interface {
	// Merge adds ids to the registry; existing entries are kept
	Merge(ctx context.Context, ids []string) error
	List(ctx context.Context) ([]string, error)
}

// Store is a Registry kept as a comma-separated list under one key
type Store struct {
	kv  store.Store
	key string
}

// NewStore creates a registry at key in kv
func NewStore(kv store.Store, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{kv: kv, key: key}
}

// Merge appends the non-empty ids
func (s *Store) Merge(ctx context.Context, ids []string) error {
	current, err := s.List(ctx)
	if err != nil {
		return err
	}

	merged := current
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			merged = append(merged, id)
		}
	}
	if len(merged) == len(current) {
		return nil
	}
	return s.kv.Set(ctx, s.key, []byte(strings.Join(merged, ",")))
}

// List returns the stored ids in insertion order
func (s *Store) List(ctx context.Context) ([]string, error) {
	data, err := s.kv.Get(ctx, s.key)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, id := range strings.Split(string(data), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

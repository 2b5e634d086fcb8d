// Package queue persists the ordered collection of batches a processor
// drains. Batches are consumed in the order they were saved and item order
// inside a batch is preserved.
package queue

import (
	"context"
	"fmt"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/BranchIntl/couponqueue/store"
	"github.com/google/uuid"
)

// Queue is the batch store for one processor identifier
type Queue struct {
	store  store.Store
	prefix string
}

// New creates a queue for identifier on top of s
func New(s store.Store, identifier string) *Queue {
	return &Queue{
		store:  s,
		prefix: store.Key(identifier, "batch:"),
	}
}

// Save persists items as a new batch at the tail of the queue and returns
// its key. Batch keys embed a UUIDv7, whose time ordering gives FIFO
// consumption across batches.
func (q *Queue) Save(ctx context.Context, items []item.WorkItem) (string, error) {
	if len(items) == 0 {
		return "", errors.ErrNoItems
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate batch key: %w", err)
	}
	key := q.prefix + id.String()

	if err := q.write(ctx, key, items); err != nil {
		return "", err
	}
	return key, nil
}

// NextBatch returns the oldest batch, or nil when the queue is empty
func (q *Queue) NextBatch(ctx context.Context) (*item.Batch, error) {
	keys, err := q.store.Keys(ctx, q.prefix)
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		data, err := q.store.Get(ctx, key)
		if errors.IsNotFound(err) {
			// deleted between listing and reading
			continue
		}
		if err != nil {
			return nil, err
		}

		items, err := item.DecodeItems(data)
		if err != nil {
			return nil, errors.NewStoreError("decode_batch", key, err)
		}
		return &item.Batch{Key: key, Items: items}, nil
	}
	return nil, nil
}

// Update overwrites the items of batch key. An empty slice deletes the
// batch.
func (q *Queue) Update(ctx context.Context, key string, items []item.WorkItem) error {
	if len(items) == 0 {
		return q.Delete(ctx, key)
	}
	return q.write(ctx, key, items)
}

// Delete removes batch key
func (q *Queue) Delete(ctx context.Context, key string) error {
	return q.store.Delete(ctx, key)
}

// IsEmpty reports whether no batches remain
func (q *Queue) IsEmpty(ctx context.Context) (bool, error) {
	keys, err := q.store.Keys(ctx, q.prefix)
	if err != nil {
		return false, err
	}
	return len(keys) == 0, nil
}

// Len returns the total number of queued items across all batches
func (q *Queue) Len(ctx context.Context) (int, error) {
	keys, err := q.store.Keys(ctx, q.prefix)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, key := range keys {
		data, err := q.store.Get(ctx, key)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		items, err := item.DecodeItems(data)
		if err != nil {
			return 0, errors.NewStoreError("decode_batch", key, err)
		}
		total += len(items)
	}
	return total, nil
}

// Clear deletes every batch
func (q *Queue) Clear(ctx context.Context) error {
	keys, err := q.store.Keys(ctx, q.prefix)
	if err != nil {
		return err
	}
	return q.store.Delete(ctx, keys...)
}

func (q *Queue) write(ctx context.Context, key string, items []item.WorkItem) error {
	data, err := item.EncodeItems(items)
	if err != nil {
		return errors.NewStoreError("encode_batch", key, err)
	}
	return q.store.Set(ctx, key, data)
}

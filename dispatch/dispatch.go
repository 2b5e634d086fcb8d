// Package dispatch executes a single work item against its registered
// handler. Failures are isolated to the item: they are logged and recorded,
// and the item is still treated as finished.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/BranchIntl/couponqueue/registry"
	"github.com/BranchIntl/couponqueue/statistics"
	"github.com/BranchIntl/couponqueue/statistics/noop"
	"github.com/BranchIntl/couponqueue/store"
)

// Resolver finds the handler registered for a class
type Resolver interface {
	Get(class string) (registry.Handler, error)
}

// Dispatcher runs work items for one processor identifier and keeps the
// run's produced values in the store
type Dispatcher struct {
	identifier string
	store      store.Store
	resolver   Resolver
	stats      statistics.Statistics
}

// New creates a dispatcher. A nil stats discards metrics.
func New(identifier string, s store.Store, resolver Resolver, stats statistics.Statistics) *Dispatcher {
	if stats == nil {
		stats = noop.NewStatistics()
	}
	return &Dispatcher{
		identifier: identifier,
		store:      s,
		resolver:   resolver,
		stats:      stats,
	}
}

// Task executes w. It returns the replacement item when the handler asks
// for a re-queue, or nil when w is done, whether it succeeded or not. The
// error is non-nil only when the produced value could not be persisted.
func (d *Dispatcher) Task(ctx context.Context, w item.WorkItem) (*item.WorkItem, error) {
	start := time.Now()

	out, err := d.execute(ctx, w)
	if err != nil {
		d.stats.RecordItemFailed(d.identifier, w, err, time.Since(start))
		slog.Error("Work item failed", "identifier", d.identifier, "item", w.String(), "error", err)
		return nil, nil
	}

	switch next := out.(type) {
	case *item.WorkItem:
		if next != nil {
			d.stats.RecordItemRequeued(d.identifier, w)
			slog.Debug("Work item requeued", "identifier", d.identifier, "item", next.String())
			return next, nil
		}
	case item.WorkItem:
		d.stats.RecordItemRequeued(d.identifier, w)
		slog.Debug("Work item requeued", "identifier", d.identifier, "item", next.String())
		return &next, nil
	}

	d.stats.RecordItemCompleted(d.identifier, w, time.Since(start))

	if values := produced(out); len(values) > 0 {
		if err := d.appendResults(ctx, values); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// execute resolves and calls the handler with panic recovery
func (d *Dispatcher) execute(ctx context.Context, w item.WorkItem) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewHandlerError(w.Class, w.Method, fmt.Errorf("panic: %v", r))
		}
	}()

	handler, err := d.resolver.Get(w.Class)
	if err != nil {
		return nil, errors.NewHandlerError(w.Class, w.Method, err)
	}

	method, ok := handler.Method(w.Method)
	if !ok || method == nil {
		return nil, errors.NewHandlerError(w.Class, w.Method, errors.ErrMethodNotFound)
	}

	out, err = method(ctx, w.Args...)
	if err != nil {
		return nil, errors.NewHandlerError(w.Class, w.Method, err)
	}
	return out, nil
}

// Results returns every value produced so far in the current run
func (d *Dispatcher) Results(ctx context.Context) ([]string, error) {
	data, err := d.store.Get(ctx, d.key())
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.NewStoreError("decode_results", d.key(), err)
	}
	return values, nil
}

// ResetResults forgets the produced values of the current run
func (d *Dispatcher) ResetResults(ctx context.Context) error {
	return d.store.Delete(ctx, d.key())
}

func (d *Dispatcher) appendResults(ctx context.Context, values []string) error {
	current, err := d.Results(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(append(current, values...))
	if err != nil {
		return errors.NewStoreError("encode_results", d.key(), err)
	}
	return d.store.Set(ctx, d.key(), data)
}

func (d *Dispatcher) key() string {
	return store.Key(d.identifier, "produced")
}

// produced flattens a handler return value into the strings worth keeping.
// Falsy values (nil, false, zero, "", "0", empty collections) yield nothing.
func produced(out any) []string {
	if !truthy(out) {
		return nil
	}

	v := reflect.ValueOf(out)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		var values []string
		for i := 0; i < v.Len(); i++ {
			values = append(values, produced(v.Index(i).Interface())...)
		}
		return values
	}
	return []string{fmt.Sprint(out)}
}

func truthy(out any) bool {
	if out == nil {
		return false
	}

	switch v := out.(type) {
	case string:
		return v != "" && v != "0"
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	}

	rv := reflect.ValueOf(out)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return !rv.IsZero()
}

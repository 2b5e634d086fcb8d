// Package registry maps handler class names to their implementations.
// Handlers are registered at startup as factories and instantiated lazily
// the first time a work item names them.
package registry

import (
	"context"
	"sync"

	"github.com/BranchIntl/couponqueue/errors"
)

// Method is one invocable operation of a handler
type Method func(ctx context.Context, args ...any) (any, error)

// Handler is a capability exposing named methods
type Handler interface {
	Method(name string) (Method, bool)
}

// Methods is a Handler backed by a map
type Methods map[string]Method

// Method looks up name
func (m Methods) Method(name string) (Method, bool) {
	fn, ok := m[name]
	return fn, ok
}

// Factory builds a Handler on first use
type Factory func() (Handler, error)

type entry struct {
	factory Factory
	handler Handler
}

// Registry is a thread-safe handler registry
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*entry
}

// NewRegistry creates a new registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]*entry),
	}
}

// Register adds a lazily built handler for class
func (r *Registry) Register(class string, factory Factory) error {
	if class == "" {
		return errors.ErrEmptyClassName
	}
	if factory == nil {
		return errors.ErrNilFactory
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[class] = &entry{factory: factory}
	return nil
}

// RegisterHandler adds an already built handler for class
func (r *Registry) RegisterHandler(class string, handler Handler) error {
	if handler == nil {
		return errors.ErrNilFactory
	}
	return r.Register(class, func() (Handler, error) { return handler, nil })
}

// Get resolves the handler for class, building it on first use. A failed
// build is not cached; the next Get retries it.
func (r *Registry) Get(class string) (Handler, error) {
	r.mu.RLock()
	e, ok := r.handlers[class]
	if ok && e.handler != nil {
		h := e.handler
		r.mu.RUnlock()
		return h, nil
	}
	r.mu.RUnlock()

	if !ok {
		return nil, errors.ErrHandlerNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// re-check: another caller may have built it, or it may be gone
	e, ok = r.handlers[class]
	if !ok {
		return nil, errors.ErrHandlerNotFound
	}
	if e.handler != nil {
		return e.handler, nil
	}

	h, err := e.factory()
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, errors.ErrHandlerNotFound
	}
	e.handler = h
	return h, nil
}

// List returns all registered classes
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	classes := make([]string, 0, len(r.handlers))
	for class := range r.handlers {
		classes = append(classes, class)
	}
	return classes
}

// Remove unregisters a handler
func (r *Registry) Remove(class string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, class)
	return nil
}

// Clear removes all registered handlers
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = make(map[string]*entry)
}

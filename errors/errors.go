// Package errors provides error types and utilities for the couponqueue library.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	ErrNotFound        = errors.New("key not found")
	ErrNotConnected    = errors.New("not connected")
	ErrHandlerNotFound = errors.New("handler not found")
	ErrMethodNotFound  = errors.New("method not found")
	ErrEmptyClassName  = errors.New("class name cannot be empty")
	ErrNilFactory      = errors.New("handler factory cannot be nil")
	ErrEmptyIdentifier = errors.New("process identifier cannot be empty")
	ErrProcessRunning  = errors.New("a background process is already running")
	ErrNoItems         = errors.New("no work items to dispatch")
	ErrUnknownAction   = errors.New("unknown bulk action")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// StoreError represents a failure of the persistent key-value store.
// Store failures are fatal to the current invocation.
type StoreError struct {
	Op  string // operation being performed
	Key string // key (if applicable)
	Err error  // underlying error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s on key %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// HandlerError represents a failure raised while executing a work item
type HandlerError struct {
	Class  string // handler class
	Method string // method name
	Err    error  // underlying error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s.%s: %v", e.Class, e.Method, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// SerializationError represents serialization/deserialization errors
type SerializationError struct {
	Format string // serialization format
	Err    error  // underlying error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization (%s): %v", e.Format, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// ConnectionError represents connection-related errors
type ConnectionError struct {
	URI string // connection URI (may be redacted)
	Err error  // underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.URI, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Temporary() bool {
	if t, ok := e.Err.(interface{ Temporary() bool }); ok {
		return t.Temporary()
	}
	return false
}

// NewStoreError creates a new store error
func NewStoreError(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}

// NewHandlerError creates a new handler error
func NewHandlerError(class, method string, err error) error {
	return &HandlerError{Class: class, Method: method, Err: err}
}

// NewSerializationError creates a new serialization error
func NewSerializationError(format string, err error) error {
	return &SerializationError{Format: format, Err: err}
}

// NewConnectionError creates a new connection error
func NewConnectionError(uri string, err error) error {
	return &ConnectionError{URI: uri, Err: err}
}

// IsNotFound reports whether err signals an absent key
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsProcessRunning reports whether err was refused because a run is active
func IsProcessRunning(err error) bool {
	return errors.Is(err, ErrProcessRunning)
}

// IsStoreFailure reports whether err originates from the key-value store
func IsStoreFailure(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}

// Is, As and New re-export the standard helpers so callers importing this
// package under the name "errors" keep access to them.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)

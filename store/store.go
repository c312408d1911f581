// Package store owns the in-memory collections and persists them after every
// mutation.
package store

import (
	"errors"
	"fmt"

	"github.com/stevemurr/json-mock-server/ident"
)

// Persister is the interface that all backing stores must implement. It
// reads the whole store once at startup and rewrites it after each mutation.
type Persister interface {
	// Load returns every collection as name -> JSON value.
	Load() (map[string]any, error)

	// Flush replaces the persisted state with snapshot.
	Flush(snapshot map[string]any) error

	// Close releases any resources held by the persister.
	Close() error

	// Name identifies the backend in logs.
	Name() string
}

var (
	// ErrNotFound is returned when a collection or an item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrShapeMismatch is returned when an operation needs an array document
	// and finds something else, or the other way around.
	ErrShapeMismatch = errors.New("document shape mismatch")

	// ErrInvalidBody is returned when a request body has the wrong JSON type.
	ErrInvalidBody = errors.New("invalid body")
)

// ConflictError reports a POST whose id is already taken. No mutation
// happens when it is returned.
type ConflictError struct {
	Collection string
	ID         ident.ID
	Data       any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("insert failed, duplicate id %s in %q", e.ID, e.Collection)
}

// PersistError reports a mutation that was applied in memory but could not
// be written to the backing store.
type PersistError struct {
	Backend string
	Result  any
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist to %s backend: %v", e.Backend, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

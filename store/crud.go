package store

import (
	"errors"
	"fmt"

	"github.com/stevemurr/json-mock-server/document"
	"github.com/stevemurr/json-mock-server/ident"
)

// The methods below implement one REST operation each. Preconditions are
// checked in order under the registry lock and the first failure decides
// the error. Returned values are copies and safe to use after the lock is
// released.

// Get returns the document stored under name.
func (r *Registry) Get(name string) (any, error) {
	var out any
	err := r.View(func(tx *Tx) error {
		d, err := tx.Get(name)
		if err != nil {
			return err
		}
		out = document.Clone(d.JSON())
		return nil
	})
	return out, err
}

// GetItem returns one item of an array document.
func (r *Registry) GetItem(name, id string) (any, error) {
	var out any
	err := r.View(func(tx *Tx) error {
		item, err := tx.GetItem(name, ident.ParsePath(id))
		if err != nil {
			return err
		}
		out = document.Clone(item)
		return nil
	})
	return out, err
}

// Create handles POST /name. A non-array document is replaced by body. For
// an array document body must be an object: without an id it receives the
// next numeric id, with an id already in use it is rejected with a
// *ConflictError.
func (r *Registry) Create(name string, body any) (any, error) {
	var out any
	err := r.Update(func(tx *Tx) error {
		d, err := tx.Get(name)
		if err != nil {
			return err
		}
		if !d.IsArray() {
			out = body
			return tx.PutWhole(name, document.Clone(body))
		}

		obj, ok := body.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected object, got %s", ErrInvalidBody, document.Type(body))
		}
		item := document.Merge(obj, nil)
		if _, present := item[ident.Field]; !present || item[ident.Field] == nil {
			item[ident.Field] = ident.FromUint(ident.NextID(d.Items)).Value()
		} else if id, ok := ident.Normalize(item); ok && ident.Find(d.Items, id) >= 0 {
			return &ConflictError{Collection: name, ID: id, Data: body}
		}
		out = item
		return tx.UpsertItem(name, item)
	})
	return result(out, err)
}

// Replace handles PUT /name. Array documents cannot be replaced this way.
func (r *Registry) Replace(name string, body any) (any, error) {
	var out any
	err := r.Update(func(tx *Tx) error {
		d, err := tx.Get(name)
		if err != nil {
			return err
		}
		if d.IsArray() {
			return ErrShapeMismatch
		}
		out = body
		return tx.PutWhole(name, document.Clone(body))
	})
	return result(out, err)
}

// ReplaceItem handles PUT /name/id. The id in body is ignored; the stored
// item keeps its original id.
func (r *Registry) ReplaceItem(name, id string, body any) (any, error) {
	var out any
	err := r.Update(func(tx *Tx) error {
		if _, err := tx.GetItem(name, ident.ParsePath(id)); err != nil {
			return err
		}
		obj, ok := body.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected object, got %s", ErrInvalidBody, document.Type(body))
		}
		replaced, err := tx.ReplaceItem(name, ident.ParsePath(id), obj)
		if err != nil {
			return err
		}
		out = replaced
		return nil
	})
	return result(out, err)
}

// Patch handles PATCH /name by merging the members of body into the
// object document stored under name.
func (r *Registry) Patch(name string, body any) (any, error) {
	var out any
	err := r.Update(func(tx *Tx) error {
		d, err := tx.Get(name)
		if err != nil {
			return err
		}
		current, ok := d.Object()
		if !ok {
			return ErrShapeMismatch
		}
		patch, ok := body.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected object, got %s", ErrInvalidBody, document.Type(body))
		}
		merged := document.Merge(current, patch)
		out = merged
		return tx.PutWhole(name, merged)
	})
	return result(out, err)
}

// PatchItem handles PATCH /name/id. The id in body is ignored.
func (r *Registry) PatchItem(name, id string, body any) (any, error) {
	var out any
	err := r.Update(func(tx *Tx) error {
		item, err := tx.GetItem(name, ident.ParsePath(id))
		if err != nil {
			return err
		}
		patch, ok := body.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected object, got %s", ErrInvalidBody, document.Type(body))
		}
		merged := document.Merge(item.(map[string]any), patch)
		replaced, err := tx.ReplaceItem(name, ident.ParsePath(id), merged)
		if err != nil {
			return err
		}
		out = replaced
		return nil
	})
	return result(out, err)
}

// DeleteItem handles DELETE /name/id.
func (r *Registry) DeleteItem(name, id string) error {
	err := r.Update(func(tx *Tx) error {
		return tx.RemoveItem(name, ident.ParsePath(id))
	})
	_, err = result(nil, err)
	return err
}

// result copies out for the caller and attaches it to a *PersistError so
// the HTTP layer can report what was kept in memory.
func result(out any, err error) (any, error) {
	if err != nil {
		var pe *PersistError
		if errors.As(err, &pe) {
			pe.Result = document.Clone(out)
		}
		return nil, err
	}
	return document.Clone(out), nil
}

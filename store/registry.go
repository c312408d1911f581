package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stevemurr/json-mock-server/document"
	"github.com/stevemurr/json-mock-server/ident"
)

// Registry is the single owner of the collections. Every read and write goes
// through View or Update, which hold one exclusive lock for the whole
// callback, including the flush to the Persister.
type Registry struct {
	mu     sync.Mutex
	docs   map[string]document.Document
	p      Persister
	logger *slog.Logger

	// diverged is set while memory holds mutations the backing store missed.
	diverged bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for flush and divergence messages.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry loads every collection from p.
func NewRegistry(p Persister, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{p: p, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	raw, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("load %s store: %w", p.Name(), err)
	}
	r.docs = make(map[string]document.Document, len(raw))
	for name, v := range raw {
		r.docs[name] = document.New(v)
	}
	r.logger.Debug("store loaded", "backend", p.Name(), "collections", len(r.docs))
	return r, nil
}

// View runs fn with read access to the collections.
func (r *Registry) View(fn func(*Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&Tx{r: r})
}

// Update runs fn with write access. If fn changed anything and returned
// nil, the full snapshot is flushed before the lock is released. A failed
// flush leaves the in-memory change in place and returns a *PersistError.
func (r *Registry) Update(fn func(*Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &Tx{r: r, writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.changed && !r.diverged {
		return nil
	}
	return r.flushLocked()
}

func (r *Registry) flushLocked() error {
	start := time.Now()
	if err := r.p.Flush(r.snapshotLocked()); err != nil {
		r.diverged = true
		r.logger.Error("store diverged from backing store", "backend", r.p.Name(), "err", err)
		return &PersistError{Backend: r.p.Name(), Err: err}
	}
	if r.diverged {
		r.logger.Info("backing store caught up", "backend", r.p.Name())
	}
	r.diverged = false
	r.logger.Debug("store flushed", "backend", r.p.Name(), "collections", len(r.docs), "took", time.Since(start))
	return nil
}

func (r *Registry) snapshotLocked() map[string]any {
	snap := make(map[string]any, len(r.docs))
	for name, d := range r.docs {
		snap[name] = d.JSON()
	}
	return snap
}

// Names returns the collection names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.docs))
	for name := range r.docs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CollectionStat summarizes one collection.
type CollectionStat struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Items  int    `json:"items"`
	NextID uint64 `json:"next_id,omitempty"`
}

// Stats describes every collection, sorted by name.
func (r *Registry) Stats() []CollectionStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make([]CollectionStat, 0, len(r.docs))
	for name, d := range r.docs {
		st := CollectionStat{Name: name, Kind: d.Kind.String()}
		if d.IsArray() {
			st.Items = len(d.Items)
			st.NextID = ident.NextID(d.Items)
		}
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Close flushes any state the backing store missed and closes it.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var flushErr error
	if r.diverged {
		flushErr = r.flushLocked()
	}
	return errors.Join(flushErr, r.p.Close())
}

var errReadOnly = errors.New("store: write in read-only transaction")

// Tx gives access to the collections while the registry lock is held. It
// must not be retained after the callback returns.
type Tx struct {
	r        *Registry
	writable bool
	changed  bool
}

// Get returns the document stored under name.
func (tx *Tx) Get(name string) (document.Document, error) {
	d, ok := tx.r.docs[name]
	if !ok {
		return document.Document{}, ErrNotFound
	}
	return d, nil
}

// GetArray returns the items of the array document stored under name.
func (tx *Tx) GetArray(name string) ([]any, error) {
	d, err := tx.Get(name)
	if err != nil {
		return nil, err
	}
	if !d.IsArray() {
		return nil, ErrShapeMismatch
	}
	return d.Items, nil
}

// GetItem returns the item of array document name whose id equals id.
func (tx *Tx) GetItem(name string, id ident.ID) (any, error) {
	items, err := tx.GetArray(name)
	if err != nil {
		return nil, err
	}
	i := ident.Find(items, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	return items[i], nil
}

// PutWhole stores v under name, replacing whatever was there.
func (tx *Tx) PutWhole(name string, v any) error {
	if !tx.writable {
		return errReadOnly
	}
	tx.r.docs[name] = document.New(v)
	tx.changed = true
	return nil
}

// UpsertItem appends item to the array document name.
func (tx *Tx) UpsertItem(name string, item any) error {
	if !tx.writable {
		return errReadOnly
	}
	items, err := tx.GetArray(name)
	if err != nil {
		return err
	}
	next := make([]any, len(items), len(items)+1)
	copy(next, items)
	tx.r.docs[name] = document.Document{Kind: document.Array, Items: append(next, item)}
	tx.changed = true
	return nil
}

// ReplaceItem removes the item whose id equals oldID and appends item in its
// place at the end of the array. The stored item keeps the original id value
// whatever item carried.
func (tx *Tx) ReplaceItem(name string, oldID ident.ID, item map[string]any) (map[string]any, error) {
	if !tx.writable {
		return nil, errReadOnly
	}
	items, err := tx.GetArray(name)
	if err != nil {
		return nil, err
	}
	i := ident.Find(items, oldID)
	if i < 0 {
		return nil, ErrNotFound
	}
	replacement := document.Merge(item, map[string]any{
		ident.Field: items[i].(map[string]any)[ident.Field],
	})
	next := make([]any, 0, len(items))
	next = append(next, items[:i]...)
	next = append(next, items[i+1:]...)
	next = append(next, replacement)
	tx.r.docs[name] = document.Document{Kind: document.Array, Items: next}
	tx.changed = true
	return replacement, nil
}

// RemoveItem deletes the item whose id equals id.
func (tx *Tx) RemoveItem(name string, id ident.ID) error {
	if !tx.writable {
		return errReadOnly
	}
	items, err := tx.GetArray(name)
	if err != nil {
		return err
	}
	i := ident.Find(items, id)
	if i < 0 {
		return ErrNotFound
	}
	next := make([]any, 0, len(items)-1)
	next = append(next, items[:i]...)
	next = append(next, items[i+1:]...)
	tx.r.docs[name] = document.Document{Kind: document.Array, Items: next}
	tx.changed = true
	return nil
}

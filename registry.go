package stash

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-stash/pkg/storage"
)

// Registry indexes live entries by area and key. The composition root owns
// one registry; tests build their own.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// Register adds entry. A second entry for the same area and key is rejected.
func (r *Registry) Register(entry Entry) error {
	if entry == nil {
		return ErrNilEntry
	}
	id := storage.NamespacedKey(entry.Area(), entry.Key())

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, id)
	}
	r.entries[id] = entry
	return nil
}

// Unregister removes the entry for area and key, reporting whether it existed.
func (r *Registry) Unregister(area, key string) bool {
	id := storage.NamespacedKey(area, key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; !exists {
		return false
	}
	delete(r.entries, id)
	return true
}

// Get returns the entry for key in the default area.
func (r *Registry) Get(key string) (Entry, bool) {
	return r.GetIn(DefaultArea, key)
}

// GetIn returns the entry for key in area.
func (r *Registry) GetIn(area, key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[storage.NamespacedKey(area, key)]
	return entry, ok
}

// Entries returns every registered entry ordered by area then key.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Area() != out[j].Area() {
			return out[i].Area() < out[j].Area()
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// LoadAll loads every entry concurrently and waits for all of them.
func (r *Registry) LoadAll(ctx context.Context, opts ...LoadOption) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, entry := range r.Entries() {
		group.Go(func() error {
			return entry.Load(groupCtx, opts...)
		})
	}
	return group.Wait()
}

// Lookup returns the typed helper for key in area.
func Lookup[T any](r *Registry, area, key string) (*Helper[T], bool) {
	entry, ok := r.GetIn(area, key)
	if !ok {
		return nil, false
	}
	helper, ok := entry.(*Helper[T])
	return helper, ok
}

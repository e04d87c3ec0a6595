package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry owns a set of named stores and closes them together
type Registry struct {
	mu     sync.RWMutex
	stores map[string]Store
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Store)}
}

// Register adds store under name; names are unique
func (r *Registry) Register(name string, store Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stores[name]; exists {
		return fmt.Errorf("cache %q already registered", name)
	}
	r.stores[name] = store
	return nil
}

// Get returns the store registered under name
func (r *Registry) Get(name string) (Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[name]
	return store, ok
}

// Names lists registered stores in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every store and empties the registry
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, store := range r.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache %q: %w", name, err))
		}
	}
	r.stores = make(map[string]Store)
	return errors.Join(errs...)
}

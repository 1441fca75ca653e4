// Package replica implements the replicated, delta-tracked object model.
package replica

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
)

// Registry is the descriptor table.
//
// Registration happens during type initialization; afterwards the table is
// read concurrently by every object that applies deltas.
type Registry struct {
	mu    sync.RWMutex
	byID  map[PropertyID]Descriptor
	byKey map[string]PropertyID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[PropertyID]Descriptor),
		byKey: make(map[string]PropertyID),
	}
}

// defaultRegistry lives for the whole process. Objects fall back to it
// when no registry is injected.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a property declared by owner to r.
//
// Re-registering the same (owner, name), or a pair whose derived id
// collides with an existing one, fails with domain.ErrDuplicateRegistration.
// The existing descriptor is never overwritten.
func Register[T Scalar](r *Registry, owner, name string, opts PropertyOptions[T]) (*Property[T], error) {
	if owner == "" || name == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("property owner and name are required")
	}

	p := newProperty(owner, name, opts)
	key := p.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byKey[key]; ok {
		return nil, domain.ErrDuplicateRegistration.WithDetails(key)
	}
	if existing, ok := r.byID[p.id]; ok {
		return nil, domain.ErrDuplicateRegistration.WithDetails(
			fmt.Sprintf("%s: id %s collides with %s", key, p.id, existing.Key()))
	}

	r.byID[p.id] = p
	r.byKey[key] = p.id
	return p, nil
}

// MustRegister is like Register but panics on error.
// Intended for package-level var declarations.
func MustRegister[T Scalar](r *Registry, owner, name string, opts PropertyOptions[T]) *Property[T] {
	p, err := Register(r, owner, name, opts)
	if err != nil {
		panic(err)
	}
	return p
}

// Lookup returns the descriptor registered under id.
func (r *Registry) Lookup(id PropertyID) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// LookupKey returns the descriptor registered as owner.name.
func (r *Registry) LookupKey(owner, name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[owner+"."+name]
	if !ok {
		return nil, false
	}
	return r.byID[id], true
}

// Entries returns all descriptors ordered by key.
func (r *Registry) Entries() []Descriptor {
	r.mu.RLock()
	entries := make([]Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		entries = append(entries, d)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key() < entries[j].Key()
	})
	return entries
}

// Count returns the number of registered descriptors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

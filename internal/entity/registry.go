package entity

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps entity type names to constructors so that stored payloads
// can be decoded into the right Go type. It is populated once at startup.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]func() Entity
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]func() Entity)}
}

// Register adds T to the registry under its EntityType name.
func Register[T any, PT interface {
	*T
	Entity
}](r *Registry) {
	name := TypeName[T, PT]()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = func() Entity { return PT(new(T)) }
}

// New returns a zero value of the named entity type.
func (r *Registry) New(entityType string) (Entity, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[entityType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("entity type %q is not registered", entityType)
	}
	return ctor(), nil
}

// Has reports whether entityType is registered.
func (r *Registry) Has(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[entityType]
	return ok
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		types = append(types, name)
	}
	slices.Sort(types)
	return types
}

package migration

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnregisteredVersionedType is returned when no shape is registered for
// an (entity type, version) pair.
var ErrUnregisteredVersionedType = errors.New("unregistered versioned type")

type versionKey struct {
	entityType string
	version    int
}

func (k versionKey) String() string {
	return fmt.Sprintf("%s v%d", k.entityType, k.version)
}

// VersionRegistry maps entity types to their current schema version.
type VersionRegistry struct {
	mu       sync.RWMutex
	versions map[string]int
}

// NewVersionRegistry creates an empty registry.
func NewVersionRegistry() *VersionRegistry {
	return &VersionRegistry{versions: make(map[string]int)}
}

// Register sets the current schema version of entityType.
func (r *VersionRegistry) Register(entityType string, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[entityType] = version
}

// Version returns the current schema version of entityType. The first
// schema of every type is implicitly version 1.
func (r *VersionRegistry) Version(entityType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.versions[entityType]; ok {
		return v
	}
	return 1
}

// Types returns every explicitly registered type in sorted order.
func (r *VersionRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.versions))
	for t := range r.versions {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// TypeRegistry maps (entity type, version) to the Go shape used to decode
// documents persisted at that version.
type TypeRegistry struct {
	mu     sync.RWMutex
	shapes map[versionKey]func() any
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{shapes: make(map[versionKey]func() any)}
}

// RegisterShape records T as the shape of entityType at version.
func RegisterShape[T any](r *TypeRegistry, entityType string, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shapes[versionKey{entityType, version}] = func() any { return new(T) }
}

// New returns a pointer to a zero value of the shape registered for
// (entityType, version). There is no fallback shape.
func (r *TypeRegistry) New(entityType string, version int) (any, error) {
	r.mu.RLock()
	ctor, ok := r.shapes[versionKey{entityType, version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrUnregisteredVersionedType, entityType, version)
	}
	return ctor(), nil
}

// Has reports whether a shape is registered for (entityType, version).
func (r *TypeRegistry) Has(entityType string, version int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.shapes[versionKey{entityType, version}]
	return ok
}

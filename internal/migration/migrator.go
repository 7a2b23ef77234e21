package migration

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoMigrationRegistered is returned when a step is requested for an
// (entity type, version) pair that has no transform.
var ErrNoMigrationRegistered = errors.New("no migration registered")

type transform func(any) (any, error)

// Migrator holds adjacent-version transforms.
type Migrator struct {
	mu         sync.RWMutex
	transforms map[versionKey]transform
}

// NewMigrator creates an empty migrator.
func NewMigrator() *Migrator {
	return &Migrator{transforms: make(map[versionKey]transform)}
}

// Register adds the transform that upgrades entityType from fromVersion to
// fromVersion+1. fn must be pure.
func Register[From, To any](m *Migrator, entityType string, fromVersion int, fn func(*From) (*To, error)) {
	key := versionKey{entityType, fromVersion}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.transforms[key] = func(in any) (any, error) {
		from, ok := in.(*From)
		if !ok {
			return nil, fmt.Errorf("migrate %s: got %T, want %T", key, in, (*From)(nil))
		}
		return fn(from)
	}
}

// Migrate applies one step to instance. When fromVersion equals toVersion
// the instance is returned unchanged. Only adjacent steps are supported;
// chains are walked by the caller.
func (m *Migrator) Migrate(entityType string, instance any, fromVersion, toVersion int) (any, error) {
	if fromVersion == toVersion {
		return instance, nil
	}
	if toVersion != fromVersion+1 {
		return nil, fmt.Errorf("migrate %s: v%d -> v%d is not an adjacent step", entityType, fromVersion, toVersion)
	}

	key := versionKey{entityType, fromVersion}
	m.mu.RLock()
	fn, ok := m.transforms[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMigrationRegistered, key)
	}

	out, err := fn(instance)
	if err != nil {
		return nil, fmt.Errorf("migrate %s: %w", key, err)
	}
	return out, nil
}

// Has reports whether a transform from (entityType, fromVersion) exists.
func (m *Migrator) Has(entityType string, fromVersion int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.transforms[versionKey{entityType, fromVersion}]
	return ok
}

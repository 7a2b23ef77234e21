package migration

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Set bundles the three registries consulted when reading persisted data.
type Set struct {
	Versions *VersionRegistry
	Types    *TypeRegistry
	Migrator *Migrator
}

// NewSet creates a Set with empty registries.
func NewSet() *Set {
	return &Set{
		Versions: NewVersionRegistry(),
		Types:    NewTypeRegistry(),
		Migrator: NewMigrator(),
	}
}

// Current returns the current schema version of entityType.
func (s *Set) Current(entityType string) int {
	return s.Versions.Version(entityType)
}

// Upgrade decodes body, persisted at storedVersion, into target at the
// current schema version. A stored version of 0 means the document predates
// versioning and is treated as version 1.
//
// target must be a pointer to the current shape. If it implements
// SetSchemaVersion, the current version is recorded on it.
func (s *Set) Upgrade(entityType string, storedVersion int, body []byte, target any) error {
	if storedVersion == 0 {
		storedVersion = 1
	}
	current := s.Current(entityType)

	switch {
	case storedVersion == current:
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("decode %s v%d: %w", entityType, storedVersion, err)
		}
	case storedVersion > current:
		return fmt.Errorf("decode %s: stored v%d is newer than current v%d", entityType, storedVersion, current)
	default:
		inst, err := s.Types.New(entityType, storedVersion)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, inst); err != nil {
			return fmt.Errorf("decode %s v%d: %w", entityType, storedVersion, err)
		}

		for v := storedVersion; v < current; v++ {
			inst, err = s.Migrator.Migrate(entityType, inst, v, v+1)
			if err != nil {
				return err
			}
		}

		// The final shape and target may be distinct Go types with the same
		// JSON layout.
		data, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("encode %s v%d: %w", entityType, current, err)
		}
		if err := json.Unmarshal(data, target); err != nil {
			return fmt.Errorf("decode %s v%d: %w", entityType, current, err)
		}
	}

	if sv, ok := target.(interface{ SetSchemaVersion(int) }); ok {
		sv.SetSchemaVersion(current)
	}
	return nil
}

// Validate checks that every registered type has a shape and a transform for
// each version below its current one. All gaps are reported together.
func (s *Set) Validate() error {
	var errs []error
	for _, entityType := range s.Versions.Types() {
		current := s.Versions.Version(entityType)
		for v := 1; v < current; v++ {
			if !s.Types.Has(entityType, v) {
				errs = append(errs, fmt.Errorf("%w: %s v%d", ErrUnregisteredVersionedType, entityType, v))
			}
			if !s.Migrator.Has(entityType, v) {
				errs = append(errs, fmt.Errorf("%w: %s v%d -> v%d", ErrNoMigrationRegistered, entityType, v, v+1))
			}
		}
	}
	return errors.Join(errs...)
}

package entitystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/chronicle/internal/entity"
)

// decoder turns one stored row into an entity.
type decoder func(body []byte, concurrencyVersion, schemaVersion int, target entity.Entity) error

// decoderFor picks the read path for entityType. When no stored document
// is below the current schema version, documents decode directly; otherwise
// each row goes through the migration chain.
func (s *Store) decoderFor(ctx context.Context, entityType string) (decoder, error) {
	current := s.migrations.Current(entityType)

	var stale int
	err := s.db.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE entity_type = ? AND schema_version < ?",
		entityType, current,
	).Scan(&stale)
	if err != nil {
		return nil, fmt.Errorf("check schema versions of %s: %w", entityType, err)
	}

	if stale == 0 {
		return func(body []byte, cv, _ int, target entity.Entity) error {
			if err := json.Unmarshal(body, target); err != nil {
				return fmt.Errorf("decode %s: %w", entityType, err)
			}
			target.SetConcurrencyVersion(cv)
			target.SetSchemaVersion(current)
			return nil
		}, nil
	}

	s.log.Debug("stale documents present, upgrading on read", "entity_type", entityType, "stale", stale)
	return func(body []byte, cv, sv int, target entity.Entity) error {
		if err := s.migrations.Upgrade(entityType, sv, body, target); err != nil {
			return err
		}
		target.SetConcurrencyVersion(cv)
		return nil
	}, nil
}

// scan streams every document of entityType through fn, one row at a time.
// fn must not touch the database: the connection is busy until rows close.
func scan[T any, PT interface {
	*T
	entity.Entity
}](ctx context.Context, s *Store, where string, args []any, fn func(PT) (bool, error)) error {
	entityType := entity.TypeName[T, PT]()
	decode, err := s.decoderFor(ctx, entityType)
	if err != nil {
		return err
	}

	query := "SELECT body, concurrency_version, schema_version FROM documents WHERE entity_type = ?"
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.DB().QueryContext(ctx, query, append([]any{entityType}, args...)...)
	if err != nil {
		return fmt.Errorf("query %s: %w", entityType, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			body   string
			cv, sv int
		)
		if err := rows.Scan(&body, &cv, &sv); err != nil {
			return fmt.Errorf("scan %s: %w", entityType, err)
		}
		ent := PT(new(T))
		if err := decode([]byte(body), cv, sv, ent); err != nil {
			return err
		}
		more, err := fn(ent)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return rows.Err()
}

// GetByID returns the entity of type T with the given id.
func GetByID[T any, PT interface {
	*T
	entity.Entity
}](ctx context.Context, s *Store, id string) (PT, error) {
	var found PT
	err := scan[T, PT](ctx, s, "id = ?", []any{id}, func(ent PT) (bool, error) {
		found = ent
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, entity.TypeName[T, PT](), id)
	}
	return found, nil
}

// GetAll returns every entity of type T ordered by id.
func GetAll[T any, PT interface {
	*T
	entity.Entity
}](ctx context.Context, s *Store) ([]PT, error) {
	return GetAllByFilter[T, PT](ctx, s, nil)
}

// GetAllByFilter returns every entity of type T for which keep returns true.
// A nil keep matches everything.
func GetAllByFilter[T any, PT interface {
	*T
	entity.Entity
}](ctx context.Context, s *Store, keep func(PT) bool) ([]PT, error) {
	var out []PT
	err := scan[T, PT](ctx, s, "", nil, func(ent PT) (bool, error) {
		if keep == nil || keep(ent) {
			out = append(out, ent)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByFilter returns the first entity of type T, in id order, for which
// keep returns true. A nil keep matches every entity.
func GetByFilter[T any, PT interface {
	*T
	entity.Entity
}](ctx context.Context, s *Store, keep func(PT) bool) (PT, error) {
	var found PT
	err := scan[T, PT](ctx, s, "", nil, func(ent PT) (bool, error) {
		if keep == nil || keep(ent) {
			found = ent
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no %s matches filter", ErrNotFound, entity.TypeName[T, PT]())
	}
	return found, nil
}

// Project maps every entity of type T accepted by keep through project.
func Project[T any, PT interface {
	*T
	entity.Entity
}, P any](ctx context.Context, s *Store, keep func(PT) bool, project func(PT) P) ([]P, error) {
	var out []P
	err := scan[T, PT](ctx, s, "", nil, func(ent PT) (bool, error) {
		if keep == nil || keep(ent) {
			out = append(out, project(ent))
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Exists reports whether a document is stored for (entityType, id).
func (s *Store) Exists(ctx context.Context, entityType, id string) (bool, error) {
	var one int
	err := s.db.DB().QueryRowContext(ctx,
		"SELECT 1 FROM documents WHERE entity_type = ? AND id = ?", entityType, id,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s %s: %w", entityType, id, err)
	}
	return true, nil
}

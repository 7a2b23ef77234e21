package entitystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/chronicle/internal/entity"
)

// Document is a stored entity in its raw form.
type Document struct {
	EntityType         string          `json:"entity_type"`
	ID                 string          `json:"id"`
	Body               json.RawMessage `json:"body"`
	ConcurrencyVersion int             `json:"concurrency_version"`
	SchemaVersion      int             `json:"schema_version"`
}

type staleDoc struct {
	id     string
	body   []byte
	cv, sv int
}

// MigrateAllToLatest rewrites every document of type T stored below the
// current schema version. It returns the number of documents rewritten and
// is safe to run repeatedly.
func MigrateAllToLatest[T any, PT interface {
	*T
	entity.Entity
}](ctx context.Context, s *Store) (int, error) {
	return s.migrateType(ctx, entity.TypeName[T, PT](), func() (entity.Entity, error) { return PT(new(T)), nil })
}

// MigrateAll runs MigrateAllToLatest for every type in the entity registry.
func (s *Store) MigrateAll(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	for _, entityType := range s.entities.Types() {
		n, err := s.migrateType(ctx, entityType, func() (entity.Entity, error) {
			return s.entities.New(entityType)
		})
		if err != nil {
			return out, err
		}
		out[entityType] = n
	}
	return out, nil
}

func (s *Store) migrateType(ctx context.Context, entityType string, newEntity func() (entity.Entity, error)) (int, error) {
	if !s.writable("migrate") {
		return 0, nil
	}
	current := s.migrations.Current(entityType)

	// Collect first: the single connection is held while rows are open.
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, body, concurrency_version, schema_version
		FROM documents
		WHERE entity_type = ? AND schema_version < ?
		ORDER BY id ASC
	`, entityType, current)
	if err != nil {
		return 0, fmt.Errorf("query stale %s: %w", entityType, err)
	}
	var stale []staleDoc
	for rows.Next() {
		var d staleDoc
		var body string
		if err := rows.Scan(&d.id, &body, &d.cv, &d.sv); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stale %s: %w", entityType, err)
		}
		d.body = []byte(body)
		stale = append(stale, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("query stale %s: %w", entityType, err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	migrated := 0
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, d := range stale {
			ent, err := newEntity()
			if err != nil {
				return fmt.Errorf("migrate %s %s: %w", entityType, d.id, err)
			}
			if err := s.migrations.Upgrade(entityType, d.sv, d.body, ent); err != nil {
				return fmt.Errorf("migrate %s %s: %w", entityType, d.id, err)
			}
			ent.SetConcurrencyVersion(d.cv)
			body, err := s.encode(ent)
			if err != nil {
				return err
			}
			// The schema_version guard keeps a concurrent migration from
			// double-applying.
			res, err := tx.ExecContext(ctx, `
				UPDATE documents SET body = ?, schema_version = ?
				WHERE entity_type = ? AND id = ? AND schema_version = ?
			`, body, current, entityType, d.id, d.sv)
			if err != nil {
				return fmt.Errorf("write migrated %s %s: %w", entityType, d.id, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				migrated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.EntitiesMigrated(entityType, migrated)
	s.log.Info("documents migrated", "entity_type", entityType, "count", migrated, "version", current)
	return migrated, nil
}

// Dump streams every stored document, ordered by type then id, through fn.
// fn must not touch the database.
func (s *Store) Dump(ctx context.Context, fn func(Document) error) error {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT entity_type, id, body, concurrency_version, schema_version
		FROM documents
		ORDER BY entity_type ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("dump documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d    Document
			body string
		)
		if err := rows.Scan(&d.EntityType, &d.ID, &body, &d.ConcurrencyVersion, &d.SchemaVersion); err != nil {
			return fmt.Errorf("dump documents: %w", err)
		}
		d.Body = json.RawMessage(body)
		if err := fn(d); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Replace atomically swaps the whole store for docs.
func (s *Store) Replace(ctx context.Context, docs []Document) error {
	if !s.writable("replace") {
		return nil
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
			return fmt.Errorf("replace documents: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO documents (entity_type, id, body, concurrency_version, schema_version)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("replace documents: %w", err)
		}
		defer stmt.Close()

		for _, d := range docs {
			if _, err := stmt.ExecContext(ctx, d.EntityType, d.ID, string(d.Body), d.ConcurrencyVersion, d.SchemaVersion); err != nil {
				return fmt.Errorf("replace %s %s: %w", d.EntityType, d.ID, err)
			}
		}
		return nil
	})
}

// Clear removes every stored document.
func (s *Store) Clear(ctx context.Context) error {
	if !s.writable("clear") {
		return nil
	}
	if _, err := s.db.DB().ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	return nil
}

// Count returns the number of stored documents of entityType, or of all
// types when entityType is empty.
func (s *Store) Count(ctx context.Context, entityType string) (int, error) {
	var (
		n   int
		err error
	)
	if entityType == "" {
		err = s.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	} else {
		err = s.db.DB().QueryRowContext(ctx,
			"SELECT COUNT(*) FROM documents WHERE entity_type = ?", entityType).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

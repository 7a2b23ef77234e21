// Package entitystore keeps the current-state projection of every entity,
// one JSON document per (entity type, id).
//
// Writes use optimistic concurrency on the concurrency version. Reads
// transparently upgrade documents persisted at an older schema version
// through the migration chain; when every document of a type is already
// current they decode directly.
package entitystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/chronicle/internal/entity"
	"github.com/roach88/chronicle/internal/metrics"
	"github.com/roach88/chronicle/internal/migration"
	"github.com/roach88/chronicle/internal/replay"
	"github.com/roach88/chronicle/internal/store"
)

// Store is the entity projection store.
type Store struct {
	db         *store.Store
	migrations *migration.Set
	entities   *entity.Registry
	replay     *replay.Context
	enabled    bool
	log        *slog.Logger
	metrics    metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithEnabled toggles writes. A disabled store silently ignores every write.
func WithEnabled(enabled bool) Option {
	return func(s *Store) { s.enabled = enabled }
}

// WithMigrations sets the migration chain used by reads.
func WithMigrations(m *migration.Set) Option {
	return func(s *Store) { s.migrations = m }
}

// WithEntities sets the registry MigrateAll uses to build current shapes.
func WithEntities(r *entity.Registry) Option {
	return func(s *Store) { s.entities = r }
}

// WithReplayContext makes writes no-ops during Sandbox replays.
func WithReplayContext(rc *replay.Context) Option {
	return func(s *Store) { s.replay = rc }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

func WithMetrics(m metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates an entity store on db.
func New(db *store.Store, opts ...Option) *Store {
	s := &Store{
		db:         db,
		migrations: migration.NewSet(),
		entities:   entity.NewRegistry(),
		enabled:    true,
		log:        slog.Default(),
		metrics:    metrics.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "entitystore"))
	return s
}

// Enabled reports whether writes are applied.
func (s *Store) Enabled() bool {
	return s.enabled
}

// writable reports whether writes should reach the database. Sandbox
// replays must leave the durable store untouched.
func (s *Store) writable(op string) bool {
	if !s.enabled {
		s.log.Debug("entity store disabled, write skipped", "op", op)
		return false
	}
	if s.replay != nil && s.replay.IsSandboxed() {
		s.log.Debug("sandbox replay, write skipped", "op", op)
		return false
	}
	return true
}

func (s *Store) encode(ent entity.Entity) (string, error) {
	body, err := json.Marshal(ent)
	if err != nil {
		return "", fmt.Errorf("encode %s %s: %w", ent.EntityType(), ent.GetID(), err)
	}
	return string(body), nil
}

// storedVersion returns the stored concurrency version, or 0 when absent.
func storedVersion(ctx context.Context, q store.Querier, entityType, id string) (int, error) {
	var v int
	err := q.QueryRowContext(ctx,
		"SELECT concurrency_version FROM documents WHERE entity_type = ? AND id = ?",
		entityType, id,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version of %s %s: %w", entityType, id, err)
	}
	return v, nil
}

func (s *Store) conflict(ctx context.Context, q store.Querier, ent entity.Entity, expected int) error {
	actual, err := storedVersion(ctx, q, ent.EntityType(), ent.GetID())
	if err != nil {
		return err
	}
	s.metrics.ConcurrencyConflict(ent.EntityType())
	return &ConcurrencyError{
		EntityType: ent.EntityType(),
		ID:         ent.GetID(),
		Expected:   expected,
		Actual:     actual,
	}
}

// Insert stores a new entity. It fails with ErrConcurrencyViolation when a
// document with the same identity exists.
func (s *Store) Insert(ctx context.Context, ent entity.Entity) error {
	if !s.writable("insert") {
		return nil
	}
	defer s.metrics.EntityWriteDuration(ent.EntityType(), "insert").ObserveDuration()

	s.prepare(ent)
	body, err := s.encode(ent)
	if err != nil {
		return err
	}

	res, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO documents (entity_type, id, body, concurrency_version, schema_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO NOTHING
	`, ent.EntityType(), ent.GetID(), body, ent.GetConcurrencyVersion(), ent.GetSchemaVersion())
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", ent.EntityType(), ent.GetID(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.conflict(ctx, s.db.DB(), ent, 0)
	}
	return nil
}

// Upsert inserts ent when absent and otherwise updates it under the same
// concurrency check as Update.
func (s *Store) Upsert(ctx context.Context, ent entity.Entity) error {
	if !s.writable("upsert") {
		return nil
	}
	defer s.metrics.EntityWriteDuration(ent.EntityType(), "upsert").ObserveDuration()

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stored, err := storedVersion(ctx, tx, ent.EntityType(), ent.GetID())
		if err != nil {
			return err
		}
		if stored == 0 {
			s.prepare(ent)
			body, err := s.encode(ent)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO documents (entity_type, id, body, concurrency_version, schema_version)
				VALUES (?, ?, ?, ?, ?)
			`, ent.EntityType(), ent.GetID(), body, ent.GetConcurrencyVersion(), ent.GetSchemaVersion())
			if err != nil {
				return fmt.Errorf("upsert %s %s: %w", ent.EntityType(), ent.GetID(), err)
			}
			return nil
		}
		return s.update(ctx, tx, ent)
	})
}

// Update replaces the stored document when its concurrency version equals
// ent's, and increments the version on both.
func (s *Store) Update(ctx context.Context, ent entity.Entity) error {
	if !s.writable("update") {
		return nil
	}
	defer s.metrics.EntityWriteDuration(ent.EntityType(), "update").ObserveDuration()
	return s.update(ctx, s.db.DB(), ent)
}

func (s *Store) update(ctx context.Context, q store.Querier, ent entity.Entity) error {
	expected, schema := ent.GetConcurrencyVersion(), ent.GetSchemaVersion()
	ent.SetConcurrencyVersion(expected + 1)
	ent.SetSchemaVersion(s.migrations.Current(ent.EntityType()))
	revert := func() {
		ent.SetConcurrencyVersion(expected)
		ent.SetSchemaVersion(schema)
	}

	body, err := s.encode(ent)
	if err != nil {
		revert()
		return err
	}

	res, err := q.ExecContext(ctx, `
		UPDATE documents
		SET body = ?, concurrency_version = ?, schema_version = ?
		WHERE entity_type = ? AND id = ? AND concurrency_version = ?
	`, body, expected+1, ent.GetSchemaVersion(), ent.EntityType(), ent.GetID(), expected)
	if err != nil {
		revert()
		return fmt.Errorf("update %s %s: %w", ent.EntityType(), ent.GetID(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		revert()
		return s.conflict(ctx, q, ent, expected)
	}
	return nil
}

// Delete removes the stored document when its concurrency version equals
// ent's.
func (s *Store) Delete(ctx context.Context, ent entity.Entity) error {
	if !s.writable("delete") {
		return nil
	}
	defer s.metrics.EntityWriteDuration(ent.EntityType(), "delete").ObserveDuration()

	res, err := s.db.DB().ExecContext(ctx, `
		DELETE FROM documents
		WHERE entity_type = ? AND id = ? AND concurrency_version = ?
	`, ent.EntityType(), ent.GetID(), ent.GetConcurrencyVersion())
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", ent.EntityType(), ent.GetID(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.conflict(ctx, s.db.DB(), ent, ent.GetConcurrencyVersion())
	}
	return nil
}

// Put writes ent unconditionally, keeping its concurrency version as is.
// Replay projection uses it to re-derive state from recorded events.
func (s *Store) Put(ctx context.Context, ent entity.Entity) error {
	if !s.writable("put") {
		return nil
	}
	defer s.metrics.EntityWriteDuration(ent.EntityType(), "put").ObserveDuration()

	s.prepare(ent)
	body, err := s.encode(ent)
	if err != nil {
		return err
	}
	_, err = s.db.DB().ExecContext(ctx, `
		INSERT INTO documents (entity_type, id, body, concurrency_version, schema_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			body = excluded.body,
			concurrency_version = excluded.concurrency_version,
			schema_version = excluded.schema_version
	`, ent.EntityType(), ent.GetID(), body, ent.GetConcurrencyVersion(), ent.GetSchemaVersion())
	if err != nil {
		return fmt.Errorf("put %s %s: %w", ent.EntityType(), ent.GetID(), err)
	}
	return nil
}

// Remove deletes a document unconditionally.
func (s *Store) Remove(ctx context.Context, entityType, id string) error {
	if !s.writable("remove") {
		return nil
	}
	_, err := s.db.DB().ExecContext(ctx,
		"DELETE FROM documents WHERE entity_type = ? AND id = ?", entityType, id)
	if err != nil {
		return fmt.Errorf("remove %s %s: %w", entityType, id, err)
	}
	return nil
}

// prepare fills in the bookkeeping fields of a document about to be written.
func (s *Store) prepare(ent entity.Entity) {
	if ent.GetConcurrencyVersion() == 0 {
		ent.SetConcurrencyVersion(1)
	}
	ent.SetSchemaVersion(s.migrations.Current(ent.EntityType()))
}

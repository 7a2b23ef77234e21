// Package eventstore is the append-only event log.
//
// Every event is numbered from the durable event_number counter inside the
// same transaction that writes it, so numbers are strictly increasing and
// gap-free. Inserting an event whose id is already stored is a silent no-op.
//
// Personal data is stripped from the payload before it is written and put
// back on every read. Payloads persisted at an older schema version are
// upgraded through the migration chain when read.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/chronicle/internal/entity"
	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/metrics"
	"github.com/roach88/chronicle/internal/migration"
	"github.com/roach88/chronicle/internal/personal"
	"github.com/roach88/chronicle/internal/replay"
	"github.com/roach88/chronicle/internal/sequence"
	"github.com/roach88/chronicle/internal/snapshot"
	"github.com/roach88/chronicle/internal/store"
)

// ErrEventNotFound is returned by GetByID when no event has the given id.
var ErrEventNotFound = errors.New("event not found")

// errDuplicate rolls back the numbering transaction when another writer
// stored the same id first.
var errDuplicate = errors.New("duplicate event")

// Snapshotter is asked after every insert whether a snapshot is due.
// *snapshot.Service implements it.
type Snapshotter interface {
	TakeSnapshotIfNeeded(ctx context.Context, currentEventNumber int64) (*snapshot.Metadata, error)
}

// Store is the event log.
type Store struct {
	db         *store.Store
	entities   *entity.Registry
	migrations *migration.Set
	personal   *personal.Service
	snapshots  Snapshotter
	replay     *replay.Context
	seq        *sequence.Generator
	enabled    bool
	log        *slog.Logger
	metrics    metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithEnabled toggles inserts. A disabled store silently ignores them.
func WithEnabled(enabled bool) Option {
	return func(s *Store) { s.enabled = enabled }
}

// WithMigrations sets the migration chain used to stamp and upgrade payloads.
func WithMigrations(m *migration.Set) Option {
	return func(s *Store) { s.migrations = m }
}

// WithPersonalData strips personal data on insert and restores it on read.
func WithPersonalData(p *personal.Service) Option {
	return func(s *Store) { s.personal = p }
}

// WithSnapshots consults sn after every insert.
func WithSnapshots(sn Snapshotter) Option {
	return func(s *Store) { s.snapshots = sn }
}

// WithReplayContext diverts inserts into the sandbox buffer during Sandbox
// replays.
func WithReplayContext(rc *replay.Context) Option {
	return func(s *Store) { s.replay = rc }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

func WithMetrics(m metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates an event store on db. entities must hold every entity type
// whose events are inserted or read.
func New(db *store.Store, entities *entity.Registry, opts ...Option) *Store {
	s := &Store{
		db:         db,
		entities:   entities,
		migrations: migration.NewSet(),
		seq:        sequence.New(sequence.EventNumbers),
		enabled:    true,
		log:        slog.Default(),
		metrics:    metrics.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "eventstore"))
	return s
}

// Enabled reports whether inserts are applied.
func (s *Store) Enabled() bool {
	return s.enabled
}

// InsertEvent appends e to the log and sets e.EventNumber.
//
// Callers write the entity store before inserting the event: a snapshot due
// at e's number is taken here and must already contain e's effect. While a
// replay runs, the replayer takes snapshots itself once each event is
// projected.
//
// During a Sandbox replay the event goes to the replay buffer instead,
// numbered after the durable log when it carries no number yet. The caller's
// entity is never modified: personal data is stripped from a copy.
func (s *Store) InsertEvent(ctx context.Context, e *event.Event) error {
	if !s.enabled {
		s.log.Debug("event store disabled, insert skipped")
		return nil
	}
	if err := e.Validate(); err != nil {
		return err
	}
	entityType := e.EntityType()
	if !s.entities.Has(entityType) {
		return fmt.Errorf("%w: entity type %q is not registered", event.ErrInvalidEventShape, entityType)
	}

	if s.replay != nil && s.replay.IsSandboxed() {
		return s.buffer(ctx, e)
	}

	defer s.metrics.EventInsertDuration(entityType).ObserveDuration()

	exists, err := s.exists(ctx, e.ID)
	if err != nil {
		return err
	}
	if exists {
		s.metrics.DuplicateEvent(entityType)
		s.log.Debug("duplicate event ignored", "event_id", e.ID, "type", e.Type())
		return nil
	}

	stored, err := s.clone(e)
	if err != nil {
		return err
	}
	stored.Entity.SetSchemaVersion(s.migrations.Current(entityType))
	if s.personal != nil {
		if err := s.personal.StripAndStore(ctx, stored); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}
	payload, err := json.Marshal(stored.Entity)
	if err != nil {
		return fmt.Errorf("insert event %s: encode payload: %w", e.ID, err)
	}

	var number int64
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		n, err := s.seq.Next(ctx, tx)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO events
			(id, entity_id, entity_type, kind, occurred_at, transaction_id,
			 event_number, compensation, schema_version, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			e.ID,
			e.EntityID,
			entityType,
			string(e.Kind),
			store.Nanos(e.Timestamp),
			nullable(e.TransactionID),
			n,
			e.Compensation,
			stored.Entity.GetSchemaVersion(),
			string(payload),
		)
		if err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return errDuplicate
		}
		number = n
		return nil
	})
	if errors.Is(err, errDuplicate) {
		s.metrics.DuplicateEvent(entityType)
		s.log.Debug("duplicate event ignored", "event_id", e.ID, "type", e.Type())
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}

	e.EventNumber = number
	s.metrics.EventsInserted(entityType, 1)
	s.log.Info("event inserted", "event_id", e.ID, "type", e.Type(), "event_number", number)

	if s.snapshots != nil && (s.replay == nil || !s.replay.IsReplaying()) {
		if _, err := s.snapshots.TakeSnapshotIfNeeded(ctx, number); err != nil {
			s.log.Error("snapshot after insert failed", "event_number", number, "error", err)
		}
	}
	return nil
}

// buffer appends e to the sandbox buffer of the running replay.
func (s *Store) buffer(ctx context.Context, e *event.Event) error {
	if e.EventNumber == 0 {
		current, err := s.seq.Current(ctx, s.db.DB())
		if err != nil {
			return err
		}
		buffered, err := s.replay.Events()
		if err != nil {
			return err
		}
		e.EventNumber = current + int64(len(buffered)) + 1
	}
	if err := s.replay.AddEvent(e); err != nil {
		return fmt.Errorf("buffer event %s: %w", e.ID, err)
	}
	s.log.Debug("sandbox replay, event buffered", "event_id", e.ID, "event_number", e.EventNumber)
	return nil
}

func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.DB().QueryRowContext(ctx, "SELECT 1 FROM events WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check event %s: %w", id, err)
	}
	return true, nil
}

// clone returns a shallow copy of e carrying a deep copy of its entity.
func (s *Store) clone(e *event.Event) (*event.Event, error) {
	data, err := json.Marshal(e.Entity)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	ent, err := s.entities.New(e.EntityType())
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, ent); err != nil {
		return nil, fmt.Errorf("copy event %s: %w", e.ID, err)
	}
	cp := *e
	cp.Entity = ent
	return &cp, nil
}

// LastEventNumber returns the number of the newest stored event, or 0 when
// the log is empty.
func (s *Store) LastEventNumber(ctx context.Context) (int64, error) {
	return s.seq.Current(ctx, s.db.DB())
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

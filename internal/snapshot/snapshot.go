// Package snapshot materializes the entity store at a given event number so
// that replays can fast-forward instead of starting from the first event.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/roach88/chronicle/internal/canon"
	"github.com/roach88/chronicle/internal/entitystore"
	"github.com/roach88/chronicle/internal/metrics"
	"github.com/roach88/chronicle/internal/store"
)

var (
	// ErrSnapshotNotFound is returned when no snapshot matches a lookup.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrChecksumMismatch is returned when a stored snapshot no longer
	// matches the checksum recorded when it was taken.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
)

// Metadata describes a stored snapshot.
type Metadata struct {
	ID          string    `json:"id"`
	EventNumber int64     `json:"event_number"`
	CreatedAt   time.Time `json:"created_at"`
	Documents   int       `json:"documents"`
	Checksum    string    `json:"checksum"`
}

// Service takes, restores and prunes snapshots.
type Service struct {
	db       *store.Store
	entities *entitystore.Store
	policy   Policy
	now      func() time.Time
	started  time.Time
	log      *slog.Logger
	metrics  metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a snapshot service. The time trigger measures from service
// creation until the first snapshot exists.
func New(db *store.Store, entities *entitystore.Store, policy Policy, opts ...Option) *Service {
	s := &Service{
		db:       db,
		entities: entities,
		policy:   policy,
		now:      time.Now,
		log:      slog.Default(),
		metrics:  metrics.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now().UTC()
	s.log = s.log.With(slog.String("component", "snapshot"))
	return s
}

// Policy returns the configured policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// TakeSnapshotIfNeeded takes a snapshot at currentEventNumber when the
// trigger policy says one is due. It returns nil metadata when none was
// taken.
func (s *Service) TakeSnapshotIfNeeded(ctx context.Context, currentEventNumber int64) (*Metadata, error) {
	if !s.policy.Enabled {
		return nil, nil
	}

	lastNumber, lastTime := int64(0), s.started
	last, err := s.Last(ctx)
	switch {
	case err == nil:
		lastNumber, lastTime = last.EventNumber, last.CreatedAt
	case !errors.Is(err, ErrSnapshotNotFound):
		return nil, err
	}
	if currentEventNumber <= lastNumber {
		return nil, nil
	}

	if !s.policy.due(currentEventNumber, lastNumber, lastTime, s.now().UTC()) {
		return nil, nil
	}
	return s.Take(ctx, currentEventNumber)
}

// Take materializes the entity store tagged with eventNumber, then applies
// retention.
func (s *Service) Take(ctx context.Context, eventNumber int64) (*Metadata, error) {
	defer s.metrics.SnapshotTakeDuration().ObserveDuration()

	var docs []entitystore.Document
	err := s.entities.Dump(ctx, func(d entitystore.Document) error {
		docs = append(docs, d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("take snapshot: %w", err)
	}

	checksum, err := checksumOf(docs)
	if err != nil {
		return nil, fmt.Errorf("take snapshot: %w", err)
	}

	md := &Metadata{
		ID:          gonanoid.Must(),
		EventNumber: eventNumber,
		CreatedAt:   s.now().UTC(),
		Documents:   len(docs),
		Checksum:    checksum,
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (id, event_number, created_at, documents, checksum)
			VALUES (?, ?, ?, ?, ?)
		`, md.ID, md.EventNumber, store.Nanos(md.CreatedAt), md.Documents, md.Checksum)
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO snapshot_documents
				(snapshot_id, entity_type, id, body, concurrency_version, schema_version)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("write snapshot documents: %w", err)
		}
		defer stmt.Close()

		for _, d := range docs {
			if _, err := stmt.ExecContext(ctx, md.ID, d.EntityType, d.ID, string(d.Body), d.ConcurrencyVersion, d.SchemaVersion); err != nil {
				return fmt.Errorf("write snapshot document %s %s: %w", d.EntityType, d.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("snapshot taken", "id", md.ID, "event_number", md.EventNumber, "documents", md.Documents)

	if err := s.applyRetention(ctx); err != nil {
		return md, err
	}
	return md, nil
}

// Restore replaces the entity store with the contents of snapshot id after
// verifying its checksum.
func (s *Service) Restore(ctx context.Context, id string) (*Metadata, error) {
	defer s.metrics.SnapshotRestoreDuration().ObserveDuration()

	md, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	docs, err := s.documents(ctx, id)
	if err != nil {
		return nil, err
	}
	checksum, err := checksumOf(docs)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot %s: %w", id, err)
	}
	if checksum != md.Checksum {
		return nil, fmt.Errorf("%w: snapshot %s", ErrChecksumMismatch, id)
	}

	if err := s.entities.Replace(ctx, docs); err != nil {
		return nil, fmt.Errorf("restore snapshot %s: %w", id, err)
	}
	s.log.Info("snapshot restored", "id", id, "event_number", md.EventNumber, "documents", len(docs))
	return md, nil
}

func (s *Service) documents(ctx context.Context, id string) ([]entitystore.Document, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT entity_type, id, body, concurrency_version, schema_version
		FROM snapshot_documents
		WHERE snapshot_id = ?
		ORDER BY entity_type ASC, id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	defer rows.Close()

	var docs []entitystore.Document
	for rows.Next() {
		var (
			d    entitystore.Document
			body string
		)
		if err := rows.Scan(&d.EntityType, &d.ID, &body, &d.ConcurrencyVersion, &d.SchemaVersion); err != nil {
			return nil, fmt.Errorf("read snapshot %s: %w", id, err)
		}
		d.Body = []byte(body)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	return docs, nil
}

// checksumOf digests documents in the order given, which is always
// (entity type, id).
func checksumOf(docs []entitystore.Document) (string, error) {
	d := canon.NewDigest(canon.DomainSnapshot)
	for _, doc := range docs {
		body, err := canon.Canonicalize(doc.Body)
		if err != nil {
			return "", fmt.Errorf("canonicalize %s %s: %w", doc.EntityType, doc.ID, err)
		}
		d.Add(
			[]byte(doc.EntityType),
			[]byte(doc.ID),
			body,
			[]byte(fmt.Sprint(doc.ConcurrencyVersion)),
			[]byte(fmt.Sprint(doc.SchemaVersion)),
		)
	}
	return d.Sum(), nil
}

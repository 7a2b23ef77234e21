package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/store"
)

const selectEvents = `
	SELECT id, entity_id, entity_type, kind, occurred_at, transaction_id,
	       event_number, compensation, schema_version, payload
	FROM events`

// row is an undecoded events row.
type row struct {
	id, entityID, entityType, kind string
	occurredAt                     int64
	transactionID                  sql.NullString
	eventNumber                    int64
	compensation                   bool
	schemaVersion                  int
	payload                        string
}

// query runs a filtered read ordered by event number. Rows are collected
// before decoding because restoring personal data needs the connection.
func (s *Store) query(ctx context.Context, name, where string, args ...any) ([]*event.Event, error) {
	defer s.metrics.EventQueryDuration(name).ObserveDuration()

	q := selectEvents
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY event_number ASC"

	rows, err := s.db.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events (%s): %w", name, err)
	}
	var raw []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.entityID, &r.entityType, &r.kind, &r.occurredAt,
			&r.transactionID, &r.eventNumber, &r.compensation, &r.schemaVersion, &r.payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	rows.Close()

	events := make([]*event.Event, 0, len(raw))
	for _, r := range raw {
		e, err := s.decode(ctx, r)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (s *Store) decode(ctx context.Context, r row) (*event.Event, error) {
	ent, err := s.entities.New(r.entityType)
	if err != nil {
		return nil, fmt.Errorf("decode event %s: %w", r.id, err)
	}
	if err := s.migrations.Upgrade(r.entityType, r.schemaVersion, []byte(r.payload), ent); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", r.id, err)
	}

	e := &event.Event{
		ID:            r.id,
		EntityID:      r.entityID,
		Timestamp:     store.FromNanos(r.occurredAt),
		TransactionID: r.transactionID.String,
		EventNumber:   r.eventNumber,
		Compensation:  r.compensation,
		Kind:          event.Kind(r.kind),
		Entity:        ent,
	}
	if s.personal != nil {
		if err := s.personal.Restore(ctx, e); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", r.id, err)
		}
	}
	return e, nil
}

// GetByID returns the event with the given id or ErrEventNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*event.Event, error) {
	events, err := s.query(ctx, "by_id", "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return events[0], nil
}

// GetAll returns every event.
func (s *Store) GetAll(ctx context.Context) ([]*event.Event, error) {
	return s.query(ctx, "all", "")
}

// GetUntil returns events that occurred at or before until.
func (s *Store) GetUntil(ctx context.Context, until time.Time) ([]*event.Event, error) {
	return s.query(ctx, "until", "occurred_at <= ?", store.Nanos(until))
}

// GetFrom returns events that occurred at or after from.
func (s *Store) GetFrom(ctx context.Context, from time.Time) ([]*event.Event, error) {
	return s.query(ctx, "from", "occurred_at >= ?", store.Nanos(from))
}

// GetBetween returns events that occurred in [from, until].
func (s *Store) GetBetween(ctx context.Context, from, until time.Time) ([]*event.Event, error) {
	return s.query(ctx, "between", "occurred_at >= ? AND occurred_at <= ?",
		store.Nanos(from), store.Nanos(until))
}

// GetByEntity returns every event of one entity.
func (s *Store) GetByEntity(ctx context.Context, entityID string) ([]*event.Event, error) {
	return s.query(ctx, "by_entity", "entity_id = ?", entityID)
}

func (s *Store) GetByEntityUntil(ctx context.Context, entityID string, until time.Time) ([]*event.Event, error) {
	return s.query(ctx, "by_entity_until", "entity_id = ? AND occurred_at <= ?",
		entityID, store.Nanos(until))
}

func (s *Store) GetByEntityFrom(ctx context.Context, entityID string, from time.Time) ([]*event.Event, error) {
	return s.query(ctx, "by_entity_from", "entity_id = ? AND occurred_at >= ?",
		entityID, store.Nanos(from))
}

func (s *Store) GetByEntityBetween(ctx context.Context, entityID string, from, until time.Time) ([]*event.Event, error) {
	return s.query(ctx, "by_entity_between", "entity_id = ? AND occurred_at >= ? AND occurred_at <= ?",
		entityID, store.Nanos(from), store.Nanos(until))
}

// GetFromEventNumber returns events numbered n or higher.
func (s *Store) GetFromEventNumber(ctx context.Context, n int64) ([]*event.Event, error) {
	return s.query(ctx, "from_number", "event_number >= ?", n)
}

// GetUntilEventNumber returns events numbered n or lower.
func (s *Store) GetUntilEventNumber(ctx context.Context, n int64) ([]*event.Event, error) {
	return s.query(ctx, "until_number", "event_number <= ?", n)
}

// GetBetweenEventNumbers returns events numbered in [from, until].
func (s *Store) GetBetweenEventNumbers(ctx context.Context, from, until int64) ([]*event.Event, error) {
	return s.query(ctx, "between_numbers", "event_number >= ? AND event_number <= ?", from, until)
}

// GetByTransaction returns the events written under one transaction id.
func (s *Store) GetByTransaction(ctx context.Context, transactionID string) ([]*event.Event, error) {
	return s.query(ctx, "by_transaction", "transaction_id = ?", transactionID)
}

// Header is the undecoded summary of a stored event.
type Header struct {
	EventNumber   int64     `json:"event_number"`
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Kind          string    `json:"kind"`
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Compensation  bool      `json:"compensation,omitempty"`
	SchemaVersion int       `json:"schema_version"`
}

// Headers lists up to limit events numbered above after without decoding
// their payloads. A limit of 0 or less means no limit.
func (s *Store) Headers(ctx context.Context, after int64, limit int) ([]Header, error) {
	defer s.metrics.EventQueryDuration("headers").ObserveDuration()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT event_number, id, entity_type, entity_id, kind, occurred_at,
		       transaction_id, compensation, schema_version
		FROM events
		WHERE event_number > ?
		ORDER BY event_number ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query event headers: %w", err)
	}
	defer rows.Close()

	headers := []Header{}
	for rows.Next() {
		var (
			h          Header
			occurredAt int64
			txID       sql.NullString
		)
		if err := rows.Scan(&h.EventNumber, &h.ID, &h.EntityType, &h.EntityID, &h.Kind,
			&occurredAt, &txID, &h.Compensation, &h.SchemaVersion); err != nil {
			return nil, fmt.Errorf("scan event header: %w", err)
		}
		h.Timestamp = store.FromNanos(occurredAt)
		h.TransactionID = txID.String
		h.Type = event.TypeName(h.EntityType, event.Kind(h.Kind))
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event headers: %w", err)
	}
	return headers, nil
}

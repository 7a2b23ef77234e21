package personal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/chronicle/internal/store"
)

// Store persists personal-data records keyed by event id.
type Store struct {
	db      *store.Store
	enabled bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithEnabled toggles the store. A disabled store accepts writes without
// persisting anything and reports every record as absent.
func WithEnabled(enabled bool) StoreOption {
	return func(s *Store) { s.enabled = enabled }
}

// NewStore creates a personal-data store on db.
func NewStore(db *store.Store, opts ...StoreOption) *Store {
	s := &Store{db: db, enabled: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether the store persists records.
func (s *Store) Enabled() bool {
	return s.enabled
}

// Put stores rec for eventID, replacing any previous record.
func (s *Store) Put(ctx context.Context, eventID string, rec Record) error {
	if !s.enabled {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode personal data for %s: %w", eventID, err)
	}
	_, err = s.db.DB().ExecContext(ctx, `
		INSERT INTO personal_data (event_id, fields) VALUES (?, ?)
		ON CONFLICT(event_id) DO UPDATE SET fields = excluded.fields
	`, eventID, string(data))
	if err != nil {
		return fmt.Errorf("write personal data for %s: %w", eventID, err)
	}
	return nil
}

// Get returns the record for eventID. ok is false when none exists.
func (s *Store) Get(ctx context.Context, eventID string) (rec Record, ok bool, err error) {
	if !s.enabled {
		return nil, false, nil
	}
	var data string
	err = s.db.DB().QueryRowContext(ctx,
		"SELECT fields FROM personal_data WHERE event_id = ?", eventID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read personal data for %s: %w", eventID, err)
	}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, false, fmt.Errorf("decode personal data for %s: %w", eventID, err)
	}
	return rec, true, nil
}

// Delete removes the record for eventID.
func (s *Store) Delete(ctx context.Context, eventID string) error {
	if !s.enabled {
		return nil
	}
	_, err := s.db.DB().ExecContext(ctx, "DELETE FROM personal_data WHERE event_id = ?", eventID)
	if err != nil {
		return fmt.Errorf("delete personal data for %s: %w", eventID, err)
	}
	return nil
}

package personal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/chronicle/internal/event"
)

// Service strips personal data before events are written and restores it
// after they are read.
type Service struct {
	store *Store
	log   *slog.Logger
}

// NewService creates a Service backed by st. A nil logger uses slog.Default.
func NewService(st *Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, log: log.With(slog.String("component", "personal"))}
}

// StripAndStore captures every tagged field of the event's entity under its
// path, clears it, and persists the captured values keyed by the event id.
// It is a no-op when the store is disabled or the entity carries no
// personal data.
func (s *Service) StripAndStore(ctx context.Context, e *event.Event) error {
	if !s.store.Enabled() || e == nil || e.Entity == nil {
		return nil
	}
	fields := Fields(e.Entity)
	if len(fields) == 0 {
		return nil
	}

	rec := make(Record, len(fields))
	for _, f := range fields {
		raw, err := f.capture()
		if err != nil {
			return fmt.Errorf("capture %s on event %s: %w", f.Path, e.ID, err)
		}
		rec[f.Path] = raw
	}
	if err := s.store.Put(ctx, e.ID, rec); err != nil {
		return err
	}
	for _, f := range fields {
		f.clear()
	}
	return nil
}

// Restore sets every tagged field whose path is present in the event's
// record. Paths missing from the record are skipped and the field keeps its
// stripped value.
func (s *Service) Restore(ctx context.Context, e *event.Event) error {
	if !s.store.Enabled() || e == nil || e.Entity == nil {
		return nil
	}
	fields := Fields(e.Entity)
	if len(fields) == 0 {
		return nil
	}

	rec, ok, err := s.store.Get(ctx, e.ID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for _, f := range fields {
		raw, ok := rec[f.Path]
		if !ok {
			s.log.Debug("personal data path absent", "event_id", e.ID, "path", f.Path)
			continue
		}
		if err := f.restore(raw); err != nil {
			return fmt.Errorf("restore %s on event %s: %w", f.Path, e.ID, err)
		}
	}
	return nil
}

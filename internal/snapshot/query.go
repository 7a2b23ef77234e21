package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/chronicle/internal/store"
)

const selectMetadata = `SELECT id, event_number, created_at, documents, checksum FROM snapshots`

func scanMetadata(row interface{ Scan(...any) error }) (*Metadata, error) {
	var (
		md      Metadata
		created int64
	)
	if err := row.Scan(&md.ID, &md.EventNumber, &created, &md.Documents, &md.Checksum); err != nil {
		return nil, err
	}
	md.CreatedAt = store.FromNanos(created)
	return &md, nil
}

func (s *Service) one(ctx context.Context, what, query string, args ...any) (*Metadata, error) {
	md, err := scanMetadata(s.db.DB().QueryRowContext(ctx, selectMetadata+" "+query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, what)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot (%s): %w", what, err)
	}
	return md, nil
}

// Get returns the metadata of snapshot id.
func (s *Service) Get(ctx context.Context, id string) (*Metadata, error) {
	return s.one(ctx, "id "+id, "WHERE id = ?", id)
}

// Last returns the snapshot with the highest event number.
func (s *Service) Last(ctx context.Context) (*Metadata, error) {
	return s.one(ctx, "latest", "ORDER BY event_number DESC, created_at DESC LIMIT 1")
}

// LastID returns the id of the latest snapshot, or "" when none exists.
func (s *Service) LastID(ctx context.Context) (string, error) {
	md, err := s.Last(ctx)
	if errors.Is(err, ErrSnapshotNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return md.ID, nil
}

// LatestBefore returns the latest snapshot taken at or before eventNumber.
func (s *Service) LatestBefore(ctx context.Context, eventNumber int64) (*Metadata, error) {
	return s.one(ctx, fmt.Sprintf("at or before event %d", eventNumber),
		"WHERE event_number <= ? ORDER BY event_number DESC, created_at DESC LIMIT 1", eventNumber)
}

// LatestBeforeTime returns the latest snapshot created at or before t.
func (s *Service) LatestBeforeTime(ctx context.Context, t time.Time) (*Metadata, error) {
	return s.one(ctx, "at or before "+t.UTC().Format(time.RFC3339),
		"WHERE created_at <= ? ORDER BY event_number DESC, created_at DESC LIMIT 1", store.Nanos(t))
}

// All returns every snapshot ordered by event number.
func (s *Service) All(ctx context.Context) ([]*Metadata, error) {
	rows, err := s.db.DB().QueryContext(ctx, selectMetadata+" ORDER BY event_number ASC, created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*Metadata
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		out = append(out, md)
	}
	return out, rows.Err()
}

// Delete removes snapshot id and its documents.
func (s *Service) Delete(ctx context.Context, id string) error {
	res, err := s.db.DB().ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %s", ErrSnapshotNotFound, id)
	}
	return nil
}

// applyRetention deletes snapshots the retention policy no longer keeps.
func (s *Service) applyRetention(ctx context.Context) error {
	var (
		res sql.Result
		err error
	)
	switch s.policy.Retention {
	case RetainCount:
		res, err = s.db.DB().ExecContext(ctx, `
			DELETE FROM snapshots WHERE id NOT IN (
				SELECT id FROM snapshots
				ORDER BY event_number DESC, created_at DESC
				LIMIT ?
			)
		`, s.policy.MaxCount)
	case RetainTime:
		cutoff := s.now().UTC().AddDate(0, 0, -s.policy.MaxAgeDays)
		res, err = s.db.DB().ExecContext(ctx,
			"DELETE FROM snapshots WHERE created_at < ?", store.Nanos(cutoff))
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply snapshot retention: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.metrics.SnapshotsPruned(int(n))
		s.log.Info("snapshots pruned", "count", n, "retention", string(s.policy.Retention))
	}
	return nil
}

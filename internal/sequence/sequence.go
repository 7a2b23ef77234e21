// Package sequence issues strictly increasing, gap-free numbers from a
// named counter row.
//
// The increment is a single atomic statement. Callers run it inside the
// same transaction as the write that consumes the number, so a rolled-back
// write also rolls back the increment and no gap appears.
package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/chronicle/internal/store"
)

// EventNumbers is the counter that numbers the event log.
const EventNumbers = "event_number"

// Generator hands out numbers from one named counter.
type Generator struct {
	name string
}

// New returns a generator for the named counter.
func New(name string) *Generator {
	return &Generator{name: name}
}

// Name returns the counter name.
func (g *Generator) Name() string {
	return g.name
}

// Next increments the counter and returns the new value. The first call
// returns 1.
func (g *Generator) Next(ctx context.Context, q store.Querier) (int64, error) {
	var value int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, g.name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next %s: %w", g.name, err)
	}
	return value, nil
}

// Current returns the last issued value, or 0 if none was issued yet.
func (g *Generator) Current(ctx context.Context, q store.Querier) (int64, error) {
	var value int64
	err := q.QueryRowContext(ctx,
		"SELECT value FROM counters WHERE name = ?", g.name,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("current %s: %w", g.name, err)
	}
	return value, nil
}

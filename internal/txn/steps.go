package txn

import (
	"context"

	"github.com/roach88/chronicle/internal/entity"
	"github.com/roach88/chronicle/internal/event"
)

// EventInserter is the part of the event store a transaction writes through.
type EventInserter interface {
	InsertEvent(ctx context.Context, e *event.Event) error
}

// EnlistEvent queues the insert of e under the active transaction id. Its
// rollback inserts the compensating event carrying restore, the state the
// entity should have once e is undone.
func (m *Manager) EnlistEvent(events EventInserter, e *event.Event, restore entity.Entity) error {
	if !m.active {
		return ErrNoActiveTransaction
	}
	e.TransactionID = m.id
	return m.Enlist(
		func(ctx context.Context) error {
			return events.InsertEvent(ctx, e)
		},
		func(ctx context.Context) error {
			return events.InsertEvent(ctx, event.Compensating(e, restore))
		},
	)
}

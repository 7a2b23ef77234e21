package replayer

import (
	"context"
	"fmt"

	"github.com/roach88/chronicle/internal/entitystore"
	"github.com/roach88/chronicle/internal/event"
)

// Handler receives every replayed event after the event store has seen it.
type Handler interface {
	Handle(ctx context.Context, e *event.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e *event.Event) error

func (f HandlerFunc) Handle(ctx context.Context, e *event.Event) error {
	return f(ctx, e)
}

// Projector re-derives the entity store from events: creates and updates
// write the carried entity, deletes remove it.
type Projector struct {
	Entities *entitystore.Store
}

// Handle implements Handler.
func (p Projector) Handle(ctx context.Context, e *event.Event) error {
	switch e.Kind {
	case event.KindCreate, event.KindUpdate:
		return p.Entities.Put(ctx, e.Entity)
	case event.KindDelete:
		return p.Entities.Remove(ctx, e.EntityType(), e.EntityID)
	}
	return fmt.Errorf("%w: unknown kind %q", event.ErrInvalidEventShape, e.Kind)
}

// Package event defines the immutable facts appended to the event log.
//
// Events form a closed set of kinds: Create, Update and Delete. Each carries
// a copy of the entity at the moment the event was built, so later changes
// to the caller's aggregate never leak into a recorded event.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/chronicle/internal/entity"
)

// ErrInvalidEventShape is returned when an event does not conform to the
// expected record shape.
var ErrInvalidEventShape = errors.New("invalid event shape")

// Kind discriminates the event variants.
type Kind string

const (
	KindCreate Kind = "Create"
	KindUpdate Kind = "Update"
	KindDelete Kind = "Delete"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Inverse returns the kind that compensates k.
func (k Kind) Inverse() Kind {
	switch k {
	case KindCreate:
		return KindDelete
	case KindDelete:
		return KindCreate
	}
	return k
}

func (k Kind) pastTense() string {
	switch k {
	case KindCreate:
		return "Created"
	case KindUpdate:
		return "Updated"
	case KindDelete:
		return "Deleted"
	}
	return string(k)
}

// Event is an immutable, sequence-numbered fact about an entity.
type Event struct {
	ID            string
	EntityID      string
	Timestamp     time.Time
	TransactionID string // empty when not part of a transaction
	EventNumber   int64  // assigned by the event store, 0 until inserted
	Compensation  bool
	Kind          Kind
	Entity        entity.Entity
}

// Option configures an event under construction.
type Option func(*Event)

// WithID overrides the generated event id.
func WithID(id string) Option {
	return func(e *Event) { e.ID = id }
}

// WithTimestamp overrides the event time.
func WithTimestamp(t time.Time) Option {
	return func(e *Event) { e.Timestamp = t.UTC() }
}

// WithTransaction ties the event to a transaction id.
func WithTransaction(id string) Option {
	return func(e *Event) { e.TransactionID = id }
}

// NewCreate records the creation of ent.
func NewCreate[T any, PT interface {
	*T
	entity.Entity
}](ent PT, opts ...Option) *Event {
	return newEvent[T, PT](KindCreate, ent, opts)
}

// NewUpdate records an update of ent.
func NewUpdate[T any, PT interface {
	*T
	entity.Entity
}](ent PT, opts ...Option) *Event {
	return newEvent[T, PT](KindUpdate, ent, opts)
}

// NewDelete records the deletion of ent.
func NewDelete[T any, PT interface {
	*T
	entity.Entity
}](ent PT, opts ...Option) *Event {
	return newEvent[T, PT](KindDelete, ent, opts)
}

func newEvent[T any, PT interface {
	*T
	entity.Entity
}](kind Kind, ent PT, opts []Option) *Event {
	cp := new(T)
	*cp = *ent

	e := &Event{
		ID:        entity.NewID(),
		EntityID:  ent.GetID(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Entity:    PT(cp),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compensating builds the event that undoes prior. state is the entity as it
// should be after compensation: the pre-update value for an update, the
// deleted value for a delete, or the created value for a create.
func Compensating(prior *Event, state entity.Entity, opts ...Option) *Event {
	e := &Event{
		ID:            entity.NewID(),
		EntityID:      prior.EntityID,
		Timestamp:     time.Now().UTC(),
		TransactionID: prior.TransactionID,
		Compensation:  true,
		Kind:          prior.Kind.Inverse(),
		Entity:        state,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EntityType returns the type name of the carried entity.
func (e *Event) EntityType() string {
	if e.Entity == nil {
		return ""
	}
	return e.Entity.EntityType()
}

// Type returns the event type name, e.g. "CustomerUpdated".
func (e *Event) Type() string {
	return TypeName(e.EntityType(), e.Kind)
}

// TypeName builds the event type name for a kind of change to entityType.
func TypeName(entityType string, k Kind) string {
	return entityType + k.pastTense()
}

// Validate checks the record shape.
func (e *Event) Validate() error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil event", ErrInvalidEventShape)
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEventShape)
	case !e.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEventShape, e.Kind)
	case e.Entity == nil:
		return fmt.Errorf("%w: event %s carries no entity", ErrInvalidEventShape, e.ID)
	case e.EntityID == "":
		return fmt.Errorf("%w: event %s has no entity id", ErrInvalidEventShape, e.ID)
	case e.EntityID != e.Entity.GetID():
		return fmt.Errorf("%w: event %s entity id %q does not match payload id %q",
			ErrInvalidEventShape, e.ID, e.EntityID, e.Entity.GetID())
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: event %s has no timestamp", ErrInvalidEventShape, e.ID)
	}
	return nil
}

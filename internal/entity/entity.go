// Package entity defines the contract every persisted aggregate satisfies
// and the registry that maps stored type names back to Go types.
package entity

import (
	"github.com/google/uuid"
)

// Entity is a mutable, identity-bearing projection of current state.
//
// The identity never changes after creation. The concurrency version starts
// at 1 and is incremented by the entity store on every successful update.
// The schema version records the shape the entity was last persisted in.
type Entity interface {
	EntityType() string
	GetID() string
	GetConcurrencyVersion() int
	SetConcurrencyVersion(int)
	GetSchemaVersion() int
	SetSchemaVersion(int)
}

// Base carries the bookkeeping fields of an Entity. Embed it in aggregate
// structs and implement EntityType on the outer type.
type Base struct {
	ID                 string `json:"id"`
	ConcurrencyVersion int    `json:"concurrencyVersion"`
	SchemaVersion      int    `json:"schemaVersion"`
}

// NewBase returns a Base with a fresh UUIDv7 identity at version 1.
func NewBase() Base {
	return Base{ID: NewID(), ConcurrencyVersion: 1, SchemaVersion: 1}
}

// NewID returns a new UUIDv7 string. UUIDv7 ids sort by creation time.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (b *Base) GetID() string               { return b.ID }
func (b *Base) GetConcurrencyVersion() int  { return b.ConcurrencyVersion }
func (b *Base) SetConcurrencyVersion(v int) { b.ConcurrencyVersion = v }
func (b *Base) GetSchemaVersion() int       { return b.SchemaVersion }
func (b *Base) SetSchemaVersion(v int)      { b.SchemaVersion = v }

// TypeName returns the entity type name of T without needing an instance.
func TypeName[T any, PT interface {
	*T
	Entity
}]() string {
	return PT(new(T)).EntityType()
}

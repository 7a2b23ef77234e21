package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/entity"
)

type account struct {
	entity.Base
	Owner string `json:"owner"`
}

func (*account) EntityType() string { return "Account" }

func TestNewCreateCopiesEntity(t *testing.T) {
	a := &account{Base: entity.NewBase(), Owner: "Ada"}
	e := NewCreate(a)

	a.Owner = "changed"

	got, ok := e.Entity.(*account)
	require.True(t, ok)
	assert.Equal(t, "Ada", got.Owner)
	assert.NotSame(t, a, got)
	assert.Equal(t, a.ID, e.EntityID)
	assert.Equal(t, KindCreate, e.Kind)
	assert.Zero(t, e.EventNumber)
	assert.NoError(t, e.Validate())
}

func TestEventType(t *testing.T) {
	a := &account{Base: entity.NewBase()}
	assert.Equal(t, "AccountCreated", NewCreate(a).Type())
	assert.Equal(t, "AccountUpdated", NewUpdate(a).Type())
	assert.Equal(t, "AccountDeleted", NewDelete(a).Type())
}

func TestOptions(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := &account{Base: entity.NewBase()}
	e := NewUpdate(a, WithID("evt-1"), WithTimestamp(ts), WithTransaction("tx-1"))

	assert.Equal(t, "evt-1", e.ID)
	assert.Equal(t, ts, e.Timestamp)
	assert.Equal(t, "tx-1", e.TransactionID)
}

func TestValidate(t *testing.T) {
	a := &account{Base: entity.NewBase()}
	valid := func() *Event { return NewCreate(a) }

	tests := []struct {
		name   string
		mutate func(*Event) *Event
	}{
		{"nil", func(*Event) *Event { return nil }},
		{"missing id", func(e *Event) *Event { e.ID = ""; return e }},
		{"unknown kind", func(e *Event) *Event { e.Kind = "Merge"; return e }},
		{"no entity", func(e *Event) *Event { e.Entity = nil; return e }},
		{"no entity id", func(e *Event) *Event { e.EntityID = ""; return e }},
		{"mismatched entity id", func(e *Event) *Event { e.EntityID = "other"; return e }},
		{"no timestamp", func(e *Event) *Event { e.Timestamp = time.Time{}; return e }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(valid()).Validate()
			assert.ErrorIs(t, err, ErrInvalidEventShape)
		})
	}
}

func TestCompensating(t *testing.T) {
	a := &account{Base: entity.NewBase(), Owner: "Ada"}
	created := NewCreate(a, WithTransaction("tx-1"))

	comp := Compensating(created, created.Entity)
	assert.True(t, comp.Compensation)
	assert.Equal(t, KindDelete, comp.Kind)
	assert.Equal(t, "tx-1", comp.TransactionID)
	assert.Equal(t, a.ID, comp.EntityID)
	assert.NotEqual(t, created.ID, comp.ID)
	assert.NoError(t, comp.Validate())
}

func TestKindInverse(t *testing.T) {
	assert.Equal(t, KindDelete, KindCreate.Inverse())
	assert.Equal(t, KindCreate, KindDelete.Inverse())
	assert.Equal(t, KindUpdate, KindUpdate.Inverse())
}

package entity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Base
	Label string `json:"label"`
}

func (*widget) EntityType() string { return "Widget" }

type gadget struct {
	Base
}

func (*gadget) EntityType() string { return "Gadget" }

func TestNewBase(t *testing.T) {
	b := NewBase()

	parsed, err := uuid.Parse(b.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Equal(t, 1, b.ConcurrencyVersion)
	assert.Equal(t, 1, b.SchemaVersion)
}

func TestBaseAccessors(t *testing.T) {
	w := &widget{Base: NewBase()}
	var e Entity = w

	e.SetConcurrencyVersion(4)
	e.SetSchemaVersion(2)
	assert.Equal(t, 4, w.ConcurrencyVersion)
	assert.Equal(t, 2, w.SchemaVersion)
	assert.Equal(t, w.ID, e.GetID())
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "Widget", TypeName[widget]())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	Register[widget](r)
	Register[gadget](r)

	assert.True(t, r.Has("Widget"))
	assert.False(t, r.Has("Gizmo"))
	assert.Equal(t, []string{"Gadget", "Widget"}, r.Types())

	e, err := r.New("Widget")
	require.NoError(t, err)
	_, ok := e.(*widget)
	assert.True(t, ok, "expected *widget, got %T", e)

	_, err = r.New("Gizmo")
	assert.Error(t, err)
}

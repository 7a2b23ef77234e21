package personal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/entity"
	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/store/storetest"
)

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type address struct {
	Street   string   `json:"street"`
	City     string   `json:"city"`
	Location location `json:"location"`
}

func (a *address) PersonalData() []Field {
	return append([]Field{Of("Street", &a.Street)},
		Nest("Location", Of("Latitude", &a.Location.Latitude))...)
}

type member struct {
	entity.Base
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Tier    string  `json:"tier"`
	Address address `json:"address"`
}

func (*member) EntityType() string { return "Member" }

func (m *member) PersonalData() []Field {
	return append([]Field{
		Of("Name", &m.Name),
		Of("Email", &m.Email),
	}, Nest("Address", m.Address.PersonalData()...)...)
}

type plain struct {
	entity.Base
	Label string `json:"label"`
}

func (*plain) EntityType() string { return "Plain" }

func newMember() *member {
	return &member{
		Base:  entity.NewBase(),
		Name:  "Ada Lovelace",
		Email: "ada@example.com",
		Tier:  "gold",
		Address: address{
			Street:   "12 St James's Square",
			City:     "London",
			Location: location{Latitude: 51.5074, Longitude: -0.1347},
		},
	}
}

func TestNestPaths(t *testing.T) {
	m := newMember()
	var paths []string
	for _, f := range m.PersonalData() {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"Name", "Email", "Address.Street", "Address.Location.Latitude"}, paths)
}

func TestStripAndRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewStore(storetest.Open(t)), nil)

	original := newMember()
	e := event.NewCreate(original)

	require.NoError(t, svc.StripAndStore(ctx, e))

	stripped := e.Entity.(*member)
	assert.Empty(t, stripped.Name)
	assert.Empty(t, stripped.Email)
	assert.Empty(t, stripped.Address.Street)
	assert.Zero(t, stripped.Address.Location.Latitude)
	assert.Equal(t, "gold", stripped.Tier, "untagged field kept")
	assert.Equal(t, "London", stripped.Address.City, "untagged nested field kept")
	assert.Equal(t, -0.1347, stripped.Address.Location.Longitude)
	assert.Equal(t, "Ada Lovelace", original.Name, "caller's aggregate untouched")

	rec, ok, err := svc.store.Get(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Record{
		"Name":                      json.RawMessage(`"Ada Lovelace"`),
		"Email":                     json.RawMessage(`"ada@example.com"`),
		"Address.Street":            json.RawMessage(`"12 St James's Square"`),
		"Address.Location.Latitude": json.RawMessage(`51.5074`),
	}, rec)

	// A freshly rehydrated entity, as read back from the event log.
	body, err := json.Marshal(stripped)
	require.NoError(t, err)
	fresh := &member{}
	require.NoError(t, json.Unmarshal(body, fresh))
	readBack := &event.Event{ID: e.ID, EntityID: e.EntityID, Kind: e.Kind, Entity: fresh}

	require.NoError(t, svc.Restore(ctx, readBack))
	assert.Equal(t, original, fresh)
}

func TestRestoreSkipsAbsentPaths(t *testing.T) {
	ctx := context.Background()
	st := NewStore(storetest.Open(t))
	svc := NewService(st, nil)

	m := &member{Base: entity.NewBase()}
	e := &event.Event{ID: "evt-1", EntityID: m.ID, Kind: event.KindCreate, Entity: m}
	require.NoError(t, st.Put(ctx, "evt-1", Record{"Name": json.RawMessage(`"Grace"`)}))

	require.NoError(t, svc.Restore(ctx, e))
	assert.Equal(t, "Grace", m.Name)
	assert.Empty(t, m.Email)
}

func TestRestoreWithoutRecord(t *testing.T) {
	svc := NewService(NewStore(storetest.Open(t)), nil)
	m := &member{Base: entity.NewBase()}
	e := &event.Event{ID: "evt-1", EntityID: m.ID, Kind: event.KindCreate, Entity: m}

	require.NoError(t, svc.Restore(context.Background(), e))
	assert.Empty(t, m.Name)
}

func TestStripNoPersonalData(t *testing.T) {
	ctx := context.Background()
	st := NewStore(storetest.Open(t))
	svc := NewService(st, nil)

	e := event.NewCreate(&plain{Base: entity.NewBase(), Label: "x"})
	require.NoError(t, svc.StripAndStore(ctx, e))

	_, ok, err := st.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "x", e.Entity.(*plain).Label)
}

func TestStripDisabled(t *testing.T) {
	ctx := context.Background()
	st := NewStore(storetest.Open(t), WithEnabled(false))
	svc := NewService(st, nil)

	e := event.NewCreate(newMember())
	require.NoError(t, svc.StripAndStore(ctx, e))
	assert.Equal(t, "Ada Lovelace", e.Entity.(*member).Name)

	_, ok, err := st.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	st := NewStore(storetest.Open(t))

	require.NoError(t, st.Put(ctx, "evt-1", Record{"Name": json.RawMessage(`"A"`)}))
	require.NoError(t, st.Put(ctx, "evt-1", Record{"Email": json.RawMessage(`"b@x"`)}))

	rec, ok, err := st.Get(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Record{"Email": json.RawMessage(`"b@x"`)}, rec)

	require.NoError(t, st.Delete(ctx, "evt-1"))
	_, ok, err = st.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

package txn

import (
	"github.com/roach88/chronicle/internal/entity"
)

// tracked holds entities per type, once per id, in first-tracked order.
type tracked struct {
	byType map[string][]entity.Entity
	index  map[string]map[string]int
}

func newTracked() *tracked {
	return &tracked{
		byType: make(map[string][]entity.Entity),
		index:  make(map[string]map[string]int),
	}
}

// add records ent; a later add of the same id replaces the earlier value.
func (t *tracked) add(ent entity.Entity) {
	typ := ent.EntityType()
	ids, ok := t.index[typ]
	if !ok {
		ids = make(map[string]int)
		t.index[typ] = ids
	}
	if i, ok := ids[ent.GetID()]; ok {
		t.byType[typ][i] = ent
		return
	}
	ids[ent.GetID()] = len(t.byType[typ])
	t.byType[typ] = append(t.byType[typ], ent)
}

func (t *tracked) of(entityType string) []entity.Entity {
	out := make([]entity.Entity, len(t.byType[entityType]))
	copy(out, t.byType[entityType])
	return out
}

// TrackUpserted records ent as written by the active transaction.
func (m *Manager) TrackUpserted(ent entity.Entity) error {
	if !m.active {
		return ErrNoActiveTransaction
	}
	m.upserted.add(ent)
	return nil
}

// TrackDeleted records ent as deleted by the active transaction.
func (m *Manager) TrackDeleted(ent entity.Entity) error {
	if !m.active {
		return ErrNoActiveTransaction
	}
	m.deleted.add(ent)
	return nil
}

// Upserted returns the tracked upserts of entityType.
func (m *Manager) Upserted(entityType string) []entity.Entity {
	return m.upserted.of(entityType)
}

// Deleted returns the tracked deletions of entityType.
func (m *Manager) Deleted(entityType string) []entity.Entity {
	return m.deleted.of(entityType)
}

// UpsertedOf returns the tracked upserts of T.
func UpsertedOf[T any, PT interface {
	*T
	entity.Entity
}](m *Manager) []PT {
	return typed[T, PT](m.upserted)
}

// DeletedOf returns the tracked deletions of T.
func DeletedOf[T any, PT interface {
	*T
	entity.Entity
}](m *Manager) []PT {
	return typed[T, PT](m.deleted)
}

func typed[T any, PT interface {
	*T
	entity.Entity
}](t *tracked) []PT {
	var out []PT
	for _, ent := range t.of(entity.TypeName[T, PT]()) {
		if v, ok := ent.(PT); ok {
			out = append(out, v)
		}
	}
	return out
}

package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/customer"
	"github.com/roach88/chronicle/internal/entity"
	"github.com/roach88/chronicle/internal/entitystore"
	"github.com/roach88/chronicle/internal/migration"
	"github.com/roach88/chronicle/internal/store"
	"github.com/roach88/chronicle/internal/store/storetest"
	"github.com/roach88/chronicle/internal/testutil"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	db       *store.Store
	entities *entitystore.Store
	clock    *testutil.Clock
	svc      *Service
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	db := storetest.Open(t)
	reg := entity.NewRegistry()
	migrations := migration.NewSet()
	customer.Register(reg, migrations)

	entities := entitystore.New(db, entitystore.WithEntities(reg), entitystore.WithMigrations(migrations))
	clock := testutil.NewClock(epoch)
	return &fixture{
		db:       db,
		entities: entities,
		clock:    clock,
		svc:      New(db, entities, policy, WithClock(clock.Now)),
	}
}

func countPolicy(threshold int64) Policy {
	p := DefaultPolicy()
	p.EventThreshold = threshold
	p.Retention = RetainAll
	return p
}

func TestTakeSnapshotIfNeeded_EventCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, countPolicy(3))

	var taken []int64
	for n := int64(1); n <= 7; n++ {
		md, err := f.svc.TakeSnapshotIfNeeded(ctx, n)
		require.NoError(t, err)
		if md != nil {
			taken = append(taken, md.EventNumber)
		}
	}

	assert.Equal(t, []int64{3, 6}, taken)
}

func TestTakeSnapshotIfNeeded_NotPastLast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, countPolicy(1))

	_, err := f.svc.Take(ctx, 10)
	require.NoError(t, err)

	md, err := f.svc.TakeSnapshotIfNeeded(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, md)

	md, err = f.svc.TakeSnapshotIfNeeded(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestTakeSnapshotIfNeeded_Time(t *testing.T) {
	ctx := context.Background()
	p := DefaultPolicy()
	p.Trigger = TriggerTime
	p.Frequency = Day
	p.Retention = RetainAll
	f := newFixture(t, p)

	f.clock.Advance(23 * time.Hour)
	md, err := f.svc.TakeSnapshotIfNeeded(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, md, "not due before a full day")

	f.clock.Advance(time.Hour)
	md, err = f.svc.TakeSnapshotIfNeeded(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, int64(2), md.EventNumber)
	assert.Equal(t, epoch.Add(24*time.Hour), md.CreatedAt)

	// The next interval is measured from the snapshot just taken.
	f.clock.Advance(12 * time.Hour)
	md, err = f.svc.TakeSnapshotIfNeeded(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestTakeSnapshotIfNeeded_Disabled(t *testing.T) {
	p := countPolicy(1)
	p.Enabled = false
	f := newFixture(t, p)

	md, err := f.svc.TakeSnapshotIfNeeded(context.Background(), 100)
	require.NoError(t, err)
	assert.Nil(t, md)

	all, err := f.svc.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPolicyDue(t *testing.T) {
	last := epoch
	tests := []struct {
		name    string
		trigger Trigger
		current int64
		now     time.Time
		want    bool
	}{
		{"count below", TriggerEventCount, 9, epoch, false},
		{"count at threshold", TriggerEventCount, 10, epoch, true},
		{"time before interval", TriggerTime, 100, epoch.Add(time.Hour), false},
		{"time at interval", TriggerTime, 0, epoch.Add(24 * time.Hour), true},
		{"either count only", TriggerEither, 10, epoch, true},
		{"either time only", TriggerEither, 1, epoch.Add(48 * time.Hour), true},
		{"either neither", TriggerEither, 1, epoch, false},
		{"both count only", TriggerBoth, 10, epoch, false},
		{"both time only", TriggerBoth, 1, epoch.Add(48 * time.Hour), false},
		{"both", TriggerBoth, 10, epoch.Add(24 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{Enabled: true, Trigger: tt.trigger, Frequency: Day, EventThreshold: 10}
			assert.Equal(t, tt.want, p.due(tt.current, 0, last, tt.now))
		})
	}
}

func TestFrequencyAfter(t *testing.T) {
	jan31 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, jan31.AddDate(0, 0, 1), Day.After(jan31))
	assert.Equal(t, jan31.AddDate(0, 0, 7), Week.After(jan31))
	assert.Equal(t, jan31.AddDate(0, 1, 0), Month.After(jan31))
	assert.Equal(t, jan31.AddDate(1, 0, 0), Year.After(jan31))
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"unknown trigger", func(p *Policy) { p.Trigger = "hourly" }},
		{"unknown frequency", func(p *Policy) { p.Frequency = "fortnight" }},
		{"unknown retention", func(p *Policy) { p.Retention = "forever" }},
		{"zero threshold", func(p *Policy) { p.EventThreshold = 0 }},
		{"zero max count", func(p *Policy) { p.MaxCount = 0 }},
		{"zero max age", func(p *Policy) { p.Retention = RetainTime; p.MaxAgeDays = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}

	p := DefaultPolicy()
	p.Trigger = TriggerTime
	p.EventThreshold = 0
	assert.NoError(t, p.Validate(), "time trigger ignores the threshold")
}

func TestTakeAndRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, countPolicy(1))

	ada := customer.New("Ada", "ada@example.com")
	ada.Address.Location.Latitude = 51.5
	require.NoError(t, f.entities.Insert(ctx, ada))

	md, err := f.svc.Take(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, md.Documents)
	assert.NotEmpty(t, md.Checksum)

	bob := customer.New("Bob", "bob@example.com")
	require.NoError(t, f.entities.Insert(ctx, bob))
	ada.Name = "Ada L."
	require.NoError(t, f.entities.Update(ctx, ada))

	restored, err := f.svc.Restore(ctx, md.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), restored.EventNumber)

	got, err := entitystore.GetByID[customer.Customer](ctx, f.entities, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, 1, got.ConcurrencyVersion)
	assert.Equal(t, 51.5, got.Address.Location.Latitude)

	exists, err := f.entities.Exists(ctx, customer.TypeName, bob.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestChecksumIsStable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, countPolicy(1))

	require.NoError(t, f.entities.Insert(ctx, customer.New("Ada", "ada@example.com")))

	first, err := f.svc.Take(ctx, 1)
	require.NoError(t, err)
	second, err := f.svc.Take(ctx, 2)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Checksum, second.Checksum)
}

func TestRestoreDetectsTampering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, countPolicy(1))

	ada := customer.New("Ada", "ada@example.com")
	require.NoError(t, f.entities.Insert(ctx, ada))

	md, err := f.svc.Take(ctx, 1)
	require.NoError(t, err)

	_, err = f.db.DB().Exec(
		`UPDATE snapshot_documents SET body = '{"id":"x","name":"Mallory"}' WHERE snapshot_id = ?`, md.ID)
	require.NoError(t, err)

	_, err = f.svc.Restore(ctx, md.ID)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	got, err := entitystore.GetByID[customer.Customer](ctx, f.entities, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name, "entity store untouched")
}

func TestRestoreUnknown(t *testing.T) {
	f := newFixture(t, countPolicy(1))
	_, err := f.svc.Restore(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRetentionCount(t *testing.T) {
	ctx := context.Background()
	p := countPolicy(1)
	p.Retention = RetainCount
	p.MaxCount = 2
	f := newFixture(t, p)

	for n := int64(1); n <= 4; n++ {
		_, err := f.svc.Take(ctx, n)
		require.NoError(t, err)
	}

	all, err := f.svc.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(3), all[0].EventNumber)
	assert.Equal(t, int64(4), all[1].EventNumber)
}

func TestRetentionTime(t *testing.T) {
	ctx := context.Background()
	p := countPolicy(1)
	p.Retention = RetainTime
	p.MaxAgeDays = 1
	f := newFixture(t, p)

	require.NoError(t, f.entities.Insert(ctx, customer.New("Ada", "ada@example.com")))
	old, err := f.svc.Take(ctx, 1)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	_, err = f.svc.Take(ctx, 2)
	require.NoError(t, err)

	all, err := f.svc.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(2), all[0].EventNumber)

	var docs int
	require.NoError(t, f.db.DB().QueryRow(
		"SELECT COUNT(*) FROM snapshot_documents WHERE snapshot_id = ?", old.ID).Scan(&docs))
	assert.Zero(t, docs, "documents cascade with their snapshot")
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, countPolicy(1))

	id, err := f.svc.LastID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = f.svc.Last(ctx)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	s10, err := f.svc.Take(ctx, 10)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	s20, err := f.svc.Take(ctx, 20)
	require.NoError(t, err)

	id, err = f.svc.LastID(ctx)
	require.NoError(t, err)
	assert.Equal(t, s20.ID, id)

	got, err := f.svc.LatestBefore(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, s20.ID, got.ID, "bound is inclusive")

	got, err = f.svc.LatestBefore(ctx, 19)
	require.NoError(t, err)
	assert.Equal(t, s10.ID, got.ID)

	_, err = f.svc.LatestBefore(ctx, 9)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	got, err = f.svc.LatestBeforeTime(ctx, epoch.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, s10.ID, got.ID)

	got, err = f.svc.Get(ctx, s10.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.EventNumber)
	assert.Equal(t, epoch, got.CreatedAt)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, countPolicy(1))

	md, err := f.svc.Take(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, md.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, md.ID), ErrSnapshotNotFound)

	_, err = f.svc.Get(ctx, md.ID)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

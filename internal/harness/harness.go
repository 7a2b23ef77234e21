package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/chronicle/internal/config"
	"github.com/roach88/chronicle/internal/customer"
	"github.com/roach88/chronicle/internal/engine"
	"github.com/roach88/chronicle/internal/entity"
	"github.com/roach88/chronicle/internal/entitystore"
	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/fault"
	"github.com/roach88/chronicle/internal/replay"
	"github.com/roach88/chronicle/internal/replayer"
	"github.com/roach88/chronicle/internal/testutil"
)

// DefaultStart is the clock origin when a scenario sets none.
var DefaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const defaultTick = time.Minute

var errForcedRollback = errors.New("forced rollback")

// Harness applies one scenario to a private engine.
type Harness struct {
	eng    *engine.Engine
	clock  *testutil.Clock
	tick   time.Duration
	ids    *testutil.SequentialIDs
	result *Result
}

// Run applies the scenario's steps to a fresh in-memory engine, then
// evaluates its assertions. The returned error is reserved for failures the
// scenario did not anticipate; failed assertions land in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	start := scenario.Start
	if start.IsZero() {
		start = DefaultStart
	}
	tick := scenario.Tick
	if tick == 0 {
		tick = defaultTick
	}
	clock := testutil.NewClock(start)

	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.Snapshot.Enabled = scenario.SnapshotThreshold > 0
	if scenario.SnapshotThreshold > 0 {
		cfg.Snapshot.EventThreshold = scenario.SnapshotThreshold
	}

	eng, err := engine.Open(cfg,
		engine.WithRegistrar(customer.Register),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithClock(clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	defer eng.Close()

	h := &Harness{
		eng:    eng,
		clock:  clock,
		tick:   tick,
		ids:    testutil.NewSequentialIDs("evt"),
		result: NewResult(),
	}

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, fmt.Sprintf("steps[%d]", i), step); err != nil {
			return nil, err
		}
	}

	if err := h.collect(ctx); err != nil {
		return nil, err
	}
	for _, msg := range h.evaluate(ctx, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// execute applies step and reconciles its outcome with ExpectError.
func (h *Harness) execute(ctx context.Context, where string, step Step) error {
	err := h.apply(ctx, step)

	want := fault.Class(step.ExpectError)
	got := fault.Classify(err)
	switch {
	case want == "" && err != nil:
		return fmt.Errorf("%s %s: %w", where, step.Op, err)
	case want != "" && got != want:
		h.result.AddError(fmt.Sprintf("%s %s: expected %s error, got %v", where, step.Op, want, err))
	}
	return nil
}

func (h *Harness) apply(ctx context.Context, step Step) error {
	switch step.Op {
	case OpCreate, OpUpdate, OpDelete:
		_, err := h.commit(ctx, step)
		return err
	case OpSnapshot:
		last, err := h.eng.Events.LastEventNumber(ctx)
		if err != nil {
			return err
		}
		_, err = h.eng.Snapshots.Take(ctx, last)
		return err
	case OpReplay:
		return h.replay(ctx, step.Replay)
	case OpTransaction:
		return h.transaction(ctx, step)
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

// change is a committed customer write, kept so a rollback can undo it.
type change struct {
	event   *event.Event
	restore *customer.Customer
	undo    func(ctx context.Context) error
}

// commit writes the entity store first, then records the event, so a failed
// write leaves the log untouched.
func (h *Harness) commit(ctx context.Context, step Step, opts ...event.Option) (*change, error) {
	store := h.eng.EntityStore

	var (
		ch    change
		build func(opts ...event.Option) *event.Event
	)
	switch step.Op {
	case OpCreate:
		c := &customer.Customer{Base: entity.Base{ID: step.Entity, SchemaVersion: customer.SchemaVersion}}
		if err := applyFields(c, step.Fields); err != nil {
			return nil, err
		}
		if err := store.Insert(ctx, c); err != nil {
			return nil, err
		}
		build = func(opts ...event.Option) *event.Event { return event.NewCreate(c, opts...) }
		ch.restore = c
		ch.undo = func(ctx context.Context) error {
			return store.Remove(ctx, customer.TypeName, c.ID)
		}

	case OpUpdate:
		current, err := entitystore.GetByID[customer.Customer](ctx, store, step.Entity)
		if err != nil {
			return nil, err
		}
		prior := *current
		if err := applyFields(current, step.Fields); err != nil {
			return nil, err
		}
		if err := store.Update(ctx, current); err != nil {
			return nil, err
		}
		build = func(opts ...event.Option) *event.Event { return event.NewUpdate(current, opts...) }
		ch.restore = &prior
		ch.undo = func(ctx context.Context) error { return store.Put(ctx, &prior) }

	case OpDelete:
		current, err := entitystore.GetByID[customer.Customer](ctx, store, step.Entity)
		if err != nil {
			return nil, err
		}
		if err := store.Delete(ctx, current); err != nil {
			return nil, err
		}
		build = func(opts ...event.Option) *event.Event { return event.NewDelete(current, opts...) }
		ch.restore = current
		ch.undo = func(ctx context.Context) error { return store.Put(ctx, current) }

	default:
		return nil, fmt.Errorf("%s is not an entity change", step.Op)
	}

	opts = append([]event.Option{event.WithID(h.ids.Next()), event.WithTimestamp(h.clock.Advance(h.tick))}, opts...)
	ch.event = build(opts...)
	if err := h.eng.Events.InsertEvent(ctx, ch.event); err != nil {
		return nil, err
	}
	return &ch, nil
}

// compensate records the inverse of ch and restores the entity store.
func (h *Harness) compensate(ctx context.Context, ch *change) error {
	comp := event.Compensating(ch.event, ch.restore,
		event.WithID(h.ids.Next()),
		event.WithTimestamp(h.clock.Advance(h.tick)),
	)
	if err := h.eng.Events.InsertEvent(ctx, comp); err != nil {
		return err
	}
	return ch.undo(ctx)
}

// transaction enlists every body step, commits, and rolls back on the first
// failure. A forced failure is not an error.
func (h *Harness) transaction(ctx context.Context, step Step) error {
	m := h.eng.NewTransaction()
	id, err := m.Begin()
	if err != nil {
		return err
	}

	for _, sub := range step.Steps {
		var ch *change
		err := m.Enlist(
			func(ctx context.Context) error {
				var err error
				ch, err = h.commit(ctx, sub, event.WithTransaction(id))
				return err
			},
			func(ctx context.Context) error {
				return h.compensate(ctx, ch)
			},
		)
		if err != nil {
			return err
		}
	}
	if step.Fail {
		if err := m.Enlist(func(context.Context) error { return errForcedRollback }, nil); err != nil {
			return err
		}
	}

	commitErr := m.Commit(ctx)
	if commitErr == nil {
		return nil
	}
	if err := m.Rollback(ctx); err != nil {
		return errors.Join(commitErr, err)
	}
	if errors.Is(commitErr, errForcedRollback) {
		return nil
	}
	return commitErr
}

func (h *Harness) replay(ctx context.Context, rs *ReplayStep) error {
	mode := replay.Strict
	if rs.Mode != "" {
		m, err := replay.ParseMode(rs.Mode)
		if err != nil {
			return err
		}
		mode = m
	}
	opts := []replayer.Option{replayer.WithMode(mode)}
	if rs.UseSnapshot {
		opts = append(opts, replayer.WithSnapshot())
	}

	r := h.eng.Replayer
	var (
		res *replayer.Result
		err error
	)
	switch {
	case rs.Entity != "":
		res, err = r.ReplayEntity(ctx, rs.Entity, opts...)
	case rs.FromEvent > 0 && rs.UntilEvent > 0:
		res, err = r.ReplayFromUntilEventNumber(ctx, rs.FromEvent, rs.UntilEvent, opts...)
	case rs.UntilEvent > 0:
		res, err = r.ReplayUntilEventNumber(ctx, rs.UntilEvent, opts...)
	case rs.FromEvent > 0:
		res, err = r.ReplayFromEventNumber(ctx, rs.FromEvent, opts...)
	default:
		res, err = r.ReplayAll(ctx, opts...)
	}
	if err != nil {
		return err
	}

	h.result.Replays = append(h.result.Replays, ReplaySummary{
		Mode:         string(mode),
		Events:       res.Events,
		Buffered:     len(res.Buffered),
		FromSnapshot: res.SnapshotID != "",
	})
	return nil
}

// collect reads the final log and snapshot list into the result.
func (h *Harness) collect(ctx context.Context) error {
	headers, err := h.eng.Events.Headers(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to read event log: %w", err)
	}
	transactions := map[string]string{}
	for _, hd := range headers {
		entry := LogEntry{
			EventNumber:  hd.EventNumber,
			Type:         hd.Type,
			Entity:       hd.EntityID,
			Timestamp:    hd.Timestamp.UTC().Format(time.RFC3339Nano),
			Compensation: hd.Compensation,
		}
		if hd.TransactionID != "" {
			alias, ok := transactions[hd.TransactionID]
			if !ok {
				alias = fmt.Sprintf("tx-%d", len(transactions)+1)
				transactions[hd.TransactionID] = alias
			}
			entry.Transaction = alias
		}
		h.result.Log = append(h.result.Log, entry)
	}

	snapshots, err := h.eng.Snapshots.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	for _, md := range snapshots {
		h.result.Snapshots = append(h.result.Snapshots, SnapshotSummary{
			EventNumber: md.EventNumber,
			Documents:   md.Documents,
		})
	}
	return nil
}

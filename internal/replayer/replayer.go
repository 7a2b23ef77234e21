// Package replayer re-feeds recorded history through the ingestion path.
//
// A replay starts the shared replay.Context, optionally fast-forwards the
// entity store from a snapshot, then passes every event of the requested
// window, in event-number order, to the event store and to a Handler. The
// default Handler is a Projector over the entity store.
package replayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/chronicle/internal/entitystore"
	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/eventstore"
	"github.com/roach88/chronicle/internal/metrics"
	"github.com/roach88/chronicle/internal/replay"
	"github.com/roach88/chronicle/internal/snapshot"
)

// Result summarizes a finished replay.
type Result struct {
	// Events is the number of events fed through, excluding those covered
	// by a restored snapshot.
	Events int `json:"events"`

	// SnapshotID is the snapshot the entity store was restored from, if any.
	SnapshotID string `json:"snapshot_id,omitempty"`

	// LastEventNumber is the number of the last event fed through, or of
	// the restored snapshot when no event followed it.
	LastEventNumber int64 `json:"last_event_number"`

	// Buffered holds the sandbox buffer of a Sandbox replay.
	Buffered []*event.Event `json:"-"`
}

// Service runs replays.
type Service struct {
	events    *eventstore.Store
	entities  *entitystore.Store
	snapshots *snapshot.Service
	rc        *replay.Context
	handler   Handler
	tracer    trace.Tracer
	log       *slog.Logger
	metrics   metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHandler replaces the default Projector.
func WithHandler(h Handler) ServiceOption {
	return func(s *Service) { s.handler = h }
}

func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *Service) { s.tracer = t }
}

func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// New creates a replay service. snapshots may be nil when snapshots are
// not in use.
func New(events *eventstore.Store, entities *entitystore.Store, snapshots *snapshot.Service, rc *replay.Context, opts ...ServiceOption) *Service {
	s := &Service{
		events:    events,
		entities:  entities,
		snapshots: snapshots,
		rc:        rc,
		handler:   Projector{Entities: entities},
		tracer:    otel.Tracer("chronicle/replayer"),
		log:       slog.Default(),
		metrics:   metrics.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "replayer"))
	return s
}

// Option configures one replay.
type Option func(*options)

type options struct {
	mode     replay.Mode
	apiMode  replay.APIMode
	autoStop bool
	snapshot bool
}

func defaults() options {
	return options{mode: replay.Strict, apiMode: replay.CacheOnly, autoStop: true}
}

// WithMode selects Strict (default) or Sandbox.
func WithMode(m replay.Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithAPIMode selects how the API gateway behaves. Defaults to CacheOnly.
func WithAPIMode(m replay.APIMode) Option {
	return func(o *options) { o.apiMode = m }
}

// WithAutoStop controls whether the replay context is stopped when the
// replay returns. Defaults to true. With false the caller owns Stop.
func WithAutoStop(autoStop bool) Option {
	return func(o *options) { o.autoStop = autoStop }
}

// WithSnapshot fast-forwards Strict whole-history replays from the latest
// eligible snapshot.
func WithSnapshot() Option {
	return func(o *options) { o.snapshot = true }
}

// IsRunning reports whether the replay context is replaying.
func (s *Service) IsRunning() bool {
	return s.rc.IsReplaying()
}

// Stop interrupts a running replay between events and stops the replay
// context.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	return s.rc.StopReplay()
}

// window describes which events a replay feeds.
type window struct {
	name  string
	attrs []attribute.KeyValue

	// fromZero marks windows that start at the beginning of the whole log.
	// Only those rebuild the entity store.
	fromZero bool

	// eligible finds the snapshot a fromZero window may start from.
	eligible func(ctx context.Context) (*snapshot.Metadata, error)

	fetch func(ctx context.Context) ([]*event.Event, error)
}

func (s *Service) run(ctx context.Context, w window, opts []Option) (res *Result, err error) {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := s.tracer.Start(ctx, "Replay."+w.name, trace.WithAttributes(append([]attribute.KeyValue{
		attribute.String("replay.mode", string(o.mode)),
		attribute.String("replay.api_mode", string(o.apiMode)),
		attribute.Bool("replay.snapshot", o.snapshot),
	}, w.attrs...)...))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer s.metrics.ReplayDuration(string(o.mode)).ObserveDuration()

	if err := s.rc.StartReplay(o.mode, o.apiMode); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		if !o.autoStop {
			return
		}
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		if stopErr := s.rc.StopReplay(); stopErr != nil && !errors.Is(stopErr, replay.ErrNotReplaying) {
			err = errors.Join(err, stopErr)
		}
	}()

	started := time.Now()
	s.log.Info("replay started", "window", w.name, "mode", string(o.mode), "api_mode", string(o.apiMode))

	res = &Result{}
	var after int64
	if o.mode == replay.Strict && w.fromZero {
		md, err := s.rebuildBase(ctx, w, o)
		if err != nil {
			return nil, err
		}
		if md != nil {
			res.SnapshotID = md.ID
			res.LastEventNumber = md.EventNumber
			after = md.EventNumber
		}
	}

	s.rc.SetLoading(true)
	events, err := w.fetch(ctx)
	s.rc.SetLoading(false)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", w.name, err)
	}
	span.SetAttributes(attribute.Int("replay.window_events", len(events)))

	for _, e := range events {
		if e.EventNumber != 0 && e.EventNumber <= after {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("replay %s interrupted after %d events: %w", w.name, res.Events, err)
		}
		if err := s.events.InsertEvent(ctx, e); err != nil {
			return res, fmt.Errorf("replay event %s: %w", e.ID, err)
		}
		s.rc.SetPosition(e.EventNumber)
		if err := s.handler.Handle(ctx, e); err != nil {
			return res, fmt.Errorf("replay event %s: %w", e.ID, err)
		}
		if o.mode == replay.Strict && s.snapshots != nil {
			if _, err := s.snapshots.TakeSnapshotIfNeeded(ctx, e.EventNumber); err != nil {
				s.log.Error("snapshot after replayed event failed", "event_number", e.EventNumber, "error", err)
			}
		}
		res.Events++
		res.LastEventNumber = e.EventNumber
	}

	if o.mode == replay.Sandbox {
		if res.Buffered, err = s.rc.Events(); err != nil {
			return res, err
		}
	}

	s.metrics.EventsReplayed(string(o.mode), res.Events)
	span.SetAttributes(
		attribute.Int("replay.events", res.Events),
		attribute.Int64("replay.last_event_number", res.LastEventNumber),
	)
	s.log.Info("replay finished", "window", w.name, "events", res.Events,
		"snapshot_id", res.SnapshotID, "last_event_number", res.LastEventNumber,
		"duration", time.Since(started))
	return res, nil
}

// rebuildBase prepares the entity store for a whole-history Strict replay:
// restored from the eligible snapshot when requested and available,
// emptied otherwise.
func (s *Service) rebuildBase(ctx context.Context, w window, o options) (*snapshot.Metadata, error) {
	if o.snapshot && s.snapshots != nil && w.eligible != nil {
		md, err := w.eligible(ctx)
		switch {
		case err == nil:
			if _, err := s.snapshots.Restore(ctx, md.ID); err != nil {
				return nil, fmt.Errorf("replay %s: %w", w.name, err)
			}
			return md, nil
		case !errors.Is(err, snapshot.ErrSnapshotNotFound):
			return nil, fmt.Errorf("replay %s: %w", w.name, err)
		}
		s.log.Debug("no eligible snapshot, replaying from the first event", "window", w.name)
	}
	if err := s.entities.Clear(ctx); err != nil {
		return nil, fmt.Errorf("replay %s: %w", w.name, err)
	}
	return nil, nil
}

// ReplayAll replays the whole log.
func (s *Service) ReplayAll(ctx context.Context, opts ...Option) (*Result, error) {
	return s.run(ctx, window{
		name:     "All",
		fromZero: true,
		eligible: func(ctx context.Context) (*snapshot.Metadata, error) {
			return s.snapshots.Last(ctx)
		},
		fetch: s.events.GetAll,
	}, opts)
}

// ReplayUntil replays events that occurred at or before until.
func (s *Service) ReplayUntil(ctx context.Context, until time.Time, opts ...Option) (*Result, error) {
	return s.run(ctx, window{
		name:     "Until",
		attrs:    []attribute.KeyValue{timeAttr("replay.until", until)},
		fromZero: true,
		eligible: func(ctx context.Context) (*snapshot.Metadata, error) {
			return s.snapshots.LatestBeforeTime(ctx, until)
		},
		fetch: func(ctx context.Context) ([]*event.Event, error) {
			return s.events.GetUntil(ctx, until)
		},
	}, opts)
}

// ReplayFrom replays events that occurred at or after from on top of the
// current entity store.
func (s *Service) ReplayFrom(ctx context.Context, from time.Time, opts ...Option) (*Result, error) {
	return s.run(ctx, window{
		name:  "From",
		attrs: []attribute.KeyValue{timeAttr("replay.from", from)},
		fetch: func(ctx context.Context) ([]*event.Event, error) {
			return s.events.GetFrom(ctx, from)
		},
	}, opts)
}

// ReplayFromUntil replays events that occurred in [from, until].
func (s *Service) ReplayFromUntil(ctx context.Context, from, until time.Time, opts ...Option) (*Result, error) {
	return s.run(ctx, window{
		name:  "FromUntil",
		attrs: []attribute.KeyValue{timeAttr("replay.from", from), timeAttr("replay.until", until)},
		fetch: func(ctx context.Context) ([]*event.Event, error) {
			return s.events.GetBetween(ctx, from, until)
		},
	}, opts)
}

// ReplayEntity replays every event of one entity.
func (s *Service) ReplayEntity(ctx context.Context, entityID string, opts ...Option) (*Result, error) {
	return s.run(ctx, window{
		name:  "Entity",
		attrs: []attribute.KeyValue{attribute.String("replay.entity_id", entityID)},
		fetch: func(ctx context.Context) ([]*event.Event, error) {
			return s.events.GetByEntity(ctx, entityID)
		},
	}, opts)
}

func (s *Service) ReplayEntityUntil(ctx context.Context, entityID string, until time.Time, opts ...Option) (*Result, error) {
	return s.run(ctx, window{
		name: "EntityUntil",
		attrs: []attribute.KeyValue{
			attribute.String("replay.entity_id", entityID),
			timeAttr("replay.until", until),
		},
		fetch: func(ctx context.Context) ([]*event.Event, error) {
			return s.events.GetByEntityUntil(ctx, entityID, until)
		},
	}, opts)
}

func (s *Service) ReplayEntityFrom(ctx context.Context, entityID string, from time.Time, opts ...Option) (*Result, error) {
	return s.run(ctx, window{
		name: "EntityFrom",
		attrs: []attribute.KeyValue{
			attribute.String("replay.entity_id", entityID),
			timeAttr("replay.from", from),
		},
		fetch: func(ctx context.Context) ([]*event.Event, error) {
			return s.events.GetByEntityFrom(ctx, entityID, from)
		},
	}, opts)
}

func (s *Service) ReplayEntityFromUntil(ctx context.Context, entityID string, from, until time.Time, opts ...Option) (*Result, error) {
	return s.run(ctx, window{
		name: "EntityFromUntil",
		attrs: []attribute.KeyValue{
			attribute.String("replay.entity_id", entityID),
			timeAttr("replay.from", from),
			timeAttr("replay.until", until),
		},
		fetch: func(ctx context.Context) ([]*event.Event, error) {
			return s.events.GetByEntityBetween(ctx, entityID, from, until)
		},
	}, opts)
}

// ReplayUntilEventNumber replays events numbered n or lower.
func (s *Service) ReplayUntilEventNumber(ctx context.Context, n int64, opts ...Option) (*Result, error) {
	return s.run(ctx, window{
		name:     "UntilEventNumber",
		attrs:    []attribute.KeyValue{attribute.Int64("replay.until_event_number", n)},
		fromZero: true,
		eligible: func(ctx context.Context) (*snapshot.Metadata, error) {
			return s.snapshots.LatestBefore(ctx, n)
		},
		fetch: func(ctx context.Context) ([]*event.Event, error) {
			return s.events.GetUntilEventNumber(ctx, n)
		},
	}, opts)
}

// ReplayFromEventNumber replays events numbered n or higher.
func (s *Service) ReplayFromEventNumber(ctx context.Context, n int64, opts ...Option) (*Result, error) {
	return s.run(ctx, window{
		name:  "FromEventNumber",
		attrs: []attribute.KeyValue{attribute.Int64("replay.from_event_number", n)},
		fetch: func(ctx context.Context) ([]*event.Event, error) {
			return s.events.GetFromEventNumber(ctx, n)
		},
	}, opts)
}

// ReplayFromUntilEventNumber replays events numbered in [from, until].
func (s *Service) ReplayFromUntilEventNumber(ctx context.Context, from, until int64, opts ...Option) (*Result, error) {
	return s.run(ctx, window{
		name: "FromUntilEventNumber",
		attrs: []attribute.KeyValue{
			attribute.Int64("replay.from_event_number", from),
			attribute.Int64("replay.until_event_number", until),
		},
		fetch: func(ctx context.Context) ([]*event.Event, error) {
			return s.events.GetBetweenEventNumbers(ctx, from, until)
		},
	}, opts)
}

// ReplayEvents replays an explicit list. Events are fed in event-number
// order; unnumbered events keep their relative order after numbered ones.
func (s *Service) ReplayEvents(ctx context.Context, events []*event.Event, opts ...Option) (*Result, error) {
	sorted := make([]*event.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].EventNumber, sorted[j].EventNumber
		if a == 0 || b == 0 {
			return a != 0 && b == 0
		}
		return a < b
	})
	return s.run(ctx, window{
		name:  "Events",
		attrs: []attribute.KeyValue{attribute.Int("replay.requested", len(events))},
		fetch: func(context.Context) ([]*event.Event, error) {
			return sorted, nil
		},
	}, opts)
}

// ReplayEvent replays a single event.
func (s *Service) ReplayEvent(ctx context.Context, e *event.Event, opts ...Option) (*Result, error) {
	return s.ReplayEvents(ctx, []*event.Event{e}, opts...)
}

func timeAttr(key string, t time.Time) attribute.KeyValue {
	return attribute.String(key, t.UTC().Format(time.RFC3339Nano))
}

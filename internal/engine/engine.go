package engine

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/chronicle/internal/config"
	"github.com/roach88/chronicle/internal/entity"
	"github.com/roach88/chronicle/internal/entitystore"
	"github.com/roach88/chronicle/internal/eventstore"
	"github.com/roach88/chronicle/internal/gateway"
	"github.com/roach88/chronicle/internal/metrics"
	"github.com/roach88/chronicle/internal/migration"
	"github.com/roach88/chronicle/internal/personal"
	"github.com/roach88/chronicle/internal/replay"
	"github.com/roach88/chronicle/internal/replayer"
	"github.com/roach88/chronicle/internal/snapshot"
	"github.com/roach88/chronicle/internal/store"
	"github.com/roach88/chronicle/internal/txn"
)

// Registrar adds entity types and their schema history to the registries.
type Registrar func(*entity.Registry, *migration.Set)

// Engine holds the wired components. Fields are read-only after Open.
type Engine struct {
	Store         *store.Store
	Entities      *entity.Registry
	Migrations    *migration.Set
	ReplayContext *replay.Context
	PersonalData  *personal.Service
	EntityStore   *entitystore.Store
	Snapshots     *snapshot.Service
	Events        *eventstore.Store
	Replayer      *replayer.Service
	Gateway       *gateway.Client

	log *slog.Logger
}

type options struct {
	registrars []Registrar
	log        *slog.Logger
	metrics    metrics.Metrics
	now        func() time.Time
	httpClient *http.Client
}

// Option configures Open.
type Option func(*options)

// WithRegistrar registers entity types. It may be given more than once.
func WithRegistrar(r ...Registrar) Option {
	return func(o *options) { o.registrars = append(o.registrars, r...) }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now for snapshot timing and cache timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHTTPClient sets the gateway's client for live calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// Open validates cfg, opens the database and wires every component.
func Open(cfg config.Config, opts ...Option) (*Engine, error) {
	o := options{log: slog.Default(), metrics: metrics.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	entities := entity.NewRegistry()
	migrations := migration.NewSet()
	for _, register := range o.registrars {
		register(entities, migrations)
	}
	if err := migrations.Validate(); err != nil {
		return nil, fmt.Errorf("migration chains incomplete: %w", err)
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	rc := replay.NewContext()
	pd := personal.NewService(
		personal.NewStore(db, personal.WithEnabled(cfg.PersonalData.Enabled)),
		o.log,
	)
	entityStore := entitystore.New(db,
		entitystore.WithEnabled(cfg.EntityStore.Enabled),
		entitystore.WithEntities(entities),
		entitystore.WithMigrations(migrations),
		entitystore.WithReplayContext(rc),
		entitystore.WithLogger(o.log),
		entitystore.WithMetrics(o.metrics),
	)
	snapshots := snapshot.New(db, entityStore, cfg.SnapshotPolicy(),
		snapshot.WithClock(o.now),
		snapshot.WithLogger(o.log),
		snapshot.WithMetrics(o.metrics),
	)
	events := eventstore.New(db, entities,
		eventstore.WithEnabled(cfg.EventStore.Enabled),
		eventstore.WithMigrations(migrations),
		eventstore.WithPersonalData(pd),
		eventstore.WithSnapshots(snapshots),
		eventstore.WithReplayContext(rc),
		eventstore.WithLogger(o.log),
		eventstore.WithMetrics(o.metrics),
	)

	gatewayOpts := []gateway.Option{
		gateway.WithClock(o.now),
		gateway.WithLogger(o.log),
		gateway.WithMetrics(o.metrics),
	}
	if o.httpClient != nil {
		gatewayOpts = append(gatewayOpts, gateway.WithHTTPClient(o.httpClient))
	}

	e := &Engine{
		Store:         db,
		Entities:      entities,
		Migrations:    migrations,
		ReplayContext: rc,
		PersonalData:  pd,
		EntityStore:   entityStore,
		Snapshots:     snapshots,
		Events:        events,
		Replayer: replayer.New(events, entityStore, snapshots, rc,
			replayer.WithLogger(o.log),
			replayer.WithMetrics(o.metrics),
		),
		Gateway: gateway.New(db, events, rc, gatewayOpts...),
		log:     o.log.With(slog.String("component", "engine")),
	}
	e.log.Info("engine opened", "database", cfg.Database.Path, "entity_types", entities.Types())
	return e, nil
}

// NewTransaction returns a transaction manager for one unit of work.
func (e *Engine) NewTransaction() *txn.Manager {
	return txn.NewManager(txn.WithLogger(e.log))
}

// Close closes the database.
func (e *Engine) Close() error {
	return e.Store.Close()
}

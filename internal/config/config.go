// Package config loads chronicle settings from defaults, an optional YAML
// file, and CHRONICLE_* environment variables, then validates them against
// an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/roach88/chronicle/internal/snapshot"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment override, e.g.
// CHRONICLE_SNAPSHOT_TRIGGER for snapshot.trigger.
const EnvPrefix = "CHRONICLE"

// Config is the full configuration.
type Config struct {
	Database     Database  `mapstructure:"database" json:"database"`
	Log          Log       `mapstructure:"log" json:"log"`
	EventStore   Toggle    `mapstructure:"event_store" json:"event_store"`
	EntityStore  Toggle    `mapstructure:"entity_store" json:"entity_store"`
	PersonalData Toggle    `mapstructure:"personal_data" json:"personal_data"`
	Snapshot     Snapshot  `mapstructure:"snapshot" json:"snapshot"`
	Telemetry    Telemetry `mapstructure:"telemetry" json:"telemetry"`
	Metrics      Metrics   `mapstructure:"metrics" json:"metrics"`
}

type Database struct {
	Path string `mapstructure:"path" json:"path"`
}

type Log struct {
	Level string `mapstructure:"level" json:"level"`
}

// Toggle switches a store on or off.
type Toggle struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// Snapshot mirrors snapshot.Policy.
type Snapshot struct {
	Enabled        bool   `mapstructure:"enabled" json:"enabled"`
	Trigger        string `mapstructure:"trigger" json:"trigger"`
	Frequency      string `mapstructure:"frequency" json:"frequency"`
	EventThreshold int64  `mapstructure:"event_threshold" json:"event_threshold"`
	Retention      string `mapstructure:"retention" json:"retention"`
	MaxCount       int    `mapstructure:"max_count" json:"max_count"`
	MaxAgeDays     int    `mapstructure:"max_age_days" json:"max_age_days"`
}

type Telemetry struct {
	// Stdout exports replay spans to stdout.
	Stdout      bool   `mapstructure:"stdout" json:"stdout"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

type Metrics struct {
	// Prometheus collects engine metrics in a Prometheus registry.
	Prometheus bool `mapstructure:"prometheus" json:"prometheus"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := snapshot.DefaultPolicy()
	return Config{
		Database:     Database{Path: "chronicle.db"},
		Log:          Log{Level: "info"},
		EventStore:   Toggle{Enabled: true},
		EntityStore:  Toggle{Enabled: true},
		PersonalData: Toggle{Enabled: true},
		Snapshot: Snapshot{
			Enabled:        p.Enabled,
			Trigger:        string(p.Trigger),
			Frequency:      string(p.Frequency),
			EventThreshold: p.EventThreshold,
			Retention:      string(p.Retention),
			MaxCount:       p.MaxCount,
			MaxAgeDays:     p.MaxAgeDays,
		},
		Telemetry: Telemetry{ServiceName: "chronicle"},
	}
}

// Load builds the configuration. When path is empty, chronicle.yaml in the
// working directory is used if present; an explicit path must exist.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("chronicle")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("event_store.enabled", d.EventStore.Enabled)
	v.SetDefault("entity_store.enabled", d.EntityStore.Enabled)
	v.SetDefault("personal_data.enabled", d.PersonalData.Enabled)
	v.SetDefault("snapshot.enabled", d.Snapshot.Enabled)
	v.SetDefault("snapshot.trigger", d.Snapshot.Trigger)
	v.SetDefault("snapshot.frequency", d.Snapshot.Frequency)
	v.SetDefault("snapshot.event_threshold", d.Snapshot.EventThreshold)
	v.SetDefault("snapshot.retention", d.Snapshot.Retention)
	v.SetDefault("snapshot.max_count", d.Snapshot.MaxCount)
	v.SetDefault("snapshot.max_age_days", d.Snapshot.MaxAgeDays)
	v.SetDefault("telemetry.stdout", d.Telemetry.Stdout)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("metrics.prometheus", d.Metrics.Prometheus)
}

// Validate checks c against the CUE schema, then checks the cross-field
// rules of the snapshot policy.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}

	if err := c.SnapshotPolicy().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SnapshotPolicy converts the snapshot section.
func (c Config) SnapshotPolicy() snapshot.Policy {
	return snapshot.Policy{
		Enabled:        c.Snapshot.Enabled,
		Trigger:        snapshot.Trigger(c.Snapshot.Trigger),
		Frequency:      snapshot.Frequency(c.Snapshot.Frequency),
		EventThreshold: c.Snapshot.EventThreshold,
		Retention:      snapshot.Retention(c.Snapshot.Retention),
		MaxCount:       c.Snapshot.MaxCount,
		MaxAgeDays:     c.Snapshot.MaxAgeDays,
	}
}

// LogLevel returns the slog level named by log.level.
func (c Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

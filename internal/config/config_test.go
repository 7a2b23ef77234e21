package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/snapshot"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chronicle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, snapshot.DefaultPolicy(), cfg.SnapshotPolicy())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/chronicle/events.db
log:
  level: debug
personal_data:
  enabled: false
snapshot:
  trigger: either
  frequency: week
  event_threshold: 500
  retention: time
  max_age_days: 7
metrics:
  prometheus: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/chronicle/events.db", cfg.Database.Path)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.False(t, cfg.PersonalData.Enabled)
	assert.True(t, cfg.EventStore.Enabled, "unset keys keep defaults")
	assert.True(t, cfg.Metrics.Prometheus)

	p := cfg.SnapshotPolicy()
	assert.Equal(t, snapshot.TriggerEither, p.Trigger)
	assert.Equal(t, snapshot.Week, p.Frequency)
	assert.Equal(t, int64(500), p.EventThreshold)
	assert.Equal(t, snapshot.RetainTime, p.Retention)
	assert.Equal(t, 7, p.MaxAgeDays)
	assert.Equal(t, 10, p.MaxCount)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "snapshot:\n  trigger: time\n")
	t.Setenv("CHRONICLE_SNAPSHOT_TRIGGER", "both")
	t.Setenv("CHRONICLE_SNAPSHOT_EVENT_THRESHOLD", "25")
	t.Setenv("CHRONICLE_ENTITY_STORE_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "both", cfg.Snapshot.Trigger)
	assert.Equal(t, int64(25), cfg.Snapshot.EventThreshold)
	assert.False(t, cfg.EntityStore.Enabled)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown trigger", func(c *Config) { c.Snapshot.Trigger = "hourly" }, "trigger"},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }, "level"},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "path"},
		{"negative max count", func(c *Config) { c.Snapshot.MaxCount = -1 }, "max_count"},
		{"zero threshold for count trigger", func(c *Config) { c.Snapshot.EventThreshold = 0 }, "threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := writeConfig(t, "snapshot:\n  retention: forever\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention")
}

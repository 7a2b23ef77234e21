package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/config"
	"github.com/roach88/chronicle/internal/customer"
	"github.com/roach88/chronicle/internal/engine"
	chronprom "github.com/roach88/chronicle/internal/metrics/prometheus"
	"github.com/roach88/chronicle/internal/telemetry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string // config file; chronicle.yaml in the working directory when empty
	Database string // overrides database.path
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Version is reported by telemetry as service.version. Set by main.
var Version = "dev"

// NewRootCommand creates the root command for the chronicle CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "chronicle",
		Short: "chronicle - event-sourced persistence and replay",
		Long: `Inspect and maintain a chronicle store: list the event log, manage
snapshots, replay history and migrate documents to the current schema.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// session is an opened engine plus everything that must be released with it.
type session struct {
	cfg      config.Config
	eng      *engine.Engine
	out      *OutputFormatter
	shutdown func(context.Context) error
	registry *prometheus.Registry // nil unless metrics.prometheus is set
}

// openSession loads the configuration and opens the engine. Failures are
// already reported through the formatter when it returns.
func openSession(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*session, error) {
	out := opts.formatter(cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, out.Fail("failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	level := cfg.LogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	s := &session{cfg: cfg, out: out, shutdown: func(context.Context) error { return nil }}
	if cfg.Telemetry.Stdout {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: Version,
			Stdout:         true,
			Writer:         cmd.ErrOrStderr(),
		})
		if err != nil {
			return nil, out.Fail("failed to initialize telemetry", err)
		}
		s.shutdown = shutdown
	}

	engineOpts := []engine.Option{
		engine.WithRegistrar(customer.Register),
		engine.WithLogger(log),
	}
	if cfg.Metrics.Prometheus {
		s.registry = prometheus.NewRegistry()
		engineOpts = append(engineOpts, engine.WithMetrics(chronprom.New(s.registry)))
	}

	out.VerboseLog("opening %s", cfg.Database.Path)
	s.eng, err = engine.Open(cfg, engineOpts...)
	if err != nil {
		_ = s.shutdown(ctx)
		return nil, out.Fail("failed to open store", err)
	}
	return s, nil
}

func (s *session) close(ctx context.Context) {
	_ = s.eng.Close()
	_ = s.shutdown(ctx)
}

// counters gathers the counter totals of the session's registry, summed
// across labels. It returns nil when metrics are off.
func (s *session) counters() (map[string]float64, error) {
	if s.registry == nil {
		return nil, nil
	}
	families, err := s.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	totals := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				totals[mf.GetName()] += c.GetValue()
			}
		}
	}
	return totals, nil
}

// usageError reports a flag combination the command cannot serve.
func usageError(out *OutputFormatter, message string) error {
	_ = out.Error("E003", message, nil)
	return NewExitError(ExitCommandError, message)
}

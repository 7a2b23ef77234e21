package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/replay"
	"github.com/roach88/chronicle/internal/replayer"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Mode        string
	APIMode     string
	Entity      string
	From        string // RFC 3339
	Until       string // RFC 3339
	FromEvent   int64
	UntilEvent  int64
	UseSnapshot bool
}

// ReplayResult is the payload of the replay command.
type ReplayResult struct {
	Window          string `json:"window"`
	Mode            string `json:"mode"`
	Events          int    `json:"events"`
	SnapshotID      string `json:"snapshot_id,omitempty"`
	LastEventNumber int64  `json:"last_event_number"`
	Buffered        int    `json:"buffered,omitempty"`

	// Metrics holds counter totals when metrics.prometheus is enabled.
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the event log",
		Long: `Replay recorded events, optionally bounded by time, event number or entity.

In strict mode a replay that starts from the first event rebuilds the entity
store, from the newest eligible snapshot when --snapshot is given. In sandbox
mode events are buffered in memory and the store is left untouched.

Exit codes:
  0 - Replay completed
  1 - Replay needed data that cannot be trusted (tampered snapshot, missing recorded response)
  2 - Command error (bad flags, database not found, etc.)

Examples:
  chronicle replay --db ./chronicle.db
  chronicle replay --until-event 500 --snapshot
  chronicle replay --mode sandbox --entity 0190a3c4-...
  chronicle replay --from 2024-01-01T00:00:00Z --until 2024-02-01T00:00:00Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", string(replay.Strict), "replay mode (strict|sandbox)")
	cmd.Flags().StringVar(&opts.APIMode, "api-mode", string(replay.CacheOnly), "outbound API mode (cache-only|external-only|cache-then-external)")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "replay a single entity's events")
	cmd.Flags().StringVar(&opts.From, "from", "", "first event time, inclusive (RFC 3339)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "last event time, inclusive (RFC 3339)")
	cmd.Flags().Int64Var(&opts.FromEvent, "from-event", 0, "first event number, inclusive")
	cmd.Flags().Int64Var(&opts.UntilEvent, "until-event", 0, "last event number, inclusive")
	cmd.Flags().BoolVar(&opts.UseSnapshot, "snapshot", false, "start from the newest eligible snapshot")

	return cmd
}

type replayFunc func(context.Context, *replayer.Service, []replayer.Option) (*replayer.Result, error)

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	mode, err := replay.ParseMode(opts.Mode)
	if err != nil {
		return usageError(out, err.Error())
	}
	apiMode, err := replay.ParseAPIMode(opts.APIMode)
	if err != nil {
		return usageError(out, err.Error())
	}
	window, run, err := opts.window()
	if err != nil {
		return usageError(out, err.Error())
	}

	s, err := openSession(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	ropts := []replayer.Option{replayer.WithMode(mode), replayer.WithAPIMode(apiMode)}
	if opts.UseSnapshot {
		ropts = append(ropts, replayer.WithSnapshot())
	}
	s.out.VerboseLog("replaying %s in %s mode", window, mode)

	res, err := run(ctx, s.eng.Replayer, ropts)
	if err != nil {
		return s.out.Fail("replay failed", err)
	}

	result := ReplayResult{
		Window:          window,
		Mode:            string(mode),
		Events:          res.Events,
		SnapshotID:      res.SnapshotID,
		LastEventNumber: res.LastEventNumber,
		Buffered:        len(res.Buffered),
	}
	if result.Metrics, err = s.counters(); err != nil {
		return s.out.Fail("replay metrics unavailable", err)
	}
	return s.out.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Replayed %d event(s) (%s, %s mode)\n", result.Events, window, mode)
		if result.SnapshotID != "" {
			fmt.Fprintf(w, "  Started from snapshot %s\n", result.SnapshotID)
		}
		fmt.Fprintf(w, "  Last event number: %d\n", result.LastEventNumber)
		if mode == replay.Sandbox {
			fmt.Fprintf(w, "  Buffered: %d (store untouched)\n", result.Buffered)
		}
		for _, name := range slices.Sorted(maps.Keys(result.Metrics)) {
			fmt.Fprintf(w, "  %s %g\n", name, result.Metrics[name])
		}
	})
}

// window picks the replay call matching the flags.
func (o *ReplayOptions) window() (string, replayFunc, error) {
	from, err := parseTime("--from", o.From)
	if err != nil {
		return "", nil, err
	}
	until, err := parseTime("--until", o.Until)
	if err != nil {
		return "", nil, err
	}
	if o.FromEvent < 0 || o.UntilEvent < 0 {
		return "", nil, fmt.Errorf("event numbers must not be negative")
	}

	byTime := !from.IsZero() || !until.IsZero()
	byNumber := o.FromEvent > 0 || o.UntilEvent > 0
	if byTime && byNumber {
		return "", nil, fmt.Errorf("time bounds and event-number bounds cannot be combined")
	}
	if o.Entity != "" && byNumber {
		return "", nil, fmt.Errorf("entity replay cannot be bounded by event number")
	}
	if !from.IsZero() && !until.IsZero() && from.After(until) {
		return "", nil, fmt.Errorf("--from is after --until")
	}
	if o.FromEvent > 0 && o.UntilEvent > 0 && o.FromEvent > o.UntilEvent {
		return "", nil, fmt.Errorf("--from-event is after --until-event")
	}

	id := o.Entity
	switch {
	case id != "" && !from.IsZero() && !until.IsZero():
		return "EntityFromUntil", func(ctx context.Context, r *replayer.Service, opts []replayer.Option) (*replayer.Result, error) {
			return r.ReplayEntityFromUntil(ctx, id, from, until, opts...)
		}, nil
	case id != "" && !until.IsZero():
		return "EntityUntil", func(ctx context.Context, r *replayer.Service, opts []replayer.Option) (*replayer.Result, error) {
			return r.ReplayEntityUntil(ctx, id, until, opts...)
		}, nil
	case id != "" && !from.IsZero():
		return "EntityFrom", func(ctx context.Context, r *replayer.Service, opts []replayer.Option) (*replayer.Result, error) {
			return r.ReplayEntityFrom(ctx, id, from, opts...)
		}, nil
	case id != "":
		return "Entity", func(ctx context.Context, r *replayer.Service, opts []replayer.Option) (*replayer.Result, error) {
			return r.ReplayEntity(ctx, id, opts...)
		}, nil
	case !from.IsZero() && !until.IsZero():
		return "FromUntil", func(ctx context.Context, r *replayer.Service, opts []replayer.Option) (*replayer.Result, error) {
			return r.ReplayFromUntil(ctx, from, until, opts...)
		}, nil
	case !until.IsZero():
		return "Until", func(ctx context.Context, r *replayer.Service, opts []replayer.Option) (*replayer.Result, error) {
			return r.ReplayUntil(ctx, until, opts...)
		}, nil
	case !from.IsZero():
		return "From", func(ctx context.Context, r *replayer.Service, opts []replayer.Option) (*replayer.Result, error) {
			return r.ReplayFrom(ctx, from, opts...)
		}, nil
	case o.FromEvent > 0 && o.UntilEvent > 0:
		return "FromUntilEventNumber", func(ctx context.Context, r *replayer.Service, opts []replayer.Option) (*replayer.Result, error) {
			return r.ReplayFromUntilEventNumber(ctx, o.FromEvent, o.UntilEvent, opts...)
		}, nil
	case o.UntilEvent > 0:
		return "UntilEventNumber", func(ctx context.Context, r *replayer.Service, opts []replayer.Option) (*replayer.Result, error) {
			return r.ReplayUntilEventNumber(ctx, o.UntilEvent, opts...)
		}, nil
	case o.FromEvent > 0:
		return "FromEventNumber", func(ctx context.Context, r *replayer.Service, opts []replayer.Option) (*replayer.Result, error) {
			return r.ReplayFromEventNumber(ctx, o.FromEvent, opts...)
		}, nil
	}
	return "All", func(ctx context.Context, r *replayer.Service, opts []replayer.Option) (*replayer.Result, error) {
		return r.ReplayAll(ctx, opts...)
	}, nil
}

func parseTime(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", flag, err)
	}
	return t.UTC(), nil
}

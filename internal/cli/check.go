package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/snapshot"
)

// CheckResult is the payload of the check command.
type CheckResult struct {
	Database        string          `json:"database"`
	EntityTypes     map[string]int  `json:"entity_types"` // type -> current schema version
	LastEventNumber int64           `json:"last_event_number"`
	Snapshots       snapshot.Policy `json:"snapshot_policy"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and registrations",
		Long: `Load the configuration, validate it against its schema, open the store and
verify that every registered entity type has a complete migration chain.

Exit codes:
  0 - Configuration and registrations are valid
  2 - Invalid configuration, incomplete migration chain or unreadable store`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			last, err := s.eng.Events.LastEventNumber(ctx)
			if err != nil {
				return s.out.Fail("failed to read event counter", err)
			}

			result := CheckResult{
				Database:        s.cfg.Database.Path,
				EntityTypes:     map[string]int{},
				LastEventNumber: last,
				Snapshots:       s.cfg.SnapshotPolicy(),
			}
			types := s.eng.Entities.Types()
			for _, t := range types {
				result.EntityTypes[t] = s.eng.Migrations.Current(t)
			}

			return s.out.Render(result, func(w io.Writer) {
				fmt.Fprintf(w, "Database: %s\n", result.Database)
				fmt.Fprintf(w, "Events: %d\n", last)
				for _, t := range types {
					fmt.Fprintf(w, "  %s (schema v%d)\n", t, result.EntityTypes[t])
				}
				p := result.Snapshots
				if p.Enabled {
					fmt.Fprintf(w, "Snapshots: trigger=%s threshold=%d frequency=%s retention=%s\n",
						p.Trigger, p.EventThreshold, p.Frequency, p.Retention)
				} else {
					fmt.Fprintln(w, "Snapshots: disabled")
				}
				fmt.Fprintln(w, "✓ Configuration valid")
			})
		},
	}
}

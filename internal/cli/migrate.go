package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

// MigrateResult is the payload of the migrate command.
type MigrateResult struct {
	Migrated map[string]int `json:"migrated"`
	Total    int            `json:"total"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Rewrite stale documents at the current schema version",
		Long: `Upgrade every stored document whose schema version is behind its type's
current version. Documents are read through the migration chain and written
back, so later reads skip the upgrade.`,
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

			migrated, err := s.eng.EntityStore.MigrateAll(ctx)
			if err != nil {
				return s.out.Fail("migration failed", err)
			}
			result := MigrateResult{Migrated: migrated}
			for _, n := range migrated {
				result.Total += n
			}

			return s.out.Render(result, func(w io.Writer) {
				for _, t := range slices.Sorted(maps.Keys(migrated)) {
					fmt.Fprintf(w, "%s: %d document(s) migrated\n", t, migrated[t])
				}
				if result.Total == 0 {
					fmt.Fprintln(w, "✓ All documents at current schema version")
					return
				}
				fmt.Fprintf(w, "✓ Migrated %d document(s)\n", result.Total)
			})
		},
	}
}

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/snapshot"
)

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "List, take, restore and delete entity-store snapshots",
	}
	cmd.AddCommand(newSnapshotListCommand(rootOpts))
	cmd.AddCommand(newSnapshotTakeCommand(rootOpts))
	cmd.AddCommand(newSnapshotRestoreCommand(rootOpts))
	cmd.AddCommand(newSnapshotDeleteCommand(rootOpts))
	return cmd
}

func newSnapshotListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List snapshots, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			all, err := s.eng.Snapshots.All(ctx)
			if err != nil {
				return s.out.Fail("failed to list snapshots", err)
			}
			if all == nil {
				all = []*snapshot.Metadata{}
			}
			return s.out.Render(all, func(w io.Writer) {
				if len(all) == 0 {
					fmt.Fprintln(w, "No snapshots found.")
					return
				}
				for _, md := range all {
					printSnapshot(w, md)
				}
			})
		},
	}
}

func newSnapshotTakeCommand(opts *RootOptions) *cobra.Command {
	var at int64
	cmd := &cobra.Command{
		Use:   "take",
		Short: "Snapshot the entity store now",
		Long: `Snapshot the current entity store, labelled with an event number.

Without --at the snapshot is labelled with the newest event number, which is
only correct when the entity store is up to date with the log.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			if at < 0 {
				return usageError(s.out, "--at must not be negative")
			}
			if at == 0 {
				if at, err = s.eng.Events.LastEventNumber(ctx); err != nil {
					return s.out.Fail("failed to read event counter", err)
				}
			}
			md, err := s.eng.Snapshots.Take(ctx, at)
			if err != nil {
				return s.out.Fail("failed to take snapshot", err)
			}
			return s.out.Render(md, func(w io.Writer) {
				fmt.Fprint(w, "✓ Snapshot taken: ")
				printSnapshot(w, md)
			})
		},
	}
	cmd.Flags().Int64Var(&at, "at", 0, "event number to label the snapshot with (default: newest)")
	return cmd
}

func newSnapshotRestoreCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "restore <id>",
		Short:         "Replace the entity store with a snapshot's documents",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			md, err := s.eng.Snapshots.Restore(ctx, args[0])
			if err != nil {
				return s.out.Fail("failed to restore snapshot", err)
			}
			return s.out.Render(md, func(w io.Writer) {
				fmt.Fprint(w, "✓ Restored: ")
				printSnapshot(w, md)
			})
		},
	}
}

func newSnapshotDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a snapshot",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			if err := s.eng.Snapshots.Delete(ctx, args[0]); err != nil {
				return s.out.Fail("failed to delete snapshot", err)
			}
			result := map[string]string{"deleted": args[0]}
			return s.out.Render(result, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Deleted snapshot %s\n", args[0])
			})
		},
	}
}

func printSnapshot(w io.Writer, md *snapshot.Metadata) {
	fmt.Fprintf(w, "%s  event #%d  %d document(s)  %s\n",
		md.ID, md.EventNumber, md.Documents, md.CreatedAt.Format(time.RFC3339))
}

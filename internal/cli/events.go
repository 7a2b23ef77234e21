package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/eventstore"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	After int64
	Limit int
}

// EventsResult is the payload of the events command.
type EventsResult struct {
	Events          []eventstore.Header `json:"events"`
	LastEventNumber int64               `json:"last_event_number"`
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the event log",
		Long: `List events in event-number order without decoding their payloads.

Examples:
  chronicle events --db ./chronicle.db
  chronicle events --after 100 --limit 20
  chronicle events --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events numbered above this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	headers, err := s.eng.Events.Headers(ctx, opts.After, opts.Limit)
	if err != nil {
		return s.out.Fail("failed to list events", err)
	}
	last, err := s.eng.Events.LastEventNumber(ctx)
	if err != nil {
		return s.out.Fail("failed to read event counter", err)
	}
	if headers == nil {
		headers = []eventstore.Header{}
	}

	result := EventsResult{Events: headers, LastEventNumber: last}
	return s.out.Render(result, func(w io.Writer) {
		if len(headers) == 0 {
			fmt.Fprintln(w, "No events found.")
			return
		}
		for _, h := range headers {
			fmt.Fprintf(w, "#%d  %s  %-24s %s", h.EventNumber, h.Timestamp.Format(time.RFC3339), h.Type, h.EntityID)
			if h.TransactionID != "" {
				fmt.Fprintf(w, "  tx=%s", h.TransactionID)
			}
			if h.Compensation {
				fmt.Fprint(w, "  (compensation)")
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "\n%d event(s), last event number %d\n", len(headers), last)
	})
}

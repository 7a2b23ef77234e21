package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/chronicle/internal/customer"
	"github.com/roach88/chronicle/internal/entitystore"
)

// AssertionError is returned when an assertion fails. It carries the event
// log so a failure can be read without rerunning the scenario.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Log      []LogEntry
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nEvent log:\n")
	for _, entry := range e.Log {
		marker := ""
		if entry.Compensation {
			marker = " (compensation)"
		}
		fmt.Fprintf(&buf, "  [%d] %s %s%s\n", entry.EventNumber, entry.Type, entry.Entity, marker)
	}
	return buf.String()
}

func (h *Harness) evaluate(ctx context.Context, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		if err := h.check(ctx, a); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

func (h *Harness) check(ctx context.Context, a Assertion) error {
	log := h.result.Log
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Log: log}
	}

	switch a.Type {
	case AssertEventCount:
		if len(log) != a.Count {
			return fail(fmt.Sprintf("%d events", a.Count), fmt.Sprintf("%d events", len(log)))
		}
	case AssertCompensations:
		n := 0
		for _, entry := range log {
			if entry.Compensation {
				n++
			}
		}
		if n != a.Count {
			return fail(fmt.Sprintf("%d compensations", a.Count), fmt.Sprintf("%d compensations", n))
		}
	case AssertSnapshotCount:
		if len(h.result.Snapshots) != a.Count {
			return fail(fmt.Sprintf("%d snapshots", a.Count), fmt.Sprintf("%d snapshots", len(h.result.Snapshots)))
		}
	case AssertEventOrder:
		next := 0
		for _, entry := range log {
			if next < len(a.Types) && entry.Type == a.Types[next] {
				next++
			}
		}
		if next < len(a.Types) {
			return fail(
				fmt.Sprintf("events in order %v", a.Types),
				fmt.Sprintf("%s not found after %v", a.Types[next], a.Types[:next]),
			)
		}
	case AssertEntityState:
		c, err := entitystore.GetByID[customer.Customer](ctx, h.eng.EntityStore, a.Entity)
		if err != nil {
			return fail(fmt.Sprintf("customer %s", a.Entity), err.Error())
		}
		for k, want := range a.Expect {
			got, _ := fieldValue(c, k)
			if got != want {
				return fail(fmt.Sprintf("%s.%s = %q", a.Entity, k, want), fmt.Sprintf("%q", got))
			}
		}
	case AssertEntityAbsent:
		_, err := entitystore.GetByID[customer.Customer](ctx, h.eng.EntityStore, a.Entity)
		switch {
		case err == nil:
			return fail(fmt.Sprintf("customer %s absent", a.Entity), "present")
		case !errors.Is(err, entitystore.ErrNotFound):
			return err
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

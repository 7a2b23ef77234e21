package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/chronicle/internal/canon"
)

// Snapshot renders a result as canonical JSON followed by a newline. Only
// deterministic fields are included.
func Snapshot(name string, result *Result) ([]byte, error) {
	log := make([]any, len(result.Log))
	for i, entry := range result.Log {
		m := map[string]any{
			"event_number": entry.EventNumber,
			"type":         entry.Type,
			"entity":       entry.Entity,
			"timestamp":    entry.Timestamp,
		}
		if entry.Transaction != "" {
			m["transaction"] = entry.Transaction
		}
		if entry.Compensation {
			m["compensation"] = true
		}
		log[i] = m
	}

	doc := map[string]any{
		"scenario": name,
		"log":      log,
	}
	if len(result.Replays) > 0 {
		replays := make([]any, len(result.Replays))
		for i, r := range result.Replays {
			replays[i] = map[string]any{
				"mode":          r.Mode,
				"events":        r.Events,
				"buffered":      r.Buffered,
				"from_snapshot": r.FromSnapshot,
			}
		}
		doc["replays"] = replays
	}
	if len(result.Snapshots) > 0 {
		snapshots := make([]any, len(result.Snapshots))
		for i, s := range result.Snapshots {
			snapshots[i] = map[string]any{
				"event_number": s.EventNumber,
				"documents":    s.Documents,
			}
		}
		doc["snapshots"] = snapshots
	}

	out, err := canon.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// RunWithGolden runs scenario and compares its log with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

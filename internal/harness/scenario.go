package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/chronicle/internal/fault"
	"github.com/roach88/chronicle/internal/replay"
)

// Scenario is a scripted history plus the checks to run once it is applied.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Start is the clock origin. Zero means 2024-01-01T00:00:00Z.
	Start time.Time `yaml:"start,omitempty"`

	// Tick is how far the clock moves before each event. Zero means one
	// minute.
	Tick time.Duration `yaml:"tick,omitempty"`

	// SnapshotThreshold enables automatic snapshots every N events.
	SnapshotThreshold int64 `yaml:"snapshot_threshold,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step operation names.
const (
	OpCreate      = "create"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpSnapshot    = "snapshot"
	OpReplay      = "replay"
	OpTransaction = "transaction"
)

// Step is one operation applied to the engine.
type Step struct {
	Op string `yaml:"op"`

	// Entity is the customer alias for create, update and delete.
	Entity string `yaml:"entity,omitempty"`

	// Fields are customer attributes set by create and update.
	Fields map[string]string `yaml:"fields,omitempty"`

	Replay *ReplayStep `yaml:"replay,omitempty"`

	// Steps is the body of a transaction.
	Steps []Step `yaml:"steps,omitempty"`

	// Fail forces a transaction to roll back after its body commits.
	Fail bool `yaml:"fail,omitempty"`

	// ExpectError is the fault class the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// ReplayStep selects the replay window. With no bounds the whole log is
// replayed.
type ReplayStep struct {
	Mode        string `yaml:"mode,omitempty"`
	Entity      string `yaml:"entity,omitempty"`
	FromEvent   int64  `yaml:"from_event,omitempty"`
	UntilEvent  int64  `yaml:"until_event,omitempty"`
	UseSnapshot bool   `yaml:"use_snapshot,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount    = "event_count"
	AssertEventOrder    = "event_order"
	AssertCompensations = "compensations"
	AssertEntityState   = "entity_state"
	AssertEntityAbsent  = "entity_absent"
	AssertSnapshotCount = "snapshot_count"
)

// Assertion checks the final event log or entity state.
type Assertion struct {
	Type string `yaml:"type"`

	// Count is used by event_count, compensations and snapshot_count.
	Count int `yaml:"count,omitempty"`

	// Types is the expected order of event types (event_order). Other
	// events may appear in between.
	Types []string `yaml:"types,omitempty"`

	// Entity is the customer alias (entity_state, entity_absent).
	Entity string `yaml:"entity,omitempty"`

	// Expect holds customer fields to compare (entity_state). Subset match.
	Expect map[string]string `yaml:"expect,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown keys are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Tick < 0 {
		return fmt.Errorf("tick must not be negative")
	}
	if s.SnapshotThreshold < 0 {
		return fmt.Errorf("snapshot_threshold must not be negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(fmt.Sprintf("steps[%d]", i), step, false); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, step Step, inTransaction bool) error {
	if step.ExpectError != "" {
		switch fault.Class(step.ExpectError) {
		case fault.Conflict, fault.Configuration, fault.Misuse, fault.Integrity, fault.NotFound, fault.Internal:
		default:
			return fmt.Errorf("%s: unknown expect_error class %q", where, step.ExpectError)
		}
	}

	switch step.Op {
	case OpCreate, OpUpdate, OpDelete:
		if step.Entity == "" {
			return fmt.Errorf("%s: entity is required for %s", where, step.Op)
		}
		if step.Op == OpDelete && len(step.Fields) > 0 {
			return fmt.Errorf("%s: delete takes no fields", where)
		}
		for k := range step.Fields {
			if !knownField(k) {
				return fmt.Errorf("%s: unknown customer field %q", where, k)
			}
		}
	case OpSnapshot:
	case OpReplay:
		if inTransaction {
			return fmt.Errorf("%s: replay cannot run inside a transaction", where)
		}
		if step.Replay == nil {
			return fmt.Errorf("%s: replay settings are required", where)
		}
		if step.Replay.Mode != "" {
			if _, err := replay.ParseMode(step.Replay.Mode); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
		}
		if step.Replay.Entity != "" && (step.Replay.FromEvent > 0 || step.Replay.UntilEvent > 0) {
			return fmt.Errorf("%s: entity replay cannot be bounded by event number", where)
		}
	case OpTransaction:
		if inTransaction {
			return fmt.Errorf("%s: transactions do not nest", where)
		}
		if len(step.Steps) == 0 {
			return fmt.Errorf("%s: transaction body is empty", where)
		}
		for j, sub := range step.Steps {
			if sub.Op == OpSnapshot {
				return fmt.Errorf("%s.steps[%d]: snapshot cannot run inside a transaction", where, j)
			}
			if err := validateStep(fmt.Sprintf("%s.steps[%d]", where, j), sub, true); err != nil {
				return err
			}
		}
	case "":
		return fmt.Errorf("%s: op is required", where)
	default:
		return fmt.Errorf("%s: unknown op %q", where, step.Op)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertEventCount, AssertCompensations, AssertSnapshotCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertEventOrder:
		if len(a.Types) == 0 {
			return fmt.Errorf("assertions[%d]: types list is required for event_order", index)
		}
	case AssertEntityState:
		if a.Entity == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: entity and expect are required for entity_state", index)
		}
		for k := range a.Expect {
			if !knownField(k) {
				return fmt.Errorf("assertions[%d]: unknown customer field %q", index, k)
			}
		}
	case AssertEntityAbsent:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for entity_absent", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

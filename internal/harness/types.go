package harness

// LogEntry is one event of the final log with run-specific ids removed.
type LogEntry struct {
	EventNumber  int64  `json:"event_number"`
	Type         string `json:"type"`
	Entity       string `json:"entity"`
	Timestamp    string `json:"timestamp"`
	Transaction  string `json:"transaction,omitempty"` // "tx-N" in order of appearance
	Compensation bool   `json:"compensation,omitempty"`
}

// ReplaySummary records the outcome of one replay step.
type ReplaySummary struct {
	Mode         string `json:"mode"`
	Events       int    `json:"events"`
	Buffered     int    `json:"buffered"`
	FromSnapshot bool   `json:"from_snapshot"`
}

// SnapshotSummary describes a stored snapshot without its random id.
type SnapshotSummary struct {
	EventNumber int64 `json:"event_number"`
	Documents   int   `json:"documents"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion and expected error matched.
	Pass bool `json:"pass"`

	Log       []LogEntry        `json:"log"`
	Replays   []ReplaySummary   `json:"replays,omitempty"`
	Snapshots []SnapshotSummary `json:"snapshots,omitempty"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Log:    []LogEntry{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

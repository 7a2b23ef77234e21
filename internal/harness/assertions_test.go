package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEventCount,
		Expected: "3 events",
		Actual:   "2 events",
		Log: []LogEntry{
			{EventNumber: 1, Type: "CustomerCreated", Entity: "c1"},
			{EventNumber: 2, Type: "CustomerDeleted", Entity: "c1", Compensation: true},
		},
	}

	want := "Assertion failed: event_count\n" +
		"  Expected: 3 events\n" +
		"  Actual: 2 events\n" +
		"\nEvent log:\n" +
		"  [1] CustomerCreated c1\n" +
		"  [2] CustomerDeleted c1 (compensation)\n"
	assert.Equal(t, want, err.Error())
}

func TestSnapshot_OmitsEmptySections(t *testing.T) {
	r := NewResult()
	r.Log = append(r.Log, LogEntry{EventNumber: 1, Type: "CustomerCreated", Entity: "c1", Timestamp: "2024-01-01T00:01:00Z"})

	got, err := Snapshot("s", r)
	assert.NoError(t, err)
	assert.Equal(t,
		`{"log":[{"entity":"c1","event_number":1,"timestamp":"2024-01-01T00:01:00Z","type":"CustomerCreated"}],"scenario":"s"}`+"\n",
		string(got))
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

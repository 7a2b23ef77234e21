package snapshot

import (
	"fmt"
	"time"
)

// Trigger selects which conditions make a snapshot due.
type Trigger string

const (
	TriggerTime       Trigger = "time"
	TriggerEventCount Trigger = "event_count"
	TriggerEither     Trigger = "either"
	TriggerBoth       Trigger = "both"
)

// Frequency is the interval of the time trigger.
type Frequency string

const (
	Day   Frequency = "day"
	Week  Frequency = "week"
	Month Frequency = "month"
	Year  Frequency = "year"
)

// After returns t advanced by one interval. Months and years follow
// calendar arithmetic.
func (f Frequency) After(t time.Time) time.Time {
	switch f {
	case Week:
		return t.AddDate(0, 0, 7)
	case Month:
		return t.AddDate(0, 1, 0)
	case Year:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// Retention selects which snapshots survive after a new one is taken.
type Retention string

const (
	RetainAll   Retention = "all"
	RetainCount Retention = "count"
	RetainTime  Retention = "time"
)

// Policy configures when snapshots are taken and how long they are kept.
type Policy struct {
	Enabled        bool
	Trigger        Trigger
	Frequency      Frequency
	EventThreshold int64
	Retention      Retention
	MaxCount       int
	MaxAgeDays     int
}

// DefaultPolicy snapshots every 1000 events and keeps the newest 10.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:        true,
		Trigger:        TriggerEventCount,
		Frequency:      Day,
		EventThreshold: 1000,
		Retention:      RetainCount,
		MaxCount:       10,
		MaxAgeDays:     30,
	}
}

// Validate checks the policy for unknown modes and out-of-range limits.
func (p Policy) Validate() error {
	switch p.Trigger {
	case TriggerTime, TriggerEventCount, TriggerEither, TriggerBoth:
	default:
		return fmt.Errorf("unknown snapshot trigger %q", p.Trigger)
	}
	switch p.Frequency {
	case Day, Week, Month, Year:
	default:
		return fmt.Errorf("unknown snapshot frequency %q", p.Frequency)
	}
	switch p.Retention {
	case RetainAll, RetainCount, RetainTime:
	default:
		return fmt.Errorf("unknown snapshot retention %q", p.Retention)
	}
	if p.Trigger != TriggerTime && p.EventThreshold <= 0 {
		return fmt.Errorf("snapshot event threshold must be positive, got %d", p.EventThreshold)
	}
	if p.Retention == RetainCount && p.MaxCount <= 0 {
		return fmt.Errorf("snapshot max count must be positive, got %d", p.MaxCount)
	}
	if p.Retention == RetainTime && p.MaxAgeDays <= 0 {
		return fmt.Errorf("snapshot max age must be positive, got %d days", p.MaxAgeDays)
	}
	return nil
}

// due evaluates the trigger against the last snapshot position and time.
func (p Policy) due(current, lastNumber int64, lastTime, now time.Time) bool {
	countDue := p.EventThreshold > 0 && current-lastNumber >= p.EventThreshold
	timeDue := !now.Before(p.Frequency.After(lastTime))

	switch p.Trigger {
	case TriggerTime:
		return timeDue
	case TriggerEventCount:
		return countDue
	case TriggerEither:
		return countDue || timeDue
	case TriggerBoth:
		return countDue && timeDue
	}
	return false
}

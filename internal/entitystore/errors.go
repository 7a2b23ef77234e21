package entitystore

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyViolation is returned when the stored concurrency version
	// differs from the caller's. The caller must re-read and re-apply.
	ErrConcurrencyViolation = errors.New("concurrency violation")

	// ErrNotFound is returned by single-entity reads that match nothing.
	ErrNotFound = errors.New("entity not found")
)

// ConcurrencyError describes a failed optimistic concurrency check.
// It matches ErrConcurrencyViolation with errors.Is.
type ConcurrencyError struct {
	EntityType string
	ID         string
	Expected   int // version supplied by the caller
	Actual     int // stored version, 0 when no document exists
}

func (e *ConcurrencyError) Error() string {
	if e.Actual == 0 {
		return fmt.Sprintf("%s: %s %s not stored (expected version %d)",
			ErrConcurrencyViolation, e.EntityType, e.ID, e.Expected)
	}
	return fmt.Sprintf("%s: %s %s is at version %d, expected %d",
		ErrConcurrencyViolation, e.EntityType, e.ID, e.Actual, e.Expected)
}

// Is reports whether target is ErrConcurrencyViolation.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyViolation
}

// IsConcurrencyError returns true if err is a concurrency violation.
// Uses errors.As to handle wrapped errors.
func IsConcurrencyError(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}

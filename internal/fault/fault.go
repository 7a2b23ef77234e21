// Package fault classifies chronicle errors so that outer surfaces (the CLI,
// an HTTP host) can react to the kind of failure rather than its text.
package fault

import (
	"errors"
	"net/http"

	"github.com/roach88/chronicle/internal/entitystore"
	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/eventstore"
	"github.com/roach88/chronicle/internal/gateway"
	"github.com/roach88/chronicle/internal/migration"
	"github.com/roach88/chronicle/internal/replay"
	"github.com/roach88/chronicle/internal/snapshot"
	"github.com/roach88/chronicle/internal/txn"
)

// Class is the kind of a failure.
type Class string

const (
	// Conflict is a lost optimistic-concurrency race. Retrying with fresh
	// state can succeed.
	Conflict Class = "conflict"

	// Configuration is a registration gap found at runtime, such as a
	// missing migration step.
	Configuration Class = "configuration"

	// Misuse is an API called in the wrong state or with a malformed
	// argument.
	Misuse Class = "misuse"

	// Integrity is data that cannot be trusted or reproduced: a tampered
	// snapshot, or a replay that needed a response nobody recorded.
	Integrity Class = "integrity"

	NotFound Class = "not_found"

	// Internal is everything else.
	Internal Class = "internal"
)

var classes = []struct {
	class Class
	errs  []error
}{
	{Conflict, []error{entitystore.ErrConcurrencyViolation}},
	{Configuration, []error{migration.ErrNoMigrationRegistered, migration.ErrUnregisteredVersionedType}},
	{Misuse, []error{
		replay.ErrAlreadyReplaying,
		replay.ErrNotReplaying,
		txn.ErrAlreadyActive,
		txn.ErrNoActiveTransaction,
		event.ErrInvalidEventShape,
	}},
	{Integrity, []error{gateway.ErrNoCachedResponseDuringReplay, snapshot.ErrChecksumMismatch}},
	{NotFound, []error{eventstore.ErrEventNotFound, entitystore.ErrNotFound, snapshot.ErrSnapshotNotFound}},
}

// Classify returns the class of err, or "" for nil.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return Internal
}

// HTTPStatus maps a class to the status an HTTP host should answer with.
func HTTPStatus(c Class) int {
	switch c {
	case "":
		return http.StatusOK
	case Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case Integrity:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code is a short stable identifier for machine-readable output.
func Code(c Class) string {
	switch c {
	case Conflict:
		return "E001"
	case Configuration:
		return "E002"
	case Misuse:
		return "E003"
	case Integrity:
		return "E004"
	case NotFound:
		return "E005"
	case "":
		return ""
	default:
		return "E999"
	}
}

// Detail is the classified form of an error.
type Detail struct {
	Class   Class  `json:"class"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Describe classifies err. It returns nil for nil.
func Describe(err error) *Detail {
	if err == nil {
		return nil
	}
	c := Classify(err)
	return &Detail{Class: c, Code: Code(c), Status: HTTPStatus(c), Message: err.Error()}
}

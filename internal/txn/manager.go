// Package txn coordinates multi-step operations with compensation.
//
// A Manager is not atomic two-phase commit. Commit runs the enlisted commit
// actions in order and remembers the rollback of each one that succeeded;
// Rollback runs those rollbacks in reverse. Steps that never committed are
// abandoned. One Manager serves one unit of work and is not safe for
// concurrent use.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/chronicle/internal/entity"
)

var (
	// ErrAlreadyActive is returned by Begin while a transaction is active.
	ErrAlreadyActive = errors.New("transaction already active")

	// ErrNoActiveTransaction is returned by operations that need an active
	// transaction.
	ErrNoActiveTransaction = errors.New("no active transaction")
)

// Action is one commit or rollback step.
type Action func(ctx context.Context) error

type step struct {
	commit, rollback Action
}

// Manager is the transaction state machine: Inactive -> Active -> Inactive.
type Manager struct {
	id        string
	active    bool
	pending   []step
	committed []Action
	upserted  *tracked
	deleted   *tracked
	log       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager returns an inactive manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{log: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(slog.String("component", "txn"))
	m.reset()
	return m
}

func (m *Manager) reset() {
	m.id = ""
	m.active = false
	m.pending = nil
	m.committed = nil
	m.upserted = newTracked()
	m.deleted = newTracked()
}

// Begin starts a transaction and returns its id.
func (m *Manager) Begin() (string, error) {
	if m.active {
		return "", fmt.Errorf("%w: %s", ErrAlreadyActive, m.id)
	}
	m.reset()
	m.id = entity.NewID()
	m.active = true
	m.log.Debug("transaction started", "transaction_id", m.id)
	return m.id, nil
}

// ID returns the id of the active transaction, or "" when inactive.
func (m *Manager) ID() string {
	return m.id
}

// Active reports whether a transaction is active.
func (m *Manager) Active() bool {
	return m.active
}

// Enlist queues a commit action paired with the rollback that undoes it.
// A nil rollback means the step needs no compensation.
func (m *Manager) Enlist(commit, rollback Action) error {
	if !m.active {
		return ErrNoActiveTransaction
	}
	if commit == nil {
		return errors.New("enlist: nil commit action")
	}
	m.pending = append(m.pending, step{commit: commit, rollback: rollback})
	return nil
}

// Commit runs the queued commit actions in enlistment order. On the first
// failure it stops and returns the error with the transaction still active,
// so the caller can Rollback the steps that already committed.
func (m *Manager) Commit(ctx context.Context) error {
	if !m.active {
		return ErrNoActiveTransaction
	}
	for len(m.pending) > 0 {
		st := m.pending[0]
		if err := st.commit(ctx); err != nil {
			m.log.Error("transaction step failed", "transaction_id", m.id,
				"step", len(m.committed)+1, "error", err)
			return fmt.Errorf("commit transaction %s step %d: %w", m.id, len(m.committed)+1, err)
		}
		m.pending = m.pending[1:]
		m.committed = append(m.committed, st.rollback)
	}
	m.log.Info("transaction committed", "transaction_id", m.id, "steps", len(m.committed))
	m.reset()
	return nil
}

// Rollback runs the rollback of every committed step in reverse order. It
// continues past failures and returns them joined. The transaction is
// inactive afterwards either way.
func (m *Manager) Rollback(ctx context.Context) error {
	if !m.active {
		return ErrNoActiveTransaction
	}
	id := m.id

	var errs []error
	for i := len(m.committed) - 1; i >= 0; i-- {
		rb := m.committed[i]
		if rb == nil {
			continue
		}
		if err := rb(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rollback step %d: %w", i+1, err))
		}
	}
	compensated := len(m.committed)
	m.reset()

	if len(errs) > 0 {
		m.log.Error("transaction rollback incomplete", "transaction_id", id, "failures", len(errs))
		return fmt.Errorf("rollback transaction %s: %w", id, errors.Join(errs...))
	}
	m.log.Info("transaction rolled back", "transaction_id", id, "compensated", compensated)
	return nil
}

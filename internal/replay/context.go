// Package replay holds the shared state that tells every component whether
// history is currently being replayed, and how.
//
// A single Context is created at startup and injected into the event store,
// the entity store, the replay service and the API gateway. All fields are
// guarded by one mutex that is held only for the field access itself.
package replay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/chronicle/internal/event"
)

var (
	// ErrAlreadyReplaying is returned by StartReplay when a replay is running.
	ErrAlreadyReplaying = errors.New("replay already in progress")

	// ErrNotReplaying is returned by operations that require a running replay.
	ErrNotReplaying = errors.New("no replay in progress")
)

// Mode selects where replayed events go.
type Mode string

const (
	// Strict feeds events through the normal ingestion path, with side
	// effects on the durable store.
	Strict Mode = "strict"

	// Sandbox diverts events into an in-memory buffer and leaves the durable
	// store untouched.
	Sandbox Mode = "sandbox"
)

// APIMode governs how outbound API calls behave during a replay.
type APIMode string

const (
	// CacheOnly serves responses from the cache and fails when absent.
	CacheOnly APIMode = "cache-only"

	// ExternalOnly always calls out live, then caches the response.
	ExternalOnly APIMode = "external-only"

	// CacheThenExternal serves from the cache and falls back to a live call.
	CacheThenExternal APIMode = "cache-then-external"
)

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Strict, Sandbox:
		return m, nil
	}
	return "", fmt.Errorf("unknown replay mode %q", s)
}

// ParseAPIMode converts a configuration string to an APIMode.
func ParseAPIMode(s string) (APIMode, error) {
	switch m := APIMode(s); m {
	case CacheOnly, ExternalOnly, CacheThenExternal:
		return m, nil
	}
	return "", fmt.Errorf("unknown API replay mode %q", s)
}

// State is a point-in-time copy of the context.
type State struct {
	Replaying bool    `json:"replaying"`
	Mode      Mode    `json:"mode,omitempty"`
	APIMode   APIMode `json:"api_mode,omitempty"`
	Loading   bool    `json:"loading"`
	Position  int64   `json:"position"`
	Buffered  int     `json:"buffered"`
}

// Context is the replay state machine: Idle -> Replaying(mode, apiMode) -> Idle.
type Context struct {
	mu        sync.Mutex
	replaying bool
	mode      Mode
	apiMode   APIMode
	loading   bool
	position  int64
	events    []*event.Event
}

// NewContext returns an idle context.
func NewContext() *Context {
	return &Context{}
}

// StartReplay moves an idle context into the replaying state and clears the
// sandbox buffer.
func (c *Context) StartReplay(mode Mode, apiMode APIMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replaying {
		return ErrAlreadyReplaying
	}
	c.replaying = true
	c.mode = mode
	c.apiMode = apiMode
	c.position = 0
	c.events = nil
	return nil
}

// StopReplay returns the context to idle and clears the sandbox buffer.
func (c *Context) StopReplay() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.replaying {
		return ErrNotReplaying
	}
	c.replaying = false
	c.mode = ""
	c.apiMode = ""
	c.loading = false
	c.position = 0
	c.events = nil
	return nil
}

// AddEvent appends e to the sandbox buffer.
func (c *Context) AddEvent(e *event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.replaying {
		return ErrNotReplaying
	}
	c.events = append(c.events, e)
	return nil
}

// Events returns a copy of the sandbox buffer in insertion order.
func (c *Context) Events() ([]*event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.replaying {
		return nil, ErrNotReplaying
	}
	out := make([]*event.Event, len(c.events))
	copy(out, c.events)
	return out, nil
}

// IsReplaying reports whether a replay is running.
func (c *Context) IsReplaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaying
}

// IsSandboxed reports whether a Sandbox replay is running.
func (c *Context) IsSandboxed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaying && c.mode == Sandbox
}

// Mode returns the mode of the running replay, or "" when idle.
func (c *Context) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// APIMode returns the API mode of the running replay, or "" when idle.
func (c *Context) APIMode() APIMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiMode
}

func (c *Context) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Context) SetLoading(loading bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = loading
}

// Position returns the event number most recently replayed.
func (c *Context) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// SetPosition records the event number most recently replayed.
func (c *Context) SetPosition(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = n
}

// State returns a snapshot of all fields.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Replaying: c.replaying,
		Mode:      c.mode,
		APIMode:   c.apiMode,
		Loading:   c.loading,
		Position:  c.position,
		Buffered:  len(c.events),
	}
}

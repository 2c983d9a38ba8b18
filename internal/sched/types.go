package sched

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"timerd/internal/dispatch"
	"timerd/internal/runtime/supervisor"
	"timerd/internal/store"
	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

// ErrNotStarted is returned by operations that need the background loop.
var ErrNotStarted = errors.New("scheduler not started")

// Config controls the timer scheduler.
type Config struct {
	// Horizon bounds the "fetch next timer" query. Timers beyond it are
	// still found through an unbounded fallback fetch, so this is a
	// performance knob, not a correctness one.
	Horizon time.Duration

	// EphemeralWindow is the largest delay that skips persistence.
	// Such timers trade durability for avoiding storage round trips.
	EphemeralWindow time.Duration

	// RetryBackoff paces loop restarts after transient storage failures.
	RetryBackoff time.Duration
}

const (
	defaultHorizon         = 40 * 24 * time.Hour
	defaultEphemeralWindow = 60 * time.Second
	defaultRetryBackoff    = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Horizon == 0 {
		c.Horizon = defaultHorizon
	}
	if c.EphemeralWindow == 0 {
		c.EphemeralWindow = defaultEphemeralWindow
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	return c
}

// Service is the timer scheduler. The loop goroutine is the only writer of
// the loaded candidate; callers coordinate with it exclusively through the
// wake signal and the store.
type Service struct {
	cfg   Config
	log   logx.Logger
	store store.Store
	reg   *dispatch.Registry

	// wake is the sticky wake signal: capacity 1, at-least-one-wake under
	// concurrent sends.
	wake chan struct{}

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	current *timer.Timer

	limiter *rate.Limiter

	dispatched atomic.Uint64
	ephemeral  atomic.Uint64
	restarts   atomic.Uint64
}

// Snapshot is a point-in-time view of the scheduler for observability.
type Snapshot struct {
	Running        bool          `json:"running"`
	CurrentID      int64         `json:"current_id,omitempty"`
	CurrentEvent   string        `json:"current_event,omitempty"`
	CurrentExpires time.Time     `json:"current_expires,omitzero"`
	Dispatched     uint64        `json:"dispatched"`
	Ephemeral      uint64        `json:"ephemeral"`
	Restarts       uint64        `json:"restarts"`
	Horizon        time.Duration `json:"horizon"`
}

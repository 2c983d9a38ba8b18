package sched

import (
	"context"
	"time"

	"timerd/internal/store"
	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

// CreateOption customizes Create.
type CreateOption func(*createOpts)

type createOpts struct {
	created  time.Time
	timezone string
	kwargs   map[string]any
}

// WithCreated overrides the creation timestamp (defaults to now). Callers
// pass the triggering message's timestamp to keep displayed deltas consistent.
func WithCreated(t time.Time) CreateOption {
	return func(o *createOpts) { o.created = t }
}

// WithTimezone attaches an IANA timezone for display purposes. It never
// affects when the timer fires; scheduling compares UTC-normalized instants.
func WithTimezone(tz string) CreateOption {
	return func(o *createOpts) {
		if tz != "" {
			o.timezone = tz
		}
	}
}

// WithKwargs attaches the keyword payload. Keys are also what Cancel/Get
// filters match against.
func WithKwargs(kwargs map[string]any) CreateOption {
	return func(o *createOpts) { o.kwargs = kwargs }
}

// Create schedules event to fire at when, carrying args and kwargs through
// to the handlers unchanged (payloads must be JSON-serializable).
//
// Timers due within EphemeralWindow never touch the store: they run as
// in-process delayed dispatches and come back with ID 0. Everything else is
// persisted, and the loop is woken if the new timer preempts the loaded
// candidate.
func (s *Service) Create(ctx context.Context, when time.Time, event string, args []any, opts ...CreateOption) (*timer.Timer, error) {
	o := createOpts{created: time.Now(), timezone: "UTC"}
	for _, opt := range opts {
		opt(&o)
	}

	t := &timer.Timer{
		Event:    event,
		Created:  timer.NormalizeUTC(o.created),
		Expires:  timer.NormalizeUTC(when),
		Timezone: o.timezone,
		Args:     args,
		Kwargs:   o.kwargs,
	}

	delta := t.Expires.Sub(t.Created)
	if delta <= s.cfg.EphemeralWindow {
		// Short-timer path: explicit branch, no storage round trip. A
		// non-positive delta dispatches immediately.
		s.mu.Lock()
		sup := s.sup
		s.mu.Unlock()
		if sup == nil {
			return nil, ErrNotStarted
		}
		s.ephemeral.Add(1)
		s.dispatchEphemeral(sup, t, delta)
		return t, nil
	}

	id, err := s.store.Insert(ctx, t)
	if err != nil {
		return nil, err
	}
	t.ID = id
	s.log.Debug("timer created",
		logx.Int64("id", id),
		logx.String("event", event),
		logx.Time("expires", t.Expires))

	// Preempt a stale sleep: wake when nothing is loaded, or when the new
	// timer is due no later than the loaded candidate.
	cur := s.loadedTimer()
	if cur == nil || !t.Expires.After(cur.Expires) {
		s.signalWake()
	}
	return t, nil
}

// Cancel deletes the timer matching event and filter, waking the loop only
// when the deleted timer was the loaded candidate. Cancelling a timer that
// does not exist is a no-op.
func (s *Service) Cancel(ctx context.Context, event string, f store.Filter) error {
	id, err := s.store.DeleteBy(ctx, event, f)
	if err != nil {
		return err
	}
	if id == 0 {
		return nil
	}
	s.log.Debug("timer cancelled", logx.Int64("id", id), logx.String("event", event))

	if cur := s.loadedTimer(); cur != nil && cur.ID == id {
		s.signalWake()
	}
	return nil
}

// Get looks up a timer without firing or cancelling it.
func (s *Service) Get(ctx context.Context, event string, f store.Filter) (*timer.Timer, error) {
	return s.store.Find(ctx, event, f)
}

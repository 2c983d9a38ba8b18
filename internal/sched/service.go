package sched

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"timerd/internal/dispatch"
	"timerd/internal/runtime/supervisor"
	"timerd/internal/store"
	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

func New(cfg Config, st store.Store, reg *dispatch.Registry, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log.Named("sched"),
		store:   st,
		reg:     reg,
		wake:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Every(cfg.RetryBackoff), 1),
	}
}

// Start launches the background loop. Calling Start on a running service is
// a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = supervisor.New(ctx, s.log)
	s.sup.Go("timer-loop", s.run)
	s.log.Info("scheduler started",
		logx.Duration("horizon", s.cfg.Horizon),
		logx.Duration("ephemeral_window", s.cfg.EphemeralWindow))
}

// Stop cancels the loop and all in-flight short timers, waiting up to ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.current = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("scheduler stopped")
	return err
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cur := s.current
	running := s.sup != nil
	s.mu.Unlock()

	snap := Snapshot{
		Running:    running,
		Dispatched: s.dispatched.Load(),
		Ephemeral:  s.ephemeral.Load(),
		Restarts:   s.restarts.Load(),
		Horizon:    s.cfg.Horizon,
	}
	if cur != nil {
		snap.CurrentID = cur.ID
		snap.CurrentEvent = cur.Event
		snap.CurrentExpires = cur.Expires
	}
	return snap
}

// signalWake sets the wake flag. Non-blocking: the channel holds at most one
// token, so concurrent signals collapse into "at least one wake is delivered".
func (s *Service) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drainWake consumes a pending wake token, if any.
func (s *Service) drainWake() {
	select {
	case <-s.wake:
	default:
	}
}

func (s *Service) setCurrent(t *timer.Timer) {
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
}

func (s *Service) loadedTimer() *timer.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// run is the scheduler loop. Storage failures restart it from a clean fetch;
// everything else cycles through wait -> sleep -> fire.
func (s *Service) run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.restarts.Add(1)
			s.setCurrent(nil)
			s.log.Warn("timer loop restarting after storage failure", logx.Err(err))
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}
	}
}

func (s *Service) runOnce(ctx context.Context) error {
	t, err := s.waitForActiveTimer(ctx)
	if err != nil {
		return err
	}
	if t == nil {
		// woken, or shutting down; re-evaluate
		return nil
	}
	s.setCurrent(t)

	sleep := time.NewTimer(t.Remaining(time.Now()))
	defer sleep.Stop()

	select {
	case <-sleep.C:
	case <-s.wake:
		// A sooner timer appeared or the candidate was cancelled. Abandon the
		// stale sleep and re-fetch.
		return nil
	case <-ctx.Done():
		return nil
	}
	return s.fire(ctx, t)
}

// waitForActiveTimer returns the soonest candidate, blocking on the wake
// signal while no timer exists. A nil, nil return means "re-check" (wake with
// nothing found yet, or context cancelled).
func (s *Service) waitForActiveTimer(ctx context.Context) (*timer.Timer, error) {
	// Clear any stale wake before looking: a signal arriving after this point
	// refers to state the fetch below cannot have seen. Clearing the loaded
	// candidate as well forces concurrent Creates to signal rather than
	// compare against a stale candidate while the fetch is in flight.
	s.drainWake()
	s.setCurrent(nil)

	t, err := s.store.FetchNext(ctx, s.cfg.Horizon)
	if err != nil {
		return nil, err
	}
	if t == nil {
		// Wider fallback so far-future timers are not missed when nothing
		// closer exists; the interruptible sleep bounds the wait regardless.
		t, err = s.store.FetchNext(ctx, 0)
		if err != nil {
			return nil, err
		}
	}
	if t != nil {
		return t, nil
	}

	select {
	case <-s.wake:
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}
}

// fire removes the row and then dispatches. Delete-before-dispatch is what
// keeps delivery at-most-once across restarts.
func (s *Service) fire(ctx context.Context, t *timer.Timer) error {
	if err := s.store.Delete(ctx, t.ID); err != nil {
		return err
	}
	s.setCurrent(nil)
	s.dispatched.Add(1)
	s.log.Debug("timer fired",
		logx.Int64("id", t.ID),
		logx.String("event", t.Event),
		logx.Time("expires", t.Expires))
	s.reg.Dispatch(t.Event+dispatch.CompleteSuffix, t)
	return nil
}

// dispatchEphemeral sleeps out the remaining delay in-process and dispatches.
func (s *Service) dispatchEphemeral(sup *supervisor.Supervisor, t *timer.Timer, delay time.Duration) {
	sup.Go("short-timer:"+t.Event, func(ctx context.Context) {
		sleep := time.NewTimer(delay)
		defer sleep.Stop()
		select {
		case <-sleep.C:
		case <-ctx.Done():
			return
		}
		s.dispatched.Add(1)
		s.reg.Dispatch(t.Event+dispatch.CompleteSuffix, t)
	})
}

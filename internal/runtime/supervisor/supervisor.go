// Package supervisor manages named goroutines tied to a shared context:
// panic recovery with stack logging, best-effort counters, and a
// timeout-aware graceful stop.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"

	logx "timerd/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	// Counters are best-effort operational metrics.
	started atomic.Uint64
	active  atomic.Int64
	panics  atomic.Uint64

	log logx.Logger
	wg  sync.WaitGroup
}

// Counters exposes best-effort goroutine counters.
// These are operational signals only (not a synchronization primitive).
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
	Panics  uint64 `json:"panics"`
}

func New(parent context.Context, log logx.Logger) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, log: log}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Counters() Counters {
	return Counters{
		Active:  s.active.Load(),
		Started: s.started.Load(),
		Panics:  s.panics.Load(),
	}
}

// Go starts fn on a supervised goroutine. A panic in fn is recovered and
// logged; it never takes the process down.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		defer func() {
			if p := recover(); p != nil {
				s.panics.Add(1)
				s.log.Error("goroutine panic",
					logx.String("name", name),
					logx.Any("panic", p),
					logx.Stack(logx.StackTrace(3, 16)))
			}
		}()
		fn(s.ctx)
	}()
}

// Stop cancels the shared context and waits for supervised goroutines to
// finish, or until ctx expires.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

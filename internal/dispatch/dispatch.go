// Package dispatch delivers fired timers to registered handlers.
//
// It is a string-keyed open registry: callers register handlers for event
// names at runtime, and the scheduler dispatches "<event>_timer_complete"
// with the fired timer as payload. Handlers run independently on supervised
// goroutines; one handler's failure or panic never prevents the others from
// running, and nothing propagates back into the scheduler loop.
package dispatch

import (
	"context"
	"sync"

	"timerd/internal/runtime/supervisor"
	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

// CompleteSuffix is appended to a timer's event name to form the dispatched
// event name. Event names themselves are free-form caller-supplied strings.
const CompleteSuffix = "_timer_complete"

// Handler reacts to a fired timer. A returned error is logged at the
// invocation boundary and otherwise ignored.
type Handler func(ctx context.Context, t *timer.Timer) error

type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	sup *supervisor.Supervisor
	log logx.Logger
}

func NewRegistry(sup *supervisor.Supervisor, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		handlers: map[string][]Handler{},
		sup:      sup,
		log:      log.Named("dispatch"),
	}
}

// On registers a handler for an event name. The registry is open: new event
// names can be registered at any time.
func (r *Registry) On(event string, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.handlers[event] = append(r.handlers[event], h)
	r.mu.Unlock()
}

// HandlerCount reports the number of handlers registered for an event.
func (r *Registry) HandlerCount(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Dispatch invokes all handlers registered for event with t, each on its own
// supervised goroutine. It is fire-and-forget: Dispatch returns as soon as
// the invocations are scheduled.
func (r *Registry) Dispatch(event string, t *timer.Timer) {
	// Snapshot under the read lock so Dispatch never holds it while handlers run.
	r.mu.RLock()
	hs := make([]Handler, len(r.handlers[event]))
	copy(hs, r.handlers[event])
	r.mu.RUnlock()

	if len(hs) == 0 {
		r.log.Debug("no handlers for event", logx.String("event", event))
		return
	}

	for _, h := range hs {
		h := h
		r.sup.Go("handler:"+event, func(ctx context.Context) {
			if err := h(ctx, t); err != nil {
				r.log.Error("handler failed",
					logx.String("event", event),
					logx.Int64("timer_id", t.ID),
					logx.Err(err))
			}
		})
	}
}

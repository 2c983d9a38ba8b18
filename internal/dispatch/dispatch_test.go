package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"timerd/internal/runtime/supervisor"
	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

func newRegistry(t *testing.T) (*Registry, *supervisor.Supervisor) {
	t.Helper()
	sup := supervisor.New(context.Background(), logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	return NewRegistry(sup, logx.Nop()), sup
}

func waitN(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case v := <-ch:
			got = append(got, v)
		case <-deadline:
			t.Fatalf("timed out after %d/%d deliveries", len(got), n)
		}
	}
	return got
}

func TestDispatchFanout(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	ch := make(chan string, 3)

	for _, name := range []string{"a", "b", "c"} {
		name := name
		reg.On("poll"+CompleteSuffix, func(ctx context.Context, tm *timer.Timer) error {
			ch <- name
			return nil
		})
	}
	if n := reg.HandlerCount("poll" + CompleteSuffix); n != 3 {
		t.Fatalf("HandlerCount = %d, want 3", n)
	}

	reg.Dispatch("poll"+CompleteSuffix, &timer.Timer{Event: "poll"})

	got := waitN(t, ch, 3)
	seen := map[string]bool{}
	for _, v := range got {
		seen[v] = true
	}
	if !seen["a"] || !seen["b"] || !seen["c"] {
		t.Fatalf("deliveries = %v, want all of a, b, c", got)
	}
}

func TestDispatchIsolatesPanics(t *testing.T) {
	t.Parallel()
	reg, sup := newRegistry(t)
	ch := make(chan string, 1)

	reg.On("reminder"+CompleteSuffix, func(ctx context.Context, tm *timer.Timer) error {
		panic("handler exploded")
	})
	reg.On("reminder"+CompleteSuffix, func(ctx context.Context, tm *timer.Timer) error {
		ch <- "survivor"
		return nil
	})

	reg.Dispatch("reminder"+CompleteSuffix, &timer.Timer{Event: "reminder"})

	if got := waitN(t, ch, 1); got[0] != "survivor" {
		t.Fatalf("got %v", got)
	}

	// The panic should be visible in the supervisor counters eventually.
	deadline := time.Now().Add(2 * time.Second)
	for sup.Counters().Panics == 0 {
		if time.Now().After(deadline) {
			t.Fatal("panic was not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDispatchSwallowsHandlerErrors(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	ch := make(chan string, 2)

	reg.On("giveaway"+CompleteSuffix, func(ctx context.Context, tm *timer.Timer) error {
		ch <- "first"
		return errors.New("boom")
	})
	reg.On("giveaway"+CompleteSuffix, func(ctx context.Context, tm *timer.Timer) error {
		ch <- "second"
		return nil
	})

	reg.Dispatch("giveaway"+CompleteSuffix, &timer.Timer{Event: "giveaway"})
	waitN(t, ch, 2)
}

func TestDispatchNoHandlers(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	// Free-form event names, nothing registered: must be a silent no-op.
	reg.Dispatch("lockdown"+CompleteSuffix, &timer.Timer{Event: "lockdown"})
}

func TestOnNilHandler(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	reg.On("x", nil)
	if n := reg.HandlerCount("x"); n != 0 {
		t.Fatalf("nil handler registered, count = %d", n)
	}
}

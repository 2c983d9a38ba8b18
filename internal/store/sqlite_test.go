package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "timers.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustInsert(t *testing.T, st Store, tm *timer.Timer) *timer.Timer {
	t.Helper()
	if tm.Timezone == "" {
		tm.Timezone = "UTC"
	}
	id, err := st.Insert(context.Background(), tm)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	tm.ID = id
	return tm
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "oracle", DSN: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFetchNextOrdersByExpiry(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()
	now := timer.NormalizeUTC(time.Now())

	mustInsert(t, st, &timer.Timer{Event: "reminder", Created: now, Expires: now.Add(30 * time.Second)})
	soonest := mustInsert(t, st, &timer.Timer{Event: "poll", Created: now, Expires: now.Add(5 * time.Second)})
	mustInsert(t, st, &timer.Timer{Event: "giveaway", Created: now, Expires: now.Add(10 * time.Second)})

	got, err := st.FetchNext(ctx, time.Hour)
	if err != nil {
		t.Fatalf("FetchNext: %v", err)
	}
	if got == nil || got.ID != soonest.ID {
		t.Fatalf("FetchNext = %+v, want id %d", got, soonest.ID)
	}
	if got.Event != "poll" {
		t.Fatalf("Event = %q, want poll", got.Event)
	}
}

func TestFetchNextHorizon(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()
	now := timer.NormalizeUTC(time.Now())

	far := mustInsert(t, st, &timer.Timer{Event: "tempban", Created: now, Expires: now.Add(10 * 24 * time.Hour)})

	got, err := st.FetchNext(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("FetchNext: %v", err)
	}
	if got != nil {
		t.Fatalf("timer beyond horizon should be invisible, got %+v", got)
	}

	// Unbounded fallback finds it.
	got, err = st.FetchNext(ctx, 0)
	if err != nil {
		t.Fatalf("FetchNext unbounded: %v", err)
	}
	if got == nil || got.ID != far.ID {
		t.Fatalf("unbounded FetchNext = %+v, want id %d", got, far.ID)
	}
}

func TestFetchNextEmpty(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	got, err := st.FetchNext(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("FetchNext: %v", err)
	}
	if got != nil {
		t.Fatalf("empty store returned %+v", got)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()

	if err := st.Delete(ctx, 12345); err != nil {
		t.Fatalf("deleting a nonexistent id must be a no-op, got %v", err)
	}

	now := timer.NormalizeUTC(time.Now())
	tm := mustInsert(t, st, &timer.Timer{Event: "reminder", Created: now, Expires: now.Add(time.Minute)})
	if err := st.Delete(ctx, tm.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Delete(ctx, tm.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestFindByKwargsFilter(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()
	now := timer.NormalizeUTC(time.Now())

	mustInsert(t, st, &timer.Timer{
		Event: "poll", Created: now, Expires: now.Add(time.Minute),
		Kwargs: map[string]any{"poll_id": 41},
	})
	want := mustInsert(t, st, &timer.Timer{
		Event: "poll", Created: now, Expires: now.Add(2 * time.Minute),
		Kwargs: map[string]any{"poll_id": 42, "channel": "general"},
	})

	got, err := st.Find(ctx, "poll", Filter{"poll_id": 42})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got == nil || got.ID != want.ID {
		t.Fatalf("Find = %+v, want id %d", got, want.ID)
	}

	got, err = st.Find(ctx, "poll", Filter{"poll_id": 42, "channel": "general"})
	if err != nil {
		t.Fatalf("Find two keys: %v", err)
	}
	if got == nil || got.ID != want.ID {
		t.Fatalf("two-key Find = %+v, want id %d", got, want.ID)
	}

	got, err = st.Find(ctx, "poll", Filter{"poll_id": 99})
	if err != nil {
		t.Fatalf("Find absent: %v", err)
	}
	if got != nil {
		t.Fatalf("absent filter matched %+v", got)
	}

	// Same filter, different event.
	got, err = st.Find(ctx, "giveaway", Filter{"poll_id": 42})
	if err != nil {
		t.Fatalf("Find other event: %v", err)
	}
	if got != nil {
		t.Fatalf("event mismatch matched %+v", got)
	}
}

func TestDeleteBy(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()
	now := timer.NormalizeUTC(time.Now())

	tm := mustInsert(t, st, &timer.Timer{
		Event: "giveaway", Created: now, Expires: now.Add(time.Minute),
		Kwargs: map[string]any{"giveaway_id": "g-7"},
	})

	id, err := st.DeleteBy(ctx, "giveaway", Filter{"giveaway_id": "g-7"})
	if err != nil {
		t.Fatalf("DeleteBy: %v", err)
	}
	if id != tm.ID {
		t.Fatalf("DeleteBy id = %d, want %d", id, tm.ID)
	}

	id, err = st.DeleteBy(ctx, "giveaway", Filter{"giveaway_id": "g-7"})
	if err != nil {
		t.Fatalf("second DeleteBy: %v", err)
	}
	if id != 0 {
		t.Fatalf("second DeleteBy id = %d, want 0", id)
	}
}

func TestPayloadSurvivesPersistence(t *testing.T) {
	t.Parallel()
	st := newSQLiteStore(t)
	ctx := context.Background()
	now := timer.NormalizeUTC(time.Now())

	in := mustInsert(t, st, &timer.Timer{
		Event: "reminder", Created: now, Expires: now.Add(time.Minute),
		Timezone: "Europe/Berlin",
		Args:     []any{"12345", "67890", "water the plants"},
		Kwargs:   map[string]any{"message_id": "111", "dm": "yes"},
	})

	got, err := st.FetchNext(ctx, time.Hour)
	if err != nil {
		t.Fatalf("FetchNext: %v", err)
	}
	if got == nil {
		t.Fatal("timer not found")
	}
	if !reflect.DeepEqual(got.Args, in.Args) {
		t.Fatalf("Args = %#v, want %#v", got.Args, in.Args)
	}
	if !reflect.DeepEqual(got.Kwargs, in.Kwargs) {
		t.Fatalf("Kwargs = %#v, want %#v", got.Kwargs, in.Kwargs)
	}
	if got.Timezone != "Europe/Berlin" {
		t.Fatalf("Timezone = %q", got.Timezone)
	}
	if !got.Expires.Equal(in.Expires) || !got.Created.Equal(in.Created) {
		t.Fatalf("timestamps drifted: got (%v, %v) want (%v, %v)", got.Expires, got.Created, in.Expires, in.Created)
	}
}

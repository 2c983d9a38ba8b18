package timer

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timer is a deferred "fire event E with payload P at time X" record.
//
// A Timer either lives in the store (ID > 0) or only in process memory
// (ID == 0, the short-lived path that never touches storage).
type Timer struct {
	ID       int64
	Event    string
	Created  time.Time
	Expires  time.Time
	Timezone string

	// Args and Kwargs are the caller-supplied payload, passed through to the
	// fired event's handlers unchanged. Values must be JSON-serializable.
	Args   []any
	Kwargs map[string]any
}

// Ephemeral reports whether the timer bypassed persistence. Ephemeral timers
// are lost on process restart; acceptable for sub-minute delays.
func (t *Timer) Ephemeral() bool { return t.ID == 0 }

// Remaining returns the time left until the timer expires, never negative.
func (t *Timer) Remaining(now time.Time) time.Duration {
	d := t.Expires.Sub(NormalizeUTC(now))
	if d < 0 {
		return 0
	}
	return d
}

func (t *Timer) String() string {
	return fmt.Sprintf("timer(id=%d event=%s expires=%s)", t.ID, t.Event, t.Expires.Format(time.RFC3339))
}

// NormalizeUTC converts a timestamp to UTC, drops the monotonic clock
// reading, and truncates to millisecond precision, the finest granularity
// every storage backend round-trips exactly. All scheduling comparisons
// happen on normalized values; the Timezone field is display metadata only.
func NormalizeUTC(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// payload is the wire shape of the extra column: {"args": [...], "kwargs": {...}}.
type payload struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// EncodeExtra marshals the timer payload for storage.
func (t *Timer) EncodeExtra() ([]byte, error) {
	p := payload{Args: t.Args, Kwargs: t.Kwargs}
	if p.Args == nil {
		p.Args = []any{}
	}
	if p.Kwargs == nil {
		p.Kwargs = map[string]any{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode timer payload: %w", err)
	}
	return b, nil
}

// DecodeExtra unmarshals a stored extra document into Args/Kwargs.
func (t *Timer) DecodeExtra(b []byte) error {
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("decode timer payload: %w", err)
	}
	t.Args = p.Args
	t.Kwargs = p.Kwargs
	if t.Args == nil {
		t.Args = []any{}
	}
	if t.Kwargs == nil {
		t.Kwargs = map[string]any{}
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

// Config configures timer storage.
//
// Driver values:
//   - "sqlite":   SQLite database file (modernc, cgo-free)
//   - "postgres": PostgreSQL via lib/pq
type Config struct {
	Driver      string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// StorageError wraps a driver or connectivity failure. Absence of a matching
// row is never an error; it is reported as a nil timer / zero id.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err originated in the storage layer.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Filter selects timers by equality over the kwargs payload, e.g.
// {"poll_id": 42} matches timers whose extra.kwargs.poll_id renders as "42".
// Values are compared as text, matching the original JSON-path predicates.
type Filter map[string]any

// sortedKeys gives filters a deterministic clause order.
func (f Filter) sortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Store is the persistence API for timers.
//
// All lookups that find nothing return (nil, nil) or (0, nil); errors are
// reserved for storage failures. Implementations must be safe for concurrent
// use by the scheduler loop and caller goroutines.
type Store interface {
	// Insert persists a timer and returns the assigned id.
	Insert(ctx context.Context, t *timer.Timer) (int64, error)

	// FetchNext returns the timer with the smallest expiry among rows with
	// expires < now+horizon, or nil if none qualify. A horizon <= 0 removes
	// the bound. The horizon exists for query efficiency, not correctness.
	FetchNext(ctx context.Context, horizon time.Duration) (*timer.Timer, error)

	// Delete removes a timer row. Deleting a nonexistent id is a no-op.
	Delete(ctx context.Context, id int64) error

	// Find returns a single timer matching event plus kwargs filter, or nil.
	Find(ctx context.Context, event string, f Filter) (*timer.Timer, error)

	// DeleteBy deletes a timer matching event plus kwargs filter and returns
	// the deleted id, or 0 if nothing matched.
	DeleteBy(ctx context.Context, event string, f Filter) (int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
}

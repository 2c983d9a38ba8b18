package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

//go:embed migrations_sqlite.sql
var sqliteMigrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.DSN)
	if path == "" {
		return nil, errors.New("sqlite DSN (file path) is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := sqliteMigrationsFS.ReadFile("migrations_sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Insert(ctx context.Context, t *timer.Timer) (int64, error) {
	extra, err := t.EncodeExtra()
	if err != nil {
		return 0, err
	}
	expires := timer.NormalizeUTC(t.Expires)
	created := timer.NormalizeUTC(t.Created)
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO timers(event, extra, expires, created, timezone)
		 VALUES(?,?,?,?,?) RETURNING id`,
		t.Event, string(extra), expires.UnixMilli(), created.UnixMilli(), t.Timezone,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("insert", err)
	}
	return id, nil
}

func (s *sqliteStore) FetchNext(ctx context.Context, horizon time.Duration) (*timer.Timer, error) {
	now := timer.NormalizeUTC(time.Now())
	q := `SELECT id, event, extra, expires, created, timezone FROM timers`
	args := []any{}
	if horizon > 0 {
		q += ` WHERE expires < ?`
		args = append(args, now.Add(horizon).UnixMilli())
	}
	q += ` ORDER BY expires, id LIMIT 1`

	t, err := s.scanOne(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, storageErr("fetch next", err)
	}
	return t, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = ?`, id); err != nil {
		return storageErr("delete", err)
	}
	return nil
}

func (s *sqliteStore) Find(ctx context.Context, event string, f Filter) (*timer.Timer, error) {
	where, args := sqliteFilterClause(event, f)
	q := `SELECT id, event, extra, expires, created, timezone FROM timers WHERE ` + where + ` LIMIT 1`

	t, err := s.scanOne(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, storageErr("find", err)
	}
	return t, nil
}

func (s *sqliteStore) DeleteBy(ctx context.Context, event string, f Filter) (int64, error) {
	where, args := sqliteFilterClause(event, f)
	q := `DELETE FROM timers WHERE id IN (
		SELECT id FROM timers WHERE ` + where + ` LIMIT 1
	) RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("delete by", err)
	}
	return id, nil
}

// sqliteFilterClause builds "event = ? AND ..." with one json_extract predicate
// per kwargs key. Extracted values are compared as text; integers render
// without decorations, so {"poll_id": 42} matches a payload written as 42.
func sqliteFilterClause(event string, f Filter) (string, []any) {
	var b strings.Builder
	b.WriteString("event = ?")
	args := []any{event}
	for _, k := range f.sortedKeys() {
		b.WriteString(" AND CAST(json_extract(extra, '$.kwargs.' || ?) AS TEXT) = ?")
		args = append(args, k, fmt.Sprint(f[k]))
	}
	return b.String(), args
}

func (s *sqliteStore) scanOne(row *sql.Row) (*timer.Timer, error) {
	var (
		t         timer.Timer
		extra     string
		expiresMS int64
		createdMS int64
	)
	err := row.Scan(&t.ID, &t.Event, &extra, &expiresMS, &createdMS, &t.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Expires = time.UnixMilli(expiresMS).UTC()
	t.Created = time.UnixMilli(createdMS).UTC()
	if err := t.DecodeExtra([]byte(extra)); err != nil {
		return nil, err
	}
	return &t, nil
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresMigrationsFS embed.FS

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &postgresStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("postgres store ready")
	return s, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	b, err := postgresMigrationsFS.ReadFile("migrations_postgres.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) Insert(ctx context.Context, t *timer.Timer) (int64, error) {
	extra, err := t.EncodeExtra()
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO timers(event, extra, expires, created, timezone)
		 VALUES($1, $2::jsonb, $3, $4, $5) RETURNING id`,
		t.Event, string(extra), timer.NormalizeUTC(t.Expires), timer.NormalizeUTC(t.Created), t.Timezone,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("insert", err)
	}
	return id, nil
}

func (s *postgresStore) FetchNext(ctx context.Context, horizon time.Duration) (*timer.Timer, error) {
	now := timer.NormalizeUTC(time.Now())
	q := `SELECT id, event, extra, expires, created, timezone FROM timers`
	args := []any{}
	if horizon > 0 {
		q += ` WHERE expires < $1`
		args = append(args, now.Add(horizon))
	}
	q += ` ORDER BY expires, id LIMIT 1`

	t, err := s.scanOne(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, storageErr("fetch next", err)
	}
	return t, nil
}

func (s *postgresStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = $1`, id); err != nil {
		return storageErr("delete", err)
	}
	return nil
}

func (s *postgresStore) Find(ctx context.Context, event string, f Filter) (*timer.Timer, error) {
	where, args := postgresFilterClause(event, f)
	q := `SELECT id, event, extra, expires, created, timezone FROM timers WHERE ` + where + ` LIMIT 1`

	t, err := s.scanOne(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, storageErr("find", err)
	}
	return t, nil
}

func (s *postgresStore) DeleteBy(ctx context.Context, event string, f Filter) (int64, error) {
	where, args := postgresFilterClause(event, f)
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

// postgresFilterClause builds "event = $1 AND extra #>> ARRAY['kwargs', $n] = $n+1 ..."
// with keys and values bound as parameters. The #>> operator yields text, so
// values are compared in their JSON text rendering.
func postgresFilterClause(event string, f Filter) (string, []any) {
	var b strings.Builder
	b.WriteString("event = $1")
	args := []any{event}
	n := 2
	for _, k := range f.sortedKeys() {
		fmt.Fprintf(&b, " AND extra #>> ARRAY['kwargs', $%d] = $%d", n, n+1)
		args = append(args, k, fmt.Sprint(f[k]))
		n += 2
	}
	return b.String(), args
}

func (s *postgresStore) scanOne(row *sql.Row) (*timer.Timer, error) {
	var (
		t     timer.Timer
		extra []byte
	)
	err := row.Scan(&t.ID, &t.Event, &extra, &t.Expires, &t.Created, &t.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Expires = timer.NormalizeUTC(t.Expires)
	t.Created = timer.NormalizeUTC(t.Created)
	if err := t.DecodeExtra(extra); err != nil {
		return nil, err
	}
	return &t, nil
}

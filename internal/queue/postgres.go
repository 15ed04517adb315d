package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/db"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS continuation_tasks (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	remaining    JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INT NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	available_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	lease_until  TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_continuation_tasks_status ON continuation_tasks(status, available_at);
`

// PostgresLog implements Log on Postgres. Concurrent workers claim with
// FOR UPDATE SKIP LOCKED.
type PostgresLog struct {
	pool db.Pool
}

// NewPostgresLog returns a PostgresLog over pool.
func NewPostgresLog(pool db.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

// Migrate creates the task table.
func (l *PostgresLog) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, l.pool, "continuation_tasks", postgresMigration)
}

// Close is a no-op; the pool is owned by the caller.
func (l *PostgresLog) Close() error { return nil }

// Append implements Log.
func (l *PostgresLog) Append(ctx context.Context, t Task) error {
	remaining, err := json.Marshal(nonNil(t.Remaining))
	if err != nil {
		return eris.Wrap(err, "queue: marshal remaining")
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO continuation_tasks (id, session_id, remaining)
		 VALUES ($1, $2, $3::jsonb) ON CONFLICT (id) DO NOTHING`,
		t.ID, t.SessionID, string(remaining),
	)
	return eris.Wrapf(err, "queue: append %s", t.ID)
}

// Claim implements Log.
func (l *PostgresLog) Claim(ctx context.Context, lease time.Duration) (*Task, error) {
	var (
		t         Task
		remaining []byte
	)
	err := l.pool.QueryRow(ctx,
		`UPDATE continuation_tasks
		 SET status = 'running', attempts = attempts + 1,
		     lease_until = now() + make_interval(secs => $1)
		 WHERE id = (
			SELECT id FROM continuation_tasks
			WHERE (status = 'pending' AND available_at <= now())
			   OR (status = 'running' AND lease_until <= now())
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, session_id, remaining, attempts, last_error, created_at`,
		lease.Seconds(),
	).Scan(&t.ID, &t.SessionID, &remaining, &t.Attempts, &t.LastError, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "queue: claim")
	}
	if err := json.Unmarshal(remaining, &t.Remaining); err != nil {
		return nil, eris.Wrapf(err, "queue: decode remaining of %s", t.ID)
	}
	return &t, nil
}

// Complete implements Log.
func (l *PostgresLog) Complete(ctx context.Context, id string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE continuation_tasks SET status = 'done', lease_until = NULL WHERE id = $1`, id)
	return eris.Wrapf(err, "queue: complete %s", id)
}

// Release implements Log.
func (l *PostgresLog) Release(ctx context.Context, id, errMsg string, maxAttempts int) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE continuation_tasks
		 SET status = CASE WHEN $3 > 0 AND attempts >= $3 THEN 'dead' ELSE 'pending' END,
		     last_error = $2, lease_until = NULL,
		     available_at = now() + make_interval(secs => LEAST(attempts * 10, 300))
		 WHERE id = $1`,
		id, errMsg, maxAttempts,
	)
	return eris.Wrapf(err, "queue: release %s", id)
}

// Counts implements Counter.
func (l *PostgresLog) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM continuation_tasks GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "queue: count tasks")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "queue: scan task count")
		}
		out[status] = int(n)
	}
	return out, eris.Wrap(rows.Err(), "queue: count tasks")
}

package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS continuation_tasks (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	remaining    TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	available_at INTEGER NOT NULL,
	lease_until  INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_continuation_tasks_status ON continuation_tasks(status, available_at);
`

// SQLiteLog implements Log on a local SQLite database.
type SQLiteLog struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and migrates) the task log at dsn.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "queue: sqlite open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "queue: sqlite exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "queue: sqlite migrate")
	}
	return &SQLiteLog{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

// Append implements Log.
func (l *SQLiteLog) Append(ctx context.Context, t Task) error {
	remaining, err := json.Marshal(nonNil(t.Remaining))
	if err != nil {
		return eris.Wrap(err, "queue: marshal remaining")
	}
	now := l.now().UnixMilli()
	_, err = l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO continuation_tasks (id, session_id, remaining, available_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, string(remaining), now, now,
	)
	return eris.Wrapf(err, "queue: append %s", t.ID)
}

// Claim implements Log.
func (l *SQLiteLog) Claim(ctx context.Context, lease time.Duration) (*Task, error) {
	now := l.now()
	row := l.db.QueryRowContext(ctx,
		`UPDATE continuation_tasks
		 SET status = 'running', attempts = attempts + 1, lease_until = ?
		 WHERE id = (
			SELECT id FROM continuation_tasks
			WHERE (status = 'pending' AND available_at <= ?)
			   OR (status = 'running' AND lease_until <= ?)
			ORDER BY created_at, id
			LIMIT 1
		 )
		 RETURNING id, session_id, remaining, attempts, last_error, created_at`,
		now.Add(lease).UnixMilli(), now.UnixMilli(), now.UnixMilli(),
	)

	var (
		t         Task
		remaining string
		created   int64
	)
	err := row.Scan(&t.ID, &t.SessionID, &remaining, &t.Attempts, &t.LastError, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "queue: claim")
	}
	if err := json.Unmarshal([]byte(remaining), &t.Remaining); err != nil {
		return nil, eris.Wrapf(err, "queue: decode remaining of %s", t.ID)
	}
	t.CreatedAt = time.UnixMilli(created).UTC()
	return &t, nil
}

// Complete implements Log.
func (l *SQLiteLog) Complete(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE continuation_tasks SET status = 'done', lease_until = 0 WHERE id = ?`, id)
	return eris.Wrapf(err, "queue: complete %s", id)
}

// Release implements Log.
func (l *SQLiteLog) Release(ctx context.Context, id, errMsg string, maxAttempts int) error {
	var attempts int
	err := l.db.QueryRowContext(ctx,
		`SELECT attempts FROM continuation_tasks WHERE id = ?`, id).Scan(&attempts)
	if err != nil {
		return eris.Wrapf(err, "queue: release %s", id)
	}
	status := StatusPending
	if maxAttempts > 0 && attempts >= maxAttempts {
		status = StatusDead
	}
	_, err = l.db.ExecContext(ctx,
		`UPDATE continuation_tasks
		 SET status = ?, last_error = ?, lease_until = 0, available_at = ?
		 WHERE id = ?`,
		status, errMsg, l.now().Add(retryDelay(attempts)).UnixMilli(), id,
	)
	return eris.Wrapf(err, "queue: release %s", id)
}

// Status returns a task's status; it is used by tests and the worker's
// diagnostics.
func (l *SQLiteLog) Status(ctx context.Context, id string) (string, error) {
	var status string
	err := l.db.QueryRowContext(ctx,
		`SELECT status FROM continuation_tasks WHERE id = ?`, id).Scan(&status)
	if err != nil {
		return "", eris.Wrapf(err, "queue: status %s", id)
	}
	return status, nil
}

// Counts implements Counter.
func (l *SQLiteLog) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM continuation_tasks GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "queue: count tasks")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "queue: scan task count")
		}
		out[status] = n
	}
	return out, eris.Wrap(rows.Err(), "queue: count tasks")
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresLog(t *testing.T) (*PostgresLog, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresLog(mock), mock
}

func TestPostgresLog_Append(t *testing.T) {
	l, mock := newMockPostgresLog(t)

	mock.ExpectExec(`INSERT INTO continuation_tasks .* ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("S.json#2", "S.json", `["a","b"]`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := l.Append(context.Background(), Task{ID: "S.json#2", SessionID: "S.json", Remaining: []string{"a", "b"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_Claim(t *testing.T) {
	l, mock := newMockPostgresLog(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(float64(60)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "session_id", "remaining", "attempts", "last_error", "created_at"}).
			AddRow("S.json#2", "S.json", []byte(`["a","b"]`), 1, "", created))

	got, err := l.Claim(context.Background(), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"a", "b"}, got.Remaining)
	assert.Equal(t, created, got.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_ClaimEmpty(t *testing.T) {
	l, mock := newMockPostgresLog(t)

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(float64(60)).
		WillReturnError(pgx.ErrNoRows)

	got, err := l.Claim(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_CompleteAndRelease(t *testing.T) {
	l, mock := newMockPostgresLog(t)

	mock.ExpectExec(`SET status = 'done'`).
		WithArgs("t1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`THEN 'dead' ELSE 'pending'`).
		WithArgs("t2", "boom", 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, l.Complete(context.Background(), "t1"))
	require.NoError(t, l.Release(context.Background(), "t2", "boom", 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLog_Counts(t *testing.T) {
	l, mock := newMockPostgresLog(t)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM continuation_tasks GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", int64(4)).
			AddRow("dead", int64(2)))

	counts, err := l.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"pending": 4, "dead": 2}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteLog {
	t.Helper()
	l, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSQLiteLog_AppendClaimComplete(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLite(t)

	task := Task{ID: TaskID("S.json", 3), SessionID: "S.json", Remaining: []string{"a", "b", "c"}}
	require.NoError(t, l.Append(ctx, task))
	require.NoError(t, l.Append(ctx, task), "duplicate append is ignored")

	got, err := l.Claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "S.json#3", got.ID)
	assert.Equal(t, []string{"a", "b", "c"}, got.Remaining)
	assert.Equal(t, 1, got.Attempts)

	again, err := l.Claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again, "leased task is not claimable twice")

	require.NoError(t, l.Complete(ctx, got.ID))
	status, err := l.Status(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status)
}

func TestSQLiteLog_EmptyRemainingRoundTrips(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLite(t)

	require.NoError(t, l.Append(ctx, Task{ID: TaskID("S.json", 0), SessionID: "S.json"}))
	got, err := l.Claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Remaining)
	assert.NotNil(t, got.Remaining)
}

func TestSQLiteLog_ExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLite(t)
	now := time.Now()
	l.now = func() time.Time { return now }

	require.NoError(t, l.Append(ctx, Task{ID: "t1", SessionID: "S.json", Remaining: []string{"x"}}))
	first, err := l.Claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	now = now.Add(2 * time.Minute)
	second, err := l.Claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "t1", second.ID)
	assert.Equal(t, 2, second.Attempts)
}

func TestSQLiteLog_ReleaseThenDead(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLite(t)
	now := time.Now()
	l.now = func() time.Time { return now }

	require.NoError(t, l.Append(ctx, Task{ID: "t1", SessionID: "S.json"}))

	for attempt := 1; attempt <= 2; attempt++ {
		got, err := l.Claim(ctx, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, got, "attempt %d", attempt)
		require.NoError(t, l.Release(ctx, got.ID, "boom", 2))

		none, err := l.Claim(ctx, time.Minute)
		require.NoError(t, err)
		assert.Nil(t, none, "released task waits for its retry delay")
		now = now.Add(10 * time.Minute)
	}

	status, err := l.Status(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusDead, status)

	none, err := l.Claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestTaskID(t *testing.T) {
	assert.Equal(t, "SESSION-2024-01-01-00-00-00.json#45", TaskID("SESSION-2024-01-01-00-00-00.json", 45))
}

func TestSQLiteLog_Counts(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLite(t)

	for n := 3; n > 0; n-- {
		require.NoError(t, l.Append(ctx, Task{ID: TaskID("S.json", n), SessionID: "S.json"}))
	}
	got, err := l.Claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, got.ID))

	got, err = l.Claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, got.ID, "boom", 1))

	counts, err := l.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{StatusPending: 1, StatusDone: 1, StatusDead: 1}, counts)
}

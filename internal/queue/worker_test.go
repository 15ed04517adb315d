package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_RunOnceCompletes(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLite(t)
	require.NoError(t, l.Append(ctx, Task{ID: "t1", SessionID: "S.json", Remaining: []string{"a"}}))

	var handled []string
	w := NewWorker(l, func(_ context.Context, task Task) error {
		handled = append(handled, task.ID)
		return nil
	}, WorkerConfig{})

	worked, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, []string{"t1"}, handled)

	status, err := l.Status(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, status)

	worked, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestWorker_FailureReleases(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLite(t)
	require.NoError(t, l.Append(ctx, Task{ID: "t1", SessionID: "S.json"}))

	w := NewWorker(l, func(context.Context, Task) error {
		return errors.New("store down")
	}, WorkerConfig{MaxAttempts: 1})

	worked, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	status, err := l.Status(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusDead, status)
}

func TestWorker_ChainedTasksDrain(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLite(t)
	require.NoError(t, l.Append(ctx, Task{ID: TaskID("S.json", 2), SessionID: "S.json", Remaining: []string{"a", "b"}}))

	var seen []int
	w := NewWorker(l, func(ctx context.Context, task Task) error {
		seen = append(seen, len(task.Remaining))
		if len(task.Remaining) == 0 {
			return nil
		}
		tail := task.Remaining[1:]
		return l.Append(ctx, Task{ID: TaskID(task.SessionID, len(tail)), SessionID: task.SessionID, Remaining: tail})
	}, WorkerConfig{Poll: time.Millisecond})

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for {
		worked, err := w.RunOnce(runCtx)
		require.NoError(t, err)
		if !worked {
			break
		}
	}
	assert.Equal(t, []int{2, 1, 0}, seen)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	l := newTestSQLite(t)
	w := NewWorker(l, func(context.Context, Task) error { return nil }, WorkerConfig{Poll: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/queue"
)

type staticCounter struct {
	counts map[string]int
	err    error
}

func (s *staticCounter) Counts(context.Context) (map[string]int, error) {
	return s.counts, s.err
}

func TestCollector_MapsStatuses(t *testing.T) {
	c := NewCollector(&staticCounter{counts: map[string]int{
		queue.StatusPending: 4,
		queue.StatusRunning: 1,
		queue.StatusDone:    20,
		queue.StatusDead:    2,
	}})

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Pending)
	assert.Equal(t, 1, snap.Running)
	assert.Equal(t, 20, snap.Done)
	assert.Equal(t, 2, snap.Dead)
	assert.Equal(t, 5, snap.Backlog())
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_Error(t *testing.T) {
	c := NewCollector(&staticCounter{err: errors.New("db gone")})
	_, err := c.Collect(context.Background())
	assert.Error(t, err)
}

func TestChecker_DeadAlertOnlyWhenCountGrows(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	counter := &staticCounter{counts: map[string]int{queue.StatusDead: 1}}
	cfg := config.MonitoringConfig{WebhookURL: ts.URL, DeadTaskThreshold: 1}
	checker := NewChecker(NewCollector(counter), NewAlerter(cfg), cfg)
	ctx := context.Background()

	assert.Equal(t, 1, checker.check(ctx, zap.NewNop()))
	assert.Equal(t, 0, checker.check(ctx, zap.NewNop()), "unchanged dead count is not re-sent")

	counter.counts = map[string]int{queue.StatusDead: 2}
	assert.Equal(t, 1, checker.check(ctx, zap.NewNop()))
	assert.Equal(t, int32(2), received.Load())
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1}
	checker := NewChecker(NewCollector(&staticCounter{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(&staticCounter{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

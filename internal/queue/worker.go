package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Handler processes one claimed task. Returning an error releases the task
// for a later attempt.
type Handler func(ctx context.Context, t Task) error

// WorkerConfig tunes a Worker.
type WorkerConfig struct {
	Lease       time.Duration
	Poll        time.Duration
	MaxAttempts int
}

// Worker drains a Log.
type Worker struct {
	log    Log
	handle Handler
	cfg    WorkerConfig
}

// NewWorker creates a Worker. Zero config values get defaults.
func NewWorker(log Log, handle Handler, cfg WorkerConfig) *Worker {
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Worker{log: log, handle: handle, cfg: cfg}
}

// Run processes tasks until ctx is cancelled, sleeping for the poll
// interval whenever the log is empty.
func (w *Worker) Run(ctx context.Context) error {
	zap.L().Info("queue: worker started",
		zap.Duration("lease", w.cfg.Lease),
		zap.Int("max_attempts", w.cfg.MaxAttempts),
	)
	for {
		worked, err := w.RunOnce(ctx)
		if err != nil {
			zap.L().Error("queue: worker iteration failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.Poll):
		}
	}
}

// RunOnce claims and handles at most one task. It reports whether a task
// was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	t, err := w.log.Claim(ctx, w.cfg.Lease)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}

	log := zap.L().With(
		zap.String("task_id", t.ID),
		zap.String("session_id", t.SessionID),
		zap.Int("remaining", len(t.Remaining)),
		zap.Int("attempt", t.Attempts),
	)

	if herr := w.handle(ctx, *t); herr != nil {
		log.Warn("queue: task failed", zap.Error(herr))
		if t.Attempts >= w.cfg.MaxAttempts {
			log.Error("queue: task dead, session chain stops here")
		}
		if err := w.log.Release(ctx, t.ID, herr.Error(), w.cfg.MaxAttempts); err != nil {
			return true, eris.Wrap(err, "queue: release after failure")
		}
		return true, nil
	}

	if err := w.log.Complete(ctx, t.ID); err != nil {
		return true, err
	}
	log.Debug("queue: task done")
	return true, nil
}

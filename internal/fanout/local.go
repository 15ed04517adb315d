package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/trigger"
)

var errEmitterClosed = errors.New("fanout: emitter closed")

// HTTPEmitter keeps triggers in process timers and posts them when they
// fire. Pending triggers are lost when the process exits; it is meant for
// local runs.
type HTTPEmitter struct {
	poster  trigger.Poster
	timeout time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending sync.WaitGroup
	closed  bool
}

// NewHTTPEmitter creates an HTTPEmitter.
func NewHTTPEmitter(poster trigger.Poster) *HTTPEmitter {
	return &HTTPEmitter{
		poster:  poster,
		timeout: time.Minute,
		timers:  make(map[string]*time.Timer),
	}
}

// Emit implements Emitter.
func (e *HTTPEmitter) Emit(_ context.Context, t Trigger) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEmitterClosed
	}

	e.pending.Add(1)
	e.timers[t.ID] = time.AfterFunc(t.Offset, func() {
		defer e.pending.Done()
		e.fire(t)
	})
	return nil
}

func (e *HTTPEmitter) fire(t Trigger) {
	e.mu.Lock()
	delete(e.timers, t.ID)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.poster.Post(ctx, t.Target, json.RawMessage(t.Body)); err != nil {
		zap.L().Error("fanout: local trigger failed",
			zap.String("trigger_id", t.ID),
			zap.String("target", t.Target),
			zap.Error(err),
		)
	}
}

// Pending returns the number of triggers that have not fired yet.
func (e *HTTPEmitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Wait blocks until every emitted trigger has fired.
func (e *HTTPEmitter) Wait() {
	e.pending.Wait()
}

// Close stops timers that have not fired and rejects new triggers.
func (e *HTTPEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	dropped := 0
	for id, tm := range e.timers {
		if tm.Stop() {
			e.pending.Done()
			dropped++
		}
		delete(e.timers, id)
	}
	if dropped > 0 {
		zap.L().Warn("fanout: dropped pending triggers", zap.Int("count", dropped))
	}
	return nil
}

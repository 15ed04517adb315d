// Package fanout schedules delayed stage triggers. A batch of items becomes
// a sequence of triggers whose execution times are spaced a fixed step
// apart; the emitter decides where the triggers live until they fire.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/trigger"
)

// Item is one unit of work to trigger at Target with Payload as JSON body.
type Item struct {
	Target  string
	Payload any
}

// Trigger is a scheduled invocation handed to an Emitter.
type Trigger struct {
	ID           string
	Target       string
	Body         []byte
	ScheduleTime time.Time
	Offset       time.Duration
	Token        string
}

// Emitter registers a trigger with a delayed execution backend.
type Emitter interface {
	Emit(ctx context.Context, t Trigger) error
}

// SchedulingError reports the item whose submission failed. Triggers before
// Index were submitted and will still fire.
type SchedulingError struct {
	Index     int
	Submitted int
	Err       error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("fanout: item %d failed after %d submitted: %v", e.Index, e.Submitted, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// Scheduler spaces items step apart starting now.
type Scheduler struct {
	emitter Emitter
	creds   trigger.Credentials
	step    time.Duration
	now     func() time.Time
}

// NewScheduler creates a Scheduler. creds may be nil when the emitter
// authenticates on its own.
func NewScheduler(emitter Emitter, creds trigger.Credentials, step time.Duration) *Scheduler {
	return &Scheduler{emitter: emitter, creds: creds, step: step, now: time.Now}
}

// Step returns the spacing between consecutive triggers.
func (s *Scheduler) Step() time.Duration { return s.step }

// Schedule submits one trigger per item, item i at offset i*step. Items are
// submitted in order and the first failure stops the batch.
func (s *Scheduler) Schedule(ctx context.Context, items []Item) ([]Trigger, error) {
	start := s.now()
	out := make([]Trigger, 0, len(items))

	for i, it := range items {
		t, err := s.build(ctx, start, i, it)
		if err == nil {
			err = s.emitter.Emit(ctx, t)
		}
		if err != nil {
			zap.L().Error("fanout: scheduling aborted",
				zap.Int("index", i),
				zap.Int("submitted", len(out)),
				zap.String("target", it.Target),
				zap.Error(err),
			)
			return out, &SchedulingError{Index: i, Submitted: len(out), Err: err}
		}
		out = append(out, t)
	}

	zap.L().Info("fanout: scheduled",
		zap.Int("triggers", len(out)),
		zap.Duration("step", s.step),
	)
	return out, nil
}

func (s *Scheduler) build(ctx context.Context, start time.Time, i int, it Item) (Trigger, error) {
	body, err := json.Marshal(it.Payload)
	if err != nil {
		return Trigger{}, eris.Wrapf(err, "fanout: marshal item %d", i)
	}
	offset := time.Duration(i) * s.step
	t := Trigger{
		ID:           uuid.NewString(),
		Target:       it.Target,
		Body:         body,
		ScheduleTime: start.Add(offset),
		Offset:       offset,
	}
	if s.creds != nil {
		tok, err := s.creds.Token(ctx, trigger.Audience(it.Target))
		if err != nil {
			return Trigger{}, eris.Wrapf(err, "fanout: token for %s", it.Target)
		}
		t.Token = tok
	}
	return t, nil
}

// Package outreach turns scored leads into sent letters: a batch step
// schedules one letter trigger per qualified lead, the letters step writes
// the letter with the model and schedules one send per address, and the
// send step mails it.
package outreach

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/fanout"
	"github.com/sells-group/lead-pipeline/internal/mail"
	"github.com/sells-group/lead-pipeline/internal/session"
	"github.com/sells-group/lead-pipeline/pkg/anthropic"
)

// DefaultThreshold is the minimum probability, in percent, of a lead that
// gets a letter.
const DefaultThreshold = 50

const batchMessage = "Analysis is processing, pls wait"

// Scheduler spaces triggers over time.
type Scheduler interface {
	Schedule(ctx context.Context, items []fanout.Item) ([]fanout.Trigger, error)
}

// Deliverer sends a message and replicates it.
type Deliverer interface {
	Deliver(ctx context.Context, msg mail.Message) (*mail.Delivery, error)
}

// Targets are the stage endpoints this package triggers.
type Targets struct {
	Letters string
	Send    string
}

// Options tune a Stage.
type Options struct {
	Model           string
	MaxTokens       int64
	Threshold       float64
	From            string
	FromName        string
	ConflictRetries int
}

// Stage implements the batch letters, letters and send operations.
type Stage struct {
	store   session.Store
	llm     anthropic.Client
	letters Scheduler
	sends   Scheduler
	mailer  Deliverer
	targets Targets
	opts    Options
}

// NewStage creates a Stage. letters spaces letter triggers, sends spaces
// send triggers.
func NewStage(store session.Store, llm anthropic.Client, letters, sends Scheduler, mailer Deliverer, targets Targets, opts Options) *Stage {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &Stage{
		store:   store,
		llm:     llm,
		letters: letters,
		sends:   sends,
		mailer:  mailer,
		targets: targets,
		opts:    opts,
	}
}

// BatchRequest is the body of the batch letters stage.
type BatchRequest struct {
	SessionID string `json:"sessionId"`
}

// BatchResult reports what was scheduled.
type BatchResult struct {
	Qualified int
	Scheduled int
	Message   string
}

// LettersRequest is the body of one letter trigger.
type LettersRequest struct {
	SessionID    string `json:"sessionId"`
	WebsiteCheck string `json:"websiteCheck"`
}

// Qualifies reports whether rec gets a letter: a parseable probability of
// at least threshold and at least one address.
func Qualifies(rec session.CompanyRecord, threshold float64) bool {
	pct, ok := rec.Score()
	return ok && pct >= threshold && rec.HasEmail()
}

// BatchLetters schedules one letter trigger per qualified record, websites
// in lexical order.
func (s *Stage) BatchLetters(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if req.SessionID == "" {
		return nil, eris.New("outreach: session id is required")
	}
	log := zap.L().With(zap.String("session_id", req.SessionID))

	doc, err := s.store.Read(ctx, req.SessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "outreach: read session %s", req.SessionID)
	}

	websites := make([]string, 0, len(doc))
	for w, rec := range doc {
		if Qualifies(rec, s.opts.Threshold) {
			websites = append(websites, w)
		}
	}
	sort.Strings(websites)

	items := make([]fanout.Item, len(websites))
	for i, w := range websites {
		items[i] = fanout.Item{
			Target:  s.targets.Letters,
			Payload: LettersRequest{SessionID: req.SessionID, WebsiteCheck: w},
		}
	}

	triggers, err := s.letters.Schedule(ctx, items)
	res := &BatchResult{Qualified: len(items), Scheduled: len(triggers), Message: batchMessage}
	if err != nil {
		log.Error("outreach: scheduling aborted", zap.Int("scheduled", len(triggers)), zap.Error(err))
		return res, eris.Wrap(err, "outreach: schedule letters")
	}

	log.Info("outreach: letters scheduled",
		zap.Int("records", len(doc)),
		zap.Int("qualified", len(items)),
	)
	return res, nil
}

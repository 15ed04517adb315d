// Package score rates every company of a session as a lead. A batch step
// fans out one scoring trigger per record; each scoring step crawls the
// company website, asks the model for contact details and a probability,
// and replaces the record. The last record of the batch also mails the
// session report and hands the session to the letters stage.
package score

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/fanout"
	"github.com/sells-group/lead-pipeline/internal/session"
	"github.com/sells-group/lead-pipeline/internal/trigger"
	"github.com/sells-group/lead-pipeline/pkg/openai"
)

// NextMarker is the recipient carried by every scoring trigger except the
// last one of a batch.
const NextMarker = "next"

// minutesPerRecord is the wait announced to the caller per scheduled record.
const minutesPerRecord = 0.75

// Crawler collects the visible text of a website.
type Crawler interface {
	Crawl(ctx context.Context, start string) ([]string, error)
}

// Scheduler spaces triggers over time.
type Scheduler interface {
	Schedule(ctx context.Context, items []fanout.Item) ([]fanout.Trigger, error)
}

// ReportMailer mails the scored session to a recipient.
type ReportMailer interface {
	SendReport(ctx context.Context, recipient, sessionID string, doc session.Document) error
}

// Targets are the stage endpoints this package triggers.
type Targets struct {
	// Score receives one Request per record.
	Score string
	// Letters receives {"sessionId"} once the batch is scored.
	Letters string
}

// Options tune a Stage.
type Options struct {
	Model           string
	ReportRecipient string
	ReportDelay     time.Duration
	HandoffDelay    time.Duration
	ConflictRetries int
}

// Stage implements the batch, scoring and analysis operations.
type Stage struct {
	store     session.Store
	llm       openai.Client
	crawler   Crawler
	scheduler Scheduler
	reports   ReportMailer
	poster    trigger.Poster
	targets   Targets
	opts      Options
	costs     *cost.Calculator
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewStage creates a Stage.
func NewStage(store session.Store, llm openai.Client, crawler Crawler, scheduler Scheduler,
	reports ReportMailer, poster trigger.Poster, targets Targets, opts Options,
) *Stage {
	return &Stage{
		store:     store,
		llm:       llm,
		crawler:   crawler,
		scheduler: scheduler,
		reports:   reports,
		poster:    poster,
		targets:   targets,
		opts:      opts,
		costs:     cost.NewCalculator(cost.DefaultRates()),
		sleep:     sleepCtx,
	}
}

// BatchRequest is the body of the batch scoring stage.
type BatchRequest struct {
	SessionID      string `json:"sessionId"`
	RecipientEmail string `json:"recipientEmail,omitempty"`
}

// BatchResult reports what was scheduled.
type BatchResult struct {
	Scheduled int
	Message   string
}

// Request is the body of one scoring trigger.
type Request struct {
	Website        string `json:"website"`
	Name           string `json:"name"`
	Text           string `json:"text"`
	RecipientEmail string `json:"recipientEmail"`
	SessionID      string `json:"sessionId"`
}

// Last reports whether this trigger closes its batch.
func (r Request) Last() bool {
	return r.RecipientEmail != NextMarker
}

// BatchScore schedules one scoring trigger per record of the session.
// Websites are scheduled in lexical order and the last one carries the
// report recipient. A scheduling failure returns the triggers already
// submitted in the result alongside the error.
func (s *Stage) BatchScore(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if req.SessionID == "" {
		return nil, eris.New("score: session id is required")
	}
	log := zap.L().With(zap.String("session_id", req.SessionID))

	doc, err := s.store.Read(ctx, req.SessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "score: read session %s", req.SessionID)
	}

	recipient := req.RecipientEmail
	if recipient == "" {
		recipient = s.opts.ReportRecipient
	}
	if recipient == "" {
		log.Warn("score: no report recipient configured, report will be skipped")
	}

	websites := make([]string, 0, len(doc))
	for w := range doc {
		websites = append(websites, w)
	}
	sort.Strings(websites)

	items := make([]fanout.Item, len(websites))
	for i, w := range websites {
		rcpt := NextMarker
		if i == len(websites)-1 {
			rcpt = recipient
		}
		rec := doc[w]
		items[i] = fanout.Item{
			Target: s.targets.Score,
			Payload: Request{
				Website:        w,
				Name:           rec.Name,
				Text:           rec.Text,
				RecipientEmail: rcpt,
				SessionID:      req.SessionID,
			},
		}
	}

	triggers, err := s.scheduler.Schedule(ctx, items)
	res := &BatchResult{Scheduled: len(triggers), Message: waitMessage(len(items))}
	if err != nil {
		log.Error("score: scheduling aborted", zap.Int("scheduled", len(triggers)), zap.Error(err))
		return res, eris.Wrap(err, "score: schedule")
	}

	log.Info("score: batch scheduled", zap.Int("records", len(items)))
	return res, nil
}

func waitMessage(n int) string {
	minutes := strconv.FormatFloat(float64(n)*minutesPerRecord, 'f', -1, 64)
	return fmt.Sprintf("Letters are processing, pls wait for %s minutes", minutes)
}

// Analysis returns the website to probability view of a session.
func (s *Stage) Analysis(ctx context.Context, sessionID string) (map[string]*session.Probability, error) {
	doc, err := s.store.Read(ctx, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "score: read session %s", sessionID)
	}
	return doc.Probabilities(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package enrich drains a session's place identifiers in fixed-size
// batches: each step fetches details for one batch, merges the resulting
// company records into the session document and hands the rest of the list
// to the next step. The step that receives an empty list completes the
// session exactly once.
package enrich

import (
	"context"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-pipeline/internal/session"
	"github.com/sells-group/lead-pipeline/pkg/google"
)

const (
	// BatchSize is the number of identifiers processed per step.
	BatchSize = 40
	// ExcerptChars bounds each review excerpt.
	ExcerptChars = 200
)

// Outcome is the result of one step.
type Outcome int

const (
	// Draining means a batch was processed and the tail was handed on.
	Draining Outcome = iota
	// Completed means the list was empty and completion was triggered.
	Completed
)

func (o Outcome) String() string {
	if o == Completed {
		return "completed"
	}
	return "draining"
}

// Job is the state carried between steps.
type Job struct {
	SessionID string   `json:"sessionId"`
	Remaining []string `json:"remaining"`
}

// DetailFetcher fetches one place's details.
type DetailFetcher interface {
	PlaceDetails(ctx context.Context, placeID string) (*google.PlaceDetails, error)
}

// Continuer hands the next job to a later step.
type Continuer interface {
	Continue(ctx context.Context, job Job) error
}

// Completer is invoked once the list is exhausted.
type Completer interface {
	Complete(ctx context.Context, sessionID string) error
}

// Driver executes steps.
type Driver struct {
	details     DetailFetcher
	store       session.Store
	next        Continuer
	done        Completer
	batchSize   int
	excerpt     int
	concurrency int
	retries     int
}

// Option configures a Driver.
type Option func(*Driver)

// WithBatchSize overrides BatchSize.
func WithBatchSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithExcerptChars overrides ExcerptChars.
func WithExcerptChars(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.excerpt = n
		}
	}
}

// WithConcurrency caps concurrent detail fetches within a batch.
func WithConcurrency(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithConflictRetries bounds merge retries against versioned stores.
func WithConflictRetries(n int) Option {
	return func(d *Driver) {
		d.retries = n
	}
}

// NewDriver creates a Driver.
func NewDriver(details DetailFetcher, store session.Store, next Continuer, done Completer, opts ...Option) *Driver {
	d := &Driver{
		details:     details,
		store:       store,
		next:        next,
		done:        done,
		batchSize:   BatchSize,
		excerpt:     ExcerptChars,
		concurrency: BatchSize,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetContinuer replaces the continuation transport. It exists because the
// HTTP continuer needs the server address, which is known after wiring.
func (d *Driver) SetContinuer(next Continuer) {
	d.next = next
}

// Step runs one invocation for job.
//
// A store failure loses the batch and stops the chain: the error is
// returned and no continuation is issued.
func (d *Driver) Step(ctx context.Context, job Job) (Outcome, error) {
	log := zap.L().With(
		zap.String("session_id", job.SessionID),
		zap.Int("remaining", len(job.Remaining)),
	)
	if job.SessionID == "" {
		return Draining, eris.New("enrich: session id is required")
	}

	if len(job.Remaining) == 0 {
		log.Info("enrich: list exhausted, completing session")
		if err := d.done.Complete(ctx, job.SessionID); err != nil {
			return Completed, eris.Wrapf(err, "enrich: complete %s", job.SessionID)
		}
		return Completed, nil
	}

	n := min(d.batchSize, len(job.Remaining))
	batch, tail := job.Remaining[:n], job.Remaining[n:]

	details := d.fetch(ctx, batch)
	patch, skipped := BuildRecords(details, d.excerpt)
	if skipped > 0 {
		log.Info("enrich: skipped places without website", zap.Int("skipped", skipped))
	}

	err := session.MergeWrite(ctx, d.store, job.SessionID, patch, session.MergeOptions{Retries: d.retries})
	if err != nil {
		log.Error("enrich: session write failed, continuation chain truncated",
			zap.Int("lost_batch", n),
			zap.Int("unprocessed", len(tail)),
			zap.Error(err),
		)
		return Draining, eris.Wrapf(err, "enrich: store batch for %s", job.SessionID)
	}

	if err := d.next.Continue(ctx, Job{SessionID: job.SessionID, Remaining: tail}); err != nil {
		log.Error("enrich: continuation failed", zap.Int("unprocessed", len(tail)), zap.Error(err))
		return Draining, eris.Wrapf(err, "enrich: continue %s", job.SessionID)
	}

	log.Info("enrich: batch stored",
		zap.Int("batch", n),
		zap.Int("records", len(patch)),
		zap.Int("next_remaining", len(tail)),
	)
	return Draining, nil
}

// fetch gets details for batch concurrently. Entries that fail are nil;
// the failure drops only that identifier.
func (d *Driver) fetch(ctx context.Context, batch []string) []*google.PlaceDetails {
	out := make([]*google.PlaceDetails, len(batch))
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, id := range batch {
		g.Go(func() error {
			det, err := d.details.PlaceDetails(gctx, id)
			if err != nil {
				failed.Add(1)
				zap.L().Warn("enrich: place details failed", zap.String("place_id", id), zap.Error(err))
				return nil
			}
			out[i] = det
			return nil
		})
	}
	_ = g.Wait()

	if f := failed.Load(); f > 0 {
		zap.L().Warn("enrich: batch had failed lookups", zap.Int32("failed", f), zap.Int("batch", len(batch)))
	}
	return out
}

// BuildRecords turns place details into session records keyed by website.
// Places without a website are skipped and counted. When several places in
// the batch share a website, the later place's name wins and its review
// block is appended to the earlier text after a newline.
func BuildRecords(details []*google.PlaceDetails, excerptChars int) (session.Document, int) {
	doc := make(session.Document)
	skipped := 0
	for _, det := range details {
		if det == nil {
			continue
		}
		if det.Website == "" {
			skipped++
			continue
		}
		block := ReviewBlock(det.Reviews, excerptChars)
		text := block
		if prior, ok := doc[det.Website]; ok {
			text = prior.Text + "\n" + block
		}
		doc[det.Website] = session.CompanyRecord{Name: det.Name, Text: text}
	}
	return doc, skipped
}

// ReviewBlock joins review excerpts, each truncated to excerptChars runes
// and terminated by a newline.
func ReviewBlock(reviews []google.Review, excerptChars int) string {
	var b strings.Builder
	for _, r := range reviews {
		b.WriteString(truncate(r.Text, excerptChars))
		b.WriteByte('\n')
	}
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

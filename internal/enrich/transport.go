package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/queue"
	"github.com/sells-group/lead-pipeline/internal/trigger"
)

// HTTPContinuer posts the next job back to the enrich stage endpoint. If
// the post is lost the chain stops silently, as with any fire-and-forget
// self invocation.
type HTTPContinuer struct {
	poster trigger.Poster
	url    string
}

// NewHTTPContinuer creates an HTTPContinuer targeting url.
func NewHTTPContinuer(poster trigger.Poster, url string) *HTTPContinuer {
	return &HTTPContinuer{poster: poster, url: url}
}

// Continue implements Continuer.
func (c *HTTPContinuer) Continue(ctx context.Context, job Job) error {
	return c.poster.Post(ctx, c.url, NewRequest(job))
}

// QueueContinuer appends the next job to the durable task log. Task ids
// are derived from the session and the remaining count, so a step that is
// redelivered appends nothing new.
type QueueContinuer struct {
	log queue.Log
}

// NewQueueContinuer creates a QueueContinuer.
func NewQueueContinuer(log queue.Log) *QueueContinuer {
	return &QueueContinuer{log: log}
}

// Continue implements Continuer.
func (c *QueueContinuer) Continue(ctx context.Context, job Job) error {
	return eris.Wrap(c.log.Append(ctx, queue.Task{
		ID:        queue.TaskID(job.SessionID, len(job.Remaining)),
		SessionID: job.SessionID,
		Remaining: job.Remaining,
		CreatedAt: time.Now().UTC(),
	}), "enrich: enqueue continuation")
}

// HandleTask adapts Step to a queue.Handler.
func (d *Driver) HandleTask(ctx context.Context, t queue.Task) error {
	_, err := d.Step(ctx, Job{SessionID: t.SessionID, Remaining: t.Remaining})
	return err
}

// PostCompleter triggers the scoring batch stage with {"sessionId": id}.
type PostCompleter struct {
	poster trigger.Poster
	url    string
}

// NewPostCompleter creates a PostCompleter targeting url.
func NewPostCompleter(poster trigger.Poster, url string) *PostCompleter {
	return &PostCompleter{poster: poster, url: url}
}

// Complete implements Completer.
func (c *PostCompleter) Complete(ctx context.Context, sessionID string) error {
	return c.poster.Post(ctx, c.url, map[string]string{"sessionId": sessionID})
}

package mail

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// SendError reports that the message was not accepted for delivery.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("mail: send: %v", e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

// ReplicateError reports that the message was sent but its copy could not
// be stored. Retrying Replicate alone avoids a second delivery.
type ReplicateError struct {
	Mailbox string
	Sent    *SendResult
	Err     error
}

func (e *ReplicateError) Error() string {
	return fmt.Sprintf("mail: replicate to %s: %v", e.Mailbox, e.Err)
}

func (e *ReplicateError) Unwrap() error { return e.Err }

// Delivery is the outcome of Deliver.
type Delivery struct {
	Sent       *SendResult
	Replicated bool
}

// Mailer sends a message, then replicates it into the sent mailbox.
type Mailer struct {
	sender     Sender
	replicator Replicator
	mailbox    string
	retry      resilience.RetryConfig
}

// NewMailer creates a Mailer. A nil replicator disables replication.
func NewMailer(sender Sender, replicator Replicator, mailbox string) *Mailer {
	return &Mailer{
		sender:     sender,
		replicator: replicator,
		mailbox:    mailbox,
		retry:      resilience.DefaultRetryConfig(),
	}
}

// Send runs the send step alone, retrying transient failures.
func (m *Mailer) Send(ctx context.Context, msg Message) (*SendResult, error) {
	cfg := m.retry
	cfg.OnRetry = resilience.RetryLogger("mail", "send")
	res, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*SendResult, error) {
		return m.sender.Send(ctx, msg)
	})
	if err != nil {
		return nil, &SendError{Err: err}
	}
	return res, nil
}

// Replicate runs the replication step alone for an already sent message.
func (m *Mailer) Replicate(ctx context.Context, sent *SendResult) error {
	if m.replicator == nil {
		return nil
	}
	cfg := m.retry
	cfg.OnRetry = resilience.RetryLogger("mail", "replicate")
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return m.replicator.Append(ctx, m.mailbox, sent.Raw)
	})
	if err != nil {
		return &ReplicateError{Mailbox: m.mailbox, Sent: sent, Err: err}
	}
	return nil
}

// Deliver sends msg and then replicates it. On a replication failure the
// returned Delivery still carries the send result.
func (m *Mailer) Deliver(ctx context.Context, msg Message) (*Delivery, error) {
	sent, err := m.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.Strings("to", msg.To), zap.String("message_id", sent.MessageID))
	log.Info("mail: message sent")

	d := &Delivery{Sent: sent}
	if err := m.Replicate(ctx, sent); err != nil {
		log.Error("mail: replication failed", zap.String("mailbox", m.mailbox), zap.Error(err))
		return d, eris.Wrap(err, "mail: deliver")
	}
	d.Replicated = m.replicator != nil
	return d, nil
}

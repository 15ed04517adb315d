package mail

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/rotisserie/eris"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// GmailSender submits messages through the Gmail API. Gmail files sent
// messages in the Sent label itself, so no replication step is needed.
type GmailSender struct {
	svc *gmail.Service
}

// NewGmailSender creates a GmailSender. credentialsFile holds authorized
// user credentials with the gmail.send scope.
func NewGmailSender(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*GmailSender, error) {
	if credentialsFile != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(credentialsFile)}, opts...)
	}
	opts = append(opts, option.WithScopes(gmail.GmailSendScope))
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "mail: gmail client")
	}
	return &GmailSender{svc: svc}, nil
}

// Send implements Sender.
func (g *GmailSender) Send(ctx context.Context, msg Message) (*SendResult, error) {
	raw, id, err := Compose(msg)
	if err != nil {
		return nil, err
	}
	_, err = g.svc.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		wrapped := eris.Wrap(err, "mail: gmail send")
		var ge *googleapi.Error
		if errors.As(err, &ge) {
			return nil, resilience.WrapStatus(wrapped, ge.Code)
		}
		return nil, wrapped
	}
	return &SendResult{MessageID: id, Recipients: msg.To, Raw: raw}, nil
}

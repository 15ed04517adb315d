package mail

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/config"
)

// Open builds the Mailer described by cfg. password is the resolved
// account password.
func Open(ctx context.Context, cfg config.MailConfig, password string) (*Mailer, error) {
	switch cfg.Transport {
	case "smtp", "":
		sender := &SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.Username,
			Password: password,
		}
		var rep Replicator
		if cfg.Replicate && cfg.IMAPHost != "" {
			rep = &IMAPReplicator{
				Host:     cfg.IMAPHost,
				Port:     cfg.IMAPPort,
				Username: cfg.Username,
				Password: password,
			}
		}
		return NewMailer(sender, rep, cfg.SentMailbox), nil
	case "gmail":
		sender, err := NewGmailSender(ctx, cfg.GmailTokenFile)
		if err != nil {
			return nil, err
		}
		return NewMailer(sender, nil, cfg.SentMailbox), nil
	default:
		return nil, eris.Errorf("mail: unknown transport %q", cfg.Transport)
	}
}

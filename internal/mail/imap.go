package mail

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rotisserie/eris"
)

// Replicator stores a copy of a sent message in a mailbox.
type Replicator interface {
	Append(ctx context.Context, mailbox string, raw []byte) error
}

// IMAPReplicator appends messages over IMAP with implicit TLS.
type IMAPReplicator struct {
	Host     string
	Port     int
	Username string
	Password string

	// TLSConfig overrides the default client TLS configuration.
	TLSConfig *tls.Config
}

// Append implements Replicator. The message is stored with the \Seen flag.
func (r *IMAPReplicator) Append(ctx context.Context, mailbox string, raw []byte) error {
	addr := net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	tlsCfg := r.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: r.Host, MinVersion: tls.VersionTLS12}
	}

	c, err := imapclient.DialTLS(addr, &imapclient.Options{TLSConfig: tlsCfg})
	if err != nil {
		return eris.Wrapf(err, "mail: imap dial %s", addr)
	}
	defer c.Close() //nolint:errcheck

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.Login(r.Username, r.Password).Wait(); err != nil {
		return eris.Wrap(err, "mail: imap login")
	}

	cmd := c.Append(mailbox, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
		Time:  time.Now(),
	})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return eris.Wrapf(err, "mail: imap append to %s", mailbox)
	}
	if err := cmd.Close(); err != nil {
		return eris.Wrapf(err, "mail: imap append to %s", mailbox)
	}
	if _, err := cmd.Wait(); err != nil {
		return eris.Wrapf(err, "mail: imap append to %s", mailbox)
	}

	_ = c.Logout().Wait()
	return nil
}

package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// SendResult describes an accepted message.
type SendResult struct {
	MessageID  string
	Recipients []string
	// Raw is the message as sent, ready for replication.
	Raw []byte
}

// Sender submits a message for delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// SMTPSender submits messages to an SMTP relay. Port 465 uses implicit
// TLS; other ports upgrade with STARTTLS when the server offers it.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration

	// TLSConfig overrides the default client TLS configuration.
	TLSConfig *tls.Config
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg Message) (*SendResult, error) {
	raw, id, err := Compose(msg)
	if err != nil {
		return nil, err
	}

	c, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close() //nolint:errcheck

	if err := s.submit(c, msg.From, msg.To, raw); err != nil {
		return nil, err
	}
	return &SendResult{MessageID: id, Recipients: msg.To, Raw: raw}, nil
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if s.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: d, Config: s.tlsConfig()}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "mail: dial %s", addr)
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrapf(err, "mail: greeting from %s", addr)
	}
	return c, nil
}

func (s *SMTPSender) submit(c *smtp.Client, from string, to []string, raw []byte) error {
	if err := c.Hello("localhost"); err != nil {
		return smtpErr(err, "hello")
	}
	if s.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(s.tlsConfig()); err != nil {
				return smtpErr(err, "starttls")
			}
		}
	}
	if s.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return eris.New("mail: server does not offer AUTH")
		}
		if err := c.Auth(sasl.NewPlainClient("", s.Username, s.Password)); err != nil {
			return smtpErr(err, "auth")
		}
	}
	if err := c.Mail(from, nil); err != nil {
		return smtpErr(err, "mail from")
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return smtpErr(err, "rcpt "+rcpt)
		}
	}
	w, err := c.Data()
	if err != nil {
		return smtpErr(err, "data")
	}
	if err := writeClose(w, raw); err != nil {
		return smtpErr(err, "data")
	}
	return smtpErr(c.Quit(), "quit")
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	if s.TLSConfig != nil {
		return s.TLSConfig
	}
	return &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
}

// smtpErr wraps err with the failed command. 4xx replies are transient.
func smtpErr(err error, cmd string) error {
	if err == nil {
		return nil
	}
	wrapped := eris.Wrapf(err, "mail: smtp %s", cmd)
	var se *smtp.SMTPError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
		return resilience.NewTransientError(wrapped, se.Code)
	}
	return wrapped
}

package outreach

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/mail"
)

var subjectPrefix = regexp.MustCompile(`^Subject:\s*`)

// ParseLetter splits a generated letter into subject and body. The first
// line is the subject, without its "Subject:" label, in sentence case.
func ParseLetter(text string) (subject, body string) {
	first, rest, _ := strings.Cut(text, "\n")
	subject = strings.ToLower(strings.TrimSpace(subjectPrefix.ReplaceAllString(strings.TrimRight(first, "\r"), "")))
	if r, size := utf8.DecodeRuneInString(subject); r != utf8.RuneError {
		subject = string(unicode.ToUpper(r)) + subject[size:]
	}
	return subject, rest
}

// Send mails one letter to one address.
func (s *Stage) Send(ctx context.Context, req SendRequest) (*mail.Delivery, error) {
	if strings.TrimSpace(req.Email) == "" {
		return nil, eris.New("outreach: email is required")
	}
	if s.mailer == nil {
		return nil, eris.New("outreach: no mailer configured")
	}
	subject, body := ParseLetter(req.Text)
	return s.mailer.Deliver(ctx, mail.Message{
		From:     s.opts.From,
		FromName: s.opts.FromName,
		To:       []string{strings.TrimSpace(req.Email)},
		Subject:  subject,
		Body:     body,
	})
}

// Package mail sends outbound messages and replicates them into the
// sender's mailbox. Sending and replication are separate steps with their
// own results so a caller can retry one without repeating the other.
package mail

import (
	"bytes"
	"io"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"
)

// Attachment is a file carried by a Message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is one outbound mail.
type Message struct {
	From        string
	FromName    string
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
	Date        time.Time
}

// Compose renders msg as an RFC 5322 message and returns it with the
// generated Message-ID.
func Compose(msg Message) ([]byte, string, error) {
	if msg.From == "" {
		return nil, "", eris.New("mail: sender is required")
	}
	if len(msg.To) == 0 {
		return nil, "", eris.New("mail: at least one recipient is required")
	}

	to := make([]*gomail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		a, err := gomail.ParseAddress(strings.TrimSpace(addr))
		if err != nil {
			return nil, "", eris.Wrapf(err, "mail: recipient %q", addr)
		}
		to = append(to, a)
	}

	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}

	var h gomail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*gomail.Address{{Name: msg.FromName, Address: msg.From}})
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", eris.Wrap(err, "mail: message id")
	}
	id, err := h.MessageID()
	if err != nil {
		return nil, "", eris.Wrap(err, "mail: message id")
	}

	var buf bytes.Buffer
	if len(msg.Attachments) == 0 {
		h.Set("Content-Type", "text/plain; charset=utf-8")
		w, err := gomail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, "", eris.Wrap(err, "mail: create body")
		}
		if err := writeClose(w, []byte(msg.Body)); err != nil {
			return nil, "", eris.Wrap(err, "mail: write body")
		}
		return buf.Bytes(), id, nil
	}

	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", eris.Wrap(err, "mail: create multipart")
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, "", eris.Wrap(err, "mail: create inline")
	}
	var th gomail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(th)
	if err != nil {
		return nil, "", eris.Wrap(err, "mail: create text part")
	}
	if err := writeClose(pw, []byte(msg.Body)); err != nil {
		return nil, "", eris.Wrap(err, "mail: write body")
	}
	if err := tw.Close(); err != nil {
		return nil, "", eris.Wrap(err, "mail: close inline")
	}

	for _, a := range msg.Attachments {
		var ah gomail.AttachmentHeader
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.Set("Content-Type", ct)
		ah.SetFilename(a.Name)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, "", eris.Wrapf(err, "mail: create attachment %s", a.Name)
		}
		if err := writeClose(aw, a.Data); err != nil {
			return nil, "", eris.Wrapf(err, "mail: write attachment %s", a.Name)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", eris.Wrap(err, "mail: close multipart")
	}
	return buf.Bytes(), id, nil
}

func writeClose(w io.WriteCloser, data []byte) error {
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

package mail

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lead-pipeline/internal/session"
)

const (
	reportSeparator = "\n_______________________________________________\n"
	reportBody      = "Please find the attached text file"
	sheetName       = "Leads"
)

// reportWebsites returns the websites of records with an email address in
// lexical order.
func reportWebsites(doc session.Document) []string {
	out := make([]string, 0, len(doc))
	for w, rec := range doc {
		if rec.HasEmail() {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}

// ReportText renders the scored records that carry an email address.
func ReportText(doc session.Document) string {
	var b strings.Builder
	for _, w := range reportWebsites(doc) {
		rec := doc[w]
		b.WriteString("URL: " + w + "\n")
		b.WriteString("Name: " + rec.Name + "\n")
		b.WriteString("Text: " + rec.Text + "\n\n")
		b.WriteString(reportSeparator)
	}
	return b.String()
}

// ReportSheet renders the same records as an xlsx workbook.
func ReportSheet(doc session.Document) ([]byte, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return nil, eris.Wrap(err, "mail: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Website", "Name", "Probability", "Email", "Phone", "Social media", "Analysis"} {
		header.AddCell().SetString(h)
	}

	for _, w := range reportWebsites(doc) {
		rec := doc[w]
		row := sheet.AddRow()
		row.AddCell().SetString(w)
		row.AddCell().SetString(rec.Name)
		if pct, ok := rec.Score(); ok {
			row.AddCell().SetFloat(pct)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(strings.Join(rec.Email, ", "))
		row.AddCell().SetString(rec.Phone)
		row.AddCell().SetString(strings.Join(rec.SocialMedia, ", "))
		row.AddCell().SetString(rec.Text)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "mail: write sheet")
	}
	return buf.Bytes(), nil
}

// Reporter mails session reports.
type Reporter struct {
	mailer      *Mailer
	from        string
	fromName    string
	subject     string
	attachSheet bool
}

// NewReporter creates a Reporter.
func NewReporter(mailer *Mailer, from, fromName, subject string, attachSheet bool) *Reporter {
	return &Reporter{mailer: mailer, from: from, fromName: fromName, subject: subject, attachSheet: attachSheet}
}

// SendReport mails the text report of doc to recipient. The report is not
// replicated into the sent mailbox.
func (r *Reporter) SendReport(ctx context.Context, recipient, sessionID string, doc session.Document) error {
	msg, err := r.Message(recipient, sessionID, doc)
	if err != nil {
		return err
	}
	_, err = r.mailer.Send(ctx, msg)
	return err
}

// Message builds the report mail for doc.
func (r *Reporter) Message(recipient, sessionID string, doc session.Document) (Message, error) {
	msg := Message{
		From:     r.from,
		FromName: r.fromName,
		To:       []string{recipient},
		Subject:  r.subject,
		Body:     reportBody,
		Attachments: []Attachment{{
			Name:        session.ReportName(sessionID),
			ContentType: "text/plain; charset=utf-8",
			Data:        []byte(ReportText(doc)),
		}},
	}
	if r.attachSheet {
		sheet, err := ReportSheet(doc)
		if err != nil {
			return Message{}, err
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Name:        strings.TrimSuffix(session.ReportName(sessionID), ".txt") + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        sheet,
		})
	}
	return msg, nil
}

package outreach

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/fanout"
	"github.com/sells-group/lead-pipeline/internal/session"
	"github.com/sells-group/lead-pipeline/pkg/anthropic"
)

// ErrUnknownWebsite is returned when neither scheme variant of the
// requested website is in the session.
var ErrUnknownWebsite = errors.New("outreach: website not in session")

const letterSystemPrompt = "Write only subject and letter, nothing else."

// SendRequest is the body of one send trigger.
type SendRequest struct {
	Email string `json:"email"`
	Text  string `json:"text"`
}

// LetterResult describes a written letter.
type LetterResult struct {
	Website   string
	Letter    string
	Scheduled int
}

// ResolveWebsite finds the session key for check, trying the http:// form
// before the https:// form.
func ResolveWebsite(doc session.Document, check string) (string, bool) {
	bare := strings.TrimPrefix(strings.TrimPrefix(check, "http://"), "https://")
	for _, key := range []string{"http://" + bare, "https://" + bare} {
		if _, ok := doc[key]; ok {
			return key, true
		}
	}
	return "", false
}

// Letters writes the letter for one website, stores it in the session's
// letters document and schedules one send per address.
func (s *Stage) Letters(ctx context.Context, req LettersRequest) (*LetterResult, error) {
	if req.SessionID == "" || req.WebsiteCheck == "" {
		return nil, eris.New("outreach: sessionId and websiteCheck are required")
	}
	log := zap.L().With(zap.String("session_id", req.SessionID), zap.String("website", req.WebsiteCheck))

	doc, err := s.store.Read(ctx, req.SessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "outreach: read session %s", req.SessionID)
	}
	website, ok := ResolveWebsite(doc, req.WebsiteCheck)
	if !ok {
		return nil, ErrUnknownWebsite
	}
	rec := doc[website]

	resp, err := s.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.opts.Model,
		MaxTokens: s.opts.MaxTokens,
		System:    letterSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: letterPrompt(rec, website, s.opts.FromName)}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "outreach: write letter for %s", website)
	}
	resp.Usage.LogCost(resp.Model, "letters")
	letter := resp.Text()
	if strings.TrimSpace(letter) == "" {
		return nil, eris.Errorf("outreach: empty letter for %s", website)
	}

	lettersID := session.LettersID(req.SessionID)
	patch := session.Document{website: {
		Name:        rec.Name,
		Text:        letter,
		Email:       rec.Email,
		Probability: rec.Probability,
	}}
	err = session.MergeWrite(ctx, s.store, lettersID, patch, session.MergeOptions{
		Retries:       s.opts.ConflictRetries,
		CreateMissing: true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "outreach: store letter in %s", lettersID)
	}

	items := make([]fanout.Item, len(rec.Email))
	for i, addr := range rec.Email {
		items[i] = fanout.Item{Target: s.targets.Send, Payload: SendRequest{Email: addr, Text: letter}}
	}
	triggers, err := s.sends.Schedule(ctx, items)
	res := &LetterResult{Website: website, Letter: letter, Scheduled: len(triggers)}
	if err != nil {
		log.Error("outreach: send scheduling aborted", zap.Int("scheduled", len(triggers)), zap.Error(err))
		return res, eris.Wrap(err, "outreach: schedule sends")
	}

	log.Info("outreach: letter written", zap.String("letters_id", lettersID), zap.Int("sends", len(items)))
	return res, nil
}

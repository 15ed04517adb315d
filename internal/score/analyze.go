package score

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/crawl"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/session"
	"github.com/sells-group/lead-pipeline/pkg/openai"
)

// Score crawls the website of req, asks the model to analyse it and
// replaces the session record for the website with the result.
func (s *Stage) Score(ctx context.Context, req Request) (*session.CompanyRecord, error) {
	if req.SessionID == "" || req.Website == "" {
		return nil, eris.New("score: sessionId and website are required")
	}
	log := zap.L().With(zap.String("session_id", req.SessionID), zap.String("website", req.Website))

	base, err := crawl.BaseURL(req.Website)
	if err != nil {
		return nil, eris.Wrapf(err, "score: website %q", req.Website)
	}
	texts, err := s.crawler.Crawl(ctx, base)
	if err != nil {
		return nil, eris.Wrapf(err, "score: crawl %s", base)
	}

	resp, err := resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) (*openai.ChatCompletionResponse, error) {
		return s.llm.ChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: s.opts.Model,
			Messages: []openai.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt(req, texts)},
			},
			Temperature:      0.2,
			TopP:             0.8,
			FrequencyPenalty: 0.5,
			PresencePenalty:  0.5,
			MaxTokens:        4000,
			JSON:             true,
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "score: analyse %s", req.Website)
	}

	a, err := parseAnalysis(resp.Content)
	if err != nil {
		return nil, eris.Wrapf(err, "score: analyse %s", req.Website)
	}
	rec := a.record(req.Name)

	patch := session.Document{req.Website: rec}
	err = session.MergeWrite(ctx, s.store, req.SessionID, patch, session.MergeOptions{Retries: s.opts.ConflictRetries})
	if err != nil {
		return nil, eris.Wrapf(err, "score: store %s", req.Website)
	}

	log.Info("score: record scored",
		zap.Int("pages", len(texts)),
		zap.Int("emails", len(rec.Email)),
		zap.Stringer("probability", rec.Probability),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Float64("estimated_cost_usd", s.costs.OpenAI(s.opts.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)),
	)
	return &rec, nil
}

// Finish closes a scored batch: after the report delay it mails the session
// report to recipient, then after the handoff delay it triggers the letters
// stage. A failed report is logged and does not stop the handoff.
func (s *Stage) Finish(ctx context.Context, sessionID, recipient string) error {
	log := zap.L().With(zap.String("session_id", sessionID))

	if err := s.sleep(ctx, s.opts.ReportDelay); err != nil {
		return eris.Wrap(err, "score: wait for report")
	}

	doc, err := s.store.Read(ctx, sessionID)
	if err != nil {
		return eris.Wrapf(err, "score: read session %s", sessionID)
	}

	switch {
	case recipient == "":
		log.Warn("score: report skipped, no recipient")
	case s.reports == nil:
		log.Warn("score: report skipped, no mailer configured")
	default:
		if err := s.reports.SendReport(ctx, recipient, sessionID, doc); err != nil {
			log.Error("score: report failed", zap.String("recipient", recipient), zap.Error(err))
		} else {
			log.Info("score: report sent", zap.String("recipient", recipient))
		}
	}

	if err := s.sleep(ctx, s.opts.HandoffDelay); err != nil {
		return eris.Wrap(err, "score: wait for handoff")
	}
	if err := s.poster.Post(ctx, s.targets.Letters, map[string]string{"sessionId": sessionID}); err != nil {
		return eris.Wrapf(err, "score: trigger letters for %s", sessionID)
	}
	log.Info("score: session handed to letters stage")
	return nil
}

// analysis is the JSON object the model returns.
type analysis struct {
	Emails      session.StringList   `json:"emails"`
	Phone       looseString          `json:"phone"`
	SocialMedia session.StringList   `json:"socialMedia"`
	Probability *session.Probability `json:"probability"`
	Analysis    string               `json:"analysis"`
}

func parseAnalysis(content string) (*analysis, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var a analysis
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return nil, eris.Wrap(err, "score: decode model response")
	}
	return &a, nil
}

func (a *analysis) record(name string) session.CompanyRecord {
	emails := a.Emails
	if emails == nil {
		emails = session.StringList{}
	}
	social := a.SocialMedia
	if social == nil {
		social = session.StringList{}
	}
	phone := strings.TrimSpace(string(a.Phone))
	if phone == "" {
		phone = "Not Found"
	}
	return session.CompanyRecord{
		Name:        name,
		Text:        a.Analysis,
		Phone:       phone,
		SocialMedia: social,
		Probability: a.Probability,
		Email:       emails,
	}
}

// looseString accepts a JSON string, number or null.
type looseString string

// UnmarshalJSON implements json.Unmarshaler.
func (l *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*l = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = looseString(s)
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			*l = looseString(data)
			return nil
		}
		*l = looseString(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return nil
}

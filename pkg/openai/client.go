// Package openai wraps OpenAI chat completions for lead scoring.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

const defaultModel = "gpt-4o-mini"

// Client performs chat completions.
type Client interface {
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// ChatCompletionRequest is a single chat completion call. JSON switches the
// response format to a JSON object.
type ChatCompletionRequest struct {
	Model            string
	Messages         []Message
	Temperature      float32
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
	MaxTokens        int
	JSON             bool
}

// Message represents a single message in the conversation.
type Message struct {
	Role    string
	Content string
}

// ChatCompletionResponse holds the first choice of a completion.
type ChatCompletionResponse struct {
	ID      string
	Model   string
	Content string
	Usage   Usage
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Option configures the client.
type Option func(*goopenai.ClientConfig)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *goopenai.ClientConfig) {
		c.BaseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *goopenai.ClientConfig) {
		c.HTTPClient = hc
	}
}

type sdkClient struct {
	client *goopenai.Client
	model  string
}

// NewClient creates an OpenAI client. An empty model selects gpt-4o-mini.
func NewClient(apiKey, model string, opts ...Option) Client {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	for _, o := range opts {
		o(&cfg)
	}
	if model == "" {
		model = defaultModel
	}
	return &sdkClient{client: goopenai.NewClientWithConfig(cfg), model: model}
}

func (c *sdkClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	msgs := make([]goopenai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	params := goopenai.ChatCompletionRequest{
		Model:            req.Model,
		Messages:         msgs,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		MaxTokens:        req.MaxTokens,
		N:                1,
	}
	if req.JSON {
		params.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, params)
	if err != nil {
		wrapped := eris.Wrap(err, "openai: chat completion")
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.WrapStatus(wrapped, apiErr.HTTPStatusCode)
		}
		var reqErr *goopenai.RequestError
		if errors.As(err, &reqErr) {
			return nil, resilience.WrapStatus(wrapped, reqErr.HTTPStatusCode)
		}
		return nil, wrapped
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: completion has no choices")
	}

	return &ChatCompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

package refine

import (
	"context"
	"errors"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// xAI exposes an OpenAI-compatible chat completions API.
const (
	XAIBaseURL      = "https://api.x.ai/v1"
	XAIDefaultModel = "grok-4-fast-reasoning"
	XAILegacyModel  = "grok-beta"

	OpenAIBaseURL      = "https://api.openai.com/v1"
	OpenAIDefaultModel = "gpt-4o-mini"
)

// OpenAIConfig configures an OpenAI-compatible completer.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// OpenAICompleter talks to any OpenAI-compatible endpoint through langchaingo.
type OpenAICompleter struct {
	llm         llms.Model
	maxTokens   int
	temperature float64
}

// NewOpenAICompleter builds a completer. Empty fields default to xAI.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("refine: api key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = XAIDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = XAIBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(cfg.BaseURL),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return &OpenAICompleter{llm: llm, maxTokens: cfg.MaxTokens, temperature: cfg.Temperature}, nil
}

// Complete sends the system and user messages as one chat completion.
func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}, llms.WithMaxTokens(c.maxTokens), llms.WithTemperature(c.temperature))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

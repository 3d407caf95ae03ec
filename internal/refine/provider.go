package refine

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Provider names.
const (
	ProviderXAI    = "xai"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

// Config selects and configures a refinement provider.
type Config struct {
	Enabled     bool
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Logger      *slog.Logger
}

// New builds the refiner described by cfg. Refinement that is disabled, or
// enabled without an API key, yields Noop; the latter is logged.
func New(cfg Config) (Refiner, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if !cfg.Enabled || provider == ProviderNone {
		return Noop{}, nil
	}
	if cfg.APIKey == "" {
		logger.Warn("Refinement enabled but no API key set, skipping refinement", "provider", provider)
		return Noop{}, nil
	}

	var completer Completer
	switch provider {
	case "", ProviderXAI, ProviderOpenAI:
		baseURL, model := cfg.BaseURL, cfg.Model
		if provider == ProviderOpenAI {
			if baseURL == "" {
				baseURL = OpenAIBaseURL
			}
			if model == "" {
				model = OpenAIDefaultModel
			}
		}
		c, err := NewOpenAICompleter(OpenAIConfig{
			APIKey:      cfg.APIKey,
			Model:       model,
			BaseURL:     baseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		})
		if err != nil {
			return nil, fmt.Errorf("refine: %w", err)
		}
		completer = c
	case ProviderGemini:
		completer = &GeminiCompleter{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}
	default:
		return nil, fmt.Errorf("refine: unknown provider %q", cfg.Provider)
	}

	return NewStage(completer, Options{Timeout: cfg.Timeout, Logger: logger}), nil
}

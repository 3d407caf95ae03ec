package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MeKo-Tech/signscan/internal/export"
	"github.com/MeKo-Tech/signscan/internal/ocr"
	"github.com/MeKo-Tech/signscan/internal/parser"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"github.com/MeKo-Tech/signscan/internal/preprocess"
	"github.com/MeKo-Tech/signscan/internal/recent"
	"github.com/MeKo-Tech/signscan/internal/refine"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	pre := preprocess.DefaultOptions()
	ocrOpts := ocr.DefaultOptions()
	schema := parser.DefaultSchema()

	return Config{
		LogLevel: "info",
		Verbose:  false,
		Preprocess: PreprocessConfig{
			UpscaleFactor:     pre.UpscaleFactor,
			ThresholdUpscaled: int(pre.UpscaledThreshold),
			ThresholdNative:   int(pre.NativeThreshold),
		},
		OCR: OCRConfig{
			Backend:    ocr.BackendExec,
			Language:   ocrOpts.Language,
			PSM:        int(ocrOpts.PageSegMode),
			BinaryPath: ocrOpts.BinaryPath,
			TimeoutSec: int(ocrOpts.Timeout / time.Second),
		},
		Parser: ParserConfig{
			Schema:          schema.Name,
			QuantityPattern: schema.QuantityPattern.String(),
		},
		Refine: RefineConfig{
			Enabled:     true,
			Provider:    refine.ProviderXAI,
			Model:       refine.XAIDefaultModel,
			BaseURL:     refine.XAIBaseURL,
			MaxTokens:   refine.DefaultMaxTokens,
			Temperature: refine.DefaultTemperature,
			TimeoutSec:  int(refine.DefaultTimeout / time.Second),
		},
		Pipeline: PipelineConfig{
			MinLatencyMS:   0,
			InFlightPolicy: pipeline.PolicyReject.String(),
		},
		Output: OutputConfig{
			Format: "text",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
				Burst:             10,
				RequestsPerDay:    1000,
			},
		},
		BidX: BidXConfig{
			TimeoutSec: 30,
		},
		Recent: RecentConfig{
			Enabled:    true,
			Path:       recent.DefaultPath(),
			MaxEntries: recent.MaxEntries,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{pipeline.FormatText, pipeline.FormatJSON, pipeline.FormatCSV}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if err := validateByte(c.Preprocess.ThresholdUpscaled, "preprocess.threshold_upscaled"); err != nil {
		return err
	}
	if err := validateByte(c.Preprocess.ThresholdNative, "preprocess.threshold_native"); err != nil {
		return err
	}
	if err := c.preprocessOptions().Validate(); err != nil {
		return fmt.Errorf("invalid preprocess settings: %w", err)
	}
	if err := c.OCROptions().Validate(); err != nil {
		return fmt.Errorf("invalid ocr settings: %w", err)
	}
	if _, err := ocr.NewFactory(c.OCR.Backend); err != nil {
		return fmt.Errorf("invalid ocr backend: %w", err)
	}
	if _, err := c.Schema(); err != nil {
		return err
	}

	validProviders := []string{refine.ProviderXAI, refine.ProviderOpenAI, refine.ProviderGemini, refine.ProviderNone}
	if !contains(validProviders, strings.ToLower(c.Refine.Provider)) {
		return fmt.Errorf("invalid refine provider: %s (must be one of: %s)", c.Refine.Provider, strings.Join(validProviders, ", "))
	}
	if c.Refine.Temperature < 0 || c.Refine.Temperature > 2 {
		return fmt.Errorf("invalid refine.temperature: %.2f (must be between 0.0 and 2.0)", c.Refine.Temperature)
	}
	if c.Refine.MaxTokens <= 0 {
		return fmt.Errorf("invalid refine.max_tokens: %d (must be positive)", c.Refine.MaxTokens)
	}

	if c.Pipeline.MinLatencyMS < 0 {
		return fmt.Errorf("invalid pipeline.min_latency_ms: %d (must not be negative)", c.Pipeline.MinLatencyMS)
	}
	if _, err := pipeline.ParseInFlightPolicy(c.Pipeline.InFlightPolicy); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if rl := c.Server.RateLimit; rl.Enabled {
		if rl.RequestsPerMinute <= 0 {
			return fmt.Errorf("invalid rate limit: %d requests per minute (must be positive)", rl.RequestsPerMinute)
		}
		if rl.Burst < 0 || rl.RequestsPerDay < 0 {
			return fmt.Errorf("invalid rate limit burst or daily quota")
		}
	}

	if c.Recent.MaxEntries < 0 {
		return fmt.Errorf("invalid recent.max_entries: %d", c.Recent.MaxEntries)
	}
	return nil
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
// Call Validate first; an unknown schema falls back to the standard one here.
func (c *Config) ToPipelineConfig() pipeline.Config {
	schema, err := c.Schema()
	if err != nil {
		schema = parser.DefaultSchema()
	}
	return pipeline.Config{
		Preprocess: c.preprocessOptions(),
		OCR:        c.OCROptions(),
		Schema:     schema,
		Refine:     c.Refine.Enabled,
		MinLatency: time.Duration(c.Pipeline.MinLatencyMS) * time.Millisecond,
	}
}

func (c *Config) preprocessOptions() preprocess.Options {
	return preprocess.Options{
		UpscaleFactor:     c.Preprocess.UpscaleFactor,
		UpscaledThreshold: clampByte(c.Preprocess.ThresholdUpscaled),
		NativeThreshold:   clampByte(c.Preprocess.ThresholdNative),
	}
}

// OCROptions converts the ocr section.
func (c *Config) OCROptions() ocr.Options {
	opts := ocr.DefaultOptions()
	if c.OCR.Language != "" {
		opts.Language = c.OCR.Language
	}
	opts.PageSegMode = ocr.PageSegMode(c.OCR.PSM)
	if c.OCR.BinaryPath != "" {
		opts.BinaryPath = c.OCR.BinaryPath
	}
	opts.DataPath = c.OCR.DataPath
	opts.Timeout = time.Duration(c.OCR.TimeoutSec) * time.Second
	return opts
}

// EngineFactory returns the factory for the configured OCR backend.
func (c *Config) EngineFactory() (ocr.Factory, error) {
	return ocr.NewFactory(c.OCR.Backend)
}

// Schema resolves the parser section into a schema. Non-zero overrides
// replace the named schema's values.
func (c *Config) Schema() (parser.Schema, error) {
	s, err := parser.SchemaByName(c.Parser.Schema)
	if err != nil {
		return parser.Schema{}, err
	}
	if len(c.Parser.HeaderKeywords) > 0 {
		s = s.WithHeaderKeywords(c.Parser.HeaderKeywords)
	}
	if c.Parser.MinTokens > 0 {
		s.MinTokens = c.Parser.MinTokens
	}
	if c.Parser.CodeTokens > 0 {
		s.CodeTokens = c.Parser.CodeTokens
	}
	if c.Parser.SizeTokens > 0 {
		s.SizeTokens = c.Parser.SizeTokens
	}
	if s, err = s.WithQuantityPattern(c.Parser.QuantityPattern); err != nil {
		return parser.Schema{}, err
	}
	if err := s.Validate(); err != nil {
		return parser.Schema{}, fmt.Errorf("invalid parser settings: %w", err)
	}
	return s, nil
}

// ToRefineConfig converts the refine section. The Gemini provider reads its
// own key when api_key is unset.
func (c *Config) ToRefineConfig(logger *slog.Logger) refine.Config {
	key := c.Refine.APIKey
	model := c.Refine.Model
	baseURL := c.Refine.BaseURL
	if strings.EqualFold(c.Refine.Provider, refine.ProviderGemini) {
		if c.Refine.GeminiAPIKey != "" {
			key = c.Refine.GeminiAPIKey
		}
		if model == refine.XAIDefaultModel {
			model = refine.GeminiDefaultModel
		}
	}
	if strings.EqualFold(c.Refine.Provider, refine.ProviderOpenAI) && baseURL == refine.XAIBaseURL {
		baseURL = ""
		if model == refine.XAIDefaultModel {
			model = ""
		}
	}
	return refine.Config{
		Enabled:     c.Refine.Enabled,
		Provider:    c.Refine.Provider,
		APIKey:      key,
		Model:       model,
		BaseURL:     baseURL,
		MaxTokens:   c.Refine.MaxTokens,
		Temperature: c.Refine.Temperature,
		Timeout:     time.Duration(c.Refine.TimeoutSec) * time.Second,
		Logger:      logger,
	}
}

// InFlightPolicy parses the pipeline in-flight policy.
func (c *Config) InFlightPolicy() pipeline.InFlightPolicy {
	p, _ := pipeline.ParseInFlightPolicy(c.Pipeline.InFlightPolicy)
	return p
}

// BidXClient builds the upload client. It may be unconfigured.
func (c *Config) BidXClient() *export.BidXClient {
	return export.NewBidXClient(c.BidX.APIURL, c.BidX.APIKey, time.Duration(c.BidX.TimeoutSec)*time.Second)
}

// Helper functions

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateByte validates that a threshold fits a gray level.
func validateByte(value int, name string) error {
	if value < 0 || value > 255 {
		return fmt.Errorf("invalid %s: %d (must be between 0 and 255)", name, value)
	}
	return nil
}

func clampByte(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}

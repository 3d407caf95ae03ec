//nolint:lll
package config

// Config represents the complete configuration for the signscan application.
// It covers every command (scan, pdf, serve, upload) and is loaded from
// configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Preprocess PreprocessConfig `mapstructure:"preprocess" yaml:"preprocess" json:"preprocess"`
	OCR        OCRConfig        `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Parser     ParserConfig     `mapstructure:"parser" yaml:"parser" json:"parser"`
	Refine     RefineConfig     `mapstructure:"refine" yaml:"refine" json:"refine"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Collaborators
	BidX    BidXConfig    `mapstructure:"bidx" yaml:"bidx" json:"bidx"`
	Recent  RecentConfig  `mapstructure:"recent" yaml:"recent" json:"recent"`
	History HistoryConfig `mapstructure:"history" yaml:"history" json:"history"`
}

// PreprocessConfig controls the crop-to-bitmap chain.
type PreprocessConfig struct {
	UpscaleFactor     float64 `mapstructure:"upscale_factor" yaml:"upscale_factor" json:"upscale_factor"`
	ThresholdUpscaled int     `mapstructure:"threshold_upscaled" yaml:"threshold_upscaled" json:"threshold_upscaled"`
	ThresholdNative   int     `mapstructure:"threshold_native" yaml:"threshold_native" json:"threshold_native"`
}

// OCRConfig selects and tunes the text recognition backend.
type OCRConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend" json:"backend"`
	Language   string `mapstructure:"language" yaml:"language" json:"language"`
	PSM        int    `mapstructure:"psm" yaml:"psm" json:"psm"`
	BinaryPath string `mapstructure:"binary_path" yaml:"binary_path" json:"binary_path"`
	DataPath   string `mapstructure:"data_path" yaml:"data_path" json:"data_path"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// ParserConfig selects the tabulation schema. Zero values keep the schema's own settings.
type ParserConfig struct {
	Schema          string   `mapstructure:"schema" yaml:"schema" json:"schema"`
	HeaderKeywords  []string `mapstructure:"header_keywords" yaml:"header_keywords" json:"header_keywords"`
	MinTokens       int      `mapstructure:"min_tokens" yaml:"min_tokens" json:"min_tokens"`
	CodeTokens      int      `mapstructure:"code_tokens" yaml:"code_tokens" json:"code_tokens"`
	SizeTokens      int      `mapstructure:"size_tokens" yaml:"size_tokens" json:"size_tokens"`
	QuantityPattern string   `mapstructure:"quantity_pattern" yaml:"quantity_pattern" json:"quantity_pattern"`
}

// RefineConfig configures the LLM refinement stage.
type RefineConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Provider     string  `mapstructure:"provider" yaml:"provider" json:"provider"`
	Model        string  `mapstructure:"model" yaml:"model" json:"model"`
	BaseURL      string  `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	APIKey       string  `mapstructure:"api_key" yaml:"api_key" json:"-"`
	GeminiAPIKey string  `mapstructure:"gemini_api_key" yaml:"gemini_api_key" json:"-"`
	MaxTokens    int     `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	TimeoutSec   int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// PipelineConfig contains orchestration settings.
type PipelineConfig struct {
	MinLatencyMS   int    `mapstructure:"min_latency_ms" yaml:"min_latency_ms" json:"min_latency_ms"`
	InFlightPolicy string `mapstructure:"inflight_policy" yaml:"inflight_policy" json:"inflight_policy"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int  `mapstructure:"burst" yaml:"burst" json:"burst"`
	RequestsPerDay    int  `mapstructure:"requests_per_day" yaml:"requests_per_day" json:"requests_per_day"`
}

// BidXConfig points at the BidX upload API.
type BidXConfig struct {
	APIURL     string `mapstructure:"api_url" yaml:"api_url" json:"api_url"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key" json:"-"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// RecentConfig controls the recent-files list.
type RecentConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path       string `mapstructure:"path" yaml:"path" json:"path"`
	MaxEntries int    `mapstructure:"max_entries" yaml:"max_entries" json:"max_entries"`
}

// HistoryConfig enables the Postgres scan history.
type HistoryConfig struct {
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url" json:"-"`
}

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "signscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "SIGNSCAN"
)

// envFallbacks maps keys to the well-known variables read when the
// SIGNSCAN_ variant is unset.
var envFallbacks = map[string][]string{
	"refine.api_key":        {"XAI_API_KEY"},
	"refine.gemini_api_key": {"GEMINI_API_KEY"},
	"bidx.api_url":          {"BIDX_API_URL"},
	"bidx.api_key":          {"BIDX_API_KEY"},
	"history.database_url":  {"DATABASE_URL"},
}

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so flag bindings
// made by the root command apply.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewIsolatedLoader creates a loader with its own viper instance.
func NewIsolatedLoader() *Loader {
	return &Loader{v: viper.New()}
}

// Load loads configuration from files, environment variables, and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	return l.load(true)
}

// LoadWithoutValidation is Load without the validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load(false)
}

func (l *Loader) load(validate bool) (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars still apply.
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal(validate)
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	return l.loadFile(configFile, true)
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile == "" {
		return l.LoadWithoutValidation()
	}
	return l.loadFile(configFile, false)
}

func (l *Loader) loadFile(configFile string, validate bool) (*Config, error) {
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return l.unmarshal(validate)
}

func (l *Loader) unmarshal(validate bool) (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// Replace dots and dashes with underscores in env var names
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	for key, names := range envFallbacks {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = l.v.BindEnv(append([]string{key, prefixed}, names...)...)
	}
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("preprocess.upscale_factor", d.Preprocess.UpscaleFactor)
	l.v.SetDefault("preprocess.threshold_upscaled", d.Preprocess.ThresholdUpscaled)
	l.v.SetDefault("preprocess.threshold_native", d.Preprocess.ThresholdNative)

	l.v.SetDefault("ocr.backend", d.OCR.Backend)
	l.v.SetDefault("ocr.language", d.OCR.Language)
	l.v.SetDefault("ocr.psm", d.OCR.PSM)
	l.v.SetDefault("ocr.binary_path", d.OCR.BinaryPath)
	l.v.SetDefault("ocr.data_path", d.OCR.DataPath)
	l.v.SetDefault("ocr.timeout_sec", d.OCR.TimeoutSec)

	l.v.SetDefault("parser.schema", d.Parser.Schema)
	l.v.SetDefault("parser.header_keywords", d.Parser.HeaderKeywords)
	l.v.SetDefault("parser.min_tokens", d.Parser.MinTokens)
	l.v.SetDefault("parser.code_tokens", d.Parser.CodeTokens)
	l.v.SetDefault("parser.size_tokens", d.Parser.SizeTokens)
	l.v.SetDefault("parser.quantity_pattern", d.Parser.QuantityPattern)

	l.v.SetDefault("refine.enabled", d.Refine.Enabled)
	l.v.SetDefault("refine.provider", d.Refine.Provider)
	l.v.SetDefault("refine.model", d.Refine.Model)
	l.v.SetDefault("refine.base_url", d.Refine.BaseURL)
	l.v.SetDefault("refine.api_key", d.Refine.APIKey)
	l.v.SetDefault("refine.gemini_api_key", d.Refine.GeminiAPIKey)
	l.v.SetDefault("refine.max_tokens", d.Refine.MaxTokens)
	l.v.SetDefault("refine.temperature", d.Refine.Temperature)
	l.v.SetDefault("refine.timeout_sec", d.Refine.TimeoutSec)

	l.v.SetDefault("pipeline.min_latency_ms", d.Pipeline.MinLatencyMS)
	l.v.SetDefault("pipeline.inflight_policy", d.Pipeline.InFlightPolicy)

	l.v.SetDefault("output.format", d.Output.Format)
	l.v.SetDefault("output.file", d.Output.File)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_minute", d.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.burst", d.Server.RateLimit.Burst)
	l.v.SetDefault("server.rate_limit.requests_per_day", d.Server.RateLimit.RequestsPerDay)

	l.v.SetDefault("bidx.api_url", d.BidX.APIURL)
	l.v.SetDefault("bidx.api_key", d.BidX.APIKey)
	l.v.SetDefault("bidx.timeout_sec", d.BidX.TimeoutSec)

	l.v.SetDefault("recent.enabled", d.Recent.Enabled)
	l.v.SetDefault("recent.path", d.Recent.Path)
	l.v.SetDefault("recent.max_entries", d.Recent.MaxEntries)

	l.v.SetDefault("history.database_url", d.History.DatabaseURL)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes the defaults to filename
// (signscan.yaml when empty). Secrets are left blank.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewIsolatedLoader()
	loader.setDefaults()

	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	return append(paths, "/etc/"+ConfigFileName)
}

// PrintConfigInfo prints information about configuration loading for debugging.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", l.GetConfigFileUsed())
	_, _ = fmt.Fprintf(w, "Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "Environment prefix: %s\n", EnvPrefix)
}

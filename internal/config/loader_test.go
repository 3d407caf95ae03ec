package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearSignscanEnvVars clears SIGNSCAN_ variables and the fallbacks the loader reads.
func clearSignscanEnvVars(t *testing.T) {
	t.Helper()
	for _, env := range os.Environ() {
		name, _, _ := strings.Cut(env, "=")
		if strings.HasPrefix(name, EnvPrefix+"_") {
			t.Setenv(name, "")
			_ = os.Unsetenv(name)
		}
	}
	for _, names := range envFallbacks {
		for _, n := range names {
			t.Setenv(n, "")
			_ = os.Unsetenv(n)
		}
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	originalWd, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(originalWd) })
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+".yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil || loader.v == nil {
		t.Fatal("NewLoader() returned an unusable loader")
	}
	if NewIsolatedLoader().v == loader.v {
		t.Error("isolated loader must not share the global viper")
	}
}

// TestLoadWithNoConfigFile tests loading with no config file present.
func TestLoadWithNoConfigFile(t *testing.T) {
	clearSignscanEnvVars(t)
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := NewIsolatedLoader().Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected default log level, got %s", cfg.LogLevel)
	}
	if cfg.OCR.PSM != 4 {
		t.Errorf("Expected default psm 4, got %d", cfg.OCR.PSM)
	}
}

func TestLoadWithValidYAMLFile(t *testing.T) {
	clearSignscanEnvVars(t)
	dir := t.TempDir()
	chdir(t, dir)
	writeConfig(t, dir, `
log_level: debug
preprocess:
  upscale_factor: 1
  threshold_native: 140
ocr:
  psm: 6
parser:
  schema: compact
refine:
  enabled: false
pipeline:
  min_latency_ms: 1500
  inflight_policy: supersede
server:
  port: 9090
  rate_limit:
    enabled: true
    requests_per_minute: 30
`)

	cfg, err := NewIsolatedLoader().Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != debugLevel {
		t.Errorf("Expected debug, got %s", cfg.LogLevel)
	}
	if cfg.Preprocess.UpscaleFactor != 1 || cfg.Preprocess.ThresholdNative != 140 {
		t.Errorf("unexpected preprocess section: %+v", cfg.Preprocess)
	}
	if cfg.Preprocess.ThresholdUpscaled != 120 {
		t.Errorf("unset keys keep defaults, got %d", cfg.Preprocess.ThresholdUpscaled)
	}
	if cfg.OCR.PSM != 6 || cfg.Parser.Schema != "compact" {
		t.Errorf("unexpected ocr/parser: %d %s", cfg.OCR.PSM, cfg.Parser.Schema)
	}
	if cfg.Refine.Enabled {
		t.Error("Expected refinement disabled")
	}
	if cfg.Pipeline.MinLatencyMS != 1500 || cfg.Pipeline.InFlightPolicy != "supersede" {
		t.Errorf("unexpected pipeline section: %+v", cfg.Pipeline)
	}
	if cfg.Server.Port != 9090 || !cfg.Server.RateLimit.Enabled || cfg.Server.RateLimit.RequestsPerMinute != 30 {
		t.Errorf("unexpected server section: %+v", cfg.Server)
	}
	if cfg.Server.RateLimit.Burst != 10 {
		t.Errorf("Expected default burst, got %d", cfg.Server.RateLimit.Burst)
	}
}

func TestLoadWithInvalidYAMLFile(t *testing.T) {
	clearSignscanEnvVars(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "log_level: [unterminated\n")

	if _, err := NewIsolatedLoader().LoadWithFile(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoadWithNonExistentFile(t *testing.T) {
	_, err := NewIsolatedLoader().LoadWithFile("/nonexistent/signscan.yaml")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("Expected does-not-exist error, got %v", err)
	}
}

func TestLoadWithValidationFailure(t *testing.T) {
	clearSignscanEnvVars(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "output:\n  format: xml\n")

	_, err := NewIsolatedLoader().LoadWithFile(path)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("Expected validation failure, got %v", err)
	}

	cfg, err := NewIsolatedLoader().LoadWithFileWithoutValidation(path)
	if err != nil {
		t.Fatalf("LoadWithFileWithoutValidation() error: %v", err)
	}
	if cfg.Output.Format != "xml" {
		t.Errorf("Expected raw value xml, got %s", cfg.Output.Format)
	}
}

func TestEnvironmentVariableOverride(t *testing.T) {
	clearSignscanEnvVars(t)
	chdir(t, t.TempDir())
	t.Setenv("SIGNSCAN_LOG_LEVEL", "warn")
	t.Setenv("SIGNSCAN_SERVER_PORT", "7070")
	t.Setenv("SIGNSCAN_OCR_LANGUAGE", "deu")

	cfg, err := NewIsolatedLoader().Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Server.Port != 7070 || cfg.OCR.Language != "deu" {
		t.Errorf("env overrides not applied: %s %d %s", cfg.LogLevel, cfg.Server.Port, cfg.OCR.Language)
	}
}

func TestEnvironmentFallbacks(t *testing.T) {
	clearSignscanEnvVars(t)
	chdir(t, t.TempDir())
	t.Setenv("XAI_API_KEY", "xai-secret")
	t.Setenv("GEMINI_API_KEY", "gem-secret")
	t.Setenv("BIDX_API_URL", "https://bidx.example/api")
	t.Setenv("BIDX_API_KEY", "bidx-secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/signscan")

	cfg, err := NewIsolatedLoader().Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Refine.APIKey != "xai-secret" || cfg.Refine.GeminiAPIKey != "gem-secret" {
		t.Errorf("refine keys not read: %q %q", cfg.Refine.APIKey, cfg.Refine.GeminiAPIKey)
	}
	if cfg.BidX.APIURL != "https://bidx.example/api" || cfg.BidX.APIKey != "bidx-secret" {
		t.Errorf("bidx not read: %+v", cfg.BidX)
	}
	if cfg.History.DatabaseURL != "postgres://localhost/signscan" {
		t.Errorf("database url not read: %q", cfg.History.DatabaseURL)
	}
}

func TestPrefixedVariableWinsOverFallback(t *testing.T) {
	clearSignscanEnvVars(t)
	chdir(t, t.TempDir())
	t.Setenv("XAI_API_KEY", "fallback")
	t.Setenv("SIGNSCAN_REFINE_API_KEY", "prefixed")

	cfg, err := NewIsolatedLoader().Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Refine.APIKey != "prefixed" {
		t.Errorf("Expected prefixed key, got %q", cfg.Refine.APIKey)
	}
}

func TestGetSetConfigValues(t *testing.T) {
	loader := NewIsolatedLoader()
	loader.Set("custom.key", "value")
	if loader.GetString("custom.key") != "value" {
		t.Errorf("GetString() = %q", loader.GetString("custom.key"))
	}
	if loader.Get("custom.key") != "value" {
		t.Errorf("Get() = %v", loader.Get("custom.key"))
	}
	if loader.GetViper() == nil {
		t.Error("GetViper() returned nil")
	}
}

func TestGetConfigFileUsed(t *testing.T) {
	clearSignscanEnvVars(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "log_level: info\n")

	loader := NewIsolatedLoader()
	if _, err := loader.LoadWithFile(path); err != nil {
		t.Fatalf("LoadWithFile() error: %v", err)
	}
	if loader.GetConfigFileUsed() != path {
		t.Errorf("Expected %s, got %s", path, loader.GetConfigFileUsed())
	}
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	clearSignscanEnvVars(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "generated.yaml")

	if err := GenerateDefaultConfigFile(path); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() error: %v", err)
	}

	cfg, err := NewIsolatedLoader().LoadWithFile(path)
	if err != nil {
		t.Fatalf("generated file does not load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Preprocess.ThresholdUpscaled != 120 {
		t.Errorf("generated file lost defaults: %+v", cfg)
	}
}

func TestGenerateDefaultConfigFileWithEmptyFilename(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	if err := GenerateDefaultConfigFile(""); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "signscan.yaml")); err != nil {
		t.Errorf("Expected signscan.yaml: %v", err)
	}
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()
	if paths[0] != "." {
		t.Errorf("Expected current directory first, got %s", paths[0])
	}
	if paths[len(paths)-1] != "/etc/signscan" {
		t.Errorf("Expected /etc/signscan last, got %s", paths[len(paths)-1])
	}
	found := false
	for _, p := range paths {
		if p == filepath.Join("/xdg", "signscan") {
			found = true
		}
	}
	if !found {
		t.Errorf("XDG path missing from %v", paths)
	}
}

func TestPrintConfigInfo(t *testing.T) {
	var buf bytes.Buffer
	NewIsolatedLoader().PrintConfigInfo(&buf)
	if !strings.Contains(buf.String(), "Environment prefix: SIGNSCAN") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestGetResolvedConfig(t *testing.T) {
	loader := NewIsolatedLoader()
	loader.setDefaults()
	settings := loader.GetResolvedConfig()
	if _, ok := settings["server"]; !ok {
		t.Errorf("Expected server section in %v", settings)
	}
}

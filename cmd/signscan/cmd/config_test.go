package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/signscan/internal/config"
)

func TestConfigInitCommand(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "custom.yaml")

	stdout, _, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Configuration written to")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "preprocess:")

	_, _, err = execute(t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = execute(t, "config", "init", path, "--force")
	require.NoError(t, err)
}

func TestConfigInitDefaultName(t *testing.T) {
	dir := isolateEnv(t)
	_, _, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "signscan.yaml"))
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	isolateEnv(t)
	t.Setenv("XAI_API_KEY", "xai-secret")
	t.Setenv("BIDX_API_KEY", "bidx-secret")

	stdout, _, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "xai-secret")
	assert.NotContains(t, stdout, "bidx-secret")
	assert.Contains(t, stdout, redacted)

	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &shown))
	assert.Equal(t, redacted, shown.Refine.APIKey)
	assert.Empty(t, shown.Refine.GeminiAPIKey)
}

func TestConfigShowWithFile(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "signscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  format: csv\n"), 0o600))

	stdout, _, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "format: csv")
}

func TestConfigInfoCommand(t *testing.T) {
	isolateEnv(t)
	stdout, _, err := execute(t, "config", "info")
	require.NoError(t, err)
	assert.NotEmpty(t, stdout)
}

func TestRedactSecrets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Refine.GeminiAPIKey = "g"
	cfg.History.DatabaseURL = "postgres://u:p@localhost/db"

	out := redactSecrets(cfg)
	assert.Equal(t, redacted, out.Refine.GeminiAPIKey)
	assert.Equal(t, redacted, out.History.DatabaseURL)
	assert.Empty(t, out.Refine.APIKey)
	assert.Equal(t, "g", cfg.Refine.GeminiAPIKey)
}

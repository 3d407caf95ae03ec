package cmd

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/signscan/internal/config"
)

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "signscan", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.Same(t, rootCmd, GetRootCommand())
}

func TestRootCommandHelp(t *testing.T) {
	isolateEnv(t)
	stdout, _, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "sign legend")
	assert.Contains(t, stdout, "Available Commands:")
	assert.Contains(t, stdout, "Usage:")
}

func TestRootCommandNoArgs(t *testing.T) {
	isolateEnv(t)
	stdout, _, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	isolateEnv(t)
	stdout, _, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "signscan version")
	assert.Contains(t, stdout, "commit:")
}

func TestRootCommandSubcommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, sub := range rootCmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"scan", "batch", "pdf", "serve", "upload", "config", "test"} {
		assert.Contains(t, names, expected, "Expected subcommand '%s' not found", expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	isolateEnv(t)
	_, stderr, err := execute(t, "--invalid-flag")
	require.Error(t, err)
	assert.Contains(t, stderr, "unknown flag")
}

func TestRootCommandPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "verbose", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		name    string
		cfg     config.Config
		enabled slog.Level
		muted   slog.Level
	}{
		{"default info", config.Config{LogLevel: "info"}, slog.LevelInfo, slog.LevelDebug},
		{"verbose", config.Config{LogLevel: "error", Verbose: true}, slog.LevelDebug, slog.LevelDebug - 1},
		{"warn", config.Config{LogLevel: "warn"}, slog.LevelWarn, slog.LevelInfo},
		{"error", config.Config{LogLevel: "error"}, slog.LevelError, slog.LevelWarn},
		{"unknown", config.Config{LogLevel: "loud"}, slog.LevelInfo, slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			setupLogging(&buf, &tt.cfg)
			h := slog.Default().Handler()
			assert.True(t, h.Enabled(t.Context(), tt.enabled))
			assert.False(t, h.Enabled(t.Context(), tt.muted))

			slog.Log(t.Context(), tt.enabled, "probe")
			assert.Contains(t, buf.String(), `"msg":"probe"`)
		})
	}
}

func TestGetConfigFallsBackToLoader(t *testing.T) {
	isolateEnv(t)
	globalConfig = nil
	t.Cleanup(func() { globalConfig = nil })

	cfg := GetConfig()
	require.NotNil(t, cfg)
	assert.False(t, cfg.Refine.Enabled)
	assert.NotNil(t, GetConfigLoader())
}

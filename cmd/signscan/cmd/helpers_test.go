package cmd

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/signscan/internal/config"
	"github.com/MeKo-Tech/signscan/internal/ocr"
	"github.com/MeKo-Tech/signscan/internal/ocr/mock"
	"github.com/MeKo-Tech/signscan/internal/testutil"
)

const legendText = "SIGN LEGEND\nCODE SIZE DESCRIPTION QTY\nR1-1 30 X 30 STOP 2\nW20-1 48 X 48 ROAD WORK AHEAD 4\n"

// isolateEnv keeps a test's configuration away from the host: no refinement,
// no history database and a recent-files list under a temp dir.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SIGNSCAN_REFINE_ENABLED", "false")
	t.Setenv("SIGNSCAN_RECENT_PATH", filepath.Join(dir, "recent.yaml"))
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SIGNSCAN_HISTORY_DATABASE_URL", "")
	t.Setenv("BIDX_API_URL", "")
	t.Setenv("SIGNSCAN_BIDX_API_URL", "")
	for _, key := range []string{"XAI_API_KEY", "GEMINI_API_KEY", "BIDX_API_KEY"} {
		t.Setenv(key, "")
	}
	t.Chdir(dir)
	return dir
}

// useScript swaps the OCR backend for a scripted engine.
func useScript(t *testing.T, script *mock.Script) {
	t.Helper()
	prev := engineFactory
	engineFactory = func(*config.Config) (ocr.Factory, error) {
		return script.Factory(), nil
	}
	t.Cleanup(func() { engineFactory = prev })
}

// writePage writes a white page image and returns its path.
func writePage(t *testing.T, dir string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, "plan.png")
	data := testutil.EncodePNG(t, testutil.CreateTestImage(w, h, color.White))
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// resetFlags restores every flag to its default so runs do not leak state.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the root command and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cfgFile = ""
	globalConfig = nil

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

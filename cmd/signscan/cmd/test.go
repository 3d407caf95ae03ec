package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/signscan/internal/ocr"
	"github.com/MeKo-Tech/signscan/internal/refine"
)

// testCmd represents the test command.
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check the OCR backend and integrations",
	Long: `Check that the configured OCR backend can be started and report which
optional integrations (LLM refinement, BidX upload, scan history) are set up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(out, cmd.Short)
		_, _ = fmt.Fprintln(out)

		backend := cfg.OCR.Backend
		if backend == "" {
			backend = ocr.BackendExec
		}
		ocrErr := ocr.Available(backend, cfg.OCROptions())
		if ocrErr != nil {
			_, _ = fmt.Fprintf(out, "OCR backend %s: FAILED (%v)\n", backend, ocrErr)
		} else {
			_, _ = fmt.Fprintf(out, "OCR backend %s: ok (language %s)\n", backend, cfg.OCROptions().Language)
		}

		rc := cfg.ToRefineConfig(nil)
		switch {
		case !rc.Enabled || strings.EqualFold(rc.Provider, refine.ProviderNone):
			_, _ = fmt.Fprintln(out, "Refinement: disabled")
		case rc.APIKey == "":
			_, _ = fmt.Fprintf(out, "Refinement: %s enabled but no API key set, scans will not be refined\n", rc.Provider)
		default:
			_, _ = fmt.Fprintf(out, "Refinement: %s\n", rc.Provider)
		}

		if cfg.BidXClient().Configured() {
			_, _ = fmt.Fprintln(out, "BidX upload: configured")
		} else {
			_, _ = fmt.Fprintln(out, "BidX upload: not configured")
		}
		if cfg.History.DatabaseURL != "" {
			_, _ = fmt.Fprintln(out, "Scan history: postgres")
		} else {
			_, _ = fmt.Fprintln(out, "Scan history: off")
		}

		if ocrErr != nil {
			return fmt.Errorf("OCR backend check failed: %w", ocrErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
}

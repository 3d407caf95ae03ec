package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/signscan/internal/batch"
	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/MeKo-Tech/signscan/internal/pdf"
)

// batchCmd represents the batch command.
var batchCmd = &cobra.Command{
	Use:   "batch <files or directories...>",
	Short: "Scan the same legend region across many plan pages",
	Long: `Scan a set of page images and scanned PDFs with one crop and viewport. Plan sets
from one designer usually keep the sign legend in the same place on every sheet.

Directories are searched for supported files; use --recursive to descend.
A file that fails to load or scan is reported and the batch continues.

Examples:
  signscan batch sheets/ --crop 1200,80,900,1400
  signscan batch sheets/ --recursive --include "*.pdf" --page 2 --format csv -o signs.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().BoolP("recursive", "r", false, "search directories recursively")
	batchCmd.Flags().StringSlice("include", nil, "only scan files whose name matches these patterns")
	batchCmd.Flags().StringSlice("exclude", nil, "skip files whose name matches these patterns")
	batchCmd.Flags().IntP("workers", "w", 0, "concurrent scans (default number of CPUs)")
	batchCmd.Flags().String("crop", "", "crop region as x,y,width,height on each rendered page")
	batchCmd.Flags().Int("rotation", 0, "page rotation in degrees (0, 90, 180, 270)")
	batchCmd.Flags().Float64("zoom", 1, "page zoom (0.5 to 3)")
	batchCmd.Flags().Int("page", 1, "page to scan in PDF files")
	batchCmd.Flags().String("password", "", "PDF user password")
	batchCmd.Flags().Bool("no-refine", false, "skip LLM refinement")
	batchCmd.Flags().StringP("format", "f", "", "output format: text, json or csv")
	batchCmd.Flags().StringP("output", "o", "", "write results to file instead of stdout")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg := *GetConfig()
	if err := applyScanFlags(cmd, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	flags := cmd.Flags()

	d := batch.Discovery{}
	d.Recursive, _ = flags.GetBool("recursive")
	d.Include, _ = flags.GetStringSlice("include")
	d.Exclude, _ = flags.GetStringSlice("exclude")
	files, err := d.Discover(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no scannable files found in %v", args)
	}

	opts := batch.Options{Logger: slog.Default()}
	opts.Workers, _ = flags.GetInt("workers")
	opts.Page, _ = flags.GetInt("page")
	password, _ := flags.GetString("password")
	opts.PDF = pdf.Options{UserPassword: password}
	opts.Viewport.Rotation, _ = flags.GetInt("rotation")
	opts.Viewport.Zoom, _ = flags.GetFloat64("zoom")
	if opts.Viewport.Rotation%90 != 0 {
		return fmt.Errorf("invalid rotation: %d (must be a multiple of 90)", opts.Viewport.Rotation)
	}
	if s, _ := flags.GetString("crop"); s != "" {
		r, err := crop.ParseRect(s)
		if err != nil {
			return err
		}
		opts.Crop = &r
	}
	if noRefine, _ := flags.GetBool("no-refine"); noRefine {
		off := false
		opts.Refine = &off
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, _, err := buildPipeline(ctx, &cfg, opts.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Scanning %d file(s)...\n", len(files))
	res, err := batch.Run(ctx, p, files, opts)
	if err != nil {
		return err
	}

	out, err := res.Format(cfg.Output.Format)
	if err != nil {
		return err
	}
	if err := writeOutput(cmd, cfg.Output.File, out); err != nil {
		return err
	}
	if n := res.Failed(); n == len(res.Items) {
		return fmt.Errorf("all %d file(s) failed", n)
	} else if n > 0 {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d of %d file(s) failed\n", n, len(res.Items))
	}
	return nil
}

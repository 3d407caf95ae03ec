package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/signscan/internal/batch"
	"github.com/MeKo-Tech/signscan/internal/config"
	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/MeKo-Tech/signscan/internal/export"
	"github.com/MeKo-Tech/signscan/internal/pdf"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"github.com/MeKo-Tech/signscan/internal/surface"
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan <image|pdf>",
	Short: "Scan the sign legend in a crop of a plan page",
	Long: `Scan a crop of a page image or of one page of a scanned PDF and print the sign
records found in it.

The crop is given as x,y,width,height in pixels of the rendered page, that is
after --rotation and --zoom are applied. Without --crop the whole page is scanned.

Supported formats: PNG, JPEG, GIF, BMP, TIFF and scanned PDF.

Examples:
  signscan scan plan.png
  signscan scan plan.png --crop 120,340,900,420 --format json
  signscan scan plan.pdf --page 3 --rotation 90 --crop 0,0,600,800
  signscan scan plan.png --no-refine --format csv --output signs.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Int("page", 1, "PDF page to scan")
	scanCmd.Flags().String("password", "", "PDF user password")
	scanCmd.Flags().String("crop", "", "crop region as x,y,width,height on the rendered page")
	scanCmd.Flags().Int("rotation", 0, "page rotation in degrees (0, 90, 180, 270)")
	scanCmd.Flags().Float64("zoom", 1, "page zoom (0.5 to 3)")
	scanCmd.Flags().Float64("upscale", 0, "override the preprocessing upscale factor (1 disables upscaling)")
	scanCmd.Flags().Bool("no-refine", false, "skip LLM refinement")
	scanCmd.Flags().StringP("format", "f", "", "output format: text, json or csv")
	scanCmd.Flags().StringP("output", "o", "", "write results to file instead of stdout")
	scanCmd.Flags().Duration("min-latency", 0, "minimum duration of a successful scan")
	scanCmd.Flags().Bool("bidx", false, "upload the records to BidX after scanning")
	scanCmd.Flags().String("project", "", "BidX project name (default is the file name)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := *GetConfig()
	if err := applyScanFlags(cmd, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req, err := scanRequestFromFlags(cmd, args[0])
	if err != nil {
		return err
	}

	logger := slog.Default()
	p, _, err := buildPipeline(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	res, err := p.RunScan(ctx, req, pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr()))
	if err != nil {
		var verr *crop.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("invalid crop: %w", err)
		}
		return fmt.Errorf("scan failed: %w", err)
	}
	if res.OCRStatus.Failed() {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: OCR %s, no text was read\n", res.OCRStatus)
	}

	out, err := pipeline.Format(res, cfg.Output.Format)
	if err != nil {
		return err
	}
	if err := writeOutput(cmd, cfg.Output.File, out); err != nil {
		return err
	}

	if upload, _ := cmd.Flags().GetBool("bidx"); upload {
		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			project = filepath.Base(args[0])
		}
		return uploadRecords(ctx, cmd, &cfg, export.UploadRequest{
			ProjectName: project,
			UploadDate:  time.Now(),
			Signs:       res.Records,
		})
	}
	return nil
}

// applyScanFlags overlays explicitly set flags on cfg.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Output.Format, _ = flags.GetString("format")
	}
	if flags.Changed("output") {
		cfg.Output.File, _ = flags.GetString("output")
	}
	if flags.Changed("upscale") {
		cfg.Preprocess.UpscaleFactor, _ = flags.GetFloat64("upscale")
	}
	if flags.Changed("min-latency") {
		d, _ := flags.GetDuration("min-latency")
		if d < 0 {
			return fmt.Errorf("invalid min latency: %v", d)
		}
		cfg.Pipeline.MinLatencyMS = int(d / time.Millisecond)
	}
	return nil
}

// scanRequestFromFlags loads the page and resolves crop and viewport flags.
func scanRequestFromFlags(cmd *cobra.Command, path string) (pipeline.ScanRequest, error) {
	page, err := loadPage(cmd, path)
	if err != nil {
		return pipeline.ScanRequest{}, err
	}

	flags := cmd.Flags()
	vp := crop.Identity()
	vp.Rotation, _ = flags.GetInt("rotation")
	vp.Zoom, _ = flags.GetFloat64("zoom")
	if vp.Rotation%90 != 0 {
		return pipeline.ScanRequest{}, fmt.Errorf("invalid rotation: %d (must be a multiple of 90)", vp.Rotation)
	}
	vp = vp.Normalize()

	rect := vp.SurfaceBounds(surface.Bounds(page)).Full()
	if s, _ := flags.GetString("crop"); s != "" {
		if rect, err = crop.ParseRect(s); err != nil {
			return pipeline.ScanRequest{}, err
		}
	}

	req := pipeline.ScanRequest{Page: page, Crop: rect, Viewport: &vp, Source: path}
	if noRefine, _ := flags.GetBool("no-refine"); noRefine {
		off := false
		req.Refine = &off
	}
	return req, nil
}

func loadPage(cmd *cobra.Command, path string) (image.Image, error) {
	page, _ := cmd.Flags().GetInt("page")
	password, _ := cmd.Flags().GetString("password")
	return batch.LoadPage(path, page, pdf.Options{UserPassword: password})
}

func writeOutput(cmd *cobra.Command, file, out string) error {
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	if file == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	}
	if err := os.WriteFile(file, []byte(out), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Results written to %s\n", file)
	return nil
}

func uploadRecords(ctx context.Context, cmd *cobra.Command, cfg *config.Config, req export.UploadRequest) error {
	client := cfg.BidXClient()
	if !client.Configured() {
		return fmt.Errorf("%w: set bidx.api_url or BIDX_API_URL", export.ErrBidXNotConfigured)
	}
	res, err := client.Upload(ctx, req)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s (%d sign(s), record %s)\n", res.Message, res.SignsUploaded, res.RecordID)
	return nil
}

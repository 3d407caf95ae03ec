// Package pipeline wires crop validation, preprocessing, OCR, parsing and
// optional refinement into a single scan operation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/MeKo-Tech/signscan/internal/ocr"
	"github.com/MeKo-Tech/signscan/internal/parser"
	"github.com/MeKo-Tech/signscan/internal/preprocess"
	"github.com/MeKo-Tech/signscan/internal/refine"
	"github.com/MeKo-Tech/signscan/internal/surface"
)

// Config holds the configuration for a scan pipeline.
type Config struct {
	Preprocess preprocess.Options
	OCR        ocr.Options
	Schema     parser.Schema
	// Refine is the default for requests that do not choose explicitly.
	Refine bool
	// MinLatency is a floor on successful scan duration. Zero disables it.
	MinLatency time.Duration
}

// DefaultConfig returns a default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Preprocess: preprocess.DefaultOptions(),
		OCR:        ocr.DefaultOptions(),
		Schema:     parser.DefaultSchema(),
	}
}

// Builder provides a fluent API for constructing a Pipeline.
type Builder struct {
	cfg     Config
	factory ocr.Factory
	refiner refine.Refiner
	sinks   []ResultSink
	logger  *slog.Logger
	clock   func() time.Time
}

// NewBuilder creates a builder with default configuration and the exec OCR backend.
func NewBuilder() *Builder {
	return &Builder{
		cfg:     DefaultConfig(),
		factory: func() (ocr.Engine, error) { return ocr.NewExecEngine(), nil },
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithEngineFactory sets how OCR engines are acquired for each scan.
func (b *Builder) WithEngineFactory(f ocr.Factory) *Builder {
	b.factory = f
	return b
}

// WithOCROptions sets the engine options.
func (b *Builder) WithOCROptions(opts ocr.Options) *Builder {
	b.cfg.OCR = opts
	return b
}

// WithRefiner sets the refinement stage.
func (b *Builder) WithRefiner(r refine.Refiner) *Builder {
	b.refiner = r
	return b
}

// WithRefinement sets whether requests refine by default.
func (b *Builder) WithRefinement(enabled bool) *Builder {
	b.cfg.Refine = enabled
	return b
}

// WithSchema sets the parse schema.
func (b *Builder) WithSchema(s parser.Schema) *Builder {
	b.cfg.Schema = s
	return b
}

// WithUpscale sets the preprocessing upscale factor. Values of 1 or less disable upscaling.
func (b *Builder) WithUpscale(factor float64) *Builder {
	b.cfg.Preprocess.UpscaleFactor = factor
	return b
}

// WithThresholds sets the binarization thresholds for upscaled and native crops.
func (b *Builder) WithThresholds(upscaled, native uint8) *Builder {
	b.cfg.Preprocess.UpscaledThreshold = upscaled
	b.cfg.Preprocess.NativeThreshold = native
	return b
}

// WithMinLatency sets the minimum duration of a successful scan.
func (b *Builder) WithMinLatency(d time.Duration) *Builder {
	b.cfg.MinLatency = d
	return b
}

// WithSink adds a destination that receives every completed result.
func (b *Builder) WithSink(s ResultSink) *Builder {
	if s != nil {
		b.sinks = append(b.sinks, s)
	}
	return b
}

// WithLogger sets the logger used by all stages.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides the time source used for scan and record ids.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Config returns the current configuration.
func (b *Builder) Config() Config {
	return b.cfg
}

// Validate checks the builder configuration.
func (b *Builder) Validate() error {
	if b.factory == nil {
		return errors.New("pipeline: OCR engine factory is required")
	}
	if err := b.cfg.Preprocess.Validate(); err != nil {
		return fmt.Errorf("pipeline: preprocess: %w", err)
	}
	if err := b.cfg.OCR.Validate(); err != nil {
		return fmt.Errorf("pipeline: ocr: %w", err)
	}
	if err := b.cfg.Schema.Validate(); err != nil {
		return fmt.Errorf("pipeline: schema: %w", err)
	}
	if b.cfg.MinLatency < 0 {
		return errors.New("pipeline: min latency must not be negative")
	}
	return nil
}

// Build validates the configuration and creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	refiner := b.refiner
	if refiner == nil {
		refiner = refine.Noop{}
	}

	p := &Pipeline{
		cfg:     b.cfg,
		adapter: ocr.NewAdapter(b.factory, b.cfg.OCR, logger),
		parser:  parser.New(b.cfg.Schema, parser.WithClock(clock)),
		refiner: refiner,
		sinks:   append([]ResultSink(nil), b.sinks...),
		logger:  logger,
		clock:   clock,
	}
	logger.Debug("Pipeline built", "info", p.Info())
	return p, nil
}

// Pipeline runs scans. It is safe for concurrent use; use a Session to
// enforce one scan at a time per user.
type Pipeline struct {
	cfg     Config
	adapter *ocr.Adapter
	parser  *parser.Parser
	refiner refine.Refiner
	sinks   []ResultSink
	logger  *slog.Logger
	clock   func() time.Time
	seq     atomic.Uint64
}

// ScanRequest is one user-triggered scan.
type ScanRequest struct {
	// Page is the page image at its reference resolution.
	Page image.Image
	// Crop is the selected region. With a nil Viewport it is in page pixels,
	// otherwise in pixels of the rendered (rotated and zoomed) surface.
	Crop     crop.Rect
	Viewport *crop.Viewport
	// Source names the origin of the page, such as a file name.
	Source string
	// Refine overrides Config.Refine when set.
	Refine *bool
}

// Timings records stage durations of one scan.
type Timings struct {
	Preprocess time.Duration `json:"preprocess"`
	OCR        time.Duration `json:"ocr"`
	Parse      time.Duration `json:"parse"`
	Refine     time.Duration `json:"refine"`
	Total      time.Duration `json:"total"`
}

// ScanResult is the outcome of one scan. Records is never nil.
type ScanResult struct {
	ID          string              `json:"id"`
	Source      string              `json:"source,omitempty"`
	Crop        crop.Rect           `json:"crop"`
	Records     []parser.SignRecord `json:"records"`
	OCRStatus   ocr.Status          `json:"ocr_status,omitempty"`
	Refined     bool                `json:"refined"`
	RefineError string              `json:"refine_error,omitempty"`
	Stats       parser.Stats        `json:"stats"`
	Timings     Timings             `json:"timings"`
	StartedAt   time.Time           `json:"started_at"`
}

// StageError wraps an unexpected failure, such as a panic, in a named stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("scan stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Info returns a summary of the pipeline configuration.
func (p *Pipeline) Info() map[string]interface{} {
	return map[string]interface{}{
		"preprocess": map[string]interface{}{
			"upscale_factor":     p.cfg.Preprocess.UpscaleFactor,
			"threshold_upscaled": p.cfg.Preprocess.UpscaledThreshold,
			"threshold_native":   p.cfg.Preprocess.NativeThreshold,
		},
		"ocr": map[string]interface{}{
			"language": p.cfg.OCR.Language,
			"psm":      int(p.cfg.OCR.PageSegMode),
			"timeout":  p.cfg.OCR.Timeout.String(),
		},
		"schema":      p.cfg.Schema.Name,
		"refine":      p.cfg.Refine,
		"refiner":     fmt.Sprintf("%T", p.refiner),
		"min_latency": p.cfg.MinLatency.String(),
		"sinks":       len(p.sinks),
	}
}

func (p *Pipeline) nextID(now time.Time) string {
	return fmt.Sprintf("scan-%d-%d", now.UnixMilli(), p.seq.Add(1)-1)
}

// RunScan executes one scan. Validation and preprocessing failures return an
// empty result with the error. OCR failures yield an empty record list and
// a nil error with the status recorded in the result. Refinement failures keep
// the unrefined records and are reported through OnWarning.
func (p *Pipeline) RunScan(ctx context.Context, req ScanRequest, cb ProgressCallback) (res *ScanResult, err error) {
	if cb == nil {
		cb = NoOpProgressCallback{}
	}
	began := time.Now()
	start := p.clock()
	res = &ScanResult{
		ID:        p.nextID(start),
		Source:    req.Source,
		Crop:      req.Crop,
		Records:   []parser.SignRecord{},
		StartedAt: start,
	}
	logger := p.logger.With("scan_id", res.ID)
	cb.OnStart(res.ID)

	fail := func(e error) (*ScanResult, error) {
		res.Timings.Total = time.Since(began)
		cb.OnStage(res.ID, StageFailed)
		cb.OnError(res.ID, e)
		return res, e
	}

	stage := "validate"
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Scan panicked", "stage", stage, "panic", r)
			res, err = fail(&StageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	rect, rotation, err := p.resolve(req)
	res.Crop = rect
	if err != nil {
		logger.Info("Scan request rejected", "crop", rect.String(), "error", err)
		return fail(err)
	}

	stage = "preprocess"
	cb.OnStage(res.ID, StageScanning)
	t := time.Now()
	bmp, err := p.prepare(req.Page, rect, rotation)
	res.Timings.Preprocess = time.Since(t)
	if err != nil {
		logger.Error("Preprocessing failed", "crop", rect.String(), "error", err)
		return fail(err)
	}
	logger.Debug("Crop preprocessed",
		"crop", rect.String(), "width", bmp.Width(), "height", bmp.Height(),
		"factor", bmp.Factor, "threshold", bmp.Threshold)

	stage = "ocr"
	t = time.Now()
	text := p.adapter.Recognize(ctx, bmp)
	res.Timings.OCR = time.Since(t)
	res.OCRStatus = text.Status
	if cerr := ctx.Err(); cerr != nil {
		return fail(cerr)
	}

	stage = "parse"
	cb.OnStage(res.ID, StageAnalyzing)
	t = time.Now()
	records, stats := p.parser.ParseWithStats(text.Text)
	res.Timings.Parse = time.Since(t)
	res.Records, res.Stats = records, stats
	logger.Debug("Legend parsed",
		"lines", stats.Lines, "records", stats.Records, "headers", stats.Headers,
		"too_short", stats.TooShort, "incomplete", stats.Incomplete)

	stage = "refine"
	if p.shouldRefine(req) && len(records) > 0 {
		t = time.Now()
		refined, rerr := p.refiner.Refine(ctx, records)
		res.Timings.Refine = time.Since(t)
		if rerr != nil {
			res.RefineError = rerr.Error()
			logger.Warn("Refinement failed, keeping parsed records", "error", rerr)
			cb.OnWarning(res.ID, "AI refinement failed, showing unrefined results")
		} else {
			res.Records = refined
			_, noop := p.refiner.(refine.Noop)
			res.Refined = !noop
		}
	}
	if cerr := ctx.Err(); cerr != nil {
		return fail(cerr)
	}

	stage = "complete"
	if err := p.waitFloor(ctx, began); err != nil {
		return fail(err)
	}
	res.Timings.Total = time.Since(began)

	if cerr := ctx.Err(); cerr != nil {
		return fail(cerr)
	}
	persisted := commitResult(ctx, func() {
		for _, s := range p.sinks {
			if serr := s.Save(ctx, res); serr != nil {
				logger.Warn("Failed to persist scan result", "sink", fmt.Sprintf("%T", s), "error", serr)
			}
		}
	})
	if !persisted {
		return fail(ErrScanSuperseded)
	}

	cb.OnStage(res.ID, StageComplete)
	cb.OnComplete(res.ID, res)
	return res, nil
}

// resolve maps the request crop to page pixels and validates it against the
// page. It also returns the viewport rotation the region must be turned by to
// look the way it did on the surface.
func (p *Pipeline) resolve(req ScanRequest) (crop.Rect, int, error) {
	if req.Page == nil {
		return req.Crop, 0, &crop.ValidationError{Rect: req.Crop, Reason: crop.ErrSurfaceUnavailable}
	}
	page := surface.Bounds(req.Page)
	rect := req.Crop
	rotation := 0
	if req.Viewport != nil {
		vp := req.Viewport.Normalize()
		if err := crop.Validate(rect, vp.SurfaceBounds(page)); err != nil {
			return rect, 0, err
		}
		rect = vp.ToPage(rect, page)
		rotation = vp.Rotation
	}
	return rect, rotation, crop.Validate(rect, page)
}

// prepare cuts rect out of the page at page resolution, turns it upright
// for the viewport and runs the preprocessing chain on it.
func (p *Pipeline) prepare(page image.Image, rect crop.Rect, rotation int) (*preprocess.Bitmap, error) {
	if rotation == 0 {
		return preprocess.Preprocess(page, rect, p.cfg.Preprocess)
	}
	region, err := preprocess.Extract(page, rect)
	if err != nil {
		return nil, err
	}
	upright := surface.Orient(region, rotation)
	return preprocess.Preprocess(upright, surface.Bounds(upright).Full(), p.cfg.Preprocess)
}

func (p *Pipeline) shouldRefine(req ScanRequest) bool {
	if req.Refine != nil {
		return *req.Refine
	}
	return p.cfg.Refine
}

func (p *Pipeline) waitFloor(ctx context.Context, start time.Time) error {
	remaining := p.cfg.MinLatency - time.Since(start)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases pipeline resources. Engines are acquired per scan, so only
// sinks with a Close method hold anything.
func (p *Pipeline) Close() error {
	var errs []error
	for _, s := range p.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

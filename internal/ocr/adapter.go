// Package ocr wraps Tesseract-style text engines behind a per-scan adapter
// that never lets an engine failure escape as anything but an empty result.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/signscan/internal/preprocess"
)

// Status classifies the outcome of one recognition.
type Status string

const (
	StatusOK                Status = "ok"
	StatusEmpty             Status = "empty"
	StatusEngineUnavailable Status = "engine_unavailable"
	StatusEngineFailed      Status = "engine_failed"
)

// Failed reports whether the engine itself failed.
func (s Status) Failed() bool {
	return s == StatusEngineUnavailable || s == StatusEngineFailed
}

// Result is the recognized text of one bitmap.
type Result struct {
	Text   string
	Lines  []string
	Status Status
	// Err is set when Status reports an engine failure.
	Err error
}

// Adapter acquires an engine for every recognition and releases it afterwards.
type Adapter struct {
	factory Factory
	opts    Options
	logger  *slog.Logger
}

// NewAdapter creates an adapter. A nil logger uses slog.Default.
func NewAdapter(factory Factory, opts Options, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{factory: factory, opts: opts, logger: logger}
}

// Options returns the engine options applied on every acquisition.
func (a *Adapter) Options() Options { return a.opts }

// Recognize runs one engine over bmp. Engine failures, including panics,
// are reported through Result.Status with no text.
func (a *Adapter) Recognize(ctx context.Context, bmp *preprocess.Bitmap) (res Result) {
	if a.factory == nil {
		return a.failed(StatusEngineUnavailable, &EngineError{Op: "acquire", Err: errors.New("no engine factory")})
	}
	if bmp == nil || bmp.Gray == nil {
		return a.failed(StatusEngineFailed, &EngineError{Op: "recognize", Err: errors.New("nil bitmap")})
	}

	engine, err := a.acquire()
	if err != nil {
		return a.failed(StatusEngineUnavailable, &EngineError{Op: "acquire", Err: err})
	}
	defer func() {
		if r := recover(); r != nil {
			res = a.failed(StatusEngineFailed, &EngineError{Op: "recognize", Err: fmt.Errorf("panic: %v", r)})
		}
		if cerr := engine.Close(); cerr != nil {
			a.logger.Warn("Failed to release OCR engine", "error", cerr)
		}
	}()

	if err := engine.Configure(a.opts); err != nil {
		return a.failed(StatusEngineUnavailable, &EngineError{Op: "configure", Err: err})
	}

	rctx := ctx
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	text, err := engine.Recognize(rctx, bmp)
	if err != nil {
		return a.failed(StatusEngineFailed, &EngineError{Op: "recognize", Err: err})
	}

	lines := SplitLines(text)
	status := StatusOK
	if len(lines) == 0 {
		status = StatusEmpty
	}
	a.logger.Debug("OCR recognition finished",
		"status", status, "lines", len(lines), "width", bmp.Width(), "height", bmp.Height())
	return Result{Text: text, Lines: lines, Status: status}
}

func (a *Adapter) acquire() (engine Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during engine creation: %v", r)
		}
	}()
	engine, err = a.factory()
	if err == nil && engine == nil {
		err = errors.New("factory returned nil engine")
	}
	return engine, err
}

func (a *Adapter) failed(status Status, err error) Result {
	a.logger.Warn("OCR engine failed, treating crop as empty", "status", status, "error", err)
	return Result{Status: status, Err: err}
}

// SplitLines splits recognized text into trimmed non-empty lines.
func SplitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

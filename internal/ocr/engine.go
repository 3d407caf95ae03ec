package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MeKo-Tech/signscan/internal/preprocess"
)

// PageSegMode mirrors Tesseract's page segmentation modes.
type PageSegMode int

const (
	PSMOSDOnly       PageSegMode = 0
	PSMAutoOSD       PageSegMode = 1
	PSMAutoOnly      PageSegMode = 2
	PSMAuto          PageSegMode = 3
	PSMSingleColumn  PageSegMode = 4
	PSMSingleBlockV  PageSegMode = 5
	PSMSingleBlock   PageSegMode = 6
	PSMSingleLine    PageSegMode = 7
	PSMSingleWord    PageSegMode = 8
	PSMCircleWord    PageSegMode = 9
	PSMSingleChar    PageSegMode = 10
	PSMSparseText    PageSegMode = 11
	PSMSparseTextOSD PageSegMode = 12
	PSMRawLine       PageSegMode = 13
)

// DefaultLanguage is the Tesseract language pack used for legends.
const DefaultLanguage = "eng"

// Backend names accepted by NewFactory.
const (
	BackendExec      = "exec"
	BackendGosseract = "gosseract"
)

var (
	// ErrBackendNotLinked is returned when a backend was not compiled in.
	ErrBackendNotLinked = errors.New("ocr: backend not linked; build with -tags=tesseract")
	// ErrUnknownBackend is returned for unrecognized backend names.
	ErrUnknownBackend = errors.New("ocr: unknown backend")
)

// EngineError wraps a failure reported by an engine.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("ocr engine error in %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Options configures one engine instance.
type Options struct {
	Language    string            `json:"language"`
	PageSegMode PageSegMode       `json:"psm"`
	Variables   map[string]string `json:"variables,omitempty"`
	// DataPath points at a tessdata directory; empty uses the engine default.
	DataPath string `json:"data_path,omitempty"`
	// BinaryPath is the tesseract executable used by the exec backend.
	BinaryPath string        `json:"binary_path,omitempty"`
	Timeout    time.Duration `json:"timeout"`
}

// DefaultOptions reads English in single-column mode. Legend tables are a
// column of rows and Tesseract's automatic mode merges neighbouring cells.
func DefaultOptions() Options {
	return Options{
		Language:    DefaultLanguage,
		PageSegMode: PSMSingleColumn,
		BinaryPath:  "tesseract",
		Timeout:     30 * time.Second,
	}
}

// Validate checks that options name a language and a known segmentation mode.
func (o Options) Validate() error {
	if strings.TrimSpace(o.Language) == "" {
		return errors.New("ocr language must not be empty")
	}
	if o.PageSegMode < PSMOSDOnly || o.PageSegMode > PSMRawLine {
		return fmt.Errorf("invalid page segmentation mode: %d", o.PageSegMode)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("invalid ocr timeout: %s", o.Timeout)
	}
	return nil
}

// Engine is a text recognizer. Implementations need not be safe for
// concurrent use; the adapter acquires one engine per scan.
type Engine interface {
	Configure(opts Options) error
	Recognize(ctx context.Context, bmp *preprocess.Bitmap) (string, error)
	Close() error
}

// Factory creates a fresh engine.
type Factory func() (Engine, error)

// NewFactory returns a factory for the named backend.
func NewFactory(backend string) (Factory, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendExec:
		return func() (Engine, error) { return NewExecEngine(), nil }, nil
	case BackendGosseract:
		return newGosseractEngine, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Available checks that the named backend can be constructed and configured.
// It does not run recognition.
func Available(backend string, opts Options) error {
	factory, err := NewFactory(backend)
	if err != nil {
		return err
	}
	engine, err := factory()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()
	return engine.Configure(opts)
}

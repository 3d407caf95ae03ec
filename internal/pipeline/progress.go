package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Stage names a step of a scan visible to the user.
type Stage string

const (
	StageScanning  Stage = "scanning"
	StageAnalyzing Stage = "analyzing"
	StageComplete  Stage = "complete"
	StageFailed    Stage = "failed"
)

// ProgressCallback receives scan lifecycle notifications. Calls for one scan
// arrive in order from the goroutine running it.
type ProgressCallback interface {
	// OnStart is called once before validation.
	OnStart(scanID string)

	// OnStage is called when a scan enters a new stage.
	OnStage(scanID string, stage Stage)

	// OnWarning reports a recoverable problem, such as refinement failing.
	OnWarning(scanID string, message string)

	// OnComplete is called with the final result of a successful scan.
	OnComplete(scanID string, result *ScanResult)

	// OnError is called when a scan fails.
	OnError(scanID string, err error)
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(string)                {}
func (NoOpProgressCallback) OnStage(string, Stage)         {}
func (NoOpProgressCallback) OnWarning(string, string)      {}
func (NoOpProgressCallback) OnComplete(string, *ScanResult) {}
func (NoOpProgressCallback) OnError(string, error)         {}

// ConsoleProgressCallback prints short status lines, one per stage.
type ConsoleProgressCallback struct {
	writer    io.Writer
	mutex     sync.Mutex
	startTime time.Time
}

// NewConsoleProgressCallback creates a console reporter writing to w (stderr if nil).
func NewConsoleProgressCallback(w io.Writer) *ConsoleProgressCallback {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleProgressCallback{writer: w}
}

func (c *ConsoleProgressCallback) OnStart(string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.startTime = time.Now()
}

func (c *ConsoleProgressCallback) OnStage(_ string, stage Stage) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	switch stage {
	case StageScanning:
		_, _ = fmt.Fprintln(c.writer, "Scanning crop...")
	case StageAnalyzing:
		_, _ = fmt.Fprintln(c.writer, "Analyzing...")
	}
}

func (c *ConsoleProgressCallback) OnWarning(_ string, message string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, _ = fmt.Fprintf(c.writer, "Warning: %s\n", message)
}

func (c *ConsoleProgressCallback) OnComplete(_ string, result *ScanResult) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	elapsed := time.Since(c.startTime).Round(time.Millisecond)
	_, _ = fmt.Fprintf(c.writer, "Analysis complete! %d sign(s) in %v\n", len(result.Records), elapsed)
}

func (c *ConsoleProgressCallback) OnError(_ string, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, _ = fmt.Fprintf(c.writer, "Scan failed: %v\n", err)
}

// LogProgressCallback logs scan progress with slog.
type LogProgressCallback struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogProgressCallback creates a log-based progress reporter.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level}
}

func (l *LogProgressCallback) OnStart(scanID string) {
	l.logger.Log(context.Background(), l.level, "Scan started", "scan_id", scanID)
}

func (l *LogProgressCallback) OnStage(scanID string, stage Stage) {
	l.logger.Log(context.Background(), l.level, "Scan stage", "scan_id", scanID, "stage", stage)
}

func (l *LogProgressCallback) OnWarning(scanID string, message string) {
	l.logger.Warn("Scan warning", "scan_id", scanID, "message", message)
}

func (l *LogProgressCallback) OnComplete(scanID string, result *ScanResult) {
	l.logger.Log(context.Background(), l.level, "Scan completed",
		"scan_id", scanID,
		"records", len(result.Records),
		"ocr_status", result.OCRStatus,
		"refined", result.Refined,
		"elapsed", result.Timings.Total.Round(time.Millisecond),
	)
}

func (l *LogProgressCallback) OnError(scanID string, err error) {
	l.logger.Error("Scan failed", "scan_id", scanID, "error", err)
}

// MultiProgressCallback fans notifications out to several callbacks.
type MultiProgressCallback struct {
	callbacks []ProgressCallback
}

// NewMultiProgressCallback combines callbacks; nil entries are ignored.
func NewMultiProgressCallback(callbacks ...ProgressCallback) *MultiProgressCallback {
	m := &MultiProgressCallback{}
	for _, cb := range callbacks {
		m.Add(cb)
	}
	return m
}

// Add appends another callback.
func (m *MultiProgressCallback) Add(cb ProgressCallback) {
	if cb != nil {
		m.callbacks = append(m.callbacks, cb)
	}
}

func (m *MultiProgressCallback) OnStart(id string) {
	for _, cb := range m.callbacks {
		cb.OnStart(id)
	}
}

func (m *MultiProgressCallback) OnStage(id string, stage Stage) {
	for _, cb := range m.callbacks {
		cb.OnStage(id, stage)
	}
}

func (m *MultiProgressCallback) OnWarning(id string, message string) {
	for _, cb := range m.callbacks {
		cb.OnWarning(id, message)
	}
}

func (m *MultiProgressCallback) OnComplete(id string, result *ScanResult) {
	for _, cb := range m.callbacks {
		cb.OnComplete(id, result)
	}
}

func (m *MultiProgressCallback) OnError(id string, err error) {
	for _, cb := range m.callbacks {
		cb.OnError(id, err)
	}
}

// gatedCallback drops notifications once open reports false, so a
// superseded scan cannot overwrite the progress of its successor.
type gatedCallback struct {
	wrapped ProgressCallback
	open    func() bool
}

func (g gatedCallback) OnStart(id string) {
	if g.open() {
		g.wrapped.OnStart(id)
	}
}

func (g gatedCallback) OnStage(id string, stage Stage) {
	if g.open() {
		g.wrapped.OnStage(id, stage)
	}
}

func (g gatedCallback) OnWarning(id string, message string) {
	if g.open() {
		g.wrapped.OnWarning(id, message)
	}
}

func (g gatedCallback) OnComplete(id string, result *ScanResult) {
	if g.open() {
		g.wrapped.OnComplete(id, result)
	}
}

func (g gatedCallback) OnError(id string, err error) {
	if g.open() {
		g.wrapped.OnError(id, err)
	}
}

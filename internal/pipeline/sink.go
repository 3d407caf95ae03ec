package pipeline

import (
	"context"
	"sync"
)

// ResultSink receives every completed scan. Save errors are logged and never
// fail the scan.
type ResultSink interface {
	Save(ctx context.Context, res *ScanResult) error
}

// SinkFunc adapts a function to ResultSink.
type SinkFunc func(ctx context.Context, res *ScanResult) error

func (f SinkFunc) Save(ctx context.Context, res *ScanResult) error { return f(ctx, res) }

// MemorySink keeps results in memory, newest last.
type MemorySink struct {
	mu      sync.Mutex
	results []*ScanResult
}

func (m *MemorySink) Save(_ context.Context, res *ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return nil
}

// Results returns a copy of the stored results.
func (m *MemorySink) Results() []*ScanResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ScanResult(nil), m.results...)
}

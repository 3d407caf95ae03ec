// Package batch scans the same legend region across many plan pages.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/signscan/internal/crop"
	"github.com/MeKo-Tech/signscan/internal/pdf"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"github.com/MeKo-Tech/signscan/internal/surface"
)

// Scanner runs one scan. *pipeline.Pipeline implements it.
type Scanner interface {
	RunScan(ctx context.Context, req pipeline.ScanRequest, cb pipeline.ProgressCallback) (*pipeline.ScanResult, error)
}

// Options apply to every file of a batch.
type Options struct {
	Workers int
	// Crop is in rendered-page pixels. Nil scans each whole page.
	Crop     *crop.Rect
	Viewport crop.Viewport
	Page     int
	PDF      pdf.Options
	Refine   *bool
	// Progress receives the callbacks of every scan; it must be safe for
	// concurrent use.
	Progress pipeline.ProgressCallback
	Logger   *slog.Logger
}

// Item is the outcome for one file. Exactly one of Result and Err is
// meaningful: a failed load or scan leaves Result nil.
type Item struct {
	File   string
	Result *pipeline.ScanResult
	Err    error
}

// Result holds the items in input order.
type Result struct {
	Items    []Item
	Duration time.Duration
	Workers  int
}

// Failed counts items with an error.
func (r *Result) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// Signs counts records over all successful items.
func (r *Result) Signs() int {
	n := 0
	for _, it := range r.Items {
		if it.Result != nil {
			n += len(it.Result.Records)
		}
	}
	return n
}

// Run scans files with a pool of workers. A failing file does not stop the
// batch; cancelling ctx does, and unstarted files report ctx.Err().
func Run(ctx context.Context, s Scanner, files []string, opts Options) (*Result, error) {
	if s == nil {
		return nil, errors.New("batch: nil scanner")
	}
	if len(files) == 0 {
		return nil, errors.New("no files to scan")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(files) {
		workers = len(files)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()
	items := make([]Item, len(files))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				items[i] = scanFile(ctx, s, files[i], opts)
				if items[i].Err != nil {
					logger.Warn("Batch scan failed", "file", files[i], "error", items[i].Err)
				}
			}
		}()
	}

feed:
	for i := range files {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(files); j++ {
				items[j] = Item{File: files[j], Err: ctx.Err()}
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return &Result{Items: items, Duration: time.Since(start), Workers: workers}, nil
}

func scanFile(ctx context.Context, s Scanner, file string, opts Options) Item {
	if err := ctx.Err(); err != nil {
		return Item{File: file, Err: err}
	}
	page, err := LoadPage(file, opts.Page, opts.PDF)
	if err != nil {
		return Item{File: file, Err: err}
	}
	vp := opts.Viewport.Normalize()
	rect := vp.SurfaceBounds(surface.Bounds(page)).Full()
	if opts.Crop != nil {
		rect = *opts.Crop
	}
	res, err := s.RunScan(ctx, pipeline.ScanRequest{
		Page:     page,
		Crop:     rect,
		Viewport: &vp,
		Source:   file,
		Refine:   opts.Refine,
	}, opts.Progress)
	if err != nil {
		return Item{File: file, Err: err}
	}
	return Item{File: file, Result: res}
}

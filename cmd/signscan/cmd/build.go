package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/signscan/internal/config"
	"github.com/MeKo-Tech/signscan/internal/history"
	"github.com/MeKo-Tech/signscan/internal/ocr"
	"github.com/MeKo-Tech/signscan/internal/pipeline"
	"github.com/MeKo-Tech/signscan/internal/recent"
	"github.com/MeKo-Tech/signscan/internal/refine"
)

// engineFactory resolves the OCR backend. Tests replace it with a scripted engine.
var engineFactory = func(cfg *config.Config) (ocr.Factory, error) {
	return cfg.EngineFactory()
}

// buildPipeline wires a pipeline from cfg: the OCR backend, the refiner and
// the recent-files and history sinks.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, recent.Store, error) {
	factory, err := engineFactory(cfg)
	if err != nil {
		return nil, nil, err
	}
	refiner, err := refine.New(cfg.ToRefineConfig(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up refinement: %w", err)
	}

	b := pipeline.NewBuilder().
		WithConfig(cfg.ToPipelineConfig()).
		WithEngineFactory(factory).
		WithRefiner(refiner).
		WithLogger(logger)

	var store recent.Store
	if cfg.Recent.Enabled && cfg.Recent.Path != "" {
		store = recent.NewFileStore(cfg.Recent.Path)
		b = b.WithSink(&recent.Sink{Store: store, Max: cfg.Recent.MaxEntries})
	}

	if cfg.History.DatabaseURL != "" {
		sink, err := history.Open(ctx, cfg.History.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open scan history %s: %w", history.SafeDSN(cfg.History.DatabaseURL), err)
		}
		if err := sink.Migrate(ctx); err != nil {
			_ = sink.Close()
			return nil, nil, fmt.Errorf("failed to migrate scan history: %w", err)
		}
		b = b.WithSink(sink)
	}

	p, err := b.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return p, store, nil
}

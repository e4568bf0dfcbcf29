// Package harness ties one engine to its transfer pipeline and verifier and
// serializes their use across callers.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"geoduck/pkg/config"
	"geoduck/pkg/engine"
	"geoduck/pkg/geom"
	"geoduck/pkg/metrics"
	"geoduck/pkg/transfer"
	"geoduck/pkg/verify"
)

// Harness runs the pipeline and the verify step one at a time so the artifact
// and the target table are never written concurrently.
type Harness struct {
	mu       sync.Mutex
	engine   *engine.Engine
	pipeline *transfer.Pipeline
	verifier *verify.Verifier
	catalog  string
}

func New(e *engine.Engine, p *transfer.Pipeline, v *verify.Verifier) *Harness {
	return &Harness{
		engine:   e,
		pipeline: p,
		verifier: v,
	}
}

// Open builds a harness from configuration: it opens DuckDB, loads the
// postgres and spatial extensions and attaches the source read-only.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Harness, error) {
	e, err := engine.Open(ctx, cfg.DuckDBPath, logger)
	if err != nil {
		return nil, err
	}

	if err := e.LoadExtensions(ctx, engine.ExtensionPostgres, engine.ExtensionSpatial); err != nil {
		e.Close()
		return nil, err
	}

	if err := e.AttachPostgres(ctx, cfg.CatalogAlias, cfg.PostgresKeywordDSN(), true); err != nil {
		e.Close()
		return nil, err
	}

	p := transfer.NewPipeline(e, transfer.OptionsFromConfig(cfg), logger, m)
	v := verify.NewVerifier(e, cfg.TargetTable, cfg.Format, logger, m)

	h := New(e, p, v)
	h.catalog = cfg.CatalogAlias
	return h, nil
}

// Close detaches the source catalog, if Open attached one, and closes the
// engine.
func (h *Harness) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.catalog != "" {
		if err := h.engine.Detach(context.Background(), h.catalog); err != nil {
			h.engine.Close()
			return fmt.Errorf("failed to close harness: %w", err)
		}
	}
	return h.engine.Close()
}

// Transfer runs the pipeline.
func (h *Harness) Transfer(ctx context.Context) (transfer.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pipeline.Run(ctx)
}

// Verify decodes the materialized table.
func (h *Harness) Verify(ctx context.Context) (*verify.Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifier.Run(ctx)
}

// RunAll transfers and then verifies under one lock.
func (h *Harness) RunAll(ctx context.Context) (transfer.Result, *verify.Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := h.pipeline.Run(ctx)
	if err != nil {
		return res, nil, err
	}
	report, err := h.verifier.Run(ctx)
	if err != nil {
		return res, nil, err
	}
	return res, report, nil
}

// Lock holds the harness lock until the returned func is called. Readers of
// the target table use it to avoid observing a half replaced table.
func (h *Harness) Lock() func() {
	h.mu.Lock()
	return h.mu.Unlock
}

func (h *Harness) Engine() *engine.Engine {
	return h.engine
}

// Table is the materialized table name.
func (h *Harness) Table() string {
	return h.pipeline.Options().Table
}

// Format is the configured geometry format.
func (h *Harness) Format() geom.Format {
	return h.pipeline.Options().Format
}

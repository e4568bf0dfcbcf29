// Package transfer moves geometry rows from the attached PostGIS catalog into
// a local DuckDB table, re-encoding the geometry column on the way.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"geoduck/pkg/artifact"
	"geoduck/pkg/config"
	"geoduck/pkg/engine"
	"geoduck/pkg/geom"
	"geoduck/pkg/metrics"
)

const (
	IDColumn       = "id"
	GeometryColumn = "geom"
)

// Options describes one transfer.
type Options struct {
	// Source is the relation rows are pulled from, usually <catalog>.<table>.
	Source       string
	ArtifactPath string
	Table        string
	Mode         config.TransferMode
	Format       geom.Format
	SRID         int
}

// OptionsFromConfig builds transfer options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Source:       cfg.CatalogAlias + "." + cfg.SourceTable,
		ArtifactPath: cfg.ArtifactPath,
		Table:        cfg.TargetTable,
		Mode:         cfg.Mode,
		Format:       cfg.Format,
		SRID:         cfg.SRID,
	}
}

// Result summarizes a finished run.
type Result struct {
	RunID        string        `json:"run_id"`
	Mode         string        `json:"mode"`
	Format       string        `json:"format"`
	Source       string        `json:"source"`
	Table        string        `json:"table"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	ArtifactRows int64         `json:"artifact_rows"`
	Rows         int64         `json:"rows"`
	Duration     time.Duration `json:"duration_ns"`
}

// Pipeline runs the transfer against one engine. It holds no state between
// runs apart from its handles.
type Pipeline struct {
	engine  *engine.Engine
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPipeline creates a pipeline. logger and m may be nil.
func NewPipeline(e *engine.Engine, opts Options, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = config.ModeCopy
	}
	if opts.Format == "" {
		opts.Format = geom.WKB
	}
	return &Pipeline{
		engine:  e,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// Options returns the options the pipeline was built with.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Run transfers the source into the target table and reports the row count
// of the result.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{
		RunID:  uuid.NewString(),
		Mode:   string(p.opts.Mode),
		Format: p.opts.Format.String(),
		Source: p.opts.Source,
		Table:  p.opts.Table,
	}
	logger := p.logger.With("run_id", res.RunID)
	logger.Info("transfer started", "mode", res.Mode, "format", res.Format, "source", res.Source, "table", res.Table)

	err := p.run(ctx, logger, &res)
	res.Duration = time.Since(start)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailure
	}
	p.metrics.ObserveRun(status, res.Duration.Seconds())

	if err != nil {
		logger.Error("transfer failed", "error", err)
		return res, err
	}

	p.metrics.SetRowsMaterialized(res.Rows)
	logger.Info("transfer finished", "rows", res.Rows, "duration", res.Duration)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, res *Result) error {
	switch p.opts.Mode {
	case config.ModeCopy:
		// 1. Pull the source into the Parquet artifact
		info, err := p.Extract(ctx)
		if err != nil {
			return err
		}
		res.ArtifactPath = info.Path
		res.ArtifactRows = info.Rows
		logger.Info("artifact written", "path", info.Path, "rows", info.Rows, "row_groups", info.RowGroups)

		// 2. Replace the target table from the artifact
		if err := p.Materialize(ctx); err != nil {
			return err
		}
	case config.ModeSelect:
		if err := p.SelectInto(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", config.ErrInvalidMode, p.opts.Mode)
	}

	rows, err := p.engine.Count(ctx, p.opts.Table)
	if err != nil {
		return err
	}
	res.Rows = rows
	return nil
}

// Extract writes the source rows to the artifact path as Parquet, replacing
// any earlier artifact, and checks the written file.
func (p *Pipeline) Extract(ctx context.Context) (artifact.Info, error) {
	query := fmt.Sprintf("COPY (SELECT %s, %s FROM %s) TO '%s' (FORMAT parquet)",
		IDColumn, GeometryColumn, p.opts.Source, literal(p.opts.ArtifactPath))

	if _, err := p.engine.DB().ExecContext(ctx, query); err != nil {
		return artifact.Info{}, fmt.Errorf("failed to export %s to parquet: %w", p.opts.Source, err)
	}

	info, err := artifact.Inspect(p.opts.ArtifactPath, IDColumn, GeometryColumn)
	if err != nil {
		return artifact.Info{}, fmt.Errorf("failed to inspect exported artifact: %w", err)
	}
	return info, nil
}

// Materialize replaces the target table with the artifact content, the
// geometry column encoded in the configured format.
func (p *Pipeline) Materialize(ctx context.Context) error {
	expr, err := p.opts.Format.EncodeExpr(GeometryColumn, p.opts.SRID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT %s, %s AS %s FROM '%s'",
		p.opts.Table, IDColumn, expr, GeometryColumn, literal(p.opts.ArtifactPath))

	if _, err := p.engine.DB().ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to materialize %s: %w", p.opts.Table, err)
	}
	return nil
}

// SelectInto recreates the target table straight from the source relation
// without an artifact.
func (p *Pipeline) SelectInto(ctx context.Context) error {
	expr, err := p.opts.Format.EncodeExpr(GeometryColumn, p.opts.SRID)
	if err != nil {
		return err
	}

	if _, err := p.engine.DB().ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", p.opts.Table)); err != nil {
		return fmt.Errorf("failed to drop %s: %w", p.opts.Table, err)
	}

	query := fmt.Sprintf("CREATE TABLE %s AS SELECT %s, %s AS %s FROM %s",
		p.opts.Table, IDColumn, expr, GeometryColumn, p.opts.Source)

	if _, err := p.engine.DB().ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s from %s: %w", p.opts.Table, p.opts.Source, err)
	}
	return nil
}

func literal(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

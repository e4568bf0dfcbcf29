// Package verify decodes the materialized geometry column and evaluates the
// pairwise predicates on the first two geometries.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"geoduck/pkg/engine"
	"geoduck/pkg/geom"
	"geoduck/pkg/metrics"
)

var ErrInsufficientGeometries = errors.New("insufficient geometries")

// DecodeFailure records a row whose payload could not be decoded.
type DecodeFailure struct {
	ID  int64
	Err error
}

// Verifier reads one table with one format reader.
type Verifier struct {
	engine  *engine.Engine
	table   string
	format  geom.Format
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewVerifier creates a verifier. logger and m may be nil.
func NewVerifier(e *engine.Engine, table string, format geom.Format, logger *slog.Logger, m *metrics.Metrics) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if format == "" {
		format = geom.WKB
	}
	return &Verifier{
		engine:  e,
		table:   table,
		format:  format,
		logger:  logger,
		metrics: m,
	}
}

// Run decodes every row of the table in id order. Undecodable rows are
// recorded and skipped. Only query failures are returned as errors.
func (v *Verifier) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Table:  v.table,
		Format: v.format,
	}

	rows, err := v.engine.DB().QueryContext(ctx, fmt.Sprintf("SELECT id, geom FROM %s ORDER BY id", v.table))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", v.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", v.table, err)
		}
		report.Rows++

		g, err := v.format.Decode(bytes.NewReader(payload))
		if err != nil {
			v.logger.Warn("geometry decode failed", "id", id, "format", v.format.String(), "error", err)
			v.metrics.IncDecodeFailures(v.format.String())
			report.Failures = append(report.Failures, DecodeFailure{ID: id, Err: err})
			continue
		}

		v.metrics.IncDecoded(v.format.String())
		report.Decoded = append(report.Decoded, geom.Decoded{ID: id, Geometry: g})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", v.table, err)
	}

	v.evaluate(ctx, report)

	v.logger.Info("verify finished",
		"table", v.table,
		"rows", report.Rows,
		"decoded", len(report.Decoded),
		"failed", len(report.Failures),
	)
	return report, nil
}

func (v *Verifier) evaluate(ctx context.Context, r *Report) {
	a, b, err := r.Pair()
	if err != nil {
		r.Insufficient = true
		return
	}

	rel, err := v.relate(ctx, a, b)
	if err != nil {
		v.logger.Warn("predicates failed", "a", a.ID, "b", b.ID, "error", err)
		r.PredicateErr = err
		return
	}

	r.Distance = rel.Distance
	r.Crosses = rel.Crosses
	r.Evaluated = true
}

// relate hands the pair back to DuckDB spatial as ISO WKB.
func (v *Verifier) relate(ctx context.Context, a, b geom.Decoded) (engine.Relation, error) {
	var payloads [2][]byte
	for i, d := range []geom.Decoded{a, b} {
		if geom.IsEmpty(d.Geometry) {
			return engine.Relation{}, fmt.Errorf("geometry %d: %w", d.ID, geom.ErrEmptyGeometry)
		}
		p, err := geom.WKB.Marshal(d.Geometry, 0)
		if err != nil {
			return engine.Relation{}, fmt.Errorf("failed to encode geometry %d: %w", d.ID, err)
		}
		payloads[i] = p
	}
	return v.engine.Relate(ctx, payloads[0], payloads[1])
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrUndefinedRelation = errors.New("relation undefined for geometries")

// Relation holds the pairwise measures DuckDB spatial computes for two
// geometries.
type Relation struct {
	Distance float64
	Crosses  bool
}

const relateQuery = `
	WITH pair AS (
		SELECT
			ST_GeomFromWKB(?::BLOB) AS a,
			ST_GeomFromWKB(?::BLOB) AS b
	)
	SELECT ST_Distance(a, b), ST_Crosses(a, b) FROM pair
`

// Relate evaluates ST_Distance and ST_Crosses on two ISO WKB payloads.
// The spatial extension must be loaded.
func (e *Engine) Relate(ctx context.Context, a, b []byte) (Relation, error) {
	var dist sql.NullFloat64
	var crosses sql.NullBool
	if err := e.db.QueryRowContext(ctx, relateQuery, a, b).Scan(&dist, &crosses); err != nil {
		return Relation{}, fmt.Errorf("failed to relate geometries: %w", err)
	}
	if !dist.Valid || !crosses.Valid {
		return Relation{}, ErrUndefinedRelation
	}
	return Relation{Distance: dist.Float64, Crosses: crosses.Bool}, nil
}

// Package source manages the PostgreSQL/PostGIS table the pipeline reads from.
package source

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DefaultTable is the table created by the migrations.
const DefaultTable = "geom_test"

// SamplePolygons are the two seed geometries: a small rectangle and an
// irregular outline far away from it. They neither touch nor cross.
var SamplePolygons = []string{
	`POLYGON((19.65622766921524 54.4686443760213, 19.65622766921524 54.46830195180331, 19.656796427736964 54.46830195180331, 19.656796427736964 54.4686443760213, 19.65622766921524 54.4686443760213))`,
	`POLYGON((50.17541970055876 53.21416021499951, 50.17533053703244 53.2141271619239, 50.17522014409445 53.214205980754855, 50.17493142410382 53.21407631098768, 50.17529232409254 53.21377120410435, 50.17558104408323 53.21389578967748, 50.17550886408509 53.21396952382588, 50.1756065193764 53.21402291744005, 50.17541970055876 53.21416021499951))`,
}

// Store wraps a pgx pool on the source database.
type Store struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// Open connects to the database at url and pings it. table must be a plain
// identifier; it is interpolated into statements.
func Open(ctx context.Context, url, table string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if table == "" {
		table = DefaultTable
	}

	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, table: table, logger: logger}, nil
}

// Table returns the table the store seeds and counts.
func (s *Store) Table() string {
	return s.table
}

// Migrate applies the embedded migrations: the postgis extension and the
// default geometry table. A non-default table is created with the same shape.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	if s.table != DefaultTable {
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id SERIAL PRIMARY KEY, geom GEOMETRY)", s.table)
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", s.table, err)
		}
	}

	s.logger.Info("source migrated", "table", s.table)
	return nil
}

// Seed inserts one row per WKT string with the given SRID in a single
// transaction and returns the number of inserted rows.
func (s *Store) Seed(ctx context.Context, wkts []string, srid int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	query := fmt.Sprintf("INSERT INTO %s (geom) VALUES (ST_GeomFromText($1, $2))", s.table)
	for _, w := range wkts {
		batch.Queue(query, w, srid)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range wkts {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return 0, fmt.Errorf("failed to insert geometry %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("failed to close seed batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit seed transaction: %w", err)
	}

	s.logger.Info("source seeded", "table", s.table, "rows", len(wkts), "srid", srid)
	return len(wkts), nil
}

// Reset removes every row and restarts the id sequence.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY", s.table)); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", s.table, err)
	}
	return nil
}

// Count returns the number of rows in the table.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.table, err)
	}
	return n, nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

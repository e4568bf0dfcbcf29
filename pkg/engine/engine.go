// Package engine wraps the embedded DuckDB instance: extension loading,
// read-only attachment of the PostGIS source and Arrow access to results.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckdb/duckdb-go/v2"
)

const (
	ExtensionPostgres = "postgres"
	ExtensionSpatial  = "spatial"
)

// Engine owns one DuckDB connector and the database/sql handle opened on it.
type Engine struct {
	connector *duckdb.Connector
	db        *sql.DB
	path      string
	logger    *slog.Logger
}

// Open creates a DuckDB database at path. An empty path opens an in-memory
// database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create duckdb connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		connector.Close()
		return nil, fmt.Errorf("failed to open duckdb %q: %w", path, err)
	}

	logger.Debug("duckdb opened", "path", displayPath(path))

	return &Engine{
		connector: connector,
		db:        db,
		path:      path,
		logger:    logger,
	}, nil
}

// DB returns the database/sql handle.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Path returns the database file, empty for in-memory databases.
func (e *Engine) Path() string {
	return e.path
}

// LoadExtensions installs and loads each extension.
func (e *Engine) LoadExtensions(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := e.db.ExecContext(ctx, fmt.Sprintf("INSTALL %[1]s; LOAD %[1]s;", name)); err != nil {
			return fmt.Errorf("failed to load %s extension: %w", name, err)
		}
		e.logger.Debug("duckdb extension loaded", "extension", name)
	}
	return nil
}

// AttachPostgres registers a PostgreSQL database as catalog alias.
// The dsn uses the libpq keyword/value form.
func (e *Engine) AttachPostgres(ctx context.Context, alias, dsn string, readOnly bool) error {
	opts := "TYPE postgres"
	if readOnly {
		opts += ", READ_ONLY"
	}

	query := fmt.Sprintf("ATTACH IF NOT EXISTS '%s' AS %s (%s)", escapeLiteral(dsn), alias, opts)
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to attach postgres as %s: %w", alias, err)
	}

	e.logger.Info("postgres attached", "alias", alias, "read_only", readOnly)
	return nil
}

// Detach removes an attached catalog if it is present.
func (e *Engine) Detach(ctx context.Context, alias string) error {
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("DETACH DATABASE IF EXISTS %s", alias)); err != nil {
		return fmt.Errorf("failed to detach %s: %w", alias, err)
	}
	return nil
}

// Count returns the number of rows of a table or a parenthesized query.
func (e *Engine) Count(ctx context.Context, relation string) (int64, error) {
	var n int64
	if err := e.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", relation)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", relation, err)
	}
	return n, nil
}

// TableExists reports whether a table is present in the local database.
func (e *Engine) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := e.db.QueryRowContext(ctx,
		"SELECT count(*) FROM duckdb_tables() WHERE table_name = ? AND database_name = current_database()",
		table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	return n > 0, nil
}

// Arrow opens a dedicated connection with an Arrow interface. The returned
// release func closes that connection.
func (e *Engine) Arrow(ctx context.Context) (*duckdb.Arrow, func(), error) {
	conn, err := e.connector.Connect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get db connection: %w", err)
	}

	ar, err := duckdb.NewArrowFromConn(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create arrow from duckdb: %w", err)
	}

	return ar, func() { conn.Close() }, nil
}

// Close releases the sql handle and the connector.
func (e *Engine) Close() error {
	dbErr := e.db.Close()
	connErr := e.connector.Close()
	if dbErr != nil {
		return fmt.Errorf("failed to close duckdb: %w", dbErr)
	}
	if connErr != nil {
		return fmt.Errorf("failed to close duckdb connector: %w", connErr)
	}
	return nil
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func displayPath(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}

// Package enginetest provides DuckDB fixtures shared by package tests.
package enginetest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"geoduck/pkg/engine"
)

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenPlain returns an engine on path (empty for in-memory) without any
// extension loaded.
func OpenPlain(t *testing.T, path string) *engine.Engine {
	t.Helper()

	e, err := engine.Open(context.Background(), path, Logger())
	if err != nil {
		t.Fatalf("Failed to open duckdb: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// Open returns an engine on path with the spatial extension loaded.
func Open(t *testing.T, path string) *engine.Engine {
	t.Helper()
	e := OpenPlain(t, path)
	LoadSpatial(t, e)
	return e
}

// LoadSpatial loads the spatial extension into e. The test is skipped when
// the extension cannot be installed, e.g. without network access.
func LoadSpatial(t *testing.T, e *engine.Engine) {
	t.Helper()
	if err := e.LoadExtensions(context.Background(), engine.ExtensionSpatial); err != nil {
		t.Skipf("spatial extension unavailable: %v", err)
	}
}

// Exec runs statements and fails the test on the first error.
func Exec(t *testing.T, e *engine.Engine, statements ...string) {
	t.Helper()
	for _, s := range statements {
		if _, err := e.DB().ExecContext(context.Background(), s); err != nil {
			t.Fatalf("Failed to exec %q: %v", s, err)
		}
	}
}

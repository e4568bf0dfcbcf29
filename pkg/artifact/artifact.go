// Package artifact reads and writes the Parquet files that sit between
// extraction and materialization.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

var ErrMissingColumn = errors.New("artifact is missing a required column")

// Info describes a Parquet artifact on disk.
type Info struct {
	Path      string
	Rows      int64
	RowGroups int
	Schema    *arrow.Schema
}

// Columns lists the column names in schema order.
func (i Info) Columns() []string {
	if i.Schema == nil {
		return nil
	}
	out := make([]string, 0, i.Schema.NumFields())
	for _, f := range i.Schema.Fields() {
		out = append(out, f.Name)
	}
	return out
}

// Inspect opens the Parquet file at path and reports its row count and Arrow
// schema. Every name in required must be a column of the file.
func Inspect(path string, required ...string) (Info, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{
		BatchSize: 10000,
	}, memory.NewGoAllocator())
	if err != nil {
		return Info{}, fmt.Errorf("failed to create arrow reader for %s: %w", path, err)
	}

	schema, err := reader.Schema()
	if err != nil {
		return Info{}, fmt.Errorf("failed to read arrow schema of %s: %w", path, err)
	}

	for _, col := range required {
		if len(schema.FieldIndices(col)) == 0 {
			return Info{}, fmt.Errorf("%w: %s in %s", ErrMissingColumn, col, path)
		}
	}

	return Info{
		Path:      path,
		Rows:      pf.NumRows(),
		RowGroups: pf.NumRowGroups(),
		Schema:    schema,
	}, nil
}

// Write stores the record batches as a Snappy compressed Parquet file at
// path, replacing any existing file.
func Write(path string, schema *arrow.Schema, recs []arrow.RecordBatch) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	writer, err := pqarrow.NewFileWriter(
		schema,
		f,
		parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.DefaultWriterProps(),
	)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	for _, rec := range recs {
		if err := writer.WriteBuffered(rec); err != nil {
			writer.Close()
			return fmt.Errorf("failed to write record batch: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

package verify

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"geoduck/pkg/geom"
)

// Report is the outcome of one verify run.
type Report struct {
	Table  string
	Format geom.Format
	Rows   int

	Decoded  []geom.Decoded
	Failures []DecodeFailure

	// Insufficient is set when fewer than two rows decoded.
	Insufficient bool
	// Evaluated is set when Distance and Crosses hold results.
	Evaluated    bool
	Distance     float64
	Crosses      bool
	PredicateErr error
}

// Pair returns the first two decoded geometries.
func (r *Report) Pair() (geom.Decoded, geom.Decoded, error) {
	if len(r.Decoded) < 2 {
		return geom.Decoded{}, geom.Decoded{}, fmt.Errorf("%w: %d decoded", ErrInsufficientGeometries, len(r.Decoded))
	}
	return r.Decoded[0], r.Decoded[1], nil
}

// Print writes the human readable report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Rows read from %s: %d\n", r.Table, r.Rows)
	for _, d := range r.Decoded {
		fmt.Fprintf(w, "Geometry %d: type=%s area=%g\n", d.ID, d.Type(), d.Area())
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "Geometry %d: %s decode failed: %v\n", f.ID, r.Format, f.Err)
	}
	fmt.Fprintf(w, "Decoded %d of %d with %s reader\n", len(r.Decoded), r.Rows, r.Format)

	switch {
	case r.Insufficient:
		fmt.Fprintln(w, "insufficient geometries")
	case r.PredicateErr != nil:
		fmt.Fprintf(w, "Predicates failed: %v\n", r.PredicateErr)
	case r.Evaluated:
		a, b, _ := r.Pair()
		fmt.Fprintf(w, "Distance between %d and %d: %g\n", a.ID, b.ID, r.Distance)
		fmt.Fprintf(w, "Crosses: %t\n", r.Crosses)
	}
}

// RecordSchema is the schema of Record: one row per source row, decoded or not.
var RecordSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "type", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "area", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "error", Type: arrow.BinaryTypes.String, Nullable: true},
	},
	nil,
)

// Record returns the per-row outcome as an Arrow record batch. The caller
// must release it.
func (r *Report) Record() arrow.RecordBatch {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), RecordSchema)
	defer b.Release()

	ids := b.Field(0).(*array.Int64Builder)
	types := b.Field(1).(*array.StringBuilder)
	areas := b.Field(2).(*array.Float64Builder)
	errs := b.Field(3).(*array.StringBuilder)

	for _, d := range r.Decoded {
		ids.Append(d.ID)
		types.Append(d.Type())
		areas.Append(d.Area())
		errs.AppendNull()
	}
	for _, f := range r.Failures {
		ids.Append(f.ID)
		types.AppendNull()
		areas.AppendNull()
		errs.Append(f.Err.Error())
	}

	return b.NewRecordBatch()
}

type geometryJSON struct {
	ID   int64   `json:"id"`
	Type string  `json:"type"`
	Area float64 `json:"area"`
}

type failureJSON struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

type reportJSON struct {
	Table        string         `json:"table"`
	Format       string         `json:"format"`
	Rows         int            `json:"rows"`
	Decoded      []geometryJSON `json:"decoded"`
	Failures     []failureJSON  `json:"failures"`
	Insufficient bool           `json:"insufficient"`
	Distance     *float64       `json:"distance,omitempty"`
	Crosses      *bool          `json:"crosses,omitempty"`
	PredicateErr string         `json:"predicate_error,omitempty"`
}

func (r *Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		Table:        r.Table,
		Format:       r.Format.String(),
		Rows:         r.Rows,
		Decoded:      make([]geometryJSON, 0, len(r.Decoded)),
		Failures:     make([]failureJSON, 0, len(r.Failures)),
		Insufficient: r.Insufficient,
	}
	for _, d := range r.Decoded {
		out.Decoded = append(out.Decoded, geometryJSON{ID: d.ID, Type: d.Type(), Area: d.Area()})
	}
	for _, f := range r.Failures {
		out.Failures = append(out.Failures, failureJSON{ID: f.ID, Error: f.Err.Error()})
	}
	if r.Evaluated {
		out.Distance = &r.Distance
		out.Crosses = &r.Crosses
	}
	if r.PredicateErr != nil {
		out.PredicateErr = r.PredicateErr.Error()
	}
	return json.Marshal(out)
}

package geom

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Records are Arrow record batches holding (id, geometry payload) rows.
type Records struct {
	records        []arrow.RecordBatch
	IDColumn       string
	GeometryColumn string
}

// RecordSchema is the Arrow schema of a geometry record batch.
var RecordSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "geom", Type: arrow.BinaryTypes.Binary, Nullable: true},
	},
	nil,
)

// NewRecords wraps record batches that carry "id" and "geom" columns.
func NewRecords(recs []arrow.RecordBatch) Records {
	return Records{
		records:        recs,
		IDColumn:       "id",
		GeometryColumn: "geom",
	}
}

// NewRecordBatch builds a single record batch from ids and payloads.
func NewRecordBatch(ids []int64, payloads [][]byte) (arrow.RecordBatch, error) {
	if len(ids) != len(payloads) {
		return nil, fmt.Errorf("ids and payloads length mismatch: %d != %d", len(ids), len(payloads))
	}

	pool := memory.NewGoAllocator()

	idBuilder := array.NewInt64Builder(pool)
	geomBuilder := array.NewBinaryBuilder(pool, arrow.BinaryTypes.Binary)
	defer idBuilder.Release()
	defer geomBuilder.Release()

	idBuilder.AppendValues(ids, nil)
	for _, p := range payloads {
		if p == nil {
			geomBuilder.AppendNull()
			continue
		}
		geomBuilder.Append(p)
	}

	idArr := idBuilder.NewArray()
	geomArr := geomBuilder.NewArray()
	defer idArr.Release()
	defer geomArr.Release()

	return array.NewRecordBatch(RecordSchema, []arrow.Array{idArr, geomArr}, int64(len(ids))), nil
}

// GetRecords returns the wrapped record batches.
func (r *Records) GetRecords() []arrow.RecordBatch {
	return r.records
}

// Release releases every wrapped record batch.
func (r *Records) Release() {
	for i := range len(r.records) {
		r.records[i].Release()
	}
}

type binaryColumn interface {
	Value(i int) []byte
	IsNull(i int) bool
}

// Each calls fn for every row in order. Null payloads are passed as nil.
func (r *Records) Each(fn func(id int64, payload []byte) error) error {
	for _, rec := range r.records {
		schema := rec.Schema()

		idIdx := schema.FieldIndices(r.IDColumn)
		geomIdx := schema.FieldIndices(r.GeometryColumn)
		if len(idIdx) == 0 || len(geomIdx) == 0 {
			return fmt.Errorf("record batch is missing %s or %s column", r.IDColumn, r.GeometryColumn)
		}

		geomCol, ok := rec.Column(geomIdx[0]).(binaryColumn)
		if !ok {
			return fmt.Errorf("column %s is %s, expected binary", r.GeometryColumn, rec.Column(geomIdx[0]).DataType())
		}

		idCol := rec.Column(idIdx[0])
		for i := range int(rec.NumRows()) {
			id, err := intValue(idCol, i)
			if err != nil {
				return err
			}

			var payload []byte
			if !geomCol.IsNull(i) {
				payload = geomCol.Value(i)
			}

			if err := fn(id, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

func intValue(col arrow.Array, i int) (int64, error) {
	switch c := col.(type) {
	case *array.Int64:
		return c.Value(i), nil
	case *array.Int32:
		return int64(c.Value(i)), nil
	case *array.Int16:
		return int64(c.Value(i)), nil
	case *array.Uint64:
		return int64(c.Value(i)), nil
	case *array.Uint32:
		return int64(c.Value(i)), nil
	default:
		return 0, fmt.Errorf("unsupported id column type %s", col.DataType())
	}
}

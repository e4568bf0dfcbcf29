package geom

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecords(t *testing.T) {
	t.Run(
		"iterate geometry records", func(t *testing.T) {
			g := mustWKT(t, rectangleWKT)
			payload, err := WKB.Marshal(g, 0)
			require.NoError(t, err)

			rec, err := NewRecordBatch([]int64{1, 2}, [][]byte{payload, nil})
			require.NoError(t, err)

			r := NewRecords([]arrow.RecordBatch{rec})
			defer r.Release()

			var ids []int64
			var sizes []int
			err = r.Each(func(id int64, p []byte) error {
				ids = append(ids, id)
				sizes = append(sizes, len(p))
				return nil
			})
			require.NoError(t, err)

			assert.Equal(t, []int64{1, 2}, ids)
			assert.Equal(t, []int{len(payload), 0}, sizes)
		},
	)

	t.Run(
		"int32 ids", func(t *testing.T) {
			pool := memory.NewGoAllocator()

			schema := arrow.NewSchema(
				[]arrow.Field{
					{Name: "id", Type: arrow.PrimitiveTypes.Int32},
					{Name: "geom", Type: arrow.BinaryTypes.Binary},
				},
				nil,
			)

			idBuilder := array.NewInt32Builder(pool)
			geomBuilder := array.NewBinaryBuilder(pool, arrow.BinaryTypes.Binary)
			defer idBuilder.Release()
			defer geomBuilder.Release()

			idBuilder.AppendValues([]int32{7}, nil)
			geomBuilder.Append([]byte{0x01})

			idArr := idBuilder.NewArray()
			geomArr := geomBuilder.NewArray()
			defer idArr.Release()
			defer geomArr.Release()

			rec := array.NewRecordBatch(schema, []arrow.Array{idArr, geomArr}, 1)
			r := NewRecords([]arrow.RecordBatch{rec})
			defer r.Release()

			var got int64
			require.NoError(t, r.Each(func(id int64, _ []byte) error {
				got = id
				return nil
			}))
			assert.Equal(t, int64(7), got)
		},
	)

	t.Run(
		"missing column", func(t *testing.T) {
			rec, err := NewRecordBatch([]int64{1}, [][]byte{{0x01}})
			require.NoError(t, err)

			r := NewRecords([]arrow.RecordBatch{rec})
			r.GeometryColumn = "shape"
			defer r.Release()

			assert.Error(t, r.Each(func(int64, []byte) error { return nil }))
		},
	)

	t.Run(
		"length mismatch", func(t *testing.T) {
			_, err := NewRecordBatch([]int64{1, 2}, [][]byte{{0x01}})
			assert.Error(t, err)
		},
	)
}

package flight

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/wkt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"geoduck/pkg/config"
	"geoduck/pkg/engine"
	"geoduck/pkg/engine/enginetest"
	"geoduck/pkg/geom"
	"geoduck/pkg/harness"
	"geoduck/pkg/source"
	"geoduck/pkg/transfer"
	"geoduck/pkg/verify"
)

func newHarness(t *testing.T, e *engine.Engine, format geom.Format) *harness.Harness {
	t.Helper()
	p := transfer.NewPipeline(e, transfer.Options{
		Source:       "src",
		ArtifactPath: filepath.Join(t.TempDir(), "data.parquet"),
		Table:        "duckdb_geom",
		Mode:         config.ModeCopy,
		Format:       format,
		SRID:         4326,
	}, enginetest.Logger(), nil)
	return harness.New(e, p, verify.NewVerifier(e, "duckdb_geom", format, enginetest.Logger(), nil))
}

// startServer serves h on a random local port and returns a connected client.
func startServer(t *testing.T, h *harness.Harness) flight.Client {
	t.Helper()

	server := NewFlightServer(h, enginetest.Logger(), grpc.Creds(insecure.NewCredentials()))
	require.NoError(t, server.Init("127.0.0.1:0"))
	go server.Serve()
	t.Cleanup(server.Shutdown)

	client, err := flight.NewClientWithMiddleware(server.Addr().String(), nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func inputBatch(t *testing.T, format geom.Format) arrow.RecordBatch {
	t.Helper()
	var payloads [][]byte
	for _, s := range source.SamplePolygons {
		g, err := wkt.Unmarshal(s)
		require.NoError(t, err)
		p, err := format.Marshal(g, 4326)
		require.NoError(t, err)
		payloads = append(payloads, p)
	}
	payloads = append(payloads, []byte{0xde, 0xad})

	rec, err := geom.NewRecordBatch([]int64{1, 2, 3}, payloads)
	require.NoError(t, err)
	return rec
}

func exchange(t *testing.T, client flight.Client, metadata string, rec arrow.RecordBatch) ([]arrow.RecordBatch, error) {
	t.Helper()
	ctx := context.Background()

	stream, err := client.DoExchange(ctx)
	require.NoError(t, err)

	require.NoError(t, stream.Send(&flight.FlightData{AppMetadata: []byte(metadata)}))

	if rec != nil {
		writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
		require.NoError(t, writer.Write(rec))
		require.NoError(t, writer.Close())
	}
	require.NoError(t, stream.CloseSend())

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	var results []arrow.RecordBatch
	for reader.Next() {
		res := reader.RecordBatch()
		res.Retain()
		results = append(results, res)
	}
	return results, reader.Err()
}

func TestDoExchangeDecode(t *testing.T) {
	e, err := engine.Open(context.Background(), "", enginetest.Logger())
	require.NoError(t, err)
	defer e.Close()

	client := startServer(t, newHarness(t, e, geom.WKB))

	cases := []struct {
		name     string
		metadata string
		payload  geom.Format
	}{
		{"server format", "decode", geom.WKB},
		{"json action", `{"operation": "decode", "format": "ewkb"}`, geom.EWKB},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := inputBatch(t, tc.payload)
			defer rec.Release()

			results, err := exchange(t, client, tc.metadata, rec)
			require.NoError(t, err)
			require.Len(t, results, 1)
			defer results[0].Release()

			out := results[0]
			assert.True(t, out.Schema().Equal(verify.RecordSchema))
			require.Equal(t, int64(3), out.NumRows())

			ids := out.Column(0).(*array.Int64)
			types := out.Column(1).(*array.String)
			areas := out.Column(2).(*array.Float64)
			errs := out.Column(3).(*array.String)

			for i := range 2 {
				assert.Equal(t, int64(i+1), ids.Value(i))
				assert.Equal(t, "Polygon", types.Value(i))
				assert.Greater(t, areas.Value(i), 0.0)
				assert.True(t, errs.IsNull(i))
			}
			assert.True(t, types.IsNull(2))
			assert.False(t, errs.IsNull(2))
		})
	}

	t.Run("mismatched format fails every row", func(t *testing.T) {
		rec := inputBatch(t, geom.WKB)
		defer rec.Release()

		results, err := exchange(t, client, `{"operation": "decode", "format": "ewkb"}`, rec)
		require.NoError(t, err)
		require.Len(t, results, 1)
		defer results[0].Release()

		errs := results[0].Column(3).(*array.String)
		for i := range int(results[0].NumRows()) {
			assert.False(t, errs.IsNull(i))
		}
	})

	t.Run("unsupported operation", func(t *testing.T) {
		_, err := exchange(t, client, "calculate_m_value", nil)
		require.Error(t, err)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := exchange(t, client, `{"operation": "decode", "format": "twkb"}`, nil)
		require.Error(t, err)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}

func TestDoGet(t *testing.T) {
	e := enginetest.Open(t, "")
	enginetest.Exec(t, e, "CREATE TABLE src (id INTEGER, geom GEOMETRY)")
	for i, w := range source.SamplePolygons {
		enginetest.Exec(t, e, fmt.Sprintf("INSERT INTO src VALUES (%d, ST_GeomFromText('%s'))", i+1, w))
	}

	h := newHarness(t, e, geom.WKB)
	_, err := h.Transfer(context.Background())
	require.NoError(t, err)

	client := startServer(t, h)
	ctx := context.Background()

	t.Run("streams table", func(t *testing.T) {
		stream, err := client.DoGet(ctx, &flight.Ticket{Ticket: []byte("duckdb_geom")})
		require.NoError(t, err)

		reader, err := flight.NewRecordReader(stream)
		require.NoError(t, err)
		defer reader.Release()

		var rows int64
		for reader.Next() {
			rec := reader.RecordBatch()
			rows += rec.NumRows()

			recs := geom.NewRecords([]arrow.RecordBatch{rec})
			require.NoError(t, recs.Each(func(id int64, payload []byte) error {
				g, err := geom.WKB.Unmarshal(payload)
				require.NoError(t, err)
				assert.Equal(t, "Polygon", geom.TypeName(g))
				return nil
			}))
		}
		require.NoError(t, reader.Err())
		assert.Equal(t, int64(2), rows)
	})

	t.Run("unknown table", func(t *testing.T) {
		stream, err := client.DoGet(ctx, &flight.Ticket{Ticket: []byte("missing")})
		require.NoError(t, err)
		_, err = stream.Recv()
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("invalid ticket", func(t *testing.T) {
		stream, err := client.DoGet(ctx, &flight.Ticket{Ticket: []byte("duckdb_geom; DROP TABLE src")})
		require.NoError(t, err)
		_, err = stream.Recv()
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}

package flight

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"geoduck/pkg/config"
	"geoduck/pkg/geom"
	"geoduck/pkg/harness"
	"geoduck/pkg/verify"
)

const OperationDecode = "decode"

type GeoduckFlightServer struct {
	flight.BaseFlightServer
	h      *harness.Harness
	logger *slog.Logger
}

func NewGeoduckFlightServer(h *harness.Harness, logger *slog.Logger) *GeoduckFlightServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeoduckFlightServer{
		h:      h,
		logger: logger,
	}
}

// DoGet streams a local DuckDB table. The ticket is the table name.
func (s *GeoduckFlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	ctx := stream.Context()
	table := string(tkt.GetTicket())
	if !config.IsIdentifier(table) {
		return status.Errorf(codes.InvalidArgument, "invalid table name %q", table)
	}

	unlock := s.h.Lock()
	defer unlock()

	exists, err := s.h.Engine().TableExists(ctx, table)
	if err != nil {
		return status.Errorf(codes.Internal, "%v", err)
	}
	if !exists {
		return status.Errorf(codes.NotFound, "table %s does not exist", table)
	}

	ar, release, err := s.h.Engine().Arrow(ctx)
	if err != nil {
		return status.Errorf(codes.Internal, "%v", err)
	}
	defer release()

	reader, err := ar.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY id", table))
	if err != nil {
		return status.Errorf(codes.Internal, "failed to query %s: %v", table, err)
	}
	defer reader.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(reader.Schema()))
	defer writer.Close()

	var rows int64
	for reader.Next() {
		rec := reader.RecordBatch()
		if err := writer.Write(rec); err != nil {
			return err
		}
		rows += rec.NumRows()
	}
	if err := reader.Err(); err != nil {
		return err
	}

	s.logger.Info("flight table streamed", "table", table, "rows", rows)
	return nil
}

// exchangeAction is the JSON form of the first DoExchange message.
type exchangeAction struct {
	Operation string `json:"operation"`
	Format    string `json:"format"`
}

func parseAction(desc *flight.FlightData) exchangeAction {
	var raw []byte
	if len(desc.AppMetadata) > 0 {
		raw = desc.AppMetadata
	} else if desc.FlightDescriptor != nil && len(desc.FlightDescriptor.Cmd) > 0 {
		raw = desc.FlightDescriptor.Cmd
	}

	var action exchangeAction
	if err := json.Unmarshal(raw, &action); err == nil && action.Operation != "" {
		return action
	}
	// Fallback: treat the metadata as a raw string (the operation name)
	return exchangeAction{Operation: string(raw)}
}

func (s *GeoduckFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	desc, err := stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	action := parseAction(desc)
	switch action.Operation {
	case OperationDecode:
		format := s.h.Format()
		if action.Format != "" {
			if format, err = geom.ParseFormat(action.Format); err != nil {
				return status.Errorf(codes.InvalidArgument, "%v", err)
			}
		}
		return s.handleDecode(stream, format)
	default:
		return status.Errorf(codes.InvalidArgument, "unsupported operation: %q", action.Operation)
	}
}

// handleDecode decodes every (id, geom) row it receives and streams back one
// (id, type, area, error) row per input row, batch for batch.
func (s *GeoduckFlightServer) handleDecode(stream flight.FlightService_DoExchangeServer, format geom.Format) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(verify.RecordSchema))
	defer writer.Close()

	var decoded, failed int
	for reader.Next() {
		out, ok, bad, err := decodeBatch(reader.RecordBatch(), format)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "%v", err)
		}
		decoded += ok
		failed += bad

		err = writer.Write(out)
		out.Release()
		if err != nil {
			return err
		}
	}
	if err := reader.Err(); err != nil {
		return err
	}

	s.logger.Info("flight decode finished", "format", format.String(), "decoded", decoded, "failed", failed)
	return nil
}

func decodeBatch(rec arrow.RecordBatch, format geom.Format) (arrow.RecordBatch, int, int, error) {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), verify.RecordSchema)
	defer b.Release()

	ids := b.Field(0).(*array.Int64Builder)
	types := b.Field(1).(*array.StringBuilder)
	areas := b.Field(2).(*array.Float64Builder)
	errs := b.Field(3).(*array.StringBuilder)

	var ok, bad int
	in := geom.NewRecords([]arrow.RecordBatch{rec})
	err := in.Each(func(id int64, payload []byte) error {
		ids.Append(id)

		g, err := format.Unmarshal(payload)
		if err != nil {
			types.AppendNull()
			areas.AppendNull()
			errs.Append(err.Error())
			bad++
			return nil
		}

		types.Append(geom.TypeName(g))
		areas.Append(geom.Area(g))
		errs.AppendNull()
		ok++
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}

	return b.NewRecordBatch(), ok, bad, nil
}

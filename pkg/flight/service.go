package flight

import (
	"fmt"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"

	"geoduck/pkg/harness"
)

func NewFlightServer(h *harness.Harness, logger *slog.Logger, opts ...grpc.ServerOption) flight.Server {
	server := flight.NewServerWithMiddleware(nil, opts...)
	server.RegisterFlightService(NewGeoduckFlightServer(h, logger))
	return server
}

// StartFlightServer listens on port and serves until the server is shut down.
func StartFlightServer(server flight.Server, port int, logger *slog.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	if err := server.Init(addr); err != nil {
		return err
	}
	logger.Info("starting flight server", "addr", server.Addr().String())
	return server.Serve()
}

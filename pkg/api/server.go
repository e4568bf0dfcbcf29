package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIServer represents the REST API server
type APIServer struct {
	svc      Service
	port     int
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	server   *http.Server
}

// NewAPIServer creates a new API server instance. A nil gatherer disables
// the /metrics route.
func NewAPIServer(svc Service, port int, gatherer prometheus.Gatherer, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &APIServer{
		svc:      svc,
		port:     port,
		gatherer: gatherer,
		logger:   logger,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route tree.
func (s *APIServer) Router() http.Handler {
	handler := NewAPIHandler(s.svc, s.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", handler.HealthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/transfer", handler.TransferHandler)
		r.Get("/report", handler.ReportHandler)
		r.Get("/geometries", handler.GeometriesHandler)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// Start starts the REST API server. It blocks until the server stops and
// returns nil after a clean shutdown, including one requested before Start.
func (s *APIServer) Start() error {
	s.logger.Info("starting REST API server", "port", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the REST API server
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"geoduck/pkg/api"
	"geoduck/pkg/flight"
	"geoduck/pkg/harness"
	"geoduck/pkg/metrics"
)

func newServeCmd(s *state) *cobra.Command {
	var runOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and the Arrow Flight endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.load(cmd); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			m := metrics.NewMetrics()
			if err := m.Register(reg); err != nil {
				return err
			}

			h, err := harness.Open(ctx, s.cfg, s.logger, m)
			if err != nil {
				return err
			}
			defer h.Close()

			if runOnStart {
				if _, err := h.Transfer(ctx); err != nil {
					return err
				}
			}

			apiServer := api.NewAPIServer(h, s.cfg.HTTPPort, reg, s.logger)
			flightServer := flight.NewFlightServer(h, s.logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(apiServer.Start)
			g.Go(func() error {
				return flight.StartFlightServer(flightServer, s.cfg.FlightPort, s.logger)
			})
			g.Go(func() error {
				<-gctx.Done()
				s.logger.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				flightServer.Shutdown()
				return apiServer.Stop(shutdownCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&runOnStart, "transfer", false, "run the transfer once before serving")

	return cmd
}

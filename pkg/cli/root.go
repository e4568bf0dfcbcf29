// Package cli implements the geoduck command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"geoduck/pkg/config"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// state is shared by all subcommands. Configuration is loaded lazily so that
// commands like version work without any environment.
type state struct {
	configPath string
	envFile    string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func (s *state) load(cmd *cobra.Command) error {
	if s.cfg != nil {
		return nil
	}

	if s.envFile != "" {
		config.LoadDotEnv(s.envFile)
	} else {
		config.LoadDotEnv()
	}

	cfg, errs := config.Load(s.configPath)
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	if s.logLevel != "" {
		cfg.LogLevel = s.logLevel
	}

	s.cfg = cfg
	s.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	return nil
}

func newRootCmd() *cobra.Command {
	s := &state{}

	rootCmd := &cobra.Command{
		Use:           "geoduck",
		Short:         "PostGIS to DuckDB geometry round-trip harness",
		Long:          "Moves PostGIS geometries into DuckDB through a Parquet artifact and decodes the re-encoded column.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&s.configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&s.envFile, "env-file", "", "dotenv file to load (default .env)")
	rootCmd.PersistentFlags().StringVar(&s.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(
		newSeedCmd(s),
		newRunCmd(s),
		newInspectCmd(s),
		newServeCmd(s),
		newVersionCmd(),
	)

	return rootCmd
}

package cli

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cobra"

	"geoduck/pkg/artifact"
	"geoduck/pkg/config"
	"geoduck/pkg/geom"
	"geoduck/pkg/harness"
	"geoduck/pkg/verify"
)

func newRunCmd(s *state) *cobra.Command {
	var (
		format        string
		mode          string
		reportParquet string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Transfer the source table into DuckDB and decode it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.load(cmd); err != nil {
				return err
			}

			if cmd.Flags().Changed("format") {
				f, err := geom.ParseFormat(format)
				if err != nil {
					return err
				}
				s.cfg.Format = f
			}
			if cmd.Flags().Changed("mode") {
				s.cfg.Mode = config.TransferMode(mode)
				if errs := s.cfg.Validate(); len(errs) > 0 {
					return errors.Join(errs...)
				}
			}

			ctx := cmd.Context()
			h, err := harness.Open(ctx, s.cfg, s.logger, nil)
			if err != nil {
				return err
			}
			defer h.Close()

			res, report, err := h.RunAll(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s: %s mode, %s format\n", res.RunID, res.Mode, res.Format)
			if res.ArtifactPath != "" {
				fmt.Fprintf(out, "Artifact %s: %d rows\n", res.ArtifactPath, res.ArtifactRows)
			}
			fmt.Fprintf(out, "Rows in %s: %d\n", res.Table, res.Rows)
			report.Print(out)

			if reportParquet != "" {
				if err := writeReport(reportParquet, report); err != nil {
					return err
				}
				fmt.Fprintf(out, "Report written to %s\n", reportParquet)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "geometry format (wkb, ewkb)")
	cmd.Flags().StringVar(&mode, "mode", "", "transfer mode (copy, select)")
	cmd.Flags().StringVar(&reportParquet, "report-parquet", "", "write the per-row decode report to this Parquet file")

	return cmd
}

func writeReport(path string, report *verify.Report) error {
	rec := report.Record()
	defer rec.Release()
	return artifact.Write(path, verify.RecordSchema, []arrow.RecordBatch{rec})
}

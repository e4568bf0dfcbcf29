package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"geoduck/pkg/artifact"
	"geoduck/pkg/transfer"
)

func newInspectCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [path]",
		Short: "Show row count and schema of a Parquet artifact",
		Long:  "Inspects the artifact at path, or at the configured ARTIFACT_PATH when no path is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				if err := s.load(cmd); err != nil {
					return err
				}
				path = s.cfg.ArtifactPath
			}

			info, err := artifact.Inspect(path, transfer.IDColumn, transfer.GeometryColumn)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Path: %s\n", info.Path)
			fmt.Fprintf(out, "Rows: %d\n", info.Rows)
			fmt.Fprintf(out, "Row groups: %d\n", info.RowGroups)
			fmt.Fprintln(out, "Columns:")
			for _, f := range info.Schema.Fields() {
				fmt.Fprintf(out, "  %s %s\n", f.Name, f.Type)
			}
			return nil
		},
	}
}

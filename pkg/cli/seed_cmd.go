package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"geoduck/pkg/source"
)

func newSeedCmd(s *state) *cobra.Command {
	var (
		reset bool
		wkts  []string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the PostGIS source table and insert geometries",
		Long:  "Applies the source migrations and inserts the given WKT geometries, or the two sample polygons when none are given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.load(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := source.Open(ctx, s.cfg.PostgresURL(), s.cfg.SourceTable, s.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return err
			}

			if reset {
				if err := store.Reset(ctx); err != nil {
					return err
				}
			}

			if len(wkts) == 0 {
				wkts = source.SamplePolygons
			}
			n, err := store.Seed(ctx, wkts, s.cfg.SRID)
			if err != nil {
				return err
			}

			total, err := store.Count(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d geometries into %s (%d rows total)\n", n, store.Table(), total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "truncate the table before seeding")
	cmd.Flags().StringArrayVar(&wkts, "wkt", nil, "WKT geometry to insert (repeatable)")

	return cmd
}

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/banshee-data/encounters.report/internal/db"
	"github.com/banshee-data/encounters.report/internal/monitoring"
	"github.com/banshee-data/encounters.report/internal/positions"
)

// importBatch is the number of fixes written per transaction.
const importBatch = 5000

func (a *app) newImportCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import AIS position files (CSV or JSON lines, optionally gzip or zstd compressed)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openDB()
			if err != nil {
				return err
			}
			defer store.Close()

			opts := positions.Options{Strict: strict}
			for _, path := range args {
				st, inserted, err := importFile(cmd.Context(), store, path, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows, %d skipped, %d new\n", path, st.Rows, st.Skipped, inserted)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on the first malformed row instead of skipping it")
	return cmd
}

// importFile streams one file into the positions table in batches.
func importFile(ctx context.Context, store *db.DB, path string, opts positions.Options) (positions.Stats, int64, error) {
	rc, format, err := positions.Open(path)
	if err != nil {
		return positions.Stats{}, 0, err
	}
	defer rc.Close()

	source := filepath.Base(path)
	batch := make([]positions.Record, 0, importBatch)
	var inserted int64
	flush := func() error {
		n, err := store.InsertPositions(ctx, source, batch)
		if err != nil {
			return err
		}
		inserted += n
		batch = batch[:0]
		return nil
	}

	st, err := positions.Decode(ctx, rc, format, opts, func(rec positions.Record) error {
		batch = append(batch, rec)
		if len(batch) == importBatch {
			return flush()
		}
		return nil
	})
	if err != nil {
		return st, inserted, fmt.Errorf("import %s: %w", path, err)
	}
	if err := flush(); err != nil {
		return st, inserted, fmt.Errorf("import %s: %w", path, err)
	}
	monitoring.Logger().Info("imported positions",
		"path", path, "format", format, "rows", st.Rows, "skipped", st.Skipped, "inserted", inserted)
	return st, inserted, nil
}

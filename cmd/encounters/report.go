package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/encounters.report/internal/api"
	"github.com/banshee-data/encounters.report/internal/db"
	"github.com/banshee-data/encounters.report/internal/report"
)

// findRun resolves a run id, where "" and "latest" mean the newest run.
func findRun(ctx context.Context, store *db.DB, id string) (*db.Run, error) {
	if id == "" || id == "latest" {
		return store.LatestRun(ctx)
	}
	return store.GetRun(ctx, id)
}

func (a *app) newReportCmd() *cobra.Command {
	var runID, out, assetsHost string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write an HTML chart report of a run's encounters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openDB()
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := findRun(ctx, store, runID)
			if err != nil {
				return err
			}
			es, err := store.Encounters(ctx, db.EncounterFilter{RunID: run.ID})
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			err = report.Render(f, db.Plain(es), report.Options{
				Title:      fmt.Sprintf("Encounters, run %s", run.ID),
				AssetsHost: assetsHost,
			})
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d encounters)\n", out, len(es))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "latest", "run id")
	cmd.Flags().StringVarP(&out, "out", "o", "encounters-report.html", "output file")
	cmd.Flags().StringVar(&assetsHost, "assets-host", report.DefaultAssetsHost, "where the page loads its chart scripts from")
	return cmd
}

func (a *app) newPlotCmd() *cobra.Command {
	var runID, key, dir string
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Write a PNG plot per encounter from stored annotated positions",
		Long: `Write one PNG per encounter showing both tracks and their separation.

The run must have been made with --save-annotated. Select a single
encounter with --key or every encounter of a run with --run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openDB()
			if err != nil {
				return err
			}
			defer store.Close()

			f := db.EncounterFilter{Key: key}
			if key == "" {
				run, err := findRun(ctx, store, runID)
				if err != nil {
					return err
				}
				f.RunID = run.ID
			}
			es, err := store.Encounters(ctx, f)
			if err != nil {
				return err
			}
			if len(es) == 0 {
				return fmt.Errorf("no encounters to plot")
			}

			for _, e := range es {
				from, to := e.StartTime.Add(-api.PlotPadding), e.EndTime.Add(api.PlotPadding)
				t1, err := store.AnnotatedTrack(ctx, e.RunID, e.Vessel1, from, to)
				if err != nil {
					return err
				}
				t2, err := store.AnnotatedTrack(ctx, e.RunID, e.Vessel2, from, to)
				if err != nil {
					return err
				}
				path, err := report.PlotEncounter(dir, e.Encounter, t1, t2)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "latest", "run id")
	cmd.Flags().StringVar(&key, "key", "", "plot only the encounter with this key")
	cmd.Flags().StringVar(&dir, "dir", "plots", "output directory")
	return cmd
}

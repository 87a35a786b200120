package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/encounters.report/internal/db"
	"github.com/banshee-data/encounters.report/internal/monitoring"
	"github.com/banshee-data/encounters.report/internal/pipeline"
	"github.com/banshee-data/encounters.report/internal/positions"
	"github.com/banshee-data/encounters.report/internal/publish"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

func (a *app) newRunCmd() *cobra.Command {
	var (
		input, startStr, endStr string
		noStore, asJSON, strict bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Detect encounters in a position file or in stored positions",
		Long: `Detect encounters and store them, replacing earlier encounters of the
same model version over the run's time range.

With --input the positions are read from a file. Otherwise the stored
positions between --start and --end (RFC3339, default: everything stored)
are used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			tuning, err := a.tuning()
			if err != nil {
				return err
			}
			start, err := parseTimeFlag("start", startStr)
			if err != nil {
				return err
			}
			end, err := parseTimeFlag("end", endStr)
			if err != nil {
				return err
			}

			runner := &pipeline.Runner{
				Tuning:        tuning,
				ModelVersion:  a.v.GetString("model-version"),
				SaveAnnotated: a.v.GetBool("save-annotated"),
			}

			if noStore && input == "" {
				return errNoStoreNeedsInput
			}
			var store *db.DB
			if !noStore {
				store, err = a.openDB()
				if err != nil {
					return err
				}
				defer store.Close()
				runner.Store = store
			}

			if url := a.v.GetString("nats-url"); url != "" {
				p, err := publish.Connect(publish.Options{URL: url, Subject: a.v.GetString("nats-subject")})
				if err != nil {
					return err
				}
				defer func() {
					if err := p.Close(); err != nil {
						monitoring.Logger().Warn("failed to drain NATS connection", "err", err)
					}
				}()
				runner.Publisher = p
			}

			in := pipeline.Input{RangeStart: start, RangeEnd: end}
			if input != "" {
				tracks, st, err := positions.ReadFile(ctx, input, positions.Options{Strict: strict})
				if err != nil {
					return err
				}
				monitoring.Logger().Info("read positions", "path", input, "rows", st.Rows, "skipped", st.Skipped)
				in.Tracks, in.Source = clipTracks(tracks, start, end), input
			} else {
				if start == nil || end == nil {
					lo, hi, ok, err := store.PositionRange(ctx)
					if err != nil {
						return err
					}
					if !ok {
						return pipeline.ErrNoPositions
					}
					if start == nil {
						start = &lo
					}
					if end == nil {
						end = &hi
					}
					in.RangeStart, in.RangeEnd = start, end
				}
				in.Tracks, err = store.PositionsInRange(ctx, *start, *end)
				if err != nil {
					return err
				}
				in.Source = "db:" + store.Path()
			}

			res, err := runner.Run(ctx, in)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, asJSON)
		},
	}

	f := cmd.Flags()
	f.StringVar(&input, "input", "", "position file to run over instead of the database")
	f.StringVar(&startStr, "start", "", "range start (RFC3339)")
	f.StringVar(&endStr, "end", "", "range end (RFC3339)")
	f.BoolVar(&noStore, "no-store", false, "do not record the run or its encounters (requires --input)")
	f.BoolVar(&asJSON, "json", false, "print the result as JSON")
	f.BoolVar(&strict, "strict", false, "fail on the first malformed input row")
	f.Bool("save-annotated", false, "also store every annotated position for plotting")
	f.String("nats-url", "", "publish encounters to this NATS server")
	f.String("nats-subject", publish.DefaultSubject, "NATS subject for published encounters")
	for _, name := range []string{"save-annotated", "nats-url", "nats-subject"} {
		if err := a.v.BindPFlag(name, f.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func parseTimeFlag(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	t = t.UTC()
	return &t, nil
}

// clipTracks drops samples outside [start, end]. Nil bounds are open.
func clipTracks(tracks vessel.Tracks, start, end *time.Time) vessel.Tracks {
	if start == nil && end == nil {
		return tracks
	}
	out := make(vessel.Tracks, len(tracks))
	for v, samples := range tracks {
		var kept []vessel.PositionSample
		for _, s := range samples {
			if start != nil && s.Timestamp.Before(*start) {
				continue
			}
			if end != nil && s.Timestamp.After(*end) {
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) > 0 {
			out[v] = kept
		}
	}
	return out
}

func printResult(w io.Writer, res pipeline.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if res.RunID != "" {
		fmt.Fprintf(w, "run %s\n", res.RunID)
	}
	fmt.Fprintf(w, "%d vessels, %d positions, %d shards, %d encounters\n",
		res.Vessels, res.Adjacency.Positions, res.Adjacency.Shards, len(res.Encounters))
	for _, e := range res.Encounters {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%.5f,%.5f\t%.0fm\n",
			e.Vessel1.MMSI, e.Vessel2.MMSI,
			e.StartTime.Format(time.RFC3339), e.Duration(),
			e.MeanLocation.Lat, e.MeanLocation.Lon, float64(e.MedianDistance))
	}
	return nil
}

var errNoStoreNeedsInput = errors.New("--no-store requires --input")

package encounters

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/encounters.report/internal/vessel"
)

// Detect segments every vessel's series concurrently and returns all
// encounters ordered by start time, then vessel pair. Each vessel is handled
// sequentially by exactly one goroutine.
func Detect(ctx context.Context, tracks vessel.AnnotatedTracks, s Segmenter, workers int) ([]vessel.Encounter, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	vessels := tracks.Vessels()
	found := make([][]vessel.Encounter, len(vessels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, v := range vessels {
		series := tracks[v]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found[i] = s.Segment(v, series)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []vessel.Encounter
	for _, es := range found {
		out = append(out, es...)
	}
	vessel.SortEncounters(out)
	return out, nil
}

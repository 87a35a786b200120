package adjacency

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// Params configures an adjacency pass.
type Params struct {
	// MaxDistance bounds candidate neighbours and sizes the shard covering.
	MaxDistance units.Length
	// MaxNeighbors is the number of neighbours kept per position (K).
	MaxNeighbors int
	// GridLevel is the S2 cell level used as shard granularity.
	GridLevel int
	// Workers bounds concurrent shard solves. Zero means GOMAXPROCS.
	Workers int
}

// Stats summarises the work done by one adjacency pass.
type Stats struct {
	Positions    int
	Shards       int
	LargestShard int
	ShardMembers int
}

// Annotate runs sharding, per-shard solving and merging over all tracks.
// Shards are solved concurrently; the merge is the single point where their
// results meet. The context only cancels scheduling of further shards.
func Annotate(ctx context.Context, tracks vessel.Tracks, p Params) (vessel.AnnotatedTracks, Stats, error) {
	sharder := NewSharder(p.MaxDistance, p.GridLevel)
	shards := sharder.Partition(tracks)
	keys := SortedKeys(shards)

	stats := Stats{Positions: tracks.Len(), Shards: len(keys)}
	for _, k := range keys {
		n := len(shards[k])
		stats.ShardMembers += n
		if n > stats.LargestShard {
			stats.LargestShard = n
		}
	}

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// One slot per shard; each goroutine owns its slot exclusively.
	solved := make([][]ShardResult, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, k := range keys {
		members := shards[k]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			solved[i] = SolveShard(members, p.MaxDistance, p.MaxNeighbors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	flat := make([]ShardResult, 0, stats.ShardMembers)
	for _, rs := range solved {
		flat = append(flat, rs...)
	}
	return Merge(flat, p.MaxNeighbors), stats, nil
}

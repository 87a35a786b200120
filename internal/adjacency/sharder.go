package adjacency

import (
	"cmp"
	"slices"
	"time"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// DefaultGridLevel gives cells of roughly 1km a side, small enough that a
// shard holds at most a few thousand concurrent vessels in busy waters.
const DefaultGridLevel = 13

// ShardKey partitions positions for the pairwise step.
type ShardKey struct {
	UnixNanos int64
	Cell      geo.CellID
}

// Time returns the shard timestamp in UTC.
func (k ShardKey) Time() time.Time {
	return time.Unix(0, k.UnixNanos).UTC()
}

func compareShardKeys(a, b ShardKey) int {
	if c := cmp.Compare(a.UnixNanos, b.UnixNanos); c != 0 {
		return c
	}
	return cmp.Compare(a.Cell, b.Cell)
}

// VesselPosition is one vessel's sample, the unit routed into shards.
type VesselPosition struct {
	Vessel vessel.Metadata
	Sample vessel.PositionSample
}

// Sharder maps samples to the shards whose cells intersect the search disc
// around them.
type Sharder struct {
	Radius units.Length
	Level  int
}

// NewSharder creates a sharder for the given search radius and cell level.
func NewSharder(radius units.Length, level int) Sharder {
	return Sharder{Radius: radius, Level: level}
}

// Keys returns the shard keys for one sample: one per covering cell.
func (s Sharder) Keys(sample vessel.PositionSample) []ShardKey {
	cells := geo.CoveringCells(sample.Location, s.Radius, s.Level)
	ts := sample.Timestamp.UnixNano()

	keys := make([]ShardKey, len(cells))
	for i, c := range cells {
		keys[i] = ShardKey{UnixNanos: ts, Cell: c}
	}
	return keys
}

// Partition routes every sample of every vessel into its shards. Members of
// each shard are ordered by MMSI.
func (s Sharder) Partition(tracks vessel.Tracks) map[ShardKey][]VesselPosition {
	shards := make(map[ShardKey][]VesselPosition)
	for _, v := range tracks.Vessels() {
		for _, sample := range tracks[v] {
			vp := VesselPosition{Vessel: v, Sample: sample}
			for _, k := range s.Keys(sample) {
				shards[k] = append(shards[k], vp)
			}
		}
	}
	return shards
}

// SortedKeys returns the keys of a partition ordered by time, then cell.
func SortedKeys(shards map[ShardKey][]VesselPosition) []ShardKey {
	keys := make([]ShardKey, 0, len(shards))
	for k := range shards {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareShardKeys)
	return keys
}

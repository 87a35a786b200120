package adjacency

import (
	"slices"

	"github.com/banshee-data/encounters.report/internal/vessel"
)

type positionKey struct {
	vessel    vessel.Metadata
	unixNanos int64
}

type mergeSlot struct {
	sample     vessel.PositionSample
	candidates []vessel.Neighbor
}

// Merge combines the shard results contributed for each (vessel, timestamp)
// into a single annotated position, then regroups positions per vessel in
// ascending time order.
//
// Self matches are dropped, identical (vessel, distance) candidates from
// overlapping shards collapse to one, and the remainder is ranked by
// distance and cut to maxNeighbors.
func Merge(results []ShardResult, maxNeighbors int) vessel.AnnotatedTracks {
	slots := make(map[positionKey]*mergeSlot)
	for _, r := range results {
		k := positionKey{vessel: r.Vessel, unixNanos: r.Sample.Timestamp.UnixNano()}
		slot, ok := slots[k]
		if !ok {
			slot = &mergeSlot{sample: r.Sample}
			slots[k] = slot
		}
		slot.candidates = append(slot.candidates, r.Candidates...)
	}

	out := make(vessel.AnnotatedTracks)
	for k, slot := range slots {
		out[k.vessel] = append(out[k.vessel], annotate(k.vessel, slot, maxNeighbors))
	}
	for v, series := range out {
		slices.SortFunc(series, func(a, b vessel.AnnotatedPosition) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
		out[v] = series
	}
	return out
}

// MergeCandidates reduces the flattened candidates of one position owned by
// self to its final ranked neighbour list.
func MergeCandidates(self vessel.Metadata, candidates []vessel.Neighbor, maxNeighbors int) []vessel.Neighbor {
	others := make([]vessel.Neighbor, 0, len(candidates))
	for _, c := range candidates {
		if c.Vessel != self {
			others = append(others, c)
		}
	}

	vessel.SortNeighbors(others)
	others = slices.Compact(others)

	if len(others) > maxNeighbors {
		others = others[:maxNeighbors]
	}
	return others
}

func annotate(self vessel.Metadata, slot *mergeSlot, maxNeighbors int) vessel.AnnotatedPosition {
	neighbors := MergeCandidates(self, slot.candidates, maxNeighbors)

	ap := vessel.AnnotatedPosition{
		PositionSample: slot.sample,
		NeighborCount:  len(neighbors),
	}
	if len(neighbors) > 0 {
		closest := neighbors[0]
		ap.ClosestNeighbor = &closest
	}
	return ap
}

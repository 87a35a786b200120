package adjacency

import (
	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// ShardResult is the ranked candidate list of one member of a shard.
// Candidates may contain the member itself at distance zero.
type ShardResult struct {
	VesselPosition
	Candidates []vessel.Neighbor
}

// SolveShard compares every pair of members of one shard, self pairs
// included, and keeps for each member the maxNeighbors+1 nearest candidates
// within maxDistance. The extra slot holds the self match, which keeps a
// member with no real neighbours in the candidate stream.
func SolveShard(members []VesselPosition, maxDistance units.Length, maxNeighbors int) []ShardResult {
	if len(members) == 0 {
		return nil
	}

	cands := make([][]vessel.Neighbor, len(members))
	for i := range members {
		cands[i] = append(cands[i], vessel.Neighbor{Vessel: members[i].Vessel, Distance: 0})
		for j := i + 1; j < len(members); j++ {
			d := geo.Distance(members[i].Sample.Location, members[j].Sample.Location)
			if d > maxDistance {
				continue
			}
			cands[i] = append(cands[i], vessel.Neighbor{Vessel: members[j].Vessel, Distance: d})
			cands[j] = append(cands[j], vessel.Neighbor{Vessel: members[i].Vessel, Distance: d})
		}
	}

	keep := maxNeighbors + 1
	results := make([]ShardResult, len(members))
	for i, m := range members {
		c := cands[i]
		vessel.SortNeighbors(c)
		if len(c) > keep {
			c = c[:keep:keep]
		}
		results[i] = ShardResult{VesselPosition: m, Candidates: c}
	}
	return results
}

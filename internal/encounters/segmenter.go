// Package encounters turns a vessel's annotated position series into
// discrete encounter events.
package encounters

import (
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// Segmenter runs the encounter state machine over one vessel at a time.
type Segmenter struct {
	// MinDistanceToShore must be exceeded for a position to qualify.
	MinDistanceToShore units.Length
	// MaxEncounterRadius must exceed the closest neighbour's distance.
	MaxEncounterRadius units.Length
	// MinDuration must be exceeded for a run to be emitted.
	MinDuration time.Duration
}

// IsEncounterPoint reports whether the position is far enough offshore and
// has a closest neighbour inside the encounter radius.
func (s Segmenter) IsEncounterPoint(p vessel.AnnotatedPosition) bool {
	return p.DistanceToShore > s.MinDistanceToShore &&
		p.ClosestNeighbor != nil &&
		p.ClosestNeighbor.Distance < s.MaxEncounterRadius
}

// run accumulates consecutive encounter points paired with one neighbour.
type run struct {
	with   vessel.Metadata
	points []vessel.AnnotatedPosition
}

func (r *run) open() bool { return len(r.points) > 0 }

func (r *run) reset() {
	r.points = r.points[:0]
}

// Segment emits the encounters of one vessel. The series must be in strictly
// increasing time order. Runs whose duration does not exceed MinDuration are
// dropped.
func (s Segmenter) Segment(owner vessel.Metadata, series []vessel.AnnotatedPosition) []vessel.Encounter {
	var (
		out []vessel.Encounter
		cur run
	)

	closeRun := func() {
		if cur.open() {
			if e, ok := s.emit(owner, &cur); ok {
				out = append(out, e)
			}
		}
		cur.reset()
	}

	for _, p := range series {
		if !s.IsEncounterPoint(p) {
			closeRun()
			continue
		}
		neighbor := p.ClosestNeighbor.Vessel
		if cur.open() && cur.with != neighbor {
			closeRun()
		}
		cur.with = neighbor
		cur.points = append(cur.points, p)
	}
	closeRun()

	return out
}

func (s Segmenter) emit(owner vessel.Metadata, r *run) (vessel.Encounter, bool) {
	first, last := r.points[0], r.points[len(r.points)-1]
	if last.Timestamp.Sub(first.Timestamp) <= s.MinDuration {
		return vessel.Encounter{}, false
	}

	locs := make([]geo.Location, len(r.points))
	dists := make([]float64, len(r.points))
	for i, p := range r.points {
		locs[i] = p.Location
		dists[i] = float64(p.ClosestNeighbor.Distance)
	}
	slices.Sort(dists)

	return vessel.Encounter{
		Vessel1:        owner,
		Vessel2:        r.with,
		StartTime:      first.Timestamp,
		EndTime:        last.Timestamp,
		MeanLocation:   geo.MeanLocation(locs),
		PointCount:     len(r.points),
		MedianDistance: units.Length(stat.Quantile(0.5, stat.Empirical, dists, nil)),
	}, true
}

// Package vessel holds the records that flow through encounter detection:
// position samples in, annotated positions and encounters out.
//
// Records are values. Nothing in this package is mutated once handed to the
// next stage.
package vessel

import (
	"fmt"
	"time"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/units"
)

// Metadata is a stable vessel identity.
type Metadata struct {
	MMSI int64 `json:"mmsi"`
}

func (m Metadata) String() string {
	return fmt.Sprintf("mmsi:%d", m.MMSI)
}

// PositionSample is one fix of a vessel at a fixed-cadence timestamp.
type PositionSample struct {
	Timestamp       time.Time    `json:"timestamp"`
	Location        geo.Location `json:"location"`
	DistanceToShore units.Length `json:"distance_to_shore_m"`
}

// Neighbor is a candidate vessel and its distance from the owning vessel.
type Neighbor struct {
	Vessel   Metadata     `json:"vessel"`
	Distance units.Length `json:"distance_m"`
}

// AnnotatedPosition is a position sample with its adjacency summary.
// ClosestNeighbor is nil when no other vessel was within the search radius.
type AnnotatedPosition struct {
	PositionSample
	NeighborCount   int       `json:"neighbor_count"`
	ClosestNeighbor *Neighbor `json:"closest_neighbor,omitempty"`
}

// Encounter is a sustained period during which Vessel1's closest neighbour
// was Vessel2, away from shore.
type Encounter struct {
	Vessel1        Metadata     `json:"vessel1"`
	Vessel2        Metadata     `json:"vessel2"`
	StartTime      time.Time    `json:"start_time"`
	EndTime        time.Time    `json:"end_time"`
	MeanLocation   geo.Location `json:"mean_location"`
	PointCount     int          `json:"point_count"`
	MedianDistance units.Length `json:"median_distance_m"`
}

// Duration returns EndTime - StartTime.
func (e Encounter) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// Tracks maps each vessel to its time-ordered samples.
type Tracks map[Metadata][]PositionSample

// AnnotatedTracks maps each vessel to its time-ordered annotated positions.
type AnnotatedTracks map[Metadata][]AnnotatedPosition

// Vessels returns the vessels of t in ascending MMSI order.
func (t Tracks) Vessels() []Metadata {
	return sortedKeys(t)
}

// Vessels returns the vessels of t in ascending MMSI order.
func (t AnnotatedTracks) Vessels() []Metadata {
	return sortedKeys(t)
}

// Len returns the total number of samples across all vessels.
func (t Tracks) Len() int {
	n := 0
	for _, s := range t {
		n += len(s)
	}
	return n
}

func sortedKeys[V any](m map[Metadata]V) []Metadata {
	out := make([]Metadata, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	SortMetadata(out)
	return out
}

// Package geo provides the spherical geometry used by adjacency and encounter
// detection: great-circle distance, spherical mean and S2 cell coverings.
//
// A cell id at a fixed level is a shard key, and a covering lists every cell
// a search disc touches.
package geo

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/banshee-data/encounters.report/internal/units"
)

// EarthRadius is the mean Earth radius (IUGG).
const EarthRadius = 6371.0088 * units.Kilometer

// MaxLevel is the finest S2 subdivision level.
const MaxLevel = s2.MaxLevel

// Location is a point on the Earth's surface in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CellID identifies a grid cell at a fixed level.
type CellID uint64

// Token returns the compact S2 token of the cell, suitable for logs and keys.
func (c CellID) Token() string {
	return s2.CellID(c).ToToken()
}

// Level returns the subdivision level of the cell.
func (c CellID) Level() int {
	return s2.CellID(c).Level()
}

// Valid reports whether the location has in-range coordinates.
func (l Location) Valid() bool {
	return !math.IsNaN(l.Lat) && !math.IsNaN(l.Lon) &&
		l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

func (l Location) point() s2.Point {
	return s2.PointFromLatLng(s2.LatLngFromDegrees(l.Lat, l.Lon))
}

func fromPoint(p s2.Point) Location {
	ll := s2.LatLngFromPoint(p)
	return Location{Lat: ll.Lat.Degrees(), Lon: ll.Lng.Degrees()}
}

// Distance returns the great-circle distance between two locations.
func Distance(a, b Location) units.Length {
	return angleToLength(a.point().Distance(b.point()))
}

// MeanLocation returns the spherical mean of the locations: the normalised sum
// of their unit vectors. An empty slice, or points that cancel out exactly,
// yield the zero Location.
func MeanLocation(locs []Location) Location {
	var sum r3.Vector
	for _, l := range locs {
		sum = sum.Add(l.point().Vector)
	}
	if sum.Norm() == 0 {
		return Location{}
	}
	return fromPoint(s2.Point{Vector: sum.Normalize()})
}

// Interpolate returns the point a fraction f of the way along the great
// circle from a to b. f is clamped to [0, 1].
func Interpolate(a, b Location, f float64) Location {
	switch {
	case f <= 0:
		return a
	case f >= 1:
		return b
	}
	return fromPoint(s2.Interpolate(f, a.point(), b.point()))
}

// CellAt returns the cell at the given level that contains the location.
func CellAt(l Location, level int) CellID {
	return CellID(s2.CellIDFromLatLng(s2.LatLngFromDegrees(l.Lat, l.Lon)).Parent(level))
}

// CoveringCells returns every cell at the given level that intersects the
// disc of the given radius around the location. The cell containing the
// location is always part of the result.
func CoveringCells(l Location, radius units.Length, level int) []CellID {
	center := l.point()
	disc := s2.CapFromCenterAngle(center, lengthToAngle(radius))
	cells := s2.SimpleRegionCovering(disc, center, level)

	out := make([]CellID, 0, len(cells))
	for _, c := range cells {
		out = append(out, CellID(c))
	}
	return out
}

func lengthToAngle(l units.Length) s1.Angle {
	return s1.Angle(float64(l / EarthRadius))
}

func angleToLength(a s1.Angle) units.Length {
	return units.Length(a.Radians()) * EarthRadius
}

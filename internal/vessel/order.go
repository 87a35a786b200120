package vessel

import (
	"cmp"
	"slices"
)

// SortMetadata sorts vessels by MMSI ascending.
func SortMetadata(vs []Metadata) {
	slices.SortFunc(vs, func(a, b Metadata) int { return cmp.Compare(a.MMSI, b.MMSI) })
}

// CompareNeighbors orders neighbours by distance, then by MMSI so that equal
// distances have a deterministic order.
func CompareNeighbors(a, b Neighbor) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	return cmp.Compare(a.Vessel.MMSI, b.Vessel.MMSI)
}

// SortNeighbors sorts neighbours with CompareNeighbors.
func SortNeighbors(ns []Neighbor) {
	slices.SortFunc(ns, CompareNeighbors)
}

// SortEncounters orders encounters by start time, then by vessel pair.
func SortEncounters(es []Encounter) {
	slices.SortFunc(es, func(a, b Encounter) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Vessel1.MMSI, b.Vessel1.MMSI); c != 0 {
			return c
		}
		return cmp.Compare(a.Vessel2.MMSI, b.Vessel2.MMSI)
	})
}

// Package testutil provides shared position fixtures for tests.
package testutil

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// FixInterval is the spacing of fixes produced by Track.
const FixInterval = 10 * time.Minute

// Drift is how far east, in degrees of longitude, a Track moves per fix.
const Drift = 0.001

// Track returns fixes every FixInterval from start for d inclusive,
// drifting east from lon at a constant latitude.
func Track(start time.Time, lat, lon float64, d time.Duration, shore units.Length) []vessel.PositionSample {
	var out []vessel.PositionSample
	for i := 0; time.Duration(i)*FixInterval <= d; i++ {
		out = append(out, vessel.PositionSample{
			Timestamp:       start.Add(time.Duration(i) * FixInterval),
			Location:        geo.Location{Lat: lat, Lon: lon + float64(i)*Drift},
			DistanceToShore: shore,
		})
	}
	return out
}

// CSV renders tracks in the import format, vessels in MMSI order.
func CSV(tracks vessel.Tracks) string {
	var b strings.Builder
	b.WriteString("mmsi,timestamp,lat,lon,distance_from_shore_m\n")
	for _, v := range tracks.Vessels() {
		for _, s := range tracks[v] {
			fmt.Fprintf(&b, "%d,%s,%g,%g,%g\n",
				v.MMSI, s.Timestamp.UTC().Format(time.RFC3339Nano),
				s.Location.Lat, s.Location.Lon, s.DistanceToShore.Meters())
		}
	}
	return b.String()
}

// WriteCSV writes tracks to path in the import format.
func WriteCSV(t testing.TB, path string, tracks vessel.Tracks) {
	t.Helper()
	if err := os.WriteFile(path, []byte(CSV(tracks)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

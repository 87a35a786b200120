package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/encounters.report/internal/positions"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

var t0 = time.Date(2024, 2, 10, 6, 0, 0, 0, time.UTC)

func TestTrack(t *testing.T) {
	tr := Track(t0, 1, 10, time.Hour, 50*units.Kilometer)
	require.Len(t, tr, 7)
	assert.Equal(t, t0, tr[0].Timestamp)
	assert.Equal(t, t0.Add(time.Hour), tr[6].Timestamp)
	assert.InDelta(t, 10.006, tr[6].Location.Lon, 1e-9)
	assert.Equal(t, 1.0, tr[6].Location.Lat)
}

func TestWriteCSV_ReadsBack(t *testing.T) {
	tracks := vessel.Tracks{
		{MMSI: 222}: Track(t0, -0.0009, 10, 30*time.Minute, 50*units.Kilometer),
		{MMSI: 111}: Track(t0, 0.0009, 10, 30*time.Minute, 50*units.Kilometer),
	}
	path := filepath.Join(t.TempDir(), "positions.csv")
	WriteCSV(t, path, tracks)

	got, st, err := positions.ReadFile(context.Background(), path, positions.Options{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, positions.Stats{Rows: 8}, st)
	require.Len(t, got, 2)
	for v, want := range tracks {
		require.Len(t, got[v], len(want))
		for i := range want {
			assert.True(t, want[i].Timestamp.Equal(got[v][i].Timestamp))
			assert.InDelta(t, want[i].Location.Lon, got[v][i].Location.Lon, 1e-9)
			assert.InDelta(t, want[i].DistanceToShore.Meters(), got[v][i].DistanceToShore.Meters(), 1e-9)
		}
	}
}

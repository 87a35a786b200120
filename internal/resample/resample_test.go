package resample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

var midnight = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func fix(min float64, lon float64, shore units.Length) vessel.PositionSample {
	return vessel.PositionSample{
		Timestamp:       midnight.Add(time.Duration(min * float64(time.Minute))),
		Location:        geo.Location{Lat: 0, Lon: lon},
		DistanceToShore: shore,
	}
}

func timestamps(s []vessel.PositionSample) []time.Time {
	out := make([]time.Time, len(s))
	for i, p := range s {
		out[i] = p.Timestamp
	}
	return out
}

func TestResample_AlignsToGrid(t *testing.T) {
	r := Resampler{Interval: 10 * time.Minute, MaxGap: time.Hour}

	got := r.Resample([]vessel.PositionSample{
		fix(3, 0.0, 1000),
		fix(33, 0.3, 4000),
	})

	require.Equal(t, []time.Time{
		midnight.Add(10 * time.Minute),
		midnight.Add(20 * time.Minute),
		midnight.Add(30 * time.Minute),
	}, timestamps(got))

	assert.InDelta(t, 0.07, got[0].Location.Lon, 1e-6)
	assert.InDelta(t, 0.17, got[1].Location.Lon, 1e-6)
	assert.InDelta(t, 2700, float64(got[1].DistanceToShore), 1e-6)
	assert.InDelta(t, 3700, float64(got[2].DistanceToShore), 1e-6)
}

func TestResample_ExactTickKeepsFix(t *testing.T) {
	r := Resampler{Interval: 10 * time.Minute}

	got := r.Resample([]vessel.PositionSample{fix(0, 1, 10), fix(10, 2, 20)})
	require.Len(t, got, 2)
	assert.Equal(t, fix(0, 1, 10), got[0])
	assert.Equal(t, fix(10, 2, 20), got[1])
}

func TestResample_SkipsLongGaps(t *testing.T) {
	r := Resampler{Interval: 10 * time.Minute, MaxGap: 30 * time.Minute}

	got := r.Resample([]vessel.PositionSample{
		fix(0, 0, 0),
		fix(20, 0.2, 0),
		fix(120, 1.2, 0), // 100 minute gap
		fix(130, 1.3, 0),
	})

	assert.Equal(t, []time.Time{
		midnight,
		midnight.Add(10 * time.Minute),
		midnight.Add(20 * time.Minute),
		midnight.Add(120 * time.Minute),
		midnight.Add(130 * time.Minute),
	}, timestamps(got))
}

func TestResample_UnsortedAndDuplicates(t *testing.T) {
	r := Resampler{Interval: 5 * time.Minute}

	got := r.Resample([]vessel.PositionSample{
		fix(10, 1.0, 0),
		fix(0, 0.0, 0),
		fix(10, 9.0, 0), // duplicate timestamp, dropped
	})
	require.Len(t, got, 3)
	assert.InDelta(t, 1.0, got[2].Location.Lon, 1e-9)

	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}
}

func TestResample_Degenerate(t *testing.T) {
	r := Resampler{Interval: 10 * time.Minute}

	assert.Empty(t, r.Resample(nil))
	// A single fix off the grid produces nothing.
	assert.Empty(t, r.Resample([]vessel.PositionSample{fix(3, 0, 0)}))
	// Disabled resampling only normalizes.
	raw := []vessel.PositionSample{fix(7, 1, 0), fix(3, 0, 0)}
	assert.Equal(t, []vessel.PositionSample{fix(3, 0, 0), fix(7, 1, 0)}, Resampler{}.Resample(raw))
}

func TestTracks(t *testing.T) {
	r := Resampler{Interval: 10 * time.Minute}
	a := vessel.Metadata{MMSI: 1}
	b := vessel.Metadata{MMSI: 2}

	got := r.Tracks(vessel.Tracks{
		a: {fix(1, 0, 0), fix(21, 0.2, 0)},
		b: {fix(4, 0, 0)},
	})
	require.Contains(t, got, a)
	assert.NotContains(t, got, b)
	assert.Len(t, got[a], 2)
}

func TestCeilMultiple(t *testing.T) {
	tests := []struct{ n, step, want int64 }{
		{0, 10, 0},
		{1, 10, 10},
		{10, 10, 10},
		{-5, 10, 0},
		{-15, 10, -10},
	}
	for _, tt := range tests {
		if got := ceilMultiple(tt.n, tt.step); got != tt.want {
			t.Errorf("ceilMultiple(%d, %d) = %d, want %d", tt.n, tt.step, got, tt.want)
		}
	}
}

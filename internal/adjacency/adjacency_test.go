package adjacency

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/golang/geo/s2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func sample(ts time.Time, lat, lon float64) vessel.PositionSample {
	return vessel.PositionSample{
		Timestamp:       ts,
		Location:        geo.Location{Lat: lat, Lon: lon},
		DistanceToShore: 50 * units.Kilometer,
	}
}

func vp(mmsi int64, s vessel.PositionSample) VesselPosition {
	return VesselPosition{Vessel: vessel.Metadata{MMSI: mmsi}, Sample: s}
}

func nb(mmsi int64, d units.Length) vessel.Neighbor {
	return vessel.Neighbor{Vessel: vessel.Metadata{MMSI: mmsi}, Distance: d}
}

func TestSharderKeys(t *testing.T) {
	t.Parallel()

	s := NewSharder(units.Kilometer, 13)
	smp := sample(t0, 10, 10)
	keys := s.Keys(smp)
	require.NotEmpty(t, keys)

	home := geo.CellAt(smp.Location, 13)
	found := false
	for _, k := range keys {
		assert.Equal(t, t0.UnixNano(), k.UnixNanos)
		assert.True(t, k.Time().Equal(t0))
		if k.Cell == home {
			found = true
		}
	}
	assert.True(t, found, "keys must include the containing cell")
}

func TestSharderPartition(t *testing.T) {
	t.Parallel()

	s := NewSharder(500*units.Meter, 13)
	tracks := vessel.Tracks{
		{MMSI: 2}: {sample(t0, 0, 0), sample(t0.Add(10*time.Minute), 0, 0)},
		{MMSI: 1}: {sample(t0, 0, 0.001)},
	}
	shards := s.Partition(tracks)
	keys := SortedKeys(shards)
	require.NotEmpty(t, keys)

	for i := 1; i < len(keys); i++ {
		assert.LessOrEqual(t, keys[i-1].UnixNanos, keys[i].UnixNanos)
	}
	// Every shard at t0 that holds vessel 2 is ordered by MMSI.
	for _, k := range keys {
		members := shards[k]
		for i := 1; i < len(members); i++ {
			assert.Less(t, members[i-1].Vessel.MMSI, members[i].Vessel.MMSI)
		}
	}
	home := ShardKey{UnixNanos: t0.UnixNano(), Cell: geo.CellAt(geo.Location{}, 13)}
	assert.Len(t, shards[home], 2)
}

func TestSolveShard(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, SolveShard(nil, units.Kilometer, 3))
	})

	t.Run("isolated member keeps self entry", func(t *testing.T) {
		res := SolveShard([]VesselPosition{
			vp(1, sample(t0, 0, 0)),
			vp(2, sample(t0, 1, 1)),
		}, units.Kilometer, 3)
		require.Len(t, res, 2)
		assert.Equal(t, []vessel.Neighbor{nb(1, 0)}, res[0].Candidates)
		assert.Equal(t, []vessel.Neighbor{nb(2, 0)}, res[1].Candidates)
	})

	t.Run("keeps K+1 nearest including self", func(t *testing.T) {
		members := []VesselPosition{vp(1, sample(t0, 0, 0))}
		for i := int64(2); i <= 6; i++ {
			members = append(members, vp(i, sample(t0, 0, float64(i)*0.0005)))
		}
		res := SolveShard(members, 10*units.Kilometer, 2)
		require.Len(t, res, len(members))

		c := res[0].Candidates
		require.Len(t, c, 3)
		assert.Equal(t, int64(1), c[0].Vessel.MMSI)
		assert.Equal(t, int64(2), c[1].Vessel.MMSI)
		assert.Equal(t, int64(3), c[2].Vessel.MMSI)
		assert.Less(t, c[1].Distance, c[2].Distance)
	})

	t.Run("discards pairs beyond radius", func(t *testing.T) {
		res := SolveShard([]VesselPosition{
			vp(1, sample(t0, 0, 0)),
			vp(2, sample(t0, 0, 0.004)), // ~445m
			vp(3, sample(t0, 0, 0.02)),  // ~2.2km
		}, units.Kilometer, 5)
		got := res[0].Candidates
		require.Len(t, got, 2)
		assert.Equal(t, int64(2), got[1].Vessel.MMSI)
	})

	t.Run("equal distances tie-break on MMSI", func(t *testing.T) {
		res := SolveShard([]VesselPosition{
			vp(9, sample(t0, 0, 0)),
			vp(7, sample(t0, 0, 0.001)),
			vp(5, sample(t0, 0, -0.001)),
		}, units.Kilometer, 1)
		c := res[0].Candidates
		require.Len(t, c, 2)
		assert.Equal(t, int64(5), c[1].Vessel.MMSI)
	})
}

func TestMergeCandidates(t *testing.T) {
	t.Parallel()

	self := vessel.Metadata{MMSI: 1}

	t.Run("self matches removed", func(t *testing.T) {
		got := MergeCandidates(self, []vessel.Neighbor{nb(1, 0), nb(1, 0)}, 3)
		assert.Empty(t, got)
	})

	t.Run("duplicates from overlapping shards collapse", func(t *testing.T) {
		got := MergeCandidates(self, []vessel.Neighbor{
			nb(1, 0), nb(2, 120), nb(3, 300),
			nb(1, 0), nb(2, 120),
		}, 5)
		want := []vessel.Neighbor{nb(2, 120), nb(3, 300)}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("MergeCandidates mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("cut to K after ranking", func(t *testing.T) {
		got := MergeCandidates(self, []vessel.Neighbor{
			nb(5, 500), nb(4, 400), nb(1, 0), nb(3, 300), nb(2, 200),
		}, 2)
		want := []vessel.Neighbor{nb(2, 200), nb(3, 300)}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("MergeCandidates mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestMerge(t *testing.T) {
	t.Parallel()

	a := vessel.Metadata{MMSI: 1}
	s1 := sample(t0, 0, 0)
	s2 := sample(t0.Add(10*time.Minute), 0, 0.001)

	results := []ShardResult{
		{VesselPosition: VesselPosition{Vessel: a, Sample: s2}, Candidates: []vessel.Neighbor{nb(1, 0)}},
		{VesselPosition: VesselPosition{Vessel: a, Sample: s1}, Candidates: []vessel.Neighbor{nb(1, 0), nb(2, 100)}},
		{VesselPosition: VesselPosition{Vessel: a, Sample: s1}, Candidates: []vessel.Neighbor{nb(1, 0), nb(2, 100), nb(3, 200)}},
	}
	out := Merge(results, 10)
	series := out[a]
	require.Len(t, series, 2, "one annotated position per (vessel, timestamp)")

	assert.True(t, series[0].Timestamp.Equal(s1.Timestamp))
	assert.True(t, series[1].Timestamp.Equal(s2.Timestamp))

	assert.Equal(t, 2, series[0].NeighborCount)
	require.NotNil(t, series[0].ClosestNeighbor)
	assert.Equal(t, nb(2, 100), *series[0].ClosestNeighbor)

	assert.Equal(t, 0, series[1].NeighborCount)
	assert.Nil(t, series[1].ClosestNeighbor)
}

// bruteForce computes neighbour lists with a global N^2 scan per timestamp.
func bruteForce(tracks vessel.Tracks, radius units.Length, k int) map[positionKey][]vessel.Neighbor {
	byTime := make(map[int64][]VesselPosition)
	for v, series := range tracks {
		for _, s := range series {
			byTime[s.Timestamp.UnixNano()] = append(byTime[s.Timestamp.UnixNano()], VesselPosition{Vessel: v, Sample: s})
		}
	}
	out := make(map[positionKey][]vessel.Neighbor)
	for ts, members := range byTime {
		for _, m := range members {
			var ns []vessel.Neighbor
			for _, o := range members {
				if o.Vessel == m.Vessel {
					continue
				}
				d := geo.Distance(m.Sample.Location, o.Sample.Location)
				if d <= radius {
					ns = append(ns, vessel.Neighbor{Vessel: o.Vessel, Distance: d})
				}
			}
			vessel.SortNeighbors(ns)
			if len(ns) > k {
				ns = ns[:k]
			}
			out[positionKey{vessel: m.Vessel, unixNanos: ts}] = ns
		}
	}
	return out
}

func assertMatchesBruteForce(t *testing.T, tracks vessel.Tracks, p Params) {
	t.Helper()

	annotated, stats, err := Annotate(context.Background(), tracks, p)
	require.NoError(t, err)
	assert.Equal(t, tracks.Len(), stats.Positions)

	want := bruteForce(tracks, p.MaxDistance, p.MaxNeighbors)
	n := 0
	for v, series := range annotated {
		for _, ap := range series {
			n++
			key := positionKey{vessel: v, unixNanos: ap.Timestamp.UnixNano()}
			exp := want[key]
			assert.Equal(t, len(exp), ap.NeighborCount, "neighbour count for %v at %v", v, ap.Timestamp)
			if len(exp) == 0 {
				assert.Nil(t, ap.ClosestNeighbor)
				continue
			}
			require.NotNil(t, ap.ClosestNeighbor)
			assert.Equal(t, exp[0], *ap.ClosestNeighbor)
			assert.NotEqual(t, v, ap.ClosestNeighbor.Vessel)
		}
	}
	assert.Equal(t, tracks.Len(), n, "every input position is annotated exactly once")
}

func TestAnnotate_MatchesGlobalScan(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	tracks := make(vessel.Tracks)
	for v := int64(1); v <= 40; v++ {
		var series []vessel.PositionSample
		for step := 0; step < 4; step++ {
			// ~5km square, so many vessels land near cell edges at level 15.
			series = append(series, sample(t0.Add(time.Duration(step)*10*time.Minute),
				30+rng.Float64()*0.045, -40+rng.Float64()*0.05))
		}
		tracks[vessel.Metadata{MMSI: v}] = series
	}

	for _, level := range []int{12, 14, 16} {
		assertMatchesBruteForce(t, tracks, Params{
			MaxDistance:  800 * units.Meter,
			MaxNeighbors: 3,
			GridLevel:    level,
			Workers:      4,
		})
	}
}

func TestAnnotate_PositionOnCellBoundary(t *testing.T) {
	t.Parallel()

	const level = 13
	cell := s2.CellFromCellID(s2.CellIDFromLatLng(s2.LatLngFromDegrees(52.1, 4.2)).Parent(level))
	corner := s2.LatLngFromPoint(cell.Vertex(0))
	onEdge := geo.Location{Lat: corner.Lat.Degrees(), Lon: corner.Lng.Degrees()}

	tracks := vessel.Tracks{
		{MMSI: 100}: {sample(t0, onEdge.Lat, onEdge.Lon)},
		{MMSI: 101}: {sample(t0, onEdge.Lat+0.002, onEdge.Lon)},
		{MMSI: 102}: {sample(t0, onEdge.Lat-0.002, onEdge.Lon+0.002)},
		{MMSI: 103}: {sample(t0, onEdge.Lat, onEdge.Lon-0.004)},
		{MMSI: 104}: {sample(t0, onEdge.Lat+0.05, onEdge.Lon)},
	}
	assertMatchesBruteForce(t, tracks, Params{
		MaxDistance:  units.Kilometer,
		MaxNeighbors: 10,
		GridLevel:    level,
	})
}

func TestAnnotate_NoNeighbours(t *testing.T) {
	t.Parallel()

	tracks := vessel.Tracks{
		{MMSI: 1}: {sample(t0, 0, 0), sample(t0.Add(10*time.Minute), 0, 0.01)},
		{MMSI: 2}: {sample(t0, 10, 10)},
	}
	out, _, err := Annotate(context.Background(), tracks, Params{
		MaxDistance: units.Kilometer, MaxNeighbors: 5, GridLevel: DefaultGridLevel,
	})
	require.NoError(t, err)
	require.Len(t, out[vessel.Metadata{MMSI: 1}], 2)
	for _, series := range out {
		for _, ap := range series {
			assert.Zero(t, ap.NeighborCount)
			assert.Nil(t, ap.ClosestNeighbor)
		}
	}
}

func TestAnnotate_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tracks := vessel.Tracks{{MMSI: 1}: {sample(t0, 0, 0)}}
	_, _, err := Annotate(ctx, tracks, Params{MaxDistance: units.Kilometer, MaxNeighbors: 1, GridLevel: 13})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnnotate_Empty(t *testing.T) {
	t.Parallel()

	out, stats, err := Annotate(context.Background(), vessel.Tracks{}, Params{MaxDistance: units.Kilometer, MaxNeighbors: 1, GridLevel: 13})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, stats.Shards)
}

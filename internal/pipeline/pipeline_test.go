package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/encounters.report/internal/config"
	"github.com/banshee-data/encounters.report/internal/db"
	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/publish"
	"github.com/banshee-data/encounters.report/internal/testutil"
	"github.com/banshee-data/encounters.report/internal/timeutil"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

var (
	t0 = time.Date(2024, 2, 10, 6, 0, 0, 0, time.UTC)

	vA = vessel.Metadata{MMSI: 111}
	vB = vessel.Metadata{MMSI: 222}
	vC = vessel.Metadata{MMSI: 333}
)

func track(lat, lon float64, d time.Duration, shore units.Length) []vessel.PositionSample {
	return testutil.Track(t0, lat, lon, d, shore)
}

// pairTracks puts A and B about 200 m apart on either side of the equator,
// which is a cell boundary at every grid level, and C far away.
func pairTracks(d time.Duration, shore units.Length) vessel.Tracks {
	return vessel.Tracks{
		vA: track(0.0009, 10, d, shore),
		vB: track(-0.0009, 10, d, shore),
		vC: track(5, 10, 4*time.Hour, shore),
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publish.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events []publish.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type failingStore struct {
	*db.DB
}

func (failingStore) ReplaceEncounters(context.Context, string, string, time.Time, time.Time, []vessel.Encounter) (int64, int64, error) {
	return 0, 0, errors.New("disk full")
}

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDetect_PairAcrossCellBoundary(t *testing.T) {
	raw := pairTracks(4*time.Hour, 50*units.Kilometer)
	level := config.DefaultGridLevel
	require.NotEqual(t,
		geo.CellAt(raw[vA][0].Location, level),
		geo.CellAt(raw[vB][0].Location, level),
		"fixture must straddle a cell boundary")

	r := &Runner{}
	res, err := r.Detect(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Vessels)
	assert.Equal(t, 75, res.Adjacency.Positions)
	require.Len(t, res.Encounters, 2)

	ab, ba := res.Encounters[0], res.Encounters[1]
	assert.Equal(t, vA, ab.Vessel1)
	assert.Equal(t, vB, ab.Vessel2)
	assert.Equal(t, vB, ba.Vessel1)
	assert.Equal(t, vA, ba.Vessel2)
	for _, e := range res.Encounters {
		assert.Equal(t, t0, e.StartTime)
		assert.Equal(t, t0.Add(4*time.Hour), e.EndTime)
		assert.Equal(t, 25, e.PointCount)
		assert.InDelta(t, 200, e.MedianDistance.Meters(), 1)
		assert.InDelta(t, 0, e.MeanLocation.Lat, 0.001)
	}

	assert.Equal(t, 2, res.Summary.Count)
	assert.Equal(t, 4*time.Hour, res.Summary.MaxDuration)
	assert.Equal(t, t0, res.RangeStart)
	assert.Equal(t, t0.Add(4*time.Hour), res.RangeEnd)

	// C has no neighbours at all.
	for _, ap := range res.Annotated[vC] {
		assert.Zero(t, ap.NeighborCount)
		assert.Nil(t, ap.ClosestNeighbor)
	}
}

func TestDetect_NoEncounter(t *testing.T) {
	tests := []struct {
		name string
		raw  vessel.Tracks
	}{
		{"too short", pairTracks(2*time.Hour, 50*units.Kilometer)},
		{"exactly the minimum", pairTracks(3*time.Hour, 50*units.Kilometer)},
		{"near shore", pairTracks(4*time.Hour, 10*units.Kilometer)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := (&Runner{}).Detect(context.Background(), tt.raw)
			require.NoError(t, err)
			assert.Empty(t, res.Encounters)
		})
	}
}

func TestDetect_Tuning(t *testing.T) {
	raw := pairTracks(4*time.Hour, 50*units.Kilometer)
	tuning, err := config.ParseTuningConfig([]byte(`{"max_encounter_radius": "100m"}`))
	require.NoError(t, err)

	res, err := (&Runner{Tuning: tuning}).Detect(context.Background(), raw)
	require.NoError(t, err)
	assert.Empty(t, res.Encounters, "200 m apart is outside a 100 m radius")
}

func TestDetect_Errors(t *testing.T) {
	_, err := (&Runner{}).Detect(context.Background(), vessel.Tracks{})
	assert.ErrorIs(t, err, ErrNoPositions)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&Runner{}).Detect(ctx, pairTracks(4*time.Hour, 50*units.Kilometer))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_PersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	pub := &recordingPublisher{}
	clock := timeutil.NewSteppingClock(t0.Add(24*time.Hour), time.Second)

	r := &Runner{Store: store, Publisher: pub, Clock: clock, SaveAnnotated: true}
	res, err := r.Run(ctx, Input{Tracks: pairTracks(4*time.Hour, 50*units.Kilometer), Source: "fixture"})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
	require.Len(t, res.Encounters, 2)
	assert.Positive(t, res.Elapsed)

	run, err := store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunSucceeded, run.Status)
	assert.Equal(t, DefaultModelVersion, run.ModelVersion)
	assert.Equal(t, "fixture", run.Source)
	assert.Equal(t, t0.Add(24*time.Hour), run.StartedAt)
	assert.Equal(t, 3, run.Vessels)
	assert.Equal(t, 75, run.Positions)
	assert.Equal(t, 2, run.Encounters)
	assert.JSONEq(t, config.DefaultTuningConfig().JSON(), run.TuningJSON)

	stored, err := store.Encounters(ctx, db.EncounterFilter{RunID: res.RunID})
	require.NoError(t, err)
	assert.Equal(t, res.Encounters, db.Plain(stored))

	require.Len(t, pub.events, 2)
	for i, ev := range pub.events {
		assert.Equal(t, res.RunID, ev.RunID)
		assert.Equal(t, db.EncounterKey(DefaultModelVersion, res.Encounters[i]), ev.Key)
		assert.Equal(t, stored[i].Key, ev.Key)
	}

	ann, err := store.AnnotatedTrack(ctx, res.RunID, vA, t0, t0.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, ann, 25)
	require.NotNil(t, ann[0].ClosestNeighbor)
	assert.Equal(t, vB, ann[0].ClosestNeighbor.Vessel)
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	raw := pairTracks(4*time.Hour, 50*units.Kilometer)
	r := &Runner{Store: store}

	first, err := r.Run(ctx, Input{Tracks: raw})
	require.NoError(t, err)
	second, err := r.Run(ctx, Input{Tracks: raw})
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Encounters, second.Encounters)

	all, err := store.Encounters(ctx, db.EncounterFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, se := range all {
		assert.Equal(t, second.RunID, se.RunID)
	}

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRun_ExplicitRange(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	start, end := t0.Add(-time.Hour), t0.Add(5*time.Hour)

	res, err := (&Runner{Store: store}).Run(ctx, Input{
		Tracks:     pairTracks(4*time.Hour, 50*units.Kilometer),
		RangeStart: &start,
		RangeEnd:   &end,
	})
	require.NoError(t, err)
	assert.Equal(t, start, res.RangeStart)
	assert.Equal(t, end, res.RangeEnd)

	run, err := store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	require.NotNil(t, run.RangeStart)
	assert.Equal(t, start, *run.RangeStart)
}

func TestRun_FailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)

	res, err := (&Runner{Store: failingStore{store}}).Run(ctx, Input{Tracks: pairTracks(4*time.Hour, 50*units.Kilometer)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	run, err := store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunFailed, run.Status)
	assert.Contains(t, run.Error, "disk full")
	require.NotNil(t, run.FinishedAt)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	store := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Runner{Store: store}).Run(ctx, Input{Tracks: pairTracks(4*time.Hour, 50*units.Kilometer)})
	require.ErrorIs(t, err, context.Canceled)

	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs, "a run that never started leaves no record")
}

func TestRun_PublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("no responders")}
	_, err := (&Runner{Publisher: pub}).Run(context.Background(), Input{Tracks: pairTracks(4*time.Hour, 50*units.Kilometer)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish encounters")
}

func TestRun_WithoutStore(t *testing.T) {
	res, err := (&Runner{}).Run(context.Background(), Input{Tracks: pairTracks(4*time.Hour, 50*units.Kilometer)})
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
	assert.Len(t, res.Encounters, 2)
}

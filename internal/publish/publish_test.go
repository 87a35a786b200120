package publish

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

func testEncounter() vessel.Encounter {
	start := time.Date(2024, 2, 10, 6, 0, 0, 0, time.UTC)
	return vessel.Encounter{
		Vessel1:        vessel.Metadata{MMSI: 111},
		Vessel2:        vessel.Metadata{MMSI: 222},
		StartTime:      start,
		EndTime:        start.Add(4 * time.Hour),
		MeanLocation:   geo.Location{Lat: 1, Lon: 2},
		PointCount:     25,
		MedianDistance: 150,
	}
}

func TestEventJSON(t *testing.T) {
	ev := NewEvent("run-1", "v1", "abc", testEncounter())
	assert.Equal(t, 4*3600.0, ev.DurationSec)

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, "v1", got["model_version"])
	assert.Equal(t, "abc", got["encounter_key"])
	assert.Equal(t, 14400.0, got["duration_s"])

	enc := got["encounter"].(map[string]any)
	assert.Equal(t, "2024-02-10T06:00:00Z", enc["start_time"])
	assert.Equal(t, map[string]any{"mmsi": 222.0}, enc["vessel2"])
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, nats.DefaultURL, o.URL)
	assert.Equal(t, DefaultSubject, o.Subject)
	assert.Equal(t, 5*time.Second, o.FlushTimeout)

	o = Options{URL: "nats://example:4222", Subject: "x.y", FlushTimeout: time.Second}.withDefaults()
	assert.Equal(t, "nats://example:4222", o.URL)
	assert.Equal(t, "x.y", o.Subject)
	assert.Equal(t, time.Second, o.FlushTimeout)
}

func TestConnect_NoServer(t *testing.T) {
	_, err := Connect(Options{URL: "nats://127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to connect to NATS")
}

func TestDiscard(t *testing.T) {
	var p Publisher = Discard{}
	assert.NoError(t, p.Publish(context.Background(), []Event{NewEvent("r", "v", "k", testEncounter())}))
	assert.NoError(t, p.Close())
}

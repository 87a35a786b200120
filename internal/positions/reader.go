package positions

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/monitoring"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// ErrMalformedRecord is wrapped by errors about individual bad rows.
var ErrMalformedRecord = errors.New("malformed position record")

// Record is one raw fix of one vessel.
type Record struct {
	Vessel vessel.Metadata
	Sample vessel.PositionSample
}

// Stats counts the rows seen by a decoder.
type Stats struct {
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"`
}

// Options controls decoding.
type Options struct {
	// Strict aborts on the first malformed row instead of skipping it.
	Strict bool
}

// maxLine bounds one JSON line.
const maxLine = 1 << 20

// csvColumns lists the header names accepted for each field, first match
// wins.
var csvColumns = []struct {
	field   string
	aliases []string
}{
	{"mmsi", []string{"mmsi", "vessel_id", "ssvid"}},
	{"timestamp", []string{"timestamp", "time", "ts"}},
	{"lat", []string{"lat", "latitude"}},
	{"lon", []string{"lon", "lng", "longitude"}},
	{"shore", []string{"distance_from_shore_m", "distance_to_shore_m", "distance_from_shore"}},
}

// Decode reads records of the given format from r and calls fn for each
// valid one. fn errors abort decoding and are returned as is.
func Decode(ctx context.Context, r io.Reader, format Format, opts Options, fn func(Record) error) (Stats, error) {
	switch format {
	case CSV:
		return decodeCSV(ctx, r, opts, fn)
	case JSONL:
		return decodeJSONL(ctx, r, opts, fn)
	}
	return Stats{}, fmt.Errorf("%w: %v", ErrUnknownFormat, format)
}

// ReadFile reads a whole position file into per-vessel tracks. Tracks are
// returned in file order; resampling sorts them.
func ReadFile(ctx context.Context, path string, opts Options) (vessel.Tracks, Stats, error) {
	rc, format, err := Open(path)
	if err != nil {
		return nil, Stats{}, err
	}
	defer rc.Close()

	tracks := make(vessel.Tracks)
	stats, err := Decode(ctx, rc, format, opts, func(rec Record) error {
		tracks[rec.Vessel] = append(tracks[rec.Vessel], rec.Sample)
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", path, err)
	}
	return tracks, stats, nil
}

// rowHandler applies the strict/lenient policy to one decoded row.
type rowHandler struct {
	opts  Options
	stats Stats
	fn    func(Record) error
}

func (h *rowHandler) handle(line int, rec Record, err error) error {
	h.stats.Rows++
	if err == nil {
		err = validate(rec)
	}
	if err != nil {
		if h.opts.Strict {
			return fmt.Errorf("line %d: %w", line, err)
		}
		h.stats.Skipped++
		monitoring.Logger().Debug("skipping position row", "line", line, "err", err)
		return nil
	}
	return h.fn(rec)
}

func decodeCSV(ctx context.Context, r io.Reader, opts Options, fn func(Record) error) (Stats, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Stats{}, nil
		}
		return Stats{}, fmt.Errorf("failed to read csv header: %w", err)
	}
	idx, err := headerIndex(header)
	if err != nil {
		return Stats{}, err
	}

	h := &rowHandler{opts: opts, fn: fn}
	for {
		if err := ctx.Err(); err != nil {
			return h.stats, err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return h.stats, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return h.stats, fmt.Errorf("failed to read csv: %w", err)
			}
			if herr := h.handle(perr.Line, Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, perr.Err)); herr != nil {
				return h.stats, herr
			}
			continue
		}
		line, _ := cr.FieldPos(0)
		rec, perr := parseCSVRow(row, idx)
		if herr := h.handle(line, rec, perr); herr != nil {
			return h.stats, herr
		}
	}
}

func headerIndex(header []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		pos[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idx := make(map[string]int, len(csvColumns))
	for _, c := range csvColumns {
		for _, a := range c.aliases {
			if i, ok := pos[a]; ok {
				idx[c.field] = i
				break
			}
		}
		if _, ok := idx[c.field]; !ok {
			return nil, fmt.Errorf("csv header is missing a %s column (accepted: %s)", c.field, strings.Join(c.aliases, ", "))
		}
	}
	return idx, nil
}

func parseCSVRow(row []string, idx map[string]int) (Record, error) {
	var rec Record
	vals := make(map[string]string, len(idx))
	for field, i := range idx {
		if i >= len(row) {
			return rec, fmt.Errorf("%w: missing %s", ErrMalformedRecord, field)
		}
		vals[field] = strings.TrimSpace(row[i])
	}

	mmsi, err := strconv.ParseInt(vals["mmsi"], 10, 64)
	if err != nil {
		return rec, fmt.Errorf("%w: mmsi %q", ErrMalformedRecord, vals["mmsi"])
	}
	ts, err := parseTimestamp(vals["timestamp"])
	if err != nil {
		return rec, err
	}
	lat, err := strconv.ParseFloat(vals["lat"], 64)
	if err != nil {
		return rec, fmt.Errorf("%w: lat %q", ErrMalformedRecord, vals["lat"])
	}
	lon, err := strconv.ParseFloat(vals["lon"], 64)
	if err != nil {
		return rec, fmt.Errorf("%w: lon %q", ErrMalformedRecord, vals["lon"])
	}
	shore, err := strconv.ParseFloat(vals["shore"], 64)
	if err != nil {
		return rec, fmt.Errorf("%w: distance from shore %q", ErrMalformedRecord, vals["shore"])
	}

	rec.Vessel = vessel.Metadata{MMSI: mmsi}
	rec.Sample = vessel.PositionSample{
		Timestamp:       ts,
		Location:        geo.Location{Lat: lat, Lon: lon},
		DistanceToShore: units.Length(shore),
	}
	return rec, nil
}

// jsonRecord is the JSON Lines row shape. Pointers distinguish missing
// fields from zero values.
type jsonRecord struct {
	MMSI      *int64          `json:"mmsi"`
	Timestamp json.RawMessage `json:"timestamp"`
	Lat       *float64        `json:"lat"`
	Lon       *float64        `json:"lon"`
	Shore     *float64        `json:"distance_from_shore_m"`
}

func decodeJSONL(ctx context.Context, r io.Reader, opts Options, fn func(Record) error) (Stats, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	h := &rowHandler{opts: opts, fn: fn}
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return h.stats, err
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		rec, perr := parseJSONLine([]byte(text))
		if err := h.handle(line, rec, perr); err != nil {
			return h.stats, err
		}
	}
	if err := sc.Err(); err != nil {
		return h.stats, fmt.Errorf("failed to read jsonl at line %d: %w", line+1, err)
	}
	return h.stats, nil
}

func parseJSONLine(b []byte) (Record, error) {
	var jr jsonRecord
	if err := json.Unmarshal(b, &jr); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	switch {
	case jr.MMSI == nil:
		return Record{}, fmt.Errorf("%w: missing mmsi", ErrMalformedRecord)
	case jr.Lat == nil || jr.Lon == nil:
		return Record{}, fmt.Errorf("%w: missing lat/lon", ErrMalformedRecord)
	case jr.Shore == nil:
		return Record{}, fmt.Errorf("%w: missing distance_from_shore_m", ErrMalformedRecord)
	case len(jr.Timestamp) == 0:
		return Record{}, fmt.Errorf("%w: missing timestamp", ErrMalformedRecord)
	}

	// Timestamps may be RFC 3339 strings or unix seconds.
	var raw string
	if err := json.Unmarshal(jr.Timestamp, &raw); err != nil {
		raw = string(jr.Timestamp)
	}
	ts, err := parseTimestamp(raw)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Vessel: vessel.Metadata{MMSI: *jr.MMSI},
		Sample: vessel.PositionSample{
			Timestamp:       ts,
			Location:        geo.Location{Lat: *jr.Lat, Lon: *jr.Lon},
			DistanceToShore: units.Length(*jr.Shore),
		},
	}, nil
}

// parseTimestamp accepts RFC 3339 (with optional fractional seconds) or
// unix seconds, integral or fractional. Results are in UTC.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRecord, s)
}

func validate(rec Record) error {
	switch {
	case rec.Vessel.MMSI <= 0:
		return fmt.Errorf("%w: mmsi must be positive, got %d", ErrMalformedRecord, rec.Vessel.MMSI)
	case !rec.Sample.Location.Valid():
		return fmt.Errorf("%w: location out of range (%g, %g)", ErrMalformedRecord, rec.Sample.Location.Lat, rec.Sample.Location.Lon)
	case math.IsNaN(float64(rec.Sample.DistanceToShore)) || math.IsInf(float64(rec.Sample.DistanceToShore), 0):
		return fmt.Errorf("%w: distance from shore is not finite", ErrMalformedRecord)
	}
	return nil
}

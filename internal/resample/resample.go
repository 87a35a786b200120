// Package resample converts irregular vessel fixes to a fixed cadence.
//
// Ticks are aligned to multiples of the interval since the Unix epoch, so two
// vessels resampled with the same interval share timestamps and can be
// compared sample by sample.
package resample

import (
	"slices"
	"time"

	"github.com/banshee-data/encounters.report/internal/geo"
	"github.com/banshee-data/encounters.report/internal/units"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// Resampler interpolates fixes onto a regular time grid.
type Resampler struct {
	// Interval is the output cadence. Zero or negative disables resampling;
	// fixes are only sorted and de-duplicated.
	Interval time.Duration
	// MaxGap is the largest gap between two fixes that is interpolated
	// across. Zero or negative means no limit.
	MaxGap time.Duration
}

// Tracks resamples every vessel in raw. Vessels left with no samples are
// omitted from the result.
func (r Resampler) Tracks(raw vessel.Tracks) vessel.Tracks {
	out := make(vessel.Tracks, len(raw))
	for v, fixes := range raw {
		if s := r.Resample(fixes); len(s) > 0 {
			out[v] = s
		}
	}
	return out
}

// Resample returns the samples of one vessel on the grid. The input need not
// be sorted; when several fixes share a timestamp the first one wins. The
// result is strictly increasing in time.
func (r Resampler) Resample(fixes []vessel.PositionSample) []vessel.PositionSample {
	clean := Normalize(fixes)
	if len(clean) == 0 || r.Interval <= 0 {
		return clean
	}

	step := r.Interval.Nanoseconds()
	first := clean[0].Timestamp.UnixNano()
	last := clean[len(clean)-1].Timestamp.UnixNano()

	tick := ceilMultiple(first, step)
	out := make([]vessel.PositionSample, 0, (last-tick)/step+1)

	j := 0
	for ; tick <= last; tick += step {
		for j+1 < len(clean) && clean[j+1].Timestamp.UnixNano() <= tick {
			j++
		}
		a := clean[j]
		at := a.Timestamp.UnixNano()
		ts := time.Unix(0, tick).UTC()

		if at == tick {
			a.Timestamp = ts
			out = append(out, a)
			continue
		}
		// at < tick here, and tick <= last guarantees a successor.
		b := clean[j+1]
		gap := b.Timestamp.UnixNano() - at
		if r.MaxGap > 0 && gap > r.MaxGap.Nanoseconds() {
			continue
		}
		f := float64(tick-at) / float64(gap)
		out = append(out, vessel.PositionSample{
			Timestamp:       ts,
			Location:        geo.Interpolate(a.Location, b.Location, f),
			DistanceToShore: a.DistanceToShore + units.Length(f)*(b.DistanceToShore-a.DistanceToShore),
		})
	}
	return out
}

// Normalize returns a time-sorted copy of fixes with duplicate timestamps
// removed, keeping the first fix seen for each timestamp.
func Normalize(fixes []vessel.PositionSample) []vessel.PositionSample {
	if len(fixes) == 0 {
		return nil
	}
	out := slices.Clone(fixes)
	slices.SortStableFunc(out, func(a, b vessel.PositionSample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return slices.CompactFunc(out, func(a, b vessel.PositionSample) bool {
		return a.Timestamp.Equal(b.Timestamp)
	})
}

// ceilMultiple returns the smallest multiple of step that is >= n.
func ceilMultiple(n, step int64) int64 {
	q := n / step
	if q*step < n {
		q++
	}
	return q * step
}

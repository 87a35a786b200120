package encounters

import (
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/encounters.report/internal/vessel"
)

// Summary describes a set of encounters.
type Summary struct {
	Count          int           `json:"count"`
	Vessels        int           `json:"vessels"`
	MeanDuration   time.Duration `json:"mean_duration"`
	MedianDuration time.Duration `json:"median_duration"`
	MaxDuration    time.Duration `json:"max_duration"`
}

// Summarize computes count and duration statistics over encounters.
func Summarize(es []vessel.Encounter) Summary {
	if len(es) == 0 {
		return Summary{}
	}

	hours := make([]float64, len(es))
	seen := make(map[vessel.Metadata]struct{})
	for i, e := range es {
		hours[i] = e.Duration().Hours()
		seen[e.Vessel1] = struct{}{}
		seen[e.Vessel2] = struct{}{}
	}
	slices.Sort(hours)

	return Summary{
		Count:          len(es),
		Vessels:        len(seen),
		MeanDuration:   hoursToDuration(stat.Mean(hours, nil)),
		MedianDuration: hoursToDuration(stat.Quantile(0.5, stat.Empirical, hours, nil)),
		MaxDuration:    hoursToDuration(hours[len(hours)-1]),
	}
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour)).Round(time.Second)
}

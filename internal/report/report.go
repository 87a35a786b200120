// Package report renders detected encounters for people: an HTML overview
// page and per-encounter track plots.
package report

import (
	"fmt"
	"io"
	"math"
	"slices"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/encounters.report/internal/encounters"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// DefaultAssetsHost serves the echarts javascript.
const DefaultAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Options controls the HTML report.
type Options struct {
	Title      string
	Subtitle   string
	AssetsHost string
}

// DailyCount is the number of encounters starting on one UTC day.
type DailyCount struct {
	Day   string
	Count int
}

// EncountersPerDay counts encounters by the UTC day they start on, in day
// order.
func EncountersPerDay(es []vessel.Encounter) []DailyCount {
	counts := make(map[string]int)
	for _, e := range es {
		counts[e.StartTime.UTC().Format(time.DateOnly)]++
	}
	days := make([]string, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	slices.Sort(days)

	out := make([]DailyCount, len(days))
	for i, d := range days {
		out[i] = DailyCount{Day: d, Count: counts[d]}
	}
	return out
}

// DurationBucket is one bar of the duration histogram: encounters lasting
// at least From and less than To hours.
type DurationBucket struct {
	From, To float64
	Count    int
}

// DurationHistogram buckets encounter durations into whole hours.
func DurationHistogram(es []vessel.Encounter) []DurationBucket {
	if len(es) == 0 {
		return nil
	}
	hours := make([]float64, len(es))
	for i, e := range es {
		hours[i] = e.Duration().Hours()
	}
	slices.Sort(hours)

	lo := math.Floor(hours[0])
	hi := math.Floor(hours[len(hours)-1]) + 1
	dividers := make([]float64, 0, int(hi-lo)+1)
	for h := lo; h <= hi; h++ {
		dividers = append(dividers, h)
	}
	counts := stat.Histogram(nil, dividers, hours, nil)

	out := make([]DurationBucket, len(counts))
	for i, c := range counts {
		out[i] = DurationBucket{From: dividers[i], To: dividers[i+1], Count: int(c)}
	}
	return out
}

// Render writes an HTML page with encounters per day, encounter locations
// and the duration histogram.
func Render(w io.Writer, es []vessel.Encounter, o Options) error {
	if o.AssetsHost == "" {
		o.AssetsHost = DefaultAssetsHost
	}
	if o.Title == "" {
		o.Title = "Vessel encounters"
	}
	sum := encounters.Summarize(es)
	if o.Subtitle == "" {
		o.Subtitle = fmt.Sprintf("%d encounters, %d vessels, median %s, max %s",
			sum.Count, sum.Vessels, sum.MedianDuration, sum.MaxDuration)
	}

	page := components.NewPage()
	page.SetPageTitle(o.Title)
	page.SetAssetsHost(o.AssetsHost)
	page.AddCharts(
		perDayChart(es, o),
		locationChart(es, o),
		durationChart(es, o),
	)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func perDayChart(es []vessel.Encounter, o Options) *charts.Bar {
	daily := EncountersPerDay(es)
	x := make([]string, len(daily))
	y := make([]opts.BarData, len(daily))
	for i, d := range daily {
		x[i] = d.Day
		y[i] = opts.BarData{Value: d.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: o.Title, Subtitle: o.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Encounters"}),
	)
	bar.SetXAxis(x).
		AddSeries("per day", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func locationChart(es []vessel.Encounter, o Options) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(es))
	maxHours := 0.0
	for _, e := range es {
		h := e.Duration().Hours()
		maxHours = max(maxHours, h)
		data = append(data, opts.ScatterData{
			Name:  fmt.Sprintf("%d/%d", e.Vessel1.MMSI, e.Vessel2.MMSI),
			Value: []any{e.MeanLocation.Lon, e.MeanLocation.Lat, math.Round(h*100) / 100},
		})
	}
	if maxHours == 0 {
		maxHours = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Encounter locations", Subtitle: "mean position, coloured by duration (h)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Longitude", NameLocation: "middle", NameGap: 25, Min: -180, Max: 180}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Latitude", NameLocation: "middle", NameGap: 30, Min: -90, Max: 90}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxHours),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("encounters", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	return scatter
}

func durationChart(es []vessel.Encounter, o Options) *charts.Bar {
	buckets := DurationHistogram(es)
	x := make([]string, len(buckets))
	y := make([]opts.BarData, len(buckets))
	for i, b := range buckets {
		x[i] = fmt.Sprintf("%g-%gh", b.From, b.To)
		y[i] = opts.BarData{Value: b.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Encounter durations"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Encounters"}),
	)
	bar.SetXAxis(x).AddSeries("duration", y)
	return bar
}

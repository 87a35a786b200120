package report

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/encounters.report/internal/security"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

var (
	vessel1Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	vessel2Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	meanColor    = color.RGBA{A: 255}
)

// PlotFileName is the file name of an encounter's track plot.
func PlotFileName(e vessel.Encounter) string {
	return security.SanitizeFilename(fmt.Sprintf("encounter_%d_%d_%s.png",
		e.Vessel1.MMSI, e.Vessel2.MMSI, e.StartTime.UTC().Format("20060102T150405Z")))
}

// PlotEncounter saves the plot of an encounter as a PNG in dir and returns
// the written path.
func PlotEncounter(dir string, e vessel.Encounter, track1, track2 []vessel.AnnotatedPosition) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(dir, PlotFileName(e))
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create plot file: %w", err)
	}
	if err := WritePlot(f, e, track1, track2); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// WritePlot draws both vessels' tracks across an encounter above vessel 1's
// closest-neighbour distance over time, and writes the image to w as PNG.
func WritePlot(w io.Writer, e vessel.Encounter, track1, track2 []vessel.AnnotatedPosition) error {
	tracks, err := trackPlot(e, track1, track2)
	if err != nil {
		return err
	}
	dist, err := distancePlot(e, track1)
	if err != nil {
		return err
	}

	const width, height = 10 * vg.Inch, 12 * vg.Inch
	img := vgimg.New(width, height)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadY: vg.Millimeter * 4}
	for i, p := range []*plot.Plot{tracks, dist} {
		p.Draw(tiles.At(dc, 0, i))
	}

	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}

func trackPlot(e vessel.Encounter, track1, track2 []vessel.AnnotatedPosition) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%v and %v, %s to %s", e.Vessel1, e.Vessel2,
		e.StartTime.UTC().Format("2006-01-02 15:04"), e.EndTime.UTC().Format("2006-01-02 15:04"))
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	for _, s := range []struct {
		name  string
		track []vessel.AnnotatedPosition
		color color.Color
	}{
		{e.Vessel1.String(), track1, vessel1Color},
		{e.Vessel2.String(), track2, vessel2Color},
	} {
		if len(s.track) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(s.track))
		for i, ap := range s.track {
			pts[i] = plotter.XY{X: ap.Location.Lon, Y: ap.Location.Lat}
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, fmt.Errorf("%s track: %w", s.name, err)
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		points.Color = s.color
		points.Shape = draw.CircleGlyph{}
		points.Radius = vg.Points(1.5)
		p.Add(line, points)
		p.Legend.Add(s.name, line, points)
	}

	mean, err := plotter.NewScatter(plotter.XYs{{X: e.MeanLocation.Lon, Y: e.MeanLocation.Lat}})
	if err != nil {
		return nil, err
	}
	mean.Color = meanColor
	mean.Shape = draw.CrossGlyph{}
	mean.Radius = vg.Points(5)
	p.Add(mean)
	p.Legend.Add("mean location", mean)

	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func distancePlot(e vessel.Encounter, track []vessel.AnnotatedPosition) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Closest neighbour distance of %v", e.Vessel1)
	p.X.Label.Text = "Minutes since encounter start"
	p.Y.Label.Text = "Distance (m)"

	pts := make(plotter.XYs, 0, len(track))
	for _, ap := range track {
		if ap.ClosestNeighbor == nil || ap.ClosestNeighbor.Vessel != e.Vessel2 {
			continue
		}
		pts = append(pts, plotter.XY{
			X: ap.Timestamp.Sub(e.StartTime).Minutes(),
			Y: ap.ClosestNeighbor.Distance.Meters(),
		})
	}
	if len(pts) > 0 {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = vessel1Color
		line.Width = vg.Points(1)
		p.Add(line)
	}

	median := plotter.NewFunction(func(float64) float64 { return e.MedianDistance.Meters() })
	median.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	median.Color = meanColor
	p.Add(median)
	p.Legend.Add("median", median)

	p.Add(plotter.NewGrid())
	p.X.Min = 0
	p.X.Max = max(e.Duration().Minutes(), 1)
	p.Y.Min = 0
	p.Legend.Top = true
	p.Legend.Left = false
	return p, nil
}

package report

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/glacier-data/quakescan/internal/event"
	"github.com/glacier-data/quakescan/internal/scan"
	"github.com/glacier-data/quakescan/internal/timeutil"
)

// DaySummary renders the coalescence trace for the day the series starts on,
// with the trigger threshold and located event origin times overlaid. It
// returns the written path, or "" when the series is empty.
func (w *Writer) DaySummary(s *scan.Series, normalise bool, threshold float64, events []*event.Event) (string, error) {
	if s == nil || s.Len() == 0 {
		return "", nil
	}

	day := timeutil.DayKey(s.Start)
	day0 := timeutil.DayStart(s.Start)
	vals := s.Canonical(normalise)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Coalescence %s", day)
	p.X.Label.Text = "Hour (UTC)"
	if normalise {
		p.Y.Label.Text = "Normalised coalescence"
	} else {
		p.Y.Label.Text = "Coalescence"
	}

	maxVal := threshold
	pts := make(plotter.XYs, 0, len(vals))
	for i, v := range vals {
		x := s.TimeAt(i).Sub(day0).Hours()
		pts = append(pts, plotter.XY{X: x, Y: v})
		if v > maxVal {
			maxVal = v
		}
	}

	trace, err := plotter.NewLine(pts)
	if err != nil {
		return "", fmt.Errorf("coalescence trace: %w", err)
	}
	trace.Color = color.RGBA{B: 180, A: 255}
	trace.Width = vg.Points(1)
	p.Add(trace)
	p.Legend.Add("coalescence", trace)

	if threshold > 0 {
		x0 := pts[0].X
		x1 := pts[len(pts)-1].X
		thLine, err := plotter.NewLine(plotter.XYs{{X: x0, Y: threshold}, {X: x1, Y: threshold}})
		if err != nil {
			return "", fmt.Errorf("threshold line: %w", err)
		}
		thLine.Color = color.RGBA{R: 200, A: 255}
		thLine.Width = vg.Points(1)
		p.Add(thLine)
		p.Legend.Add("threshold", thLine)
	}

	for i, ev := range events {
		x := ev.OriginTime.Sub(day0).Hours()
		evLine, err := plotter.NewLine(plotter.XYs{{X: x, Y: 0}, {X: x, Y: maxVal * 1.05}})
		if err != nil {
			return "", fmt.Errorf("event marker: %w", err)
		}
		evLine.Color = color.RGBA{G: 140, A: 255}
		evLine.Width = vg.Points(1)
		p.Add(evLine)
		if i == 0 {
			p.Legend.Add("event", evLine)
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	path := filepath.Join(w.dir, fmt.Sprintf("coalescence_%s.png", day))
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return "", fmt.Errorf("render day summary: %w", err)
	}
	f, err := w.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

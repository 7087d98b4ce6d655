package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/glacier-data/quakescan/internal/httputil"
)

// echartsAssetsPrefix is where chart pages load the echarts runtime from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleCoalescenceChart renders the coalescence trace for the requested
// window as an HTML line chart.
// Query params:
//   - day, or start/end (RFC3339); default last 24 hours
//   - max_points (optional; default 8000) to reduce payload size
func (s *Server) handleCoalescenceChart(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.InternalServerError(w, "no database configured")
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	series, err := s.db.LoadSeries(r.Context(), start, end)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("load series: %v", err))
		return
	}
	if series.Len() == 0 {
		httputil.NotFound(w, "no coalescence stored in window")
		return
	}

	stride := sampleStride(series.Len(), maxPoints(r))
	times, vals := downsample(series, s.normalise, stride)

	xs := make([]string, len(times))
	ys := make([]opts.LineData, len(vals))
	for i := range times {
		xs[i] = times[i].UTC().Format("15:04:05")
		ys[i] = opts.LineData{Value: vals[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "QuakeScan Coalescence", Theme: "dark", Width: "1400px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Coalescence", Subtitle: fmt.Sprintf("%s to %s ticks=%d stride=%d", start.Format(time.RFC3339), end.Format(time.RFC3339), len(vals), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xs).AddSeries("coalescence", ys)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleEventMap renders located events as a plan-view scatter, coloured by
// depth.
// Query params:
//   - day, or start/end (RFC3339); default last 24 hours
func (s *Server) handleEventMap(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.InternalServerError(w, "no database configured")
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	events, err := s.db.EventsBetween(r.Context(), start, end)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list events: %v", err))
		return
	}
	if len(events) == 0 {
		httputil.NotFound(w, "no events in window")
		return
	}

	data := make([]opts.ScatterData, 0, len(events))
	maxAbs := 0.0
	maxDepth := 0.0
	for _, ev := range events {
		h := ev.Hypocentre
		if math.Abs(h.X) > maxAbs {
			maxAbs = math.Abs(h.X)
		}
		if math.Abs(h.Y) > maxAbs {
			maxAbs = math.Abs(h.Y)
		}
		if h.Z > maxDepth {
			maxDepth = h.Z
		}
		data = append(data, opts.ScatterData{Value: []interface{}{h.X, h.Y, h.Z}})
	}
	if maxDepth == 0 {
		maxDepth = 1
	}

	// Axis ranges come from the grid when a travel-time table is wired,
	// falling back to the data extent.
	var xMin, xMax, yMin, yMax float64
	if s.table != nil {
		g := s.table.Grid
		xMin, xMax = g.LL.X, g.UR.X
		yMin, yMax = g.LL.Y, g.UR.Y
	} else {
		pad := maxAbs * 1.05
		if pad == 0 {
			pad = 1.0
		}
		xMin, xMax = -pad, pad
		yMin, yMax = -pad, pad
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "QuakeScan Events", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Located Events", Subtitle: fmt.Sprintf("%s to %s events=%d", start.Format(time.RFC3339), end.Format(time.RFC3339), len(events))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: xMin, Max: xMax, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: yMin, Max: yMax, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxDepth),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("events", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

package monitor

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/glacier-data/quakescan/internal/httputil"
	"github.com/glacier-data/quakescan/internal/scan"
	"github.com/glacier-data/quakescan/internal/timeutil"
)

// parseRange reads the query window. A day parameter selects that UTC day;
// otherwise start/end are RFC3339 with a default of the last 24 hours.
func parseRange(r *http.Request) (start, end time.Time, err error) {
	q := r.URL.Query()
	if day := q.Get("day"); day != "" {
		d, perr := time.Parse(timeutil.DayKeyFormat, day)
		if perr != nil {
			return start, end, fmt.Errorf("bad day %q (want %s)", day, timeutil.DayKeyFormat)
		}
		start = d.UTC()
		return start, start.Add(24 * time.Hour), nil
	}

	end = time.Now().UTC()
	if v := q.Get("end"); v != "" {
		end, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, fmt.Errorf("bad end %q (want RFC3339)", v)
		}
	}
	start = end.Add(-24 * time.Hour)
	if v := q.Get("start"); v != "" {
		start, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, fmt.Errorf("bad start %q (want RFC3339)", v)
		}
	}
	if !start.Before(end) {
		return start, end, fmt.Errorf("start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

// maxPoints reads the downsampling cap, defaulting to 8000.
func maxPoints(r *http.Request) int {
	points := 8000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			points = v
		}
	}
	return points
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
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
	httputil.WriteJSONOK(w, events)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.InternalServerError(w, "no database configured")
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cands, err := s.db.CandidatesBetween(r.Context(), start, end)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list candidates: %v", err))
		return
	}
	httputil.WriteJSONOK(w, cands)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.InternalServerError(w, "no database configured")
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	runs, err := s.db.RunsBetween(r.Context(), start, end)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, runs)
}

// seriesResponse is the JSON shape of a coalescence window, columns aligned
// by tick.
type seriesResponse struct {
	Start     time.Time `json:"start"`
	IntervalS float64   `json:"interval_s"`
	Stride    int       `json:"stride"`
	Raw       []float64 `json:"raw"`
	Norm      []float64 `json:"norm"`
	Node      []int     `json:"node"`
	NContrib  []int     `json:"ncontrib"`
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
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

	stride := sampleStride(series.Len(), maxPoints(r))
	resp := seriesResponse{
		Start:     series.Start,
		IntervalS: series.Interval.Seconds() * float64(stride),
		Stride:    stride,
	}
	for i := 0; i < series.Len(); i += stride {
		resp.Raw = append(resp.Raw, series.Raw[i])
		resp.Norm = append(resp.Norm, series.Norm[i])
		resp.Node = append(resp.Node, series.Node[i])
		resp.NContrib = append(resp.NContrib, series.NContrib[i])
	}
	httputil.WriteJSONOK(w, resp)
}

// sampleStride picks the smallest stride that keeps n/stride within limit.
func sampleStride(n, limit int) int {
	if limit <= 0 || n <= limit {
		return 1
	}
	stride := n / limit
	if n%limit != 0 {
		stride++
	}
	return stride
}

// downsample returns every stride-th tick of the canonical signal with its
// tick time, shared by the chart handlers.
func downsample(series *scan.Series, normalise bool, stride int) (times []time.Time, vals []float64) {
	canonical := series.Canonical(normalise)
	for i := 0; i < series.Len(); i += stride {
		times = append(times, series.TimeAt(i))
		vals = append(vals, canonical[i])
	}
	return times, vals
}

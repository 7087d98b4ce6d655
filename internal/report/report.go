// Package report writes detection results to files: one CSV per event, one
// pick CSV per event, a per-day candidate CSV, and a per-day summary plot.
// Column sets are stable so downstream tooling can parse them blind.
package report

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/glacier-data/quakescan/internal/event"
	"github.com/glacier-data/quakescan/internal/fsutil"
	"github.com/glacier-data/quakescan/internal/security"
)

// Writer produces report files under a single flat output directory.
type Writer struct {
	fs  fsutil.FileSystem
	dir string
}

// NewWriter prepares a writer rooted at dir, creating it if needed. A nil
// filesystem means the real one.
func NewWriter(dir string, fs fsutil.FileSystem) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("report: output directory required")
	}
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &Writer{fs: fs, dir: dir}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

var eventHeader = []string{
	"event_id", "origin_time", "x_m", "y_m", "z_m", "node",
	"peak_value", "n_contrib",
	"sigma_x_m", "sigma_y_m", "sigma_z_m", "sigma_capped",
	"global_sigma_m", "centroid_x_m", "centroid_y_m", "centroid_z_m",
	"on_boundary", "valid_picks",
	"trigger_id", "trigger_peak_time", "trigger_peak_value",
	"trigger_start", "trigger_end", "trigger_threshold", "trigger_merged",
}

// WriteEvent writes the single-row event record file and returns its path.
func (w *Writer) WriteEvent(ev *event.Event) (string, error) {
	if ev == nil {
		return "", fmt.Errorf("report: nil event")
	}
	row := []string{
		ev.ID.String(),
		formatTime(ev.OriginTime),
		fmt.Sprintf("%.1f", ev.Hypocentre.X),
		fmt.Sprintf("%.1f", ev.Hypocentre.Y),
		fmt.Sprintf("%.1f", ev.Hypocentre.Z),
		strconv.Itoa(ev.Node),
		fmt.Sprintf("%.6f", ev.PeakValue),
		strconv.Itoa(ev.NContrib),
		fmt.Sprintf("%.1f", ev.Uncertainty.Sigma.X),
		fmt.Sprintf("%.1f", ev.Uncertainty.Sigma.Y),
		fmt.Sprintf("%.1f", ev.Uncertainty.Sigma.Z),
		strconv.FormatBool(ev.Uncertainty.Capped),
		fmt.Sprintf("%.1f", ev.Uncertainty.GlobalSigma),
		fmt.Sprintf("%.1f", ev.Uncertainty.Centroid.X),
		fmt.Sprintf("%.1f", ev.Uncertainty.Centroid.Y),
		fmt.Sprintf("%.1f", ev.Uncertainty.Centroid.Z),
		strconv.FormatBool(ev.OnBoundary),
		strconv.Itoa(ev.ValidPicks()),
		ev.Triggered.ID.String(),
		formatTime(ev.Triggered.PeakTime),
		fmt.Sprintf("%.6f", ev.Triggered.PeakValue),
		formatTime(ev.Triggered.Start),
		formatTime(ev.Triggered.End),
		fmt.Sprintf("%.6f", ev.Triggered.Threshold),
		strconv.Itoa(ev.Triggered.Merged),
	}
	name := "event_" + ev.ID.String() + ".csv"
	return w.writeCSV(name, eventHeader, [][]string{row})
}

var pickHeader = []string{
	"event_id", "station", "phase", "pick_time", "error_s", "snr", "valid", "reason",
}

// WritePicks writes the event's pick file, one row per station/phase pair in
// pick order. Failed picks keep their row with an empty pick_time and the
// reason filled in.
func (w *Writer) WritePicks(ev *event.Event) (string, error) {
	if ev == nil {
		return "", fmt.Errorf("report: nil event")
	}
	rows := make([][]string, 0, len(ev.Picks))
	for _, p := range ev.Picks {
		rows = append(rows, []string{
			ev.ID.String(),
			p.Station,
			p.Phase,
			formatTime(p.Time),
			fmt.Sprintf("%.4f", p.Error),
			fmt.Sprintf("%.2f", p.SNR),
			strconv.FormatBool(p.Valid),
			p.Reason,
		})
	}
	name := "picks_" + ev.ID.String() + ".csv"
	return w.writeCSV(name, pickHeader, rows)
}

var candidateHeader = []string{
	"candidate_id", "peak_time", "peak_value", "peak_node",
	"start", "end", "span_s", "threshold", "merged",
}

// WriteCandidates writes the day's triggered candidates. An empty slice still
// produces a header-only file so a quiet day is distinguishable from a day
// that was never processed.
func (w *Writer) WriteCandidates(day string, cands []event.Candidate) (string, error) {
	rows := make([][]string, 0, len(cands))
	for _, c := range cands {
		rows = append(rows, []string{
			c.ID.String(),
			formatTime(c.PeakTime),
			fmt.Sprintf("%.6f", c.PeakValue),
			strconv.Itoa(c.PeakNode),
			formatTime(c.Start),
			formatTime(c.End),
			fmt.Sprintf("%.3f", c.Span().Seconds()),
			fmt.Sprintf("%.6f", c.Threshold),
			strconv.Itoa(c.Merged),
		})
	}
	name := "candidates_" + security.SanitizeFilename(day) + ".csv"
	return w.writeCSV(name, candidateHeader, rows)
}

// writeCSV creates name under the output directory and writes header plus
// rows through the filesystem seam.
func (w *Writer) writeCSV(name string, header []string, rows [][]string) (string, error) {
	path := filepath.Join(w.dir, name)
	f, err := w.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	cw := csv.NewWriter(f)
	cw.Write(header)
	for _, row := range rows {
		cw.Write(row)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

// formatTime renders t for CSV output. The zero time renders empty, which is
// how absent pick times appear.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

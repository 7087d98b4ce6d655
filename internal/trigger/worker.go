package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/glacier-data/quakescan/internal/event"
	"github.com/glacier-data/quakescan/internal/scan"
	"github.com/glacier-data/quakescan/internal/timeutil"
)

// SeriesSource loads a stored coalescence series covering [start, end].
type SeriesSource interface {
	LoadSeries(ctx context.Context, start, end time.Time) (*scan.Series, error)
}

// CandidateStore atomically replaces the candidates recorded for a span.
// Replacement rather than plain insert keeps re-runs over overlapping
// windows from duplicating detections.
type CandidateStore interface {
	ReplaceCandidates(ctx context.Context, start, end time.Time, cands []event.Candidate) error
}

// Worker periodically re-triggers the recent coalescence series. It trails
// the detect stage with a lookback window wider than its interval so gaps in
// the worker's own uptime are swept up on the next run.
type Worker struct {
	Source   SeriesSource
	Store    CandidateStore
	Cfg      Config
	Interval time.Duration // how often to run
	Window   time.Duration // lookback window, wider than Interval
	Clock    timeutil.Clock
	StopChan chan struct{}
}

// NewWorker returns a worker with a 5 minute interval and a 15 minute
// lookback window.
func NewWorker(source SeriesSource, store CandidateStore, cfg Config) *Worker {
	return &Worker{
		Source:   source,
		Store:    store,
		Cfg:      cfg,
		Interval: 5 * time.Minute,
		Window:   15 * time.Minute,
		Clock:    timeutil.RealClock{},
		StopChan: make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *Worker) Start() {
	go func() {
		ticker := w.Clock.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if err := w.RunOnce(context.Background()); err != nil {
					logf("worker run error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *Worker) Stop() {
	close(w.StopChan)
}

// RunOnce triggers the window trailing the current time.
func (w *Worker) RunOnce(ctx context.Context) error {
	now := w.Clock.Now().UTC()
	return w.RunRange(ctx, now.Add(-w.Window), now)
}

// RunRange loads the stored series covering [start, end], triggers it, and
// replaces the span's candidates with the result.
func (w *Worker) RunRange(ctx context.Context, start, end time.Time) error {
	series, err := w.Source.LoadSeries(ctx, start, end)
	if err != nil {
		return fmt.Errorf("failed to load coalescence series: %w", err)
	}
	if series == nil || series.Len() == 0 {
		logf("worker run skipped, no coalescence in [%s, %s]",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
		return nil
	}

	cands, thr, err := Run(series, w.Cfg)
	if err != nil {
		return err
	}
	if err := w.Store.ReplaceCandidates(ctx, start, end, cands); err != nil {
		return fmt.Errorf("failed to store candidates: %w", err)
	}
	logf("%d candidates in [%s, %s], threshold %.4f",
		len(cands), start.Format(time.RFC3339), end.Format(time.RFC3339), thr)
	return nil
}

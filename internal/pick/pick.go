// Package pick measures phase arrival times for located events by fitting a
// Gaussian to the onset function around each predicted arrival. Picks that
// fail the fit keep their row with a reason, so a day's picks always line up
// with stations times phases.
package pick

import (
	"fmt"
	"time"

	"github.com/glacier-data/quakescan/internal/event"
	"github.com/glacier-data/quakescan/internal/lut"
	"github.com/glacier-data/quakescan/internal/monitoring"
	"github.com/glacier-data/quakescan/internal/onset"
	"github.com/glacier-data/quakescan/internal/timeutil"
)

var logf = monitoring.Prefixed("Pick")

func errUnknownNoiseMode(s string) error {
	return fmt.Errorf("unknown noise mode %q (want rms or std)", s)
}

// Config controls picking.
type Config struct {
	// Window is the base half-width of the pick window around the
	// predicted arrival.
	Window time.Duration

	// FractionTT widens the half-width by this fraction of the travel
	// time, since model error grows with distance.
	FractionTT float64

	// NoiseWindow is the span immediately before the pick window used for
	// the SNR denominator.
	NoiseWindow time.Duration

	// Noise selects the noise statistic.
	Noise NoiseMode

	// MaxIter bounds the Gauss-Newton iterations. Zero means 50.
	MaxIter int

	// MinSNR flags picks below this ratio as invalid. Zero disables the
	// gate.
	MinSNR float64
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("pick window must be positive, got %v", c.Window)
	}
	if c.FractionTT < 0 {
		return fmt.Errorf("travel-time fraction must be non-negative, got %v", c.FractionTT)
	}
	if c.NoiseWindow <= 0 {
		return fmt.Errorf("noise window must be positive, got %v", c.NoiseWindow)
	}
	if c.Noise != NoiseRMS && c.Noise != NoiseSTD {
		return fmt.Errorf("unknown noise mode %d", int(c.Noise))
	}
	if c.MaxIter < 0 {
		return fmt.Errorf("max iterations must be non-negative, got %d", c.MaxIter)
	}
	if c.MinSNR < 0 {
		return fmt.Errorf("minimum snr must be non-negative, got %v", c.MinSNR)
	}
	return nil
}

// Picker picks arrivals against one travel-time table and one set of onset
// series.
type Picker struct {
	table  *lut.Table
	onsets []*onset.Series
	cfg    Config
}

// NewPicker binds onset series to the table's pairs. Unknown stations are
// ignored with a log line; a pair with no series yields a flagged pick.
func NewPicker(table *lut.Table, series []*onset.Series, cfg Config) (*Picker, error) {
	if table == nil {
		return nil, fmt.Errorf("travel-time table is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxIter == 0 {
		cfg.MaxIter = 50
	}
	p := &Picker{table: table, onsets: make([]*onset.Series, table.NumPairs()), cfg: cfg}
	for _, s := range series {
		if s == nil {
			continue
		}
		pair := table.PairFor(s.Station, s.Phase)
		if pair < 0 {
			logf("no travel-time pair for station %s phase %s, ignoring its onset series", s.Station, s.Phase)
			continue
		}
		if p.onsets[pair] != nil {
			return nil, fmt.Errorf("duplicate onset series for station %s phase %s", s.Station, s.Phase)
		}
		p.onsets[pair] = s
	}
	return p, nil
}

// PickEvent returns one pick per (station, phase) pair in table order.
// Failures are flagged, never dropped.
func (p *Picker) PickEvent(ev *event.Event) []event.Pick {
	picks := make([]event.Pick, 0, p.table.NumPairs())
	for pair := 0; pair < p.table.NumPairs(); pair++ {
		stIdx, phIdx := p.table.Pair(pair)
		station := p.table.Stations[stIdx].ID
		phase := p.table.Phases[phIdx]
		tt := p.table.TT[pair][ev.Node]
		picks = append(picks, p.pickOne(p.onsets[pair], station, phase, ev.OriginTime, tt))
	}
	return picks
}

// pickOne fits one arrival. tt is the modelled travel time in seconds from
// the event origin.
func (p *Picker) pickOne(s *onset.Series, station, phase string, origin time.Time, tt float64) event.Pick {
	pk := event.Pick{Station: station, Phase: phase}
	invalid := func(format string, args ...interface{}) event.Pick {
		pk.Valid = false
		pk.Reason = fmt.Sprintf(format, args...)
		return pk
	}

	if s == nil {
		return invalid("no onset series for pair")
	}

	pred := origin.Add(time.Duration(tt * float64(time.Second)))
	halfW := p.cfg.Window + time.Duration(p.cfg.FractionTT*tt*float64(time.Second))
	w0 := pred.Add(-halfW)
	w1 := pred.Add(halfW)

	ts, ys, startTime := windowSamples(s, w0, w1)
	if len(ts) < 5 {
		return invalid("only %d valid onset samples in pick window", len(ts))
	}

	// Shift the window floor to zero so the fit amplitude measures the
	// peak above the local background.
	minY := ys[0]
	for _, y := range ys {
		if y < minY {
			minY = y
		}
	}
	shifted := make([]float64, len(ys))
	for i, y := range ys {
		shifted[i] = y - minY
	}

	fit := fitGaussian(ts, shifted, p.cfg.MaxIter)
	if !fit.Converged {
		return invalid("gaussian fit did not converge after %d iterations", fit.Iters)
	}
	if fit.A <= 0 {
		return invalid("fitted amplitude %.4g is not positive", fit.A)
	}
	windowLen := ts[len(ts)-1] - ts[0]
	if fit.Mu < ts[0] || fit.Mu > ts[len(ts)-1] {
		return invalid("fitted peak %.4fs outside pick window", fit.Mu)
	}
	if fit.Sigma > windowLen {
		return invalid("fitted width %.4fs exceeds pick window", fit.Sigma)
	}

	noise := p.noiseBefore(s, w0)
	if noise <= 0 {
		return invalid("no usable noise window before pick")
	}

	pk.Time = startTime.Add(time.Duration(fit.Mu * float64(time.Second)))
	pk.Error = fit.Sigma
	pk.SNR = fit.A / noise
	if p.cfg.MinSNR > 0 && pk.SNR < p.cfg.MinSNR {
		pk.Reason = fmt.Sprintf("snr %.2f below minimum %.2f", pk.SNR, p.cfg.MinSNR)
		return pk
	}
	pk.Valid = true
	return pk
}

// windowSamples collects the valid samples of s within [w0, w1]. ts holds
// offsets in seconds from the first returned sample's instant.
func windowSamples(s *onset.Series, w0, w1 time.Time) (ts, ys []float64, startTime time.Time) {
	i0 := int(timeutil.SampleIndex(w0, s.Start, s.Rate))
	if i0 < 0 {
		i0 = 0
	}
	var started bool
	for i := i0; i < s.NumSamples(); i++ {
		at := s.TimeAt(i)
		if at.Before(w0) {
			continue
		}
		if at.After(w1) {
			break
		}
		if !s.Valid[i] {
			continue
		}
		if !started {
			started = true
			startTime = at
		}
		ts = append(ts, at.Sub(startTime).Seconds())
		ys = append(ys, s.Values[i])
	}
	return ts, ys, startTime
}

// noiseBefore measures the onset noise in the span immediately before the
// pick window.
func (p *Picker) noiseBefore(s *onset.Series, w0 time.Time) float64 {
	n0 := w0.Add(-p.cfg.NoiseWindow)
	var vals []float64
	for i := 0; i < s.NumSamples(); i++ {
		at := s.TimeAt(i)
		if at.Before(n0) {
			continue
		}
		if !at.Before(w0) {
			break
		}
		if s.Valid[i] {
			vals = append(vals, s.Values[i])
		}
	}
	if len(vals) < 3 {
		return 0
	}
	return noiseLevel(vals, p.cfg.Noise)
}

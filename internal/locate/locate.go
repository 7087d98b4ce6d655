// Package locate turns a triggered candidate into a located event. It
// re-scans a marginal window around the candidate peak with full stack
// volumes retained, marginalises them over time, and refines the peak node
// to a sub-node hypocentre with per-axis uncertainties.
package locate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/glacier-data/quakescan/internal/event"
	"github.com/glacier-data/quakescan/internal/geom"
	"github.com/glacier-data/quakescan/internal/lut"
	"github.com/glacier-data/quakescan/internal/monitoring"
	"github.com/glacier-data/quakescan/internal/onset"
	"github.com/glacier-data/quakescan/internal/scan"
)

var logf = monitoring.Prefixed("Locate")

// Quality gates on the re-scanned candidate. Both surface as wrapped
// sentinel errors so callers can cull the candidate instead of treating it
// as a scan fault.
var (
	// ErrFadedPeak reports a re-scanned peak under the candidate's trigger
	// threshold.
	ErrFadedPeak = errors.New("re-scanned peak below the trigger threshold")

	// ErrPeakAtEdge reports a peak on the first or last tick of the
	// marginal window, where the true maximum likely lies outside it.
	ErrPeakAtEdge = errors.New("re-scanned peak on the marginal window edge")
)

// CollapseMode selects how per-tick volumes marginalise over time.
type CollapseMode int

const (
	// CollapseSum integrates the stack over the window.
	CollapseSum CollapseMode = iota
	// CollapseMax keeps each node's peak over the window.
	CollapseMax
)

func (m CollapseMode) String() string {
	switch m {
	case CollapseSum:
		return "sum"
	case CollapseMax:
		return "max"
	default:
		return fmt.Sprintf("CollapseMode(%d)", int(m))
	}
}

// ParseCollapseMode converts a configuration string to a CollapseMode.
func ParseCollapseMode(s string) (CollapseMode, error) {
	switch s {
	case "sum":
		return CollapseSum, nil
	case "max":
		return CollapseMax, nil
	default:
		return 0, fmt.Errorf("unknown collapse mode %q (want sum or max)", s)
	}
}

// Config controls location.
type Config struct {
	// MarginalWindow is the half-width of the re-scan around the candidate
	// peak.
	MarginalWindow time.Duration

	// Collapse selects the time marginalisation.
	Collapse CollapseMode

	// Scan configures the marginal-window re-scan. KeepVolumes is forced
	// on; the tick rate may be finer than the detection scan's.
	Scan scan.Config

	// Upsample is the refinement factor for the origin time, in evaluation
	// points per tick. Zero means 10.
	Upsample int
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.MarginalWindow <= 0 {
		return fmt.Errorf("marginal window must be positive, got %v", c.MarginalWindow)
	}
	if c.Collapse != CollapseSum && c.Collapse != CollapseMax {
		return fmt.Errorf("unknown collapse mode %d", int(c.Collapse))
	}
	if c.Upsample < 0 {
		return fmt.Errorf("upsample factor must be non-negative, got %d", c.Upsample)
	}
	return c.Scan.Validate()
}

// Locator locates candidates against one travel-time table and one set of
// onset series. Onsets here should come from a centred STA/LTA so their
// peaks sit on the arrivals rather than trailing them.
type Locator struct {
	table   *lut.Table
	scanner *scan.Scanner
	cfg     Config
}

// NewLocator builds a locator. The onset series bind to the table's pairs
// under the same rules as the scan engine.
func NewLocator(table *lut.Table, series []*onset.Series, cfg Config) (*Locator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Upsample == 0 {
		cfg.Upsample = 10
	}
	scanCfg := cfg.Scan
	scanCfg.KeepVolumes = true
	scanner, err := scan.NewScanner(table, series, scanCfg)
	if err != nil {
		return nil, err
	}
	return &Locator{table: table, scanner: scanner, cfg: cfg}, nil
}

// Locate re-scans the marginal window around the candidate and reduces it to
// a located event. The re-scanned peak must clear the candidate's trigger
// threshold (when one is set) and sit strictly inside the window; gate
// failures return wrapped ErrFadedPeak or ErrPeakAtEdge. Degenerate geometry
// still degrades to wider, flagged uncertainties rather than failing.
func (l *Locator) Locate(ctx context.Context, cand event.Candidate) (*event.Event, error) {
	w0 := cand.PeakTime.Add(-l.cfg.MarginalWindow)
	w1 := cand.PeakTime.Add(l.cfg.MarginalWindow)
	res, err := l.scanner.Scan(ctx, w0, w1)
	if err != nil {
		return nil, fmt.Errorf("marginal window scan: %w", err)
	}
	arena := res.Arena
	numTicks := arena.NumTicks()
	if numTicks == 0 {
		return nil, fmt.Errorf("marginal window [%v, %v] produced no ticks", w0, w1)
	}

	grid := l.table.Grid
	marginal := make([]float64, grid.NumNodes())
	for i := 0; i < numTicks; i++ {
		vol := arena.Volume(i)
		switch l.cfg.Collapse {
		case CollapseMax:
			for j, v := range vol {
				if v > marginal[j] {
					marginal[j] = v
				}
			}
		default:
			floats.Add(marginal, vol)
		}
	}

	best := floats.MaxIdx(marginal)
	onBoundary := grid.OnBoundary(best)
	if onBoundary {
		logf("candidate %s peaks on the grid boundary at node %d, location is a bound only", cand.ID, best)
	}

	// Origin time from the best node's coalescence history.
	history := make([]float64, numTicks)
	for i := 0; i < numTicks; i++ {
		history[i] = arena.Volume(i)[best]
	}
	peakTick := floats.MaxIdx(history)
	if numTicks > 2 && (peakTick == 0 || peakTick == numTicks-1) {
		return nil, fmt.Errorf("candidate %s peak sits at tick %d of %d: %w",
			cand.ID, peakTick, numTicks, ErrPeakAtEdge)
	}
	if cand.Threshold > 0 && history[peakTick] < cand.Threshold {
		return nil, fmt.Errorf("candidate %s re-scanned peak %.3f under threshold %.3f: %w",
			cand.ID, history[peakTick], cand.Threshold, ErrFadedPeak)
	}

	tickIdx := refineTimeIdx(history, l.cfg.Upsample)
	interval := l.scanner.Interval()
	originTime := arena.TimeAt(0).Add(time.Duration(tickIdx * float64(interval)))
	peakValue := history[int(math.Round(tickIdx))]

	hypo, unc := l.refine(marginal, best)
	centroid, global := covariance(marginal, grid)
	unc.Centroid = centroid
	unc.GlobalSigma = global

	ev := &event.Event{
		ID:          uuid.New(),
		Triggered:   cand,
		OriginTime:  originTime,
		Hypocentre:  hypo,
		Node:        best,
		PeakValue:   peakValue,
		NContrib:    l.scanner.ContribCount(originTime, best),
		Uncertainty: unc,
		OnBoundary:  onBoundary,
	}
	logf("candidate %s located at (%.0f, %.0f, %.0f) m, origin %s, peak %.3f",
		cand.ID, hypo.X, hypo.Y, hypo.Z, originTime.Format(time.RFC3339Nano), peakValue)
	return ev, nil
}

// refine turns the marginal volume's peak into a sub-node hypocentre and
// per-axis sigmas. Each axis tries the log-quadratic fit first, then the
// half-maximum width, and finally degrades to half the axis extent with the
// capped flag set.
func (l *Locator) refine(marginal []float64, best int) (geom.Vec3, event.Uncertainty) {
	grid := l.table.Grid
	pos := grid.Coords(best)
	var unc event.Uncertainty

	coords := [3]*float64{&pos.X, &pos.Y, &pos.Z}
	sigmas := [3]*float64{&unc.Sigma.X, &unc.Sigma.Y, &unc.Sigma.Z}
	for axis := 0; axis < 3; axis++ {
		_, h, count := axisStep(grid, axis)
		halfExtent := float64(count-1) * h / 2
		if halfExtent == 0 {
			halfExtent = h / 2
		}

		sigma, haveSigma := 0.0, false
		if vm, v0, vp, ok := marginalTriple(marginal, grid, best, axis); ok {
			if delta, s, ok := quadRefine(vm, v0, vp, h); ok {
				*coords[axis] += delta
				sigma, haveSigma = s, true
			}
		}
		if !haveSigma {
			sigma, haveSigma = fwhmSigma(marginal, grid, best, axis)
		}
		if !haveSigma || sigma > halfExtent {
			sigma = halfExtent
			unc.Capped = true
		}
		*sigmas[axis] = sigma
	}
	return pos, unc
}

package scan

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/glacier-data/quakescan/internal/lut"
	"github.com/glacier-data/quakescan/internal/monitoring"
	"github.com/glacier-data/quakescan/internal/onset"
	"github.com/glacier-data/quakescan/internal/timeutil"
)

var logf = monitoring.Prefixed("Scan")

// StackMode selects how pair values combine into a node's stack value.
type StackMode int

const (
	// StackSum adds the shifted onset values of all contributing pairs.
	StackSum StackMode = iota
	// StackProduct multiplies the contributing pair values and takes the
	// count-th root, so one silent station suppresses the node strongly.
	StackProduct
)

func (m StackMode) String() string {
	switch m {
	case StackSum:
		return "sum"
	case StackProduct:
		return "product"
	default:
		return fmt.Sprintf("StackMode(%d)", int(m))
	}
}

// ParseStackMode converts a configuration string to a StackMode.
func ParseStackMode(s string) (StackMode, error) {
	switch s {
	case "sum":
		return StackSum, nil
	case "product":
		return StackProduct, nil
	default:
		return 0, fmt.Errorf("unknown stack mode %q (want sum or product)", s)
	}
}

// Config controls a migration scan.
type Config struct {
	// TickRate is the coalescence sampling rate in ticks per second. It is
	// independent of the waveform sampling rates.
	TickRate float64

	// Stack selects the pair combination rule.
	Stack StackMode

	// Normalise makes the contributor-normalised stack the canonical
	// detection signal. The raw maximum is recorded either way.
	Normalise bool

	// Workers is the number of stacking goroutines. Zero means GOMAXPROCS.
	Workers int

	// KeepVolumes retains the full per-node stack volume for every tick in
	// an Arena. The locator needs this over its marginal window; continuous
	// detection should leave it off.
	KeepVolumes bool

	// ArenaBytes caps the arena allocation when KeepVolumes is set. Zero
	// means DefaultArenaBytes.
	ArenaBytes int64
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.TickRate <= 0 {
		return fmt.Errorf("tick rate must be positive, got %v", c.TickRate)
	}
	if c.Stack != StackSum && c.Stack != StackProduct {
		return fmt.Errorf("unknown stack mode %d", int(c.Stack))
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.ArenaBytes < 0 {
		return fmt.Errorf("arena byte limit must be non-negative, got %d", c.ArenaBytes)
	}
	return nil
}

// Result carries the outputs of a scan. Arena is nil unless the scan was
// configured to keep volumes; on interruption it is filled only for the
// ticks the series contains.
type Result struct {
	Series *Series
	Arena  *Arena
}

// Scanner migrates onset functions through a travel-time table. A Scanner is
// safe for repeated Scan calls but not for concurrent ones.
type Scanner struct {
	table    *lut.Table
	onsets   []*onset.Series
	matched  int
	cfg      Config
	interval time.Duration

	baseIdx []float64
}

// NewScanner binds onset series to the travel-time table's station/phase
// pairs. Series for stations or phases absent from the table are logged and
// ignored; pairs with no series simply never contribute. At least one series
// must match.
func NewScanner(table *lut.Table, series []*onset.Series, cfg Config) (*Scanner, error) {
	if table == nil {
		return nil, fmt.Errorf("travel-time table is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc := &Scanner{
		table:    table,
		onsets:   make([]*onset.Series, table.NumPairs()),
		cfg:      cfg,
		interval: timeutil.TickInterval(cfg.TickRate),
		baseIdx:  make([]float64, table.NumPairs()),
	}
	for _, s := range series {
		if s == nil {
			continue
		}
		if s.Rate <= 0 {
			return nil, fmt.Errorf("onset series %s/%s has non-positive rate %v", s.Station, s.Phase, s.Rate)
		}
		p := table.PairFor(s.Station, s.Phase)
		if p < 0 {
			logf("no travel-time pair for station %s phase %s, ignoring its onset series", s.Station, s.Phase)
			continue
		}
		if sc.onsets[p] != nil {
			return nil, fmt.Errorf("duplicate onset series for station %s phase %s", s.Station, s.Phase)
		}
		sc.onsets[p] = s
		sc.matched++
	}
	if sc.matched == 0 {
		return nil, fmt.Errorf("no onset series matches any station/phase pair in the travel-time table")
	}
	return sc, nil
}

// Interval returns the tick spacing derived from the configured tick rate.
func (sc *Scanner) Interval() time.Duration { return sc.interval }

// NumTicks returns how many ticks a scan of [start, end] produces.
func (sc *Scanner) NumTicks(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start)/sc.interval) + 1
}

// tickPartial is one worker's best nodes for a single tick.
type tickPartial struct {
	raw       float64
	rawNode   int
	rawCount  int
	norm      float64
	normNode  int
	normCount int
}

// Scan stacks every tick in [start, end] and returns the coalescence series.
// Ticks land at start + i*Interval; when the span is not a whole number of
// intervals the final tick falls short of end.
//
// Cancellation is honoured between ticks: the partial series built so far is
// returned alongside the context's error and a resumed scan starting at
// Series.End continues the run seamlessly.
func (sc *Scanner) Scan(ctx context.Context, start, end time.Time) (*Result, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("scan span ends %v before it starts %v", end, start)
	}
	numTicks := sc.NumTicks(start, end)
	numNodes := sc.table.Grid.NumNodes()

	workers := sc.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > numNodes {
		workers = numNodes
	}
	chunk := (numNodes + workers - 1) / workers

	res := &Result{Series: NewSeries(start, sc.interval)}
	if sc.cfg.KeepVolumes {
		arena, err := newArena(start, sc.interval, numTicks, numNodes, sc.cfg.ArenaBytes)
		if err != nil {
			return nil, err
		}
		res.Arena = arena
	}

	partials := make([]tickPartial, workers)
	var wg sync.WaitGroup
	for i := 0; i < numTicks; i++ {
		select {
		case <-ctx.Done():
			return res, fmt.Errorf("scan interrupted after %d of %d ticks: %w", i, numTicks, ctx.Err())
		default:
		}

		tickTime := res.Series.TimeAt(i)
		for p, s := range sc.onsets {
			if s != nil {
				sc.baseIdx[p] = timeutil.SampleIndex(tickTime, s.Start, s.Rate)
			}
		}
		var vol []float64
		if res.Arena != nil {
			vol = res.Arena.Volume(i)
		}

		wg.Add(workers)
		for w := 0; w < workers; w++ {
			lo := w * chunk
			hi := lo + chunk
			if hi > numNodes {
				hi = numNodes
			}
			go func(w, lo, hi int) {
				defer wg.Done()
				partials[w] = sc.stackRange(lo, hi, vol)
			}(w, lo, hi)
		}
		wg.Wait()

		raw, rawNode, rawCount := math.Inf(-1), -1, 0
		norm, normNode, normCount := math.Inf(-1), -1, 0
		for _, p := range partials {
			if p.raw > raw {
				raw, rawNode, rawCount = p.raw, p.rawNode, p.rawCount
			}
			if p.norm > norm {
				norm, normNode, normCount = p.norm, p.normNode, p.normCount
			}
		}
		node, ncontrib := rawNode, rawCount
		if sc.cfg.Normalise {
			node, ncontrib = normNode, normCount
		}
		res.Series.Append(raw, norm, node, ncontrib)
	}
	return res, nil
}

// stackRange computes the stack for nodes [lo, hi) at the tick whose pair
// base indices are already staged. A node's value sums each pair's onset at
// the tick time plus that pair's travel time to the node. Ascending order
// with a strict comparison keeps the lowest node on ties. When vol is
// non-nil the canonical value of every node is written to vol[n]; ranges are
// disjoint so workers never overlap.
func (sc *Scanner) stackRange(lo, hi int, vol []float64) tickPartial {
	part := tickPartial{raw: math.Inf(-1), rawNode: -1, norm: math.Inf(-1), normNode: -1}
	tt := sc.table.TT
	for n := lo; n < hi; n++ {
		var sum, logSum float64
		count := 0
		zero := false
		for p, s := range sc.onsets {
			if s == nil {
				continue
			}
			v, ok := s.Interp(sc.baseIdx[p] + tt[p][n]*s.Rate)
			if !ok {
				continue
			}
			count++
			switch sc.cfg.Stack {
			case StackProduct:
				if v <= 0 {
					zero = true
				} else {
					logSum += math.Log(v)
				}
			default:
				sum += v
			}
		}

		var raw, norm float64
		switch {
		case count == 0:
			raw, norm = 0, 0
		case sc.cfg.Stack == StackProduct:
			// The count-th root makes the product a geometric mean, so it
			// is already contributor-normalised.
			if zero {
				raw = 0
			} else {
				raw = math.Exp(logSum / float64(count))
			}
			norm = raw
		default:
			raw = sum
			norm = sum / float64(count)
		}

		if raw > part.raw {
			part.raw, part.rawNode, part.rawCount = raw, n, count
		}
		if norm > part.norm {
			part.norm, part.normNode, part.normCount = norm, n, count
		}
		if vol != nil {
			if sc.cfg.Normalise {
				vol[n] = norm
			} else {
				vol[n] = raw
			}
		}
	}
	return part
}

// ContribCount reports how many bound pairs have a valid onset sample for an
// origin at the given instant and node.
func (sc *Scanner) ContribCount(t time.Time, node int) int {
	n := 0
	for p, s := range sc.onsets {
		if s == nil {
			continue
		}
		idx := timeutil.SampleIndex(t, s.Start, s.Rate) + sc.table.TT[p][node]*s.Rate
		if _, ok := s.Interp(idx); ok {
			n++
		}
	}
	return n
}

// RequiredSpan returns the waveform span onset generation must cover so that
// every tick in [start, end] has full travel-time support. Arrivals for an
// origin at end can come as late as end plus maxTT, the table's largest
// travel time. warmup is the onset settling length needed before the first
// read (the LTA window plus any filter transient) and lookahead the forward
// reach of a centred onset window.
func RequiredSpan(start, end time.Time, maxTT, warmup, lookahead time.Duration) (time.Time, time.Time) {
	return start.Add(-warmup), end.Add(maxTT + lookahead)
}

// Package trigger turns the continuous coalescence series into discrete
// event candidates: spans that exceed a detection threshold, reduced to
// their peaks and deduplicated by a minimum event interval.
package trigger

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/glacier-data/quakescan/internal/event"
	"github.com/glacier-data/quakescan/internal/monitoring"
	"github.com/glacier-data/quakescan/internal/scan"
)

var logf = monitoring.Prefixed("Trigger")

// Method selects how the detection threshold is derived.
type Method int

const (
	// Static uses a fixed threshold value.
	Static Method = iota
	// MAD derives the threshold from the series itself as
	// median + scale * 1.4826 * MAD, tracking the noise floor of the
	// window being triggered.
	MAD
)

func (m Method) String() string {
	switch m {
	case Static:
		return "static"
	case MAD:
		return "mad"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod converts a configuration string to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "static":
		return Static, nil
	case "mad":
		return MAD, nil
	default:
		return 0, fmt.Errorf("unknown threshold method %q (want static or mad)", s)
	}
}

// scaledMAD converts a median absolute deviation to a standard-deviation
// equivalent under a normal assumption.
const scaledMAD = 1.4826

// Config controls a trigger run.
type Config struct {
	// Method selects static or MAD thresholding.
	Method Method

	// Static is the threshold value when Method is Static.
	Static float64

	// MADScale is the multiplier on the scaled MAD when Method is MAD.
	MADScale float64

	// Normalise triggers on the contributor-normalised series instead of
	// the raw one. It must match the scan that produced the series.
	Normalise bool

	// MinInterval merges candidates whose peaks are closer than this,
	// keeping the larger peak. Zero disables merging.
	MinInterval time.Duration

	// MinContrib drops candidates whose peak stacked fewer contributors.
	// Zero disables the gate.
	MinContrib int
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	switch c.Method {
	case Static:
		if c.Static <= 0 {
			return fmt.Errorf("static threshold must be positive, got %v", c.Static)
		}
	case MAD:
		if c.MADScale <= 0 {
			return fmt.Errorf("mad scale must be positive, got %v", c.MADScale)
		}
	default:
		return fmt.Errorf("unknown threshold method %d", int(c.Method))
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("minimum event interval must be non-negative, got %v", c.MinInterval)
	}
	if c.MinContrib < 0 {
		return fmt.Errorf("minimum contributors must be non-negative, got %d", c.MinContrib)
	}
	return nil
}

// Run walks the series and returns the candidates in time order along with
// the threshold that was applied. An empty series yields no candidates and
// no error. A span still open at the end of the series is finalised at the
// last tick, so a detection straddling the window edge is not lost.
func Run(series *scan.Series, cfg Config) ([]event.Candidate, float64, error) {
	if err := cfg.Validate(); err != nil {
		return nil, 0, err
	}
	if series == nil || series.Len() == 0 {
		return nil, 0, nil
	}

	vals := series.Canonical(cfg.Normalise)
	thr := cfg.Static
	if cfg.Method == MAD {
		thr = madThreshold(vals, cfg.MADScale)
		logf("mad threshold %.4f over %d ticks", thr, len(vals))
	}

	var cands []event.Candidate
	inSpan := false
	spanStart, peakIdx := 0, 0
	peakVal := math.Inf(-1)

	closeSpan := func(endIdx int) {
		inSpan = false
		if cfg.MinContrib > 0 && series.NContrib[peakIdx] < cfg.MinContrib {
			logf("dropping candidate at %s: %d contributors at peak, need %d",
				series.TimeAt(peakIdx).Format(time.RFC3339Nano), series.NContrib[peakIdx], cfg.MinContrib)
			return
		}
		cands = append(cands, event.Candidate{
			ID:        uuid.New(),
			PeakTime:  series.TimeAt(peakIdx),
			PeakValue: peakVal,
			PeakNode:  series.Node[peakIdx],
			Start:     series.TimeAt(spanStart),
			End:       series.TimeAt(endIdx),
			Threshold: thr,
		})
	}

	for i, v := range vals {
		if v >= thr {
			if !inSpan {
				inSpan = true
				spanStart = i
				peakIdx = i
				peakVal = v
			} else if v > peakVal {
				peakIdx = i
				peakVal = v
			}
			continue
		}
		if inSpan {
			closeSpan(i - 1)
		}
	}
	if inSpan {
		closeSpan(series.Len() - 1)
	}

	return merge(cands, cfg.MinInterval), thr, nil
}

// merge folds candidates whose peaks are closer than minInterval into the
// one with the larger peak, with the earlier winning ties. Spans union and
// the fold count accumulates.
func merge(cands []event.Candidate, minInterval time.Duration) []event.Candidate {
	if minInterval <= 0 || len(cands) < 2 {
		return cands
	}
	out := cands[:1]
	for _, next := range cands[1:] {
		cur := &out[len(out)-1]
		if next.PeakTime.Sub(cur.PeakTime) >= minInterval {
			out = append(out, next)
			continue
		}
		folded := cur.Merged + next.Merged + 1
		if next.PeakValue > cur.PeakValue {
			start := cur.Start
			*cur = next
			cur.Start = start
		}
		cur.End = next.End
		cur.Merged = folded
	}
	return out
}

// madThreshold computes median + scale * 1.4826 * MAD over the series.
func madThreshold(vals []float64, scale float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	med := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	dev := make([]float64, len(vals))
	for i, v := range vals {
		dev[i] = math.Abs(v - med)
	}
	sort.Float64s(dev)
	mad := stat.Quantile(0.5, stat.Empirical, dev, nil)

	return med + scale*scaledMAD*mad
}

// Package observability bundles the Prometheus metrics for the detection
// pipeline and provides a ready-to-mount /metrics handler.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineCollector exposes scan, trigger, locate, and pick metrics.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	ScanTicks        prometheus.Counter
	ScanTickDuration prometheus.Histogram
	Coalescence      prometheus.Gauge

	Candidates prometheus.Counter
	Threshold  prometheus.Gauge

	LocateEvents   *prometheus.CounterVec
	LocateDuration prometheus.Histogram

	Picks *prometheus.CounterVec
}

// NewPipelineCollector registers pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scan_ticks_total",
		Help: "Cumulative number of coalescence ticks computed by the migration engine.",
	})
	ticks, err := registerCounter(reg, ticks, "scan_ticks_total")
	if err != nil {
		return nil, err
	}

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scan_tick_duration_seconds",
		Help:    "Wall time per migration tick over the whole grid.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
	tickDuration, err = registerHistogram(reg, tickDuration, "scan_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	coalescence := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scan_last_coalescence",
		Help: "Most recent canonical coalescence maximum over the grid.",
	})
	coalescence, err = registerGauge(reg, coalescence, "scan_last_coalescence")
	if err != nil {
		return nil, err
	}

	candidates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trigger_candidates_total",
		Help: "Cumulative number of triggered candidates after merging.",
	})
	candidates, err = registerCounter(reg, candidates, "trigger_candidates_total")
	if err != nil {
		return nil, err
	}

	threshold := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trigger_threshold",
		Help: "Detection threshold in force for the most recent trigger window.",
	})
	threshold, err = registerGauge(reg, threshold, "trigger_threshold")
	if err != nil {
		return nil, err
	}

	locateEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "locate_events_total",
		Help: "Candidates processed by the locator, labeled by outcome.",
	}, []string{"status"})
	locateEvents, err = registerCounterVec(reg, locateEvents, "locate_events_total")
	if err != nil {
		return nil, err
	}

	locateDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "locate_duration_seconds",
		Help:    "Wall time per candidate location, including the marginal re-scan.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	locateDuration, err = registerHistogram(reg, locateDuration, "locate_duration_seconds")
	if err != nil {
		return nil, err
	}

	picks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pick_picks_total",
		Help: "Phase picks produced, labeled by whether the fit was accepted.",
	}, []string{"valid"})
	picks, err = registerCounterVec(reg, picks, "pick_picks_total")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:         gatherer,
		ScanTicks:        ticks,
		ScanTickDuration: tickDuration,
		Coalescence:      coalescence,
		Candidates:       candidates,
		Threshold:        threshold,
		LocateEvents:     locateEvents,
		LocateDuration:   locateDuration,
		Picks:            picks,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PipelineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PipelineCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// AddTicks records n computed coalescence ticks.
func (c *PipelineCollector) AddTicks(n int) {
	if c == nil || c.ScanTicks == nil || n <= 0 {
		return
	}
	c.ScanTicks.Add(float64(n))
}

// ObserveTick records the wall time of one migration tick.
func (c *PipelineCollector) ObserveTick(d time.Duration) {
	if c == nil || c.ScanTickDuration == nil {
		return
	}
	c.ScanTickDuration.Observe(d.Seconds())
}

// SetCoalescence updates the latest canonical coalescence gauge.
func (c *PipelineCollector) SetCoalescence(v float64) {
	if c == nil || c.Coalescence == nil {
		return
	}
	c.Coalescence.Set(v)
}

// AddCandidates records n triggered candidates.
func (c *PipelineCollector) AddCandidates(n int) {
	if c == nil || c.Candidates == nil || n <= 0 {
		return
	}
	c.Candidates.Add(float64(n))
}

// SetThreshold updates the trigger threshold gauge.
func (c *PipelineCollector) SetThreshold(v float64) {
	if c == nil || c.Threshold == nil {
		return
	}
	c.Threshold.Set(v)
}

// ObserveLocate records one location attempt and its duration.
func (c *PipelineCollector) ObserveLocate(d time.Duration, err error) {
	if c == nil {
		return
	}
	status := "located"
	if err != nil {
		status = "failed"
	}
	if c.LocateEvents != nil {
		c.LocateEvents.WithLabelValues(status).Inc()
	}
	if c.LocateDuration != nil {
		c.LocateDuration.Observe(d.Seconds())
	}
}

// AddPicks records produced picks split by fit acceptance.
func (c *PipelineCollector) AddPicks(valid, invalid int) {
	if c == nil || c.Picks == nil {
		return
	}
	if valid > 0 {
		c.Picks.WithLabelValues("true").Add(float64(valid))
	}
	if invalid > 0 {
		c.Picks.WithLabelValues("false").Add(float64(invalid))
	}
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

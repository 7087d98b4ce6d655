// Package event defines the records that flow between the trigger, locator,
// picker, store, and reports.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/glacier-data/quakescan/internal/geom"
)

// Candidate is a triggered detection: a span of the coalescence series that
// exceeded threshold, reduced to its peak.
type Candidate struct {
	ID uuid.UUID `json:"id"`

	// PeakTime is the tick of maximum coalescence within the span.
	PeakTime  time.Time `json:"peak_time"`
	PeakValue float64   `json:"peak_value"`
	PeakNode  int       `json:"peak_node"`

	// Start and End bound the ticks that stayed at or above threshold.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Threshold is the value in force at the peak tick.
	Threshold float64 `json:"threshold"`

	// Merged counts later exceedances folded into this candidate by the
	// minimum event interval rule.
	Merged int `json:"merged"`
}

// Uncertainty carries the location spread estimates for an event.
type Uncertainty struct {
	// Sigma holds the per-axis one-sigma widths in metres from the local
	// quadratic fit around the peak.
	Sigma geom.Vec3 `json:"sigma"`

	// Capped is set when any axis width was clamped to half the grid
	// extent because the fit degenerated.
	Capped bool `json:"capped"`

	// GlobalSigma is the covariance spread in metres of the whole
	// marginalised volume, and Centroid its centre of mass.
	GlobalSigma float64   `json:"global_sigma"`
	Centroid    geom.Vec3 `json:"centroid"`
}

// Pick is a phase arrival measurement at one station. Failed fits keep their
// row with Valid false and a reason rather than disappearing.
type Pick struct {
	Station string `json:"station"`
	Phase   string `json:"phase"`

	Time  time.Time `json:"time"`
	Error float64   `json:"error"` // one sigma, seconds
	SNR   float64   `json:"snr"`

	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Event is a located detection.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Triggered Candidate `json:"triggered"`

	OriginTime time.Time `json:"origin_time"`
	Hypocentre geom.Vec3 `json:"hypocentre"`
	Node       int       `json:"node"`

	// PeakValue is the marginalised coalescence at the best node and
	// NContrib the station/phase pairs that stacked into it.
	PeakValue float64 `json:"peak_value"`
	NContrib  int     `json:"n_contrib"`

	Uncertainty Uncertainty `json:"uncertainty"`

	// OnBoundary is set when the peak sits on the grid edge, where the
	// location and its uncertainty are lower bounds at best.
	OnBoundary bool `json:"on_boundary"`

	Picks []Pick `json:"picks,omitempty"`
}

// ValidPicks counts the picks that passed the fit checks.
func (e *Event) ValidPicks() int {
	n := 0
	for _, p := range e.Picks {
		if p.Valid {
			n++
		}
	}
	return n
}

// Span returns the candidate's above-threshold duration.
func (c *Candidate) Span() time.Duration {
	return c.End.Sub(c.Start)
}

// Package onset turns raw waveform channels into per-phase onset functions:
// non-negative energy-ratio series whose peaks mark likely phase arrivals.
// The short-term/long-term average ratio comes in two variants, selected per
// generator: classic (strictly causal, for continuous scanning) and centred
// (forward-looking short window, for windowed relocation).
package onset

import (
	"fmt"
	"math"
	"time"

	"github.com/glacier-data/quakescan/internal/timeutil"
	"github.com/glacier-data/quakescan/internal/waveform"
)

// Mode selects the STA/LTA window placement.
type Mode int

const (
	// ModeClassic places both windows strictly behind the evaluation sample:
	// zero look-ahead, usable in continuous real-time scanning.
	ModeClassic Mode = iota
	// ModeCentred places the short window ahead of the evaluation sample and
	// the long window behind it. Sharper peaks, but needs future samples, so
	// it is reserved for windowed re-processing.
	ModeCentred
)

// String returns the mode's config-file spelling.
func (m Mode) String() string {
	switch m {
	case ModeClassic:
		return "classic"
	case ModeCentred:
		return "centred"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a config-file mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "classic":
		return ModeClassic, nil
	case "centred", "centered":
		return ModeCentred, nil
	default:
		return 0, fmt.Errorf("unknown onset mode %q (want classic or centred)", s)
	}
}

// Series is one station/phase onset function. Values are non-negative; a
// value of exactly zero means no signal above the noise floor. Valid marks
// samples whose STA and LTA windows were free of data gaps; invalid samples
// are excluded from migration stacks rather than treated as silence.
type Series struct {
	Station string
	Phase   string
	Start   time.Time
	Rate    float64
	Values  []float64
	Valid   []bool
}

// NumSamples returns the sample count.
func (s *Series) NumSamples() int { return len(s.Values) }

// End returns the time just past the final sample.
func (s *Series) End() time.Time {
	return timeutil.SampleTime(s.Start, len(s.Values), s.Rate)
}

// TimeAt returns the instant of sample i.
func (s *Series) TimeAt(i int) time.Time {
	return timeutil.SampleTime(s.Start, i, s.Rate)
}

// IndexOf returns the fractional sample index of t.
func (s *Series) IndexOf(t time.Time) float64 {
	return timeutil.SampleIndex(t, s.Start, s.Rate)
}

// Interp evaluates the series at a fractional sample index by linear
// interpolation between the two bracketing samples. Linear interpolation
// stays within the bounds of its neighbours, so stacking can never see
// energy that the onset itself does not contain. The second return is false
// when the index falls outside the series or touches an invalid sample.
func (s *Series) Interp(idx float64) (float64, bool) {
	if idx < 0 || idx > float64(len(s.Values)-1) {
		return 0, false
	}
	i0 := int(math.Floor(idx))
	if i0 == len(s.Values)-1 {
		if !s.Valid[i0] {
			return 0, false
		}
		return s.Values[i0], true
	}
	i1 := i0 + 1
	if !s.Valid[i0] || !s.Valid[i1] {
		return 0, false
	}
	frac := idx - float64(i0)
	return s.Values[i0]*(1-frac) + s.Values[i1]*frac, true
}

// At evaluates the series at an instant.
func (s *Series) At(t time.Time) (float64, bool) {
	return s.Interp(s.IndexOf(t))
}

// Generator converts a station's channels into one phase's onset function.
type Generator interface {
	Compute(phase string, set *waveform.Set) (*Series, error)
}

// PhaseParams configures the STA/LTA windows and the bandpass for one phase.
type PhaseParams struct {
	STA     time.Duration // short-term window
	LTA     time.Duration // long-term window
	LowCut  float64       // bandpass low corner, Hz
	HighCut float64       // bandpass high corner, Hz
}

// Validate checks the windows against a channel sample rate.
func (p PhaseParams) Validate(rate float64) error {
	if p.STA <= 0 {
		return fmt.Errorf("sta window %v must be positive", p.STA)
	}
	if p.LTA <= p.STA {
		return fmt.Errorf("lta window %v must exceed sta window %v", p.LTA, p.STA)
	}
	if timeutil.SamplesIn(p.STA, rate) < 1 {
		return fmt.Errorf("sta window %v shorter than one sample at %g Hz", p.STA, rate)
	}
	if p.LowCut != 0 || p.HighCut != 0 {
		if _, err := Bandpass(p.LowCut, p.HighCut, rate); err != nil {
			return err
		}
	}
	return nil
}

// STALTA is the energy-ratio onset generator. P onsets are computed from the
// vertical channel, S onsets from the mean energy of the horizontals.
type STALTA struct {
	Mode   Mode
	Params map[string]PhaseParams // keyed by phase name
}

// NewSTALTA builds a generator after validating that every phase has
// parameters.
func NewSTALTA(mode Mode, params map[string]PhaseParams) (*STALTA, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no phase parameters")
	}
	return &STALTA{Mode: mode, Params: params}, nil
}

// Compute builds the onset series for one phase of one station. A station
// lacking the channels the phase needs is not a fatal condition; the caller
// drops the pair and the stack's contributor count shrinks.
func (g *STALTA) Compute(phase string, set *waveform.Set) (*Series, error) {
	params, ok := g.Params[phase]
	if !ok {
		return nil, fmt.Errorf("no onset parameters for phase %q", phase)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}

	var chans []*waveform.Segment
	switch phase {
	case "P":
		if set.Vertical == nil {
			return nil, fmt.Errorf("station %s has no vertical channel for P onsets", set.Station())
		}
		chans = []*waveform.Segment{set.Vertical}
	case "S":
		if len(set.Horizontals) == 0 {
			return nil, fmt.Errorf("station %s has no horizontal channels for S onsets", set.Station())
		}
		chans = set.Horizontals
	default:
		return nil, fmt.Errorf("unsupported phase %q (want P or S)", phase)
	}

	ref := chans[0]
	if err := params.Validate(ref.Rate); err != nil {
		return nil, fmt.Errorf("phase %s onset parameters: %w", phase, err)
	}

	// Filter each channel, square to energy, and average across channels.
	// Gaps stay NaN throughout so validity can be derived afterwards.
	n := ref.NumSamples()
	energy := make([]float64, n)
	for _, ch := range chans {
		filtered := g.filter(ch.Data, params, ref.Rate)
		for i, v := range filtered {
			energy[i] += v * v / float64(len(chans))
		}
	}

	values, valid := staLTARatio(energy, params, ref.Rate, g.Mode)
	return &Series{
		Station: set.Station(),
		Phase:   phase,
		Start:   ref.Start,
		Rate:    ref.Rate,
		Values:  values,
		Valid:   valid,
	}, nil
}

func (g *STALTA) filter(data []float64, params PhaseParams, rate float64) []float64 {
	if params.LowCut == 0 && params.HighCut == 0 {
		out := make([]float64, len(data))
		copy(out, data)
		return out
	}
	bp, err := Bandpass(params.LowCut, params.HighCut, rate)
	if err != nil {
		// Params were validated above; an error here is a programming bug.
		panic(err)
	}
	if g.Mode == ModeCentred {
		return bp.ApplyZeroPhase(data)
	}
	return bp.Apply(data)
}

// staLTARatio computes the windowed energy-ratio series. Windows that run
// past the series edges are truncated to the available samples, so the first
// values are defined (and deterministic) from the very first sample rather
// than dropped. A zero long-term average yields onset zero.
func staLTARatio(energy []float64, params PhaseParams, rate float64, mode Mode) (values []float64, valid []bool) {
	n := len(energy)
	nsta := timeutil.SamplesIn(params.STA, rate)
	nlta := timeutil.SamplesIn(params.LTA, rate)
	if nsta < 1 {
		nsta = 1
	}
	if nlta <= nsta {
		nlta = nsta + 1
	}

	// Prefix sums of energy and gap counts; NaN contributes zero energy and
	// one gap.
	cumE := make([]float64, n+1)
	cumGap := make([]int, n+1)
	for i, e := range energy {
		cumE[i+1] = cumE[i]
		cumGap[i+1] = cumGap[i]
		if math.IsNaN(e) {
			cumGap[i+1]++
		} else {
			cumE[i+1] += e
		}
	}

	// window returns the mean energy over the clamped inclusive range and
	// whether it was gap-free.
	window := func(lo, hi int) (float64, bool) {
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		if hi < lo {
			return 0, false
		}
		if cumGap[hi+1]-cumGap[lo] > 0 {
			return 0, false
		}
		return (cumE[hi+1] - cumE[lo]) / float64(hi-lo+1), true
	}

	values = make([]float64, n)
	valid = make([]bool, n)
	for t := 0; t < n; t++ {
		var staLo, staHi int
		if mode == ModeCentred {
			staLo, staHi = t, t+nsta-1
		} else {
			staLo, staHi = t-nsta+1, t
		}
		sta, staOK := window(staLo, staHi)
		lta, ltaOK := window(t-nlta+1, t)
		if !staOK || !ltaOK {
			continue // stays zero, invalid
		}
		valid[t] = true
		if lta > 0 {
			values[t] = sta / lta
		}
	}
	return values, valid
}

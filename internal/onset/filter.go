package onset

import (
	"fmt"
	"math"
)

// Biquad is a single second-order IIR section. The pipeline uses it as a
// bandpass ahead of the STA/LTA energy ratio, causally for the continuous
// scan and forward-backward (zero phase) for windowed re-processing.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// Bandpass designs a constant-peak-gain bandpass from corner frequencies.
// The centre sits at the geometric mean of the corners. Corners must satisfy
// 0 < low < high < rate/2.
func Bandpass(low, high, rate float64) (*Biquad, error) {
	nyquist := rate / 2
	if low <= 0 || high <= low || high >= nyquist {
		return nil, fmt.Errorf("bandpass corners (%g, %g) must satisfy 0 < low < high < nyquist %g", low, high, nyquist)
	}
	f0 := math.Sqrt(low * high)
	q := f0 / (high - low)

	w0 := 2 * math.Pi * f0 / rate
	alpha := math.Sin(w0) / (2 * q)
	a0 := 1 + alpha
	return &Biquad{
		b0: alpha / a0,
		b1: 0,
		b2: -alpha / a0,
		a1: -2 * math.Cos(w0) / a0,
		a2: (1 - alpha) / a0,
	}, nil
}

// apply runs the filter across src into dst with zero initial state. dst and
// src may alias.
func (f *Biquad) apply(dst, src []float64) {
	var x1, x2, y1, y2 float64
	for i, x := range src {
		y := f.b0*x + f.b1*x1 + f.b2*x2 - f.a1*y1 - f.a2*y2
		x2, x1 = x1, x
		y2, y1 = y1, y
		dst[i] = y
	}
}

// Apply filters src causally, writing the result to a new slice. NaN gaps
// split the signal: each contiguous valid run is demeaned and filtered with
// fresh state so a gap cannot pollute the samples after it.
func (f *Biquad) Apply(src []float64) []float64 {
	out := make([]float64, len(src))
	forEachRun(src, out, func(run []float64) {
		demean(run)
		f.apply(run, run)
	})
	return out
}

// ApplyZeroPhase filters src forward then backward, cancelling the phase
// delay. Acausal: every output sample depends on future input, so this is
// only for windowed re-processing, never the continuous scan.
func (f *Biquad) ApplyZeroPhase(src []float64) []float64 {
	out := make([]float64, len(src))
	forEachRun(src, out, func(run []float64) {
		demean(run)
		f.apply(run, run)
		reverse(run)
		f.apply(run, run)
		reverse(run)
	})
	return out
}

// forEachRun copies src into dst, then invokes fn on each maximal NaN-free
// run of dst in place.
func forEachRun(src, dst []float64, fn func(run []float64)) {
	copy(dst, src)
	i := 0
	for i < len(dst) {
		if math.IsNaN(dst[i]) {
			i++
			continue
		}
		j := i
		for j < len(dst) && !math.IsNaN(dst[j]) {
			j++
		}
		fn(dst[i:j])
		i = j
	}
}

func demean(run []float64) {
	if len(run) == 0 {
		return
	}
	sum := 0.0
	for _, v := range run {
		sum += v
	}
	mean := sum / float64(len(run))
	for i := range run {
		run[i] -= mean
	}
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

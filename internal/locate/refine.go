package locate

import (
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/glacier-data/quakescan/internal/geom"
)

// fwhmToSigma converts a full width at half maximum to a Gaussian sigma.
const fwhmToSigma = 2.3548

// axisStep returns the node index stride and spacing for an axis (0=X, 1=Y,
// 2=Z) of the grid's flat layout.
func axisStep(g geom.Grid, axis int) (stride int, h float64, count int) {
	switch axis {
	case 0:
		return g.NY * g.NZ, g.Spacing.X, g.NX
	case 1:
		return g.NZ, g.Spacing.Y, g.NY
	case 2:
		return 1, g.Spacing.Z, g.NZ
	default:
		panic("axis out of range")
	}
}

// axisOrdinal returns the node's position along an axis.
func axisOrdinal(g geom.Grid, node, axis int) int {
	ix, iy, iz := g.IJK(node)
	switch axis {
	case 0:
		return ix
	case 1:
		return iy
	default:
		return iz
	}
}

// quadRefine fits a parabola to the log of three samples straddling a peak,
// one grid step h apart. It returns the sub-node offset of the vertex in
// metres, clamped to half a step, and the Gaussian sigma implied by the
// curvature. ok is false when the samples are not a finite concave peak.
func quadRefine(vm, v0, vp, h float64) (delta, sigma float64, ok bool) {
	if vm <= 0 || v0 <= 0 || vp <= 0 {
		return 0, 0, false
	}
	lm, l0, lp := math.Log(vm), math.Log(v0), math.Log(vp)
	d := lm - 2*l0 + lp
	if !(d < 0) {
		// Flat or convex: the peak is not locally resolved.
		return 0, 0, false
	}
	delta = (lm - lp) / (2 * d)
	if delta > 0.5 {
		delta = 0.5
	} else if delta < -0.5 {
		delta = -0.5
	}
	// ln of a Gaussian has curvature -1/sigma^2, and d/h^2 estimates it.
	sigma = h * math.Sqrt(-1/d)
	return delta * h, sigma, true
}

// marginalTriple samples the marginal volume at the best node and its two
// axis neighbours. ok is false on the grid boundary.
func marginalTriple(m []float64, g geom.Grid, best, axis int) (vm, v0, vp float64, ok bool) {
	stride, _, count := axisStep(g, axis)
	ord := axisOrdinal(g, best, axis)
	if ord == 0 || ord == count-1 {
		return 0, 0, 0, false
	}
	return m[best-stride], m[best], m[best+stride], true
}

// fwhmSigma estimates sigma from the width of the marginal peak at half its
// maximum, walking outward from the best node along one axis. ok is false
// when either side never drops to half before the grid edge.
func fwhmSigma(m []float64, g geom.Grid, best, axis int) (float64, bool) {
	stride, h, count := axisStep(g, axis)
	ord := axisOrdinal(g, best, axis)
	peak := m[best]
	if peak <= 0 {
		return 0, false
	}
	half := peak / 2

	cross := func(dir int) (float64, bool) {
		prev := peak
		for step := 1; ; step++ {
			o := ord + dir*step
			if o < 0 || o >= count {
				return 0, false
			}
			v := m[best+dir*step*stride]
			if v <= half {
				// Linear crossing between the previous node and this one.
				frac := 0.0
				if prev != v {
					frac = (prev - half) / (prev - v)
				}
				return (float64(step-1) + frac) * h, true
			}
			prev = v
		}
	}

	left, okL := cross(-1)
	right, okR := cross(+1)
	if !okL || !okR {
		return 0, false
	}
	return (left + right) / fwhmToSigma, true
}

// covariance computes the coalescence-weighted centroid of the marginal
// volume and the RMS distance from it. Weights are shifted so the flattest
// node carries none, which keeps a uniform background from swamping the
// spread. A fully flat volume reports the grid centre with zero spread.
func covariance(m []float64, g geom.Grid) (centroid geom.Vec3, sigma float64) {
	minV := math.Inf(1)
	for _, v := range m {
		if v < minV {
			minV = v
		}
	}

	var w, wx, wy, wz float64
	for i, v := range m {
		wi := v - minV
		if wi <= 0 {
			continue
		}
		p := g.Coords(i)
		w += wi
		wx += wi * p.X
		wy += wi * p.Y
		wz += wi * p.Z
	}
	if w == 0 {
		lo := g.Coords(0)
		hi := g.Coords(g.NumNodes() - 1)
		return lo.Add(hi).Scale(0.5), 0
	}
	centroid = geom.Vec3{X: wx / w, Y: wy / w, Z: wz / w}

	var vv float64
	for i, v := range m {
		wi := v - minV
		if wi <= 0 {
			continue
		}
		d := g.Coords(i).Sub(centroid)
		vv += wi * d.Dot(d)
	}
	return centroid, math.Sqrt(vv / w)
}

// refineTimeIdx finds the fractional index of the peak of vals by fitting an
// Akima spline through the samples and evaluating it on an upsampled lattice
// around the discrete argmax. Akima is local, so a spurious sample cannot
// ring across the whole window; a monotone interpolant would pin the maximum
// to a sample and could not refine at all. Falls back to the discrete argmax
// when there are too few samples for a fit.
func refineTimeIdx(vals []float64, upsample int) float64 {
	best := 0
	for i, v := range vals {
		if v > vals[best] {
			best = i
		}
	}
	if len(vals) < 3 || upsample <= 1 {
		return float64(best)
	}

	xs := make([]float64, len(vals))
	for i := range xs {
		xs[i] = float64(i)
	}
	var pc interp.AkimaSpline
	if err := pc.Fit(xs, vals); err != nil {
		return float64(best)
	}

	lo := best - 1
	if lo < 0 {
		lo = 0
	}
	hi := best + 1
	if hi > len(vals)-1 {
		hi = len(vals) - 1
	}
	bestX, bestV := float64(best), vals[best]
	steps := (hi - lo) * upsample
	for i := 0; i <= steps; i++ {
		x := float64(lo) + float64(i)/float64(upsample)
		if v := pc.Predict(x); v > bestV {
			bestV, bestX = v, x
		}
	}
	return bestX
}

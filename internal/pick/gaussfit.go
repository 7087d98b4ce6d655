package pick

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// gaussFit is the result of a three-parameter Gaussian fit
// y = A * exp(-(t-mu)^2 / (2 sigma^2)).
type gaussFit struct {
	A, Mu, Sigma float64
	Converged    bool
	Iters        int
}

// fitGaussian fits by Gauss-Newton on the normal equations, halving a step
// while it worsens the residual. ts and ys must be the same length; ts should
// be small offsets (seconds from the window start) so the 3x3 system stays
// well conditioned. The fit flags failure instead of returning an error: a
// degenerate window is a data property, not a programming one.
func fitGaussian(ts, ys []float64, maxIter int) gaussFit {
	if len(ts) != len(ys) || len(ts) < 4 {
		return gaussFit{}
	}
	if maxIter <= 0 {
		maxIter = 50
	}

	best := 0
	for i, y := range ys {
		if y > ys[best] {
			best = i
		}
	}
	a := ys[best]
	mu := ts[best]
	sigma := seedWidth(ts, ys, best)
	if a <= 0 || sigma <= 0 {
		return gaussFit{}
	}

	fit := gaussFit{A: a, Mu: mu, Sigma: sigma}
	ssr := gaussSSR(ts, ys, fit)
	for it := 0; it < maxIter; it++ {
		var jtj [9]float64
		var jtr [3]float64
		for i, t := range ts {
			d := t - fit.Mu
			e := math.Exp(-d * d / (2 * fit.Sigma * fit.Sigma))
			gA := e
			gMu := fit.A * e * d / (fit.Sigma * fit.Sigma)
			gSi := fit.A * e * d * d / (fit.Sigma * fit.Sigma * fit.Sigma)
			r := ys[i] - fit.A*e

			jtj[0] += gA * gA
			jtj[1] += gA * gMu
			jtj[2] += gA * gSi
			jtj[4] += gMu * gMu
			jtj[5] += gMu * gSi
			jtj[8] += gSi * gSi
			jtr[0] += gA * r
			jtr[1] += gMu * r
			jtr[2] += gSi * r
		}
		jtj[3], jtj[6], jtj[7] = jtj[1], jtj[2], jtj[5]
		// Tiny ridge keeps a nearly flat window from producing a singular
		// solve; such fits then fail the convergence check instead.
		for _, d := range []int{0, 4, 8} {
			jtj[d] += 1e-12 * (1 + jtj[d])
		}

		var delta mat.VecDense
		if err := delta.SolveVec(mat.NewDense(3, 3, jtj[:]), mat.NewVecDense(3, jtr[:])); err != nil {
			return fit
		}
		dA, dMu, dSi := delta.AtVec(0), delta.AtVec(1), delta.AtVec(2)

		scale := 1.0
		next := fit
		nextSSR := ssr
		for k := 0; k < 8; k++ {
			next.A = fit.A + scale*dA
			next.Mu = fit.Mu + scale*dMu
			next.Sigma = math.Abs(fit.Sigma + scale*dSi)
			if next.Sigma == 0 || math.IsNaN(next.Sigma) {
				nextSSR = math.Inf(1)
			} else {
				nextSSR = gaussSSR(ts, ys, next)
			}
			if nextSSR <= ssr {
				break
			}
			scale /= 2
		}
		fit.A, fit.Mu, fit.Sigma = next.A, next.Mu, next.Sigma
		fit.Iters = it + 1
		if fit.Sigma == 0 || math.IsNaN(fit.A) || math.IsNaN(fit.Mu) || math.IsNaN(fit.Sigma) {
			return fit
		}
		ssr = nextSSR

		if math.Abs(scale*dA) <= 1e-8*(1+math.Abs(fit.A)) &&
			math.Abs(scale*dMu) <= 1e-7 &&
			math.Abs(scale*dSi) <= 1e-7 {
			fit.Converged = true
			return fit
		}
	}
	return fit
}

// seedWidth estimates the starting sigma from the half-maximum crossings
// around the discrete peak. A side that never drops to half contributes
// nothing; if neither does, fall back to a sixth of the window, the usual
// +/-3 sigma coverage assumption.
func seedWidth(ts, ys []float64, best int) float64 {
	half := ys[best] / 2
	var left, right float64
	for i := best; i >= 0; i-- {
		if ys[i] <= half {
			left = ts[best] - ts[i]
			break
		}
	}
	for i := best; i < len(ts); i++ {
		if ys[i] <= half {
			right = ts[i] - ts[best]
			break
		}
	}
	switch {
	case left > 0 && right > 0:
		return (left + right) / 2.3548
	case left > 0:
		return 2 * left / 2.3548
	case right > 0:
		return 2 * right / 2.3548
	}
	return (ts[len(ts)-1] - ts[0]) / 6
}

// gaussSSR is the sum of squared residuals of the model against the data.
func gaussSSR(ts, ys []float64, f gaussFit) float64 {
	var ss float64
	for i, t := range ts {
		d := t - f.Mu
		r := ys[i] - f.A*math.Exp(-d*d/(2*f.Sigma*f.Sigma))
		ss += r * r
	}
	return ss
}

// NoiseMode selects the noise statistic for SNR.
type NoiseMode int

const (
	// NoiseRMS uses the root-mean-square of the pre-window onset.
	NoiseRMS NoiseMode = iota
	// NoiseSTD uses its standard deviation.
	NoiseSTD
)

func (m NoiseMode) String() string {
	switch m {
	case NoiseRMS:
		return "rms"
	case NoiseSTD:
		return "std"
	default:
		return "NoiseMode(?)"
	}
}

// ParseNoiseMode converts a configuration string to a NoiseMode.
func ParseNoiseMode(s string) (NoiseMode, error) {
	switch s {
	case "rms":
		return NoiseRMS, nil
	case "std":
		return NoiseSTD, nil
	}
	return 0, errUnknownNoiseMode(s)
}

// noiseLevel computes the configured noise statistic.
func noiseLevel(vals []float64, mode NoiseMode) float64 {
	if len(vals) == 0 {
		return 0
	}
	if mode == NoiseSTD {
		return stat.StdDev(vals, nil)
	}
	var ss float64
	for _, v := range vals {
		ss += v * v
	}
	return math.Sqrt(ss / float64(len(vals)))
}

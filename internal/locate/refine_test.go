package locate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glacier-data/quakescan/internal/geom"
)

// lineGrid is 41 nodes long in X and minimal in Y and Z, for exercising the
// axis walkers with a controlled 1-D profile.
func lineGrid(t *testing.T) geom.Grid {
	t.Helper()
	g, err := geom.NewGrid(
		geom.Vec3{},
		geom.Vec3{X: 4000, Y: 100, Z: 100},
		geom.Vec3{X: 100, Y: 100, Z: 100},
	)
	require.NoError(t, err)
	require.Equal(t, 41, g.NX)
	return g
}

// gaussX fills a marginal volume with a Gaussian profile in X, constant over
// Y and Z.
func gaussX(g geom.Grid, centre, sigma float64) []float64 {
	m := make([]float64, g.NumNodes())
	for i := range m {
		x := g.Coords(i).X
		m[i] = math.Exp(-(x - centre) * (x - centre) / (2 * sigma * sigma))
	}
	return m
}

func TestQuadRefineExactGaussian(t *testing.T) {
	// Sampling a Gaussian makes the log-parabola fit exact: the vertex is
	// the true centre and the curvature the true sigma.
	mu, sigma, h := 30.0, 80.0, 100.0
	g := func(x float64) float64 {
		return math.Exp(-(x - mu) * (x - mu) / (2 * sigma * sigma))
	}
	delta, s, ok := quadRefine(g(-h), g(0), g(h), h)
	require.True(t, ok)
	require.InDelta(t, mu, delta, 1e-9)
	require.InDelta(t, sigma, s, 1e-9)
}

func TestQuadRefineClampsToHalfStep(t *testing.T) {
	delta, _, ok := quadRefine(0.1, 0.5, 0.9, 100)
	require.True(t, ok)
	require.InDelta(t, 50, delta, 1e-9)

	delta, _, ok = quadRefine(0.9, 0.5, 0.1, 100)
	require.True(t, ok)
	require.InDelta(t, -50, delta, 1e-9)
}

func TestQuadRefineDegenerate(t *testing.T) {
	cases := []struct {
		name       string
		vm, v0, vp float64
	}{
		{"flat", 1, 1, 1},
		{"convex", 1, 0.5, 1},
		{"zero sample", 0, 1, 1},
		{"negative sample", 1, 1, -0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, ok := quadRefine(tc.vm, tc.v0, tc.vp, 100)
			require.False(t, ok)
		})
	}
}

func TestFWHMSigma(t *testing.T) {
	g := lineGrid(t)
	m := gaussX(g, 2000, 300)
	best := g.NearestNode(geom.Vec3{X: 2000, Y: 0, Z: 0})

	s, ok := fwhmSigma(m, g, best, 0)
	require.True(t, ok)
	require.InDelta(t, 300, s, 15)

	// Two nodes along Y cannot bracket a half-maximum crossing.
	_, ok = fwhmSigma(m, g, best, 1)
	require.False(t, ok)
}

func TestCovariance(t *testing.T) {
	g := lineGrid(t)
	m := gaussX(g, 2000, 300)

	centroid, sigma := covariance(m, g)
	require.InDelta(t, 2000, centroid.X, 1)
	// Constant over the two Y and Z nodes, so the centroid sits midway.
	require.InDelta(t, 50, centroid.Y, 1e-9)
	require.InDelta(t, 50, centroid.Z, 1e-9)

	// X variance ~300^2, plus 50^2 from each of the two-node axes.
	want := math.Sqrt(300*300 + 2500 + 2500)
	require.InDelta(t, want, sigma, want*0.05)
}

func TestCovarianceFlat(t *testing.T) {
	g := lineGrid(t)
	m := make([]float64, g.NumNodes())
	for i := range m {
		m[i] = 7
	}
	centroid, sigma := covariance(m, g)
	require.InDelta(t, 2000, centroid.X, 1e-9)
	require.InDelta(t, 50, centroid.Y, 1e-9)
	require.Zero(t, sigma)
}

func TestRefineTimeIdx(t *testing.T) {
	vals := make([]float64, 21)
	for i := range vals {
		d := float64(i) - 10.3
		vals[i] = math.Exp(-d * d / (2 * 2 * 2))
	}
	got := refineTimeIdx(vals, 10)
	require.InDelta(t, 10.3, got, 0.15)

	// Too short for a fit: discrete argmax.
	require.Equal(t, 1.0, refineTimeIdx([]float64{1, 2}, 10))
	require.Equal(t, 0.0, refineTimeIdx([]float64{5}, 10))
}

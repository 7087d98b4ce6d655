package lut

import (
	"fmt"
	"math"
	"sort"

	"github.com/glacier-data/quakescan/internal/geom"
	"github.com/glacier-data/quakescan/internal/stations"
)

// Layer is one constant-velocity slab of a 1-D model. TopZ is the depth
// (metres, positive down) where the layer begins; it extends to the next
// layer's TopZ, the deepest layer extending indefinitely. The shallowest
// layer also covers any grid above its TopZ.
type Layer struct {
	TopZ float64 `json:"top_z"`
	VP   float64 `json:"vp"`
	VS   float64 `json:"vs"`
}

// LayeredModel is a stack of horizontal constant-velocity layers. It defines
// velocities for the P and S phases only.
type LayeredModel struct {
	Layers []Layer `json:"layers"`
}

// Validate checks layer ordering and velocities.
func (m LayeredModel) Validate() error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("layered model has no layers")
	}
	if !sort.SliceIsSorted(m.Layers, func(i, j int) bool { return m.Layers[i].TopZ < m.Layers[j].TopZ }) {
		return fmt.Errorf("layers must be ordered by increasing top depth")
	}
	for i, l := range m.Layers {
		if l.VP <= 0 || l.VS <= 0 {
			return fmt.Errorf("layer %d: velocities must be positive (vp=%g vs=%g)", i, l.VP, l.VS)
		}
		if i > 0 && m.Layers[i-1].TopZ == l.TopZ {
			return fmt.Errorf("layers %d and %d share top depth %g", i-1, i, l.TopZ)
		}
	}
	return nil
}

// VelocityAt returns the model velocity at depth z for the given phase.
func (m LayeredModel) VelocityAt(z float64, phase string) (float64, error) {
	idx := 0
	for i, l := range m.Layers {
		if l.TopZ <= z {
			idx = i
		} else {
			break
		}
	}
	switch phase {
	case "P":
		return m.Layers[idx].VP, nil
	case "S":
		return m.Layers[idx].VS, nil
	default:
		return 0, fmt.Errorf("layered model defines phases P and S, not %q", phase)
	}
}

// ComputeLayered builds a travel-time table for a 1-D layered model by
// solving the eikonal equation on the grid with a fast-sweeping scheme.
// Every station must lie inside the grid volume; stations outside it are a
// configuration error (enlarge the grid or use the homogeneous builder).
func ComputeLayered(grid geom.Grid, inv *stations.Inventory, phases []string, model LayeredModel) (*Table, error) {
	if err := checkPhases(phases); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if inv == nil || inv.Len() == 0 {
		return nil, fmt.Errorf("no stations")
	}
	for i := 0; i < inv.Len(); i++ {
		st := inv.At(i)
		if !grid.Contains(st.Pos) {
			return nil, fmt.Errorf("station %s at %+v lies outside the grid; the eikonal solver needs the source inside the volume", st.ID, st.Pos)
		}
	}

	t := &Table{
		Grid:     grid,
		Stations: make([]stations.Station, inv.Len()),
		Phases:   append([]string(nil), phases...),
	}
	for i := 0; i < inv.Len(); i++ {
		t.Stations[i] = inv.At(i)
	}
	tt, err := allocTable(grid, t.NumPairs())
	if err != nil {
		return nil, err
	}
	t.TT = tt

	// Per-phase slowness profile sampled at the grid's z levels.
	slowness := make(map[string][]float64, len(phases))
	for _, p := range phases {
		prof := make([]float64, grid.NZ)
		for iz := 0; iz < grid.NZ; iz++ {
			z := grid.LL.Z + float64(iz)*grid.Spacing.Z
			v, err := model.VelocityAt(z, p)
			if err != nil {
				return nil, err
			}
			prof[iz] = 1 / v
		}
		slowness[p] = prof
	}

	for stIdx := 0; stIdx < inv.Len(); stIdx++ {
		src := inv.At(stIdx).Pos
		for phIdx, p := range phases {
			row := t.TT[t.PairIndex(stIdx, phIdx)]
			if err := sweepEikonal(grid, slowness[p], src, row); err != nil {
				return nil, fmt.Errorf("station %s phase %s: %w", inv.At(stIdx).ID, p, err)
			}
		}
	}

	logf("computed layered table: %d stations, %d phases, %d layers, %d nodes, max tt %.3fs",
		inv.Len(), len(phases), len(model.Layers), grid.NumNodes(), t.MaxTravelTime())
	return t, nil
}

// sweepEikonal fills dst with first-arrival times from src under the given
// per-z-level slowness profile, using Godunov upwind updates and alternating
// sweep orderings until the field settles.
func sweepEikonal(g geom.Grid, slowZ []float64, src geom.Vec3, dst []float64) error {
	const (
		maxRounds = 16
		tol       = 1e-9 // seconds
	)
	for i := range dst {
		dst[i] = math.Inf(1)
	}

	// Seed the 3x3x3 block around the source with analytic local times so the
	// sweeps grow from a well-conditioned neighbourhood.
	six, siy, siz := g.IJK(g.NearestNode(src))
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				ix, iy, iz := six+dx, siy+dy, siz+dz
				if ix < 0 || ix >= g.NX || iy < 0 || iy >= g.NY || iz < 0 || iz >= g.NZ {
					continue
				}
				idx := g.Idx(ix, iy, iz)
				dst[idx] = g.Coords(idx).DistanceTo(src) * slowZ[iz]
			}
		}
	}

	for round := 0; round < maxRounds; round++ {
		maxDelta := 0.0
		for sweep := 0; sweep < 8; sweep++ {
			delta := sweepOnce(g, slowZ, dst, sweep)
			if delta > maxDelta {
				maxDelta = delta
			}
		}
		if maxDelta < tol {
			break
		}
	}

	for i, v := range dst {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return fmt.Errorf("eikonal solve left node %d unreached", i)
		}
	}
	return nil
}

// sweepOnce performs one directional sweep; the low three bits of order pick
// the traversal direction per axis. Returns the largest single-node update.
func sweepOnce(g geom.Grid, slowZ []float64, T []float64, order int) float64 {
	xs, xe, xd := sweepDir(g.NX, order&1 != 0)
	ys, ye, yd := sweepDir(g.NY, order&2 != 0)
	zs, ze, zd := sweepDir(g.NZ, order&4 != 0)

	maxDelta := 0.0
	for ix := xs; ix != xe; ix += xd {
		for iy := ys; iy != ye; iy += yd {
			for iz := zs; iz != ze; iz += zd {
				idx := g.Idx(ix, iy, iz)
				cand := godunov(g, T, ix, iy, iz, slowZ[iz])
				if cand >= T[idx] {
					continue
				}
				d := T[idx] - cand
				if math.IsInf(d, 1) {
					d = 1 // first finite assignment counts as a large update
				}
				if d > maxDelta {
					maxDelta = d
				}
				T[idx] = cand
			}
		}
	}
	return maxDelta
}

func sweepDir(n int, reverse bool) (start, end, step int) {
	if reverse {
		return n - 1, -1, -1
	}
	return 0, n, 1
}

// upwindAxis is one axis contribution to the Godunov update: the smaller
// neighbour time and the node spacing along that axis.
type upwindAxis struct {
	a, h float64
}

// godunov computes the upwind first-arrival estimate at one node from its
// axis neighbours, solving sum_i ((T-a_i)/h_i)^2 = s^2 over the axes whose
// neighbour time is below T.
func godunov(g geom.Grid, T []float64, ix, iy, iz int, s float64) float64 {
	var ax [3]upwindAxis
	n := 0

	add := func(lo, hi int, ok1, ok2 bool, h float64) {
		a := math.Inf(1)
		if ok1 && T[lo] < a {
			a = T[lo]
		}
		if ok2 && T[hi] < a {
			a = T[hi]
		}
		if !math.IsInf(a, 1) {
			ax[n] = upwindAxis{a, h}
			n++
		}
	}
	add(g.Idx(ix-1, iy, iz), g.Idx(ix+1, iy, iz), ix > 0, ix < g.NX-1, g.Spacing.X)
	add(g.Idx(ix, iy-1, iz), g.Idx(ix, iy+1, iz), iy > 0, iy < g.NY-1, g.Spacing.Y)
	add(g.Idx(ix, iy, iz-1), g.Idx(ix, iy, iz+1), iz > 0, iz < g.NZ-1, g.Spacing.Z)
	if n == 0 {
		return math.Inf(1)
	}

	// Sort the (at most three) axes by neighbour time.
	for i := 1; i < n; i++ {
		for j := i; j > 0 && ax[j].a < ax[j-1].a; j-- {
			ax[j], ax[j-1] = ax[j-1], ax[j]
		}
	}

	// One-axis estimate; include further axes only while the estimate exceeds
	// their neighbour time.
	t := ax[0].a + s*ax[0].h
	if n == 1 || t <= ax[1].a {
		return t
	}
	if t2, ok := solveQuadratic(ax[:2], s); ok {
		t = t2
	}
	if n == 2 || t <= ax[2].a {
		return t
	}
	if t3, ok := solveQuadratic(ax[:3], s); ok {
		t = t3
	}
	return t
}

// solveQuadratic solves sum_i ((T-a_i)/h_i)^2 = s^2 for its larger root.
func solveQuadratic(ax []upwindAxis, s float64) (float64, bool) {
	var A, B, C float64
	for _, x := range ax {
		w := 1 / (x.h * x.h)
		A += w
		B -= 2 * x.a * w
		C += x.a * x.a * w
	}
	C -= s * s
	disc := B*B - 4*A*C
	if disc < 0 {
		return 0, false
	}
	return (-B + math.Sqrt(disc)) / (2 * A), true
}

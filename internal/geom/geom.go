// Package geom provides the axis-aligned 3-D lattice used by the travel-time
// model and the migration engine, plus the small vector type shared across the
// pipeline. All coordinates are metres in the projected local frame; Z is
// positive down (depth).
package geom

import (
	"fmt"
	"math"
)

// Vec3 is a point or displacement in the projected Cartesian frame.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// DistanceTo returns the Euclidean distance between v and o.
func (v Vec3) DistanceTo(o Vec3) float64 {
	return v.Sub(o).Norm()
}

// Grid is a regular axis-aligned lattice of nodes. Nodes are identified by a
// stable flat index; X is the slowest-varying axis and Z the fastest, so
// index = (ix*NY + iy)*NZ + iz.
type Grid struct {
	LL      Vec3 // lower corner (node 0,0,0 sits here)
	UR      Vec3 // upper corner; the lattice covers up to but not past it
	Spacing Vec3 // node spacing per axis, metres
	NX      int  // node count along X
	NY      int  // node count along Y
	NZ      int  // node count along Z
}

// NewGrid builds a grid from its corners and spacing. The upper corner must be
// strictly greater than the lower corner on every axis, and the spacing must
// be positive and no larger than the extent, so every axis carries at least
// two nodes. Violations are configuration errors.
func NewGrid(ll, ur, spacing Vec3) (Grid, error) {
	axes := []struct {
		name         string
		lo, hi, step float64
	}{
		{"x", ll.X, ur.X, spacing.X},
		{"y", ll.Y, ur.Y, spacing.Y},
		{"z", ll.Z, ur.Z, spacing.Z},
	}
	counts := [3]int{}
	for i, a := range axes {
		if a.hi <= a.lo {
			return Grid{}, fmt.Errorf("grid %s axis: upper corner %g not strictly greater than lower corner %g", a.name, a.hi, a.lo)
		}
		if a.step <= 0 {
			return Grid{}, fmt.Errorf("grid %s axis: spacing %g must be positive", a.name, a.step)
		}
		extent := a.hi - a.lo
		if a.step > extent {
			return Grid{}, fmt.Errorf("grid %s axis: spacing %g exceeds extent %g", a.name, a.step, extent)
		}
		// Tolerate extents that are a whisker short of an exact multiple.
		counts[i] = int(math.Floor(extent/a.step+1e-9)) + 1
	}
	return Grid{LL: ll, UR: ur, Spacing: spacing, NX: counts[0], NY: counts[1], NZ: counts[2]}, nil
}

// NumNodes returns the total node count.
func (g Grid) NumNodes() int {
	return g.NX * g.NY * g.NZ
}

// Idx returns the flat index of node (ix, iy, iz).
func (g Grid) Idx(ix, iy, iz int) int {
	return (ix*g.NY+iy)*g.NZ + iz
}

// IJK decomposes a flat index into per-axis node indices.
func (g Grid) IJK(idx int) (ix, iy, iz int) {
	iz = idx % g.NZ
	idx /= g.NZ
	iy = idx % g.NY
	ix = idx / g.NY
	return
}

// Coords returns the physical position of the node at a flat index.
func (g Grid) Coords(idx int) Vec3 {
	ix, iy, iz := g.IJK(idx)
	return Vec3{
		X: g.LL.X + float64(ix)*g.Spacing.X,
		Y: g.LL.Y + float64(iy)*g.Spacing.Y,
		Z: g.LL.Z + float64(iz)*g.Spacing.Z,
	}
}

// Contains reports whether p lies within the volume spanned by the lattice
// nodes (not the nominal corners, which may overhang the last node row).
func (g Grid) Contains(p Vec3) bool {
	max := g.maxNode()
	return p.X >= g.LL.X && p.X <= max.X &&
		p.Y >= g.LL.Y && p.Y <= max.Y &&
		p.Z >= g.LL.Z && p.Z <= max.Z
}

// NearestNode returns the flat index of the node closest to p, clamping
// positions outside the lattice to the nearest edge node.
func (g Grid) NearestNode(p Vec3) int {
	ix := clampRound((p.X-g.LL.X)/g.Spacing.X, g.NX)
	iy := clampRound((p.Y-g.LL.Y)/g.Spacing.Y, g.NY)
	iz := clampRound((p.Z-g.LL.Z)/g.Spacing.Z, g.NZ)
	return g.Idx(ix, iy, iz)
}

// OnBoundary reports whether the node at a flat index lies on any face of the
// lattice.
func (g Grid) OnBoundary(idx int) bool {
	ix, iy, iz := g.IJK(idx)
	return ix == 0 || ix == g.NX-1 ||
		iy == 0 || iy == g.NY-1 ||
		iz == 0 || iz == g.NZ-1
}

// Decimate returns the sub-lattice keeping every fx-th/fy-th/fz-th node per
// axis, starting at the lower corner. Factors below 1 are treated as 1.
func (g Grid) Decimate(fx, fy, fz int) Grid {
	if fx < 1 {
		fx = 1
	}
	if fy < 1 {
		fy = 1
	}
	if fz < 1 {
		fz = 1
	}
	d := g
	d.Spacing = Vec3{g.Spacing.X * float64(fx), g.Spacing.Y * float64(fy), g.Spacing.Z * float64(fz)}
	d.NX = (g.NX + fx - 1) / fx
	d.NY = (g.NY + fy - 1) / fy
	d.NZ = (g.NZ + fz - 1) / fz
	return d
}

// maxNode returns the position of the last node on each axis.
func (g Grid) maxNode() Vec3 {
	return Vec3{
		X: g.LL.X + float64(g.NX-1)*g.Spacing.X,
		Y: g.LL.Y + float64(g.NY-1)*g.Spacing.Y,
		Z: g.LL.Z + float64(g.NZ-1)*g.Spacing.Z,
	}
}

func clampRound(v float64, n int) int {
	i := int(math.Round(v))
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

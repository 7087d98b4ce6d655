// Package lut builds and serializes the travel-time lookup table: one travel
// time per (station, phase, grid node) triple. Tables are built once, then
// read-only; the migration engine and locator read them concurrently without
// locking.
package lut

import (
	"fmt"
	"math"

	"github.com/glacier-data/quakescan/internal/geom"
	"github.com/glacier-data/quakescan/internal/stations"
)

// maxTableEntries bounds the table allocation. Beyond this the grid must be
// decimated or split; the limit exists so a misconfigured grid fails with a
// clear message instead of an OOM kill.
const maxTableEntries = 1 << 31

// Table is the travel-time model over a grid. TT is indexed
// [pair][node] where pair = stationIndex*len(Phases) + phaseIndex. The slices
// are read-only after construction.
type Table struct {
	Grid     geom.Grid
	Stations []stations.Station
	Phases   []string
	TT       [][]float64

	maxTT float64 // cached; zero until first MaxTravelTime call
}

// NumPairs returns the number of (station, phase) pairs.
func (t *Table) NumPairs() int {
	return len(t.Stations) * len(t.Phases)
}

// PairIndex returns the flat pair index for a station ordinal and phase
// ordinal.
func (t *Table) PairIndex(stIdx, phIdx int) int {
	return stIdx*len(t.Phases) + phIdx
}

// Pair decomposes a flat pair index.
func (t *Table) Pair(pair int) (stIdx, phIdx int) {
	return pair / len(t.Phases), pair % len(t.Phases)
}

// PairFor resolves a station ID and phase name to a flat pair index, or -1 if
// either is unknown.
func (t *Table) PairFor(stationID, phase string) int {
	stIdx := -1
	for i, s := range t.Stations {
		if s.ID == stationID {
			stIdx = i
			break
		}
	}
	if stIdx < 0 {
		return -1
	}
	for j, p := range t.Phases {
		if p == phase {
			return t.PairIndex(stIdx, j)
		}
	}
	return -1
}

// Lookup returns the travel time for a station ID, phase name and node index.
func (t *Table) Lookup(stationID, phase string, node int) (float64, error) {
	pair := t.PairFor(stationID, phase)
	if pair < 0 {
		return 0, fmt.Errorf("no travel times for station %q phase %q", stationID, phase)
	}
	if node < 0 || node >= t.Grid.NumNodes() {
		return 0, fmt.Errorf("node %d out of range [0,%d)", node, t.Grid.NumNodes())
	}
	return t.TT[pair][node], nil
}

// MaxTravelTime returns the largest travel time in the table. Used to size
// the scan pre/post padding.
func (t *Table) MaxTravelTime() float64 {
	if t.maxTT > 0 {
		return t.maxTT
	}
	max := 0.0
	for _, row := range t.TT {
		for _, v := range row {
			if v > max {
				max = v
			}
		}
	}
	t.maxTT = max
	return max
}

// Validate checks structural consistency: every pair has one row, every row
// covers the grid, and every entry is finite and non-negative.
func (t *Table) Validate() error {
	if len(t.Phases) == 0 {
		return fmt.Errorf("table has no phases")
	}
	if len(t.Stations) == 0 {
		return fmt.Errorf("table has no stations")
	}
	seen := map[string]bool{}
	for _, p := range t.Phases {
		if seen[p] {
			return fmt.Errorf("duplicate phase %q", p)
		}
		seen[p] = true
	}
	nodes := t.Grid.NumNodes()
	if nodes <= 0 {
		return fmt.Errorf("grid has no nodes")
	}
	if len(t.TT) != t.NumPairs() {
		return fmt.Errorf("table has %d rows, want %d", len(t.TT), t.NumPairs())
	}
	for pair, row := range t.TT {
		if len(row) != nodes {
			st, ph := t.Pair(pair)
			return fmt.Errorf("station %s phase %s: row has %d nodes, want %d",
				t.Stations[st].ID, t.Phases[ph], len(row), nodes)
		}
		for n, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				st, ph := t.Pair(pair)
				return fmt.Errorf("station %s phase %s node %d: invalid travel time %v",
					t.Stations[st].ID, t.Phases[ph], n, v)
			}
		}
	}
	return nil
}

// Decimate returns a table restricted to every fx-th/fy-th/fz-th node per
// axis. The continuous scan runs on a decimated table; the locator keeps the
// full one.
func (t *Table) Decimate(fx, fy, fz int) *Table {
	if fx < 1 {
		fx = 1
	}
	if fy < 1 {
		fy = 1
	}
	if fz < 1 {
		fz = 1
	}
	if fx == 1 && fy == 1 && fz == 1 {
		return t
	}
	dg := t.Grid.Decimate(fx, fy, fz)
	out := &Table{
		Grid:     dg,
		Stations: t.Stations,
		Phases:   t.Phases,
		TT:       make([][]float64, len(t.TT)),
	}
	for pair, row := range t.TT {
		dst := make([]float64, dg.NumNodes())
		di := 0
		for ix := 0; ix < dg.NX; ix++ {
			for iy := 0; iy < dg.NY; iy++ {
				for iz := 0; iz < dg.NZ; iz++ {
					dst[di] = row[t.Grid.Idx(ix*fx, iy*fy, iz*fz)]
					di++
				}
			}
		}
		out.TT[pair] = dst
	}
	return out
}

// allocTable allocates the [pair][node] slices with an entry-count guard.
func allocTable(grid geom.Grid, pairs int) ([][]float64, error) {
	nodes := grid.NumNodes()
	if total := int64(nodes) * int64(pairs); total > maxTableEntries {
		return nil, fmt.Errorf("travel-time table too large: %d nodes x %d station/phase pairs = %d entries (limit %d); decimate the grid",
			nodes, pairs, total, int64(maxTableEntries))
	}
	tt := make([][]float64, pairs)
	for i := range tt {
		tt[i] = make([]float64, nodes)
	}
	return tt, nil
}

// checkPhases validates a phase list shared by the builders.
func checkPhases(phases []string) error {
	if len(phases) == 0 {
		return fmt.Errorf("no phases configured")
	}
	seen := map[string]bool{}
	for _, p := range phases {
		if p == "" {
			return fmt.Errorf("empty phase name")
		}
		if seen[p] {
			return fmt.Errorf("duplicate phase %q", p)
		}
		seen[p] = true
	}
	return nil
}

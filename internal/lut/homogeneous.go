package lut

import (
	"fmt"

	"github.com/glacier-data/quakescan/internal/geom"
	"github.com/glacier-data/quakescan/internal/monitoring"
	"github.com/glacier-data/quakescan/internal/stations"
)

var logf = monitoring.Prefixed("LUT")

// ComputeHomogeneous builds a travel-time table for a uniform medium: travel
// time is straight-line distance divided by the per-phase velocity.
// Velocities are m/s and must be positive for every requested phase.
func ComputeHomogeneous(grid geom.Grid, inv *stations.Inventory, phases []string, velocities map[string]float64) (*Table, error) {
	if err := checkPhases(phases); err != nil {
		return nil, err
	}
	if inv == nil || inv.Len() == 0 {
		return nil, fmt.Errorf("no stations")
	}
	for _, p := range phases {
		v, ok := velocities[p]
		if !ok {
			return nil, fmt.Errorf("no velocity configured for phase %q", p)
		}
		if v <= 0 {
			return nil, fmt.Errorf("phase %q velocity %g must be positive", p, v)
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

	nodes := grid.NumNodes()
	for stIdx := 0; stIdx < inv.Len(); stIdx++ {
		pos := inv.At(stIdx).Pos
		for phIdx, p := range phases {
			row := t.TT[t.PairIndex(stIdx, phIdx)]
			v := velocities[p]
			for n := 0; n < nodes; n++ {
				row[n] = grid.Coords(n).DistanceTo(pos) / v
			}
		}
	}

	logf("computed homogeneous table: %d stations, %d phases, %d nodes, max tt %.3fs",
		inv.Len(), len(phases), nodes, t.MaxTravelTime())
	return t, nil
}

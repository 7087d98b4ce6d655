package lut

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/glacier-data/quakescan/internal/geom"
	"github.com/glacier-data/quakescan/internal/stations"
)

func testGrid(t *testing.T) geom.Grid {
	t.Helper()
	g, err := geom.NewGrid(
		geom.Vec3{X: 0, Y: 0, Z: 0},
		geom.Vec3{X: 2000, Y: 2000, Z: 1000},
		geom.Vec3{X: 200, Y: 200, Z: 200},
	)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g
}

func testInventory(t *testing.T) *stations.Inventory {
	t.Helper()
	inv, err := stations.NewInventory([]stations.Station{
		{ID: "ST01", Pos: geom.Vec3{X: 0, Y: 0, Z: 0}},
		{ID: "ST02", Pos: geom.Vec3{X: 2000, Y: 0, Z: 0}},
		{ID: "ST03", Pos: geom.Vec3{X: 0, Y: 2000, Z: 0}},
		{ID: "ST04", Pos: geom.Vec3{X: 2000, Y: 2000, Z: 0}},
	})
	if err != nil {
		t.Fatalf("NewInventory: %v", err)
	}
	return inv
}

var testVelocities = map[string]float64{"P": 3630, "S": 1950}

func TestComputeHomogeneousValidation(t *testing.T) {
	g := testGrid(t)
	inv := testInventory(t)

	tests := []struct {
		name       string
		phases     []string
		velocities map[string]float64
	}{
		{"no phases", nil, testVelocities},
		{"duplicate phase", []string{"P", "P"}, testVelocities},
		{"missing velocity", []string{"P", "S"}, map[string]float64{"P": 3630}},
		{"zero velocity", []string{"P"}, map[string]float64{"P": 0}},
		{"negative velocity", []string{"P"}, map[string]float64{"P": -100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ComputeHomogeneous(g, inv, tt.phases, tt.velocities); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestHomogeneousProportionalToDistance(t *testing.T) {
	g := testGrid(t)
	inv := testInventory(t)
	tab, err := ComputeHomogeneous(g, inv, []string{"P", "S"}, testVelocities)
	if err != nil {
		t.Fatalf("ComputeHomogeneous: %v", err)
	}
	if err := tab.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	st := inv.At(1)
	pair := tab.PairFor(st.ID, "P")
	for n := 0; n < g.NumNodes(); n += 7 {
		d := g.Coords(n).DistanceTo(st.Pos)
		want := d / testVelocities["P"]
		if got := tab.TT[pair][n]; math.Abs(got-want) > 1e-12 {
			t.Fatalf("node %d: tt = %v, want %v", n, got, want)
		}
	}

	// S times are the P times scaled by the velocity ratio.
	pPair := tab.PairFor("ST01", "P")
	sPair := tab.PairFor("ST01", "S")
	ratio := testVelocities["P"] / testVelocities["S"]
	for n := 0; n < g.NumNodes(); n += 13 {
		if p := tab.TT[pPair][n]; p > 0 {
			if got := tab.TT[sPair][n] / p; math.Abs(got-ratio) > 1e-9 {
				t.Fatalf("node %d: S/P ratio = %v, want %v", n, got, ratio)
			}
		}
	}
}

func TestHomogeneousMonotoneInDistance(t *testing.T) {
	g := testGrid(t)
	inv := testInventory(t)
	tab, err := ComputeHomogeneous(g, inv, []string{"P"}, testVelocities)
	if err != nil {
		t.Fatalf("ComputeHomogeneous: %v", err)
	}

	// Walk straight away from ST01 (at the origin corner) along the x axis:
	// strictly increasing distance must give strictly increasing travel time.
	pair := tab.PairFor("ST01", "P")
	prev := -1.0
	for ix := 0; ix < g.NX; ix++ {
		tt := tab.TT[pair][g.Idx(ix, 0, 0)]
		if tt <= prev {
			t.Fatalf("ix=%d: tt %v not strictly greater than %v", ix, tt, prev)
		}
		prev = tt
	}
}

func TestLookup(t *testing.T) {
	tab, err := ComputeHomogeneous(testGrid(t), testInventory(t), []string{"P", "S"}, testVelocities)
	if err != nil {
		t.Fatalf("ComputeHomogeneous: %v", err)
	}

	if _, err := tab.Lookup("ST01", "P", 0); err != nil {
		t.Errorf("Lookup valid: %v", err)
	}
	if _, err := tab.Lookup("NOPE", "P", 0); err == nil {
		t.Error("Lookup unknown station should fail")
	}
	if _, err := tab.Lookup("ST01", "Lg", 0); err == nil {
		t.Error("Lookup unknown phase should fail")
	}
	if _, err := tab.Lookup("ST01", "P", -1); err == nil {
		t.Error("Lookup negative node should fail")
	}
	if _, err := tab.Lookup("ST01", "P", tab.Grid.NumNodes()); err == nil {
		t.Error("Lookup past-end node should fail")
	}

	// Station at a grid corner: travel time to its own node is zero.
	v, err := tab.Lookup("ST01", "P", tab.Grid.NearestNode(geom.Vec3{}))
	if err != nil || v != 0 {
		t.Errorf("self travel time = %v, %v; want 0", v, err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tab, err := ComputeHomogeneous(testGrid(t), testInventory(t), []string{"P", "S"}, testVelocities)
	if err != nil {
		t.Fatalf("ComputeHomogeneous: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.lut")
	if err := tab.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Bit-for-bit identity of the numeric table and full metadata round-trip.
	if diff := cmp.Diff(tab.TT, got.TT); diff != "" {
		t.Errorf("travel times differ after round-trip (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(tab.Grid, got.Grid); diff != "" {
		t.Errorf("grid differs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(tab.Stations, got.Stations); diff != "" {
		t.Errorf("stations differ (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(tab.Phases, got.Phases); diff != "" {
		t.Errorf("phases differ (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	if _, err := deserializeTable(nil); err == nil {
		t.Error("empty blob accepted")
	}
	if _, err := deserializeTable([]byte("not gzip at all")); err == nil {
		t.Error("garbage blob accepted")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.lut")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestDecimate(t *testing.T) {
	tab, err := ComputeHomogeneous(testGrid(t), testInventory(t), []string{"P"}, testVelocities)
	if err != nil {
		t.Fatalf("ComputeHomogeneous: %v", err)
	}

	dec := tab.Decimate(2, 2, 2)
	if err := dec.Validate(); err != nil {
		t.Fatalf("decimated table invalid: %v", err)
	}
	g, dg := tab.Grid, dec.Grid
	if dg.NumNodes() >= g.NumNodes() {
		t.Fatalf("decimation did not shrink the grid: %d -> %d", g.NumNodes(), dg.NumNodes())
	}

	// Every decimated entry equals the matching full-grid entry.
	for ix := 0; ix < dg.NX; ix++ {
		for iy := 0; iy < dg.NY; iy++ {
			for iz := 0; iz < dg.NZ; iz++ {
				want := tab.TT[0][g.Idx(ix*2, iy*2, iz*2)]
				got := dec.TT[0][dg.Idx(ix, iy, iz)]
				if got != want {
					t.Fatalf("node (%d,%d,%d): decimated tt %v != full tt %v", ix, iy, iz, got, want)
				}
			}
		}
	}

	// Identity decimation returns the same table.
	if id := tab.Decimate(1, 1, 1); id != tab {
		t.Error("identity decimation should return the receiver")
	}
}

func TestTableTooLarge(t *testing.T) {
	// ~1e12 nodes: the allocation guard must reject this before any per-node
	// work happens.
	g, err := geom.NewGrid(
		geom.Vec3{X: 0, Y: 0, Z: 0},
		geom.Vec3{X: 1e5, Y: 1e5, Z: 100},
		geom.Vec3{X: 1, Y: 1, Z: 1},
	)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	_, err = ComputeHomogeneous(g, testInventory(t), []string{"P"}, testVelocities)
	if err == nil {
		t.Fatal("oversized table accepted")
	}
}

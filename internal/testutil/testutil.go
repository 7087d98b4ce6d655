// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glacier-data/quakescan/internal/geom"
	"github.com/glacier-data/quakescan/internal/lut"
	"github.com/glacier-data/quakescan/internal/stations"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// CornerTable builds the standard small travel-time fixture: a
// 400x400x200 m grid at 100 m spacing with four corner stations on the
// surface and a homogeneous 3000 m/s P model.
func CornerTable(t *testing.T) *lut.Table {
	t.Helper()
	grid, err := geom.NewGrid(
		geom.Vec3{},
		geom.Vec3{X: 400, Y: 400, Z: 200},
		geom.Vec3{X: 100, Y: 100, Z: 100},
	)
	if err != nil {
		t.Fatalf("build fixture grid: %v", err)
	}
	inv, err := stations.NewInventory([]stations.Station{
		{ID: "ST01", Pos: geom.Vec3{X: 0, Y: 0, Z: 0}},
		{ID: "ST02", Pos: geom.Vec3{X: 400, Y: 0, Z: 0}},
		{ID: "ST03", Pos: geom.Vec3{X: 0, Y: 400, Z: 0}},
		{ID: "ST04", Pos: geom.Vec3{X: 400, Y: 400, Z: 0}},
	})
	if err != nil {
		t.Fatalf("build fixture inventory: %v", err)
	}
	table, err := lut.ComputeHomogeneous(grid, inv, []string{"P"}, map[string]float64{"P": 3000})
	if err != nil {
		t.Fatalf("build fixture table: %v", err)
	}
	return table
}

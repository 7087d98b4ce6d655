package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/glacier-data/quakescan/internal/event"
	"github.com/glacier-data/quakescan/internal/geom"
	"github.com/glacier-data/quakescan/internal/observability"
	"github.com/glacier-data/quakescan/internal/scan"
	"github.com/glacier-data/quakescan/internal/scandb"
	"github.com/glacier-data/quakescan/internal/testutil"
)

var monT0 = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *scandb.DB {
	t.Helper()
	db, err := scandb.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return db
}

// seed stores a coalescence window, one event, and its candidate.
func seed(t *testing.T, db *scandb.DB) *event.Event {
	t.Helper()
	ctx := context.Background()

	s := scan.NewSeries(monT0, 10*time.Millisecond)
	for i := 0; i < 300; i++ {
		v := float64(i%50) / 10
		s.Append(v, v/2, i%75, 4)
	}
	if err := db.InsertSeries(ctx, s); err != nil {
		t.Fatalf("InsertSeries failed: %v", err)
	}

	ev := &event.Event{
		ID: uuid.New(),
		Triggered: event.Candidate{
			ID:        uuid.New(),
			PeakTime:  monT0.Add(time.Second),
			PeakValue: 4.0,
			PeakNode:  37,
			Start:     monT0,
			End:       monT0.Add(2 * time.Second),
			Threshold: 2.0,
		},
		OriginTime: monT0.Add(900 * time.Millisecond),
		Hypocentre: geom.Vec3{X: 200, Y: 200, Z: 100},
		Node:       37,
		PeakValue:  4.1,
		NContrib:   4,
	}
	if err := db.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	if err := db.ReplaceCandidates(ctx, monT0, monT0.Add(time.Hour), []event.Candidate{ev.Triggered}); err != nil {
		t.Fatalf("ReplaceCandidates failed: %v", err)
	}
	return ev
}

func testServer(t *testing.T, db *scandb.DB) (*Server, *observability.PipelineCollector) {
	t.Helper()
	collector, err := observability.NewPipelineCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewPipelineCollector failed: %v", err)
	}
	srv, err := NewServer(Config{
		Addr:      ":0",
		DB:        db,
		Table:     testutil.CornerTable(t),
		Collector: collector,
		Normalise: false,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv, collector
}

func get(t *testing.T, srv *Server, url string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	srv, _ := testServer(t, testDB(t))

	rr := get(t, srv, "/health")
	if rr.Code != http.StatusOK {
		t.Errorf("Health handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"status": "ok"`) {
		t.Error("Health response should report ok")
	}
	if !strings.Contains(body, "quakescan") {
		t.Error("Health response should name the service")
	}
}

func TestStatusPage(t *testing.T) {
	srv, _ := testServer(t, testDB(t))

	rr := get(t, srv, "/")
	if rr.Code != http.StatusOK {
		t.Errorf("Status handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "QuakeScan") {
		t.Error("Status page should contain 'QuakeScan'")
	}
	if !strings.Contains(body, "quakescan dev") {
		t.Error("Status page should contain the version summary")
	}

	rr = get(t, srv, "/nonexistent")
	if rr.Code != http.StatusNotFound {
		t.Errorf("Unknown path returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
	}
}

func TestAPIStatus(t *testing.T) {
	srv, _ := testServer(t, testDB(t))

	rr := get(t, srv, "/api/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("Status API returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var status struct {
		Stations int `json:"stations"`
		Phases   int `json:"phases"`
		Nodes    int `json:"nodes"`
		Pairs    int `json:"pairs"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode status JSON: %v", err)
	}
	if status.Stations != 4 || status.Phases != 1 {
		t.Errorf("Expected 4 stations and 1 phase, got %d and %d", status.Stations, status.Phases)
	}
	if status.Nodes != 75 {
		t.Errorf("Expected 75 grid nodes, got %d", status.Nodes)
	}
	if status.Pairs != 4 {
		t.Errorf("Expected 4 pairs, got %d", status.Pairs)
	}
}

func TestAPIEvents(t *testing.T) {
	db := testDB(t)
	want := seed(t, db)
	srv, _ := testServer(t, db)

	rr := get(t, srv, "/api/events?day=2024-03-09")
	if rr.Code != http.StatusOK {
		t.Fatalf("Events API returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var events []event.Event
	if err := json.NewDecoder(rr.Body).Decode(&events); err != nil {
		t.Fatalf("Failed to decode events JSON: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].ID != want.ID {
		t.Errorf("Expected event %s, got %s", want.ID, events[0].ID)
	}

	rr = get(t, srv, "/api/events?day=yesterday")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Bad day returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}

	req, _ := http.NewRequest("POST", "/api/events", nil)
	postRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(postRR, req)
	if postRR.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST returned wrong status code: got %v want %v", postRR.Code, http.StatusMethodNotAllowed)
	}
}

func TestAPICandidates(t *testing.T) {
	db := testDB(t)
	seed(t, db)
	srv, _ := testServer(t, db)

	rr := get(t, srv, "/api/candidates?day=2024-03-09")
	if rr.Code != http.StatusOK {
		t.Fatalf("Candidates API returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var cands []event.Candidate
	if err := json.NewDecoder(rr.Body).Decode(&cands); err != nil {
		t.Fatalf("Failed to decode candidates JSON: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(cands))
	}
}

func TestAPISeries(t *testing.T) {
	db := testDB(t)
	seed(t, db)
	srv, _ := testServer(t, db)

	rr := get(t, srv, "/api/series?start=2024-03-09T12:00:00Z&end=2024-03-09T12:00:03Z")
	if rr.Code != http.StatusOK {
		t.Fatalf("Series API returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var resp struct {
		Stride int       `json:"stride"`
		Raw    []float64 `json:"raw"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode series JSON: %v", err)
	}
	if resp.Stride != 1 {
		t.Errorf("Expected stride 1, got %d", resp.Stride)
	}
	if len(resp.Raw) != 300 {
		t.Errorf("Expected 300 raw ticks, got %d", len(resp.Raw))
	}

	rr = get(t, srv, "/api/series?start=2024-03-09T12:00:00Z&end=2024-03-09T12:00:03Z&max_points=150")
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode downsampled series JSON: %v", err)
	}
	if resp.Stride != 2 {
		t.Errorf("Expected stride 2, got %d", resp.Stride)
	}
	if len(resp.Raw) != 150 {
		t.Errorf("Expected 150 downsampled ticks, got %d", len(resp.Raw))
	}
}

func TestCoalescenceChart(t *testing.T) {
	db := testDB(t)
	seed(t, db)
	srv, _ := testServer(t, db)

	rr := get(t, srv, "/charts/coalescence?day=2024-03-09")
	if rr.Code != http.StatusOK {
		t.Fatalf("Chart handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("Expected HTML content type, got %s", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "echarts") {
		t.Error("Chart page should reference echarts")
	}
	if !strings.Contains(body, "Coalescence") {
		t.Error("Chart page should carry the chart title")
	}

	rr = get(t, srv, "/charts/coalescence?day=2020-01-01")
	if rr.Code != http.StatusNotFound {
		t.Errorf("Empty window returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
	}
}

func TestEventMapChart(t *testing.T) {
	db := testDB(t)
	seed(t, db)
	srv, _ := testServer(t, db)

	rr := get(t, srv, "/charts/events?day=2024-03-09")
	if rr.Code != http.StatusOK {
		t.Fatalf("Event map returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "Located Events") {
		t.Error("Event map should carry the chart title")
	}

	rr = get(t, srv, "/charts/events?day=2020-01-01")
	if rr.Code != http.StatusNotFound {
		t.Errorf("Empty window returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, collector := testServer(t, testDB(t))
	collector.AddTicks(5)

	rr := get(t, srv, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("Metrics endpoint returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "scan_ticks_total") {
		t.Error("Metrics output should contain scan_ticks_total")
	}
}

func TestParseRange(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/events?day=2024-03-09", nil)
	start, end, err := parseRange(req)
	if err != nil {
		t.Fatalf("parseRange failed: %v", err)
	}
	if !start.Equal(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected day start, got %v", start)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Errorf("Expected 24h window, got %v", end.Sub(start))
	}

	req = httptest.NewRequest("GET", "/api/events?start=2024-03-09T12:00:00Z&end=2024-03-09T11:00:00Z", nil)
	if _, _, err := parseRange(req); err == nil {
		t.Error("Expected error when start is after end")
	}

	req = httptest.NewRequest("GET", "/api/events", nil)
	start, end, err = parseRange(req)
	if err != nil {
		t.Fatalf("parseRange with defaults failed: %v", err)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Errorf("Expected default 24h window, got %v", end.Sub(start))
	}
}

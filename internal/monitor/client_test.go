package monitor

import (
	"errors"
	"strings"
	"testing"

	"github.com/glacier-data/quakescan/internal/httputil"
	"github.com/glacier-data/quakescan/internal/testutil"
)

func TestClientHealth(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"status": "ok"}`)
	c := NewClient(mock, "http://localhost:8080")

	testutil.AssertNoError(t, c.Health())
	if mock.RequestCount() != 1 {
		t.Fatalf("Expected 1 request, got %d", mock.RequestCount())
	}
	if got := mock.GetRequest(0).URL.Path; got != "/health" {
		t.Errorf("Expected /health request, got %s", got)
	}
}

func TestClientHealthFailure(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(503, "starting up")
	c := NewClient(mock, "http://localhost:8080")

	err := c.Health()
	testutil.AssertError(t, err)
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("Error should carry the status code, got %v", err)
	}
}

func TestClientStatus(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"version": "quakescan dev", "stations": 4, "pairs": 4}`)
	c := NewClient(mock, "http://localhost:8080")

	status, err := c.Status()
	testutil.AssertNoError(t, err)
	if status["version"] != "quakescan dev" {
		t.Errorf("Expected version in status, got %v", status["version"])
	}
	if status["stations"].(float64) != 4 {
		t.Errorf("Expected 4 stations, got %v", status["stations"])
	}
}

func TestClientEvents(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `[{"id": "11111111-2222-3333-4444-555555555555", "node": 37, "peak_value": 4.1}]`)
	c := NewClient(mock, "http://localhost:8080")

	events, err := c.Events("2024-03-09")
	testutil.AssertNoError(t, err)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Node != 37 {
		t.Errorf("Expected node 37, got %d", events[0].Node)
	}
	if got := mock.GetRequest(0).URL.RawQuery; got != "day=2024-03-09" {
		t.Errorf("Expected day query, got %s", got)
	}
}

func TestClientCandidates(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `[{"id": "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", "peak_node": 12, "peak_value": 3.5}]`)
	c := NewClient(mock, "http://localhost:8080")

	cands, err := c.Candidates("2024-03-09")
	testutil.AssertNoError(t, err)
	if len(cands) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(cands))
	}
	if cands[0].PeakNode != 12 {
		t.Errorf("Expected peak node 12, got %d", cands[0].PeakNode)
	}
}

func TestClientTransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.DefaultError = errors.New("connection refused")
	c := NewClient(mock, "http://localhost:8080")

	testutil.AssertError(t, c.Health())
	_, err := c.Status()
	testutil.AssertError(t, err)
	_, err = c.Events("2024-03-09")
	testutil.AssertError(t, err)
}

func TestNewClientDefaultTransport(t *testing.T) {
	c := NewClient(nil, "http://localhost:8080")
	if c.HTTPClient == nil {
		t.Fatal("Expected a default HTTP client")
	}
}

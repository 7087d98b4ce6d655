// Package monitor serves the operational HTTP surface: a status page, JSON
// APIs over the run database, chart pages, Prometheus metrics, and the admin
// debug mount with the SQL console.
package monitor

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/glacier-data/quakescan/internal/httputil"
	"github.com/glacier-data/quakescan/internal/lut"
	"github.com/glacier-data/quakescan/internal/monitoring"
	"github.com/glacier-data/quakescan/internal/observability"
	"github.com/glacier-data/quakescan/internal/scandb"
	"github.com/glacier-data/quakescan/internal/timeutil"
	"github.com/glacier-data/quakescan/internal/version"
)

var logf = monitoring.Prefixed("Monitor")

//go:embed status.html
var statusHTML embed.FS

// Config contains the wiring for the monitor server. DB, Table, and
// Collector are each optional; the routes that need a missing piece report
// that instead of registering.
type Config struct {
	Addr      string
	DB        *scandb.DB
	Table     *lut.Table
	Collector *observability.PipelineCollector

	// Normalise selects which canonical coalescence signal the APIs and
	// charts present.
	Normalise bool
}

// Server handles the HTTP monitoring interface.
type Server struct {
	addr      string
	db        *scandb.DB
	table     *lut.Table
	collector *observability.PipelineCollector
	normalise bool
	started   time.Time
	server    *http.Server
}

// NewServer creates a monitor server with the provided configuration.
func NewServer(cfg Config) (*Server, error) {
	s := &Server{
		addr:      cfg.Addr,
		db:        cfg.DB,
		table:     cfg.Table,
		collector: cfg.Collector,
		normalise: cfg.Normalise,
		started:   time.Now(),
	}
	mux, err := s.setupRoutes()
	if err != nil {
		return nil, err
	}
	s.server = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s, nil
}

// Handler returns the server's root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures the HTTP routes and handlers.
func (s *Server) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleAPIStatus)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/candidates", s.handleCandidates)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/series", s.handleSeries)
	mux.HandleFunc("/charts/coalescence", s.handleCoalescenceChart)
	mux.HandleFunc("/charts/events", s.handleEventMap)

	if s.collector != nil {
		mux.Handle("/metrics", s.collector.Handler())
	}
	if s.db != nil {
		if err := s.db.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("attach admin routes: %w", err)
		}
	}
	return mux, nil
}

// Start begins the HTTP server and blocks until ctx is cancelled, then shuts
// the server down.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		logf("Starting HTTP server on %s", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}

	logf("HTTP server routine stopped")
	return nil
}

// Close shuts down the server immediately.
func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "quakescan", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// statusData feeds the embedded status template and the JSON status API.
type statusData struct {
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	DBPath      string `json:"db_path,omitempty"`
	Stations    int    `json:"stations"`
	Phases      int    `json:"phases"`
	Nodes       int    `json:"nodes"`
	Pairs       int    `json:"pairs"`
	Day         string `json:"day"`
	DayEvents   int    `json:"day_events"`
	DayEventsOK bool   `json:"-"`
}

func (s *Server) status(ctx context.Context) statusData {
	data := statusData{
		Version: version.String(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Day:     timeutil.DayKey(time.Now()),
	}
	if s.table != nil {
		data.Stations = len(s.table.Stations)
		data.Phases = len(s.table.Phases)
		data.Nodes = s.table.Grid.NumNodes()
		data.Pairs = s.table.NumPairs()
	}
	if s.db != nil {
		data.DBPath = s.db.Path()
		if events, err := s.db.EventsOn(ctx, data.Day); err == nil {
			data.DayEvents = len(events)
			data.DayEventsOK = true
		}
	}
	return data
}

// handleStatus renders the main status page.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	tmpl, err := template.ParseFS(statusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := tmpl.Execute(w, s.status(r.Context())); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleAPIStatus returns the status block as JSON.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.status(r.Context()))
}

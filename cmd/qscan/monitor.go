package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/glacier-data/quakescan/internal/event"
	"github.com/glacier-data/quakescan/internal/lut"
	"github.com/glacier-data/quakescan/internal/monitor"
	"github.com/glacier-data/quakescan/internal/observability"
	"github.com/glacier-data/quakescan/internal/scandb"
	"github.com/glacier-data/quakescan/internal/trigger"
)

// meteredStore forwards candidate replacements to the database and counts
// them on the pipeline collector.
type meteredStore struct {
	db        *scandb.DB
	collector *observability.PipelineCollector
}

func (s meteredStore) ReplaceCandidates(ctx context.Context, start, end time.Time, cands []event.Candidate) error {
	if err := s.db.ReplaceCandidates(ctx, start, end, cands); err != nil {
		return err
	}
	s.collector.AddCandidates(len(cands))
	return nil
}

// runMonitorCommand serves the monitoring UI and metrics, optionally with
// the periodic trigger worker in the same process.
func runMonitorCommand(args []string) {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	var (
		listen    = fs.String("listen", envOr("QUAKESCAN_LISTEN", ":8080"), "HTTP listen address")
		dbPath    = fs.String("db", envOr("QUAKESCAN_DB", "quakescan.db"), "Path to the run database")
		tablePath = fs.String("table", "", "Travel-time table (optional, enriches /api/status)")
		cfgPath   = fs.String("config", "", "Path to the tuning config JSON")
		worker    = fs.Bool("worker", false, "Run the periodic trigger worker alongside the server")
	)
	fs.Parse(args)

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}
	cfg := loadTuning(*cfgPath)

	db, err := scandb.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open run database: %v", err)
	}
	defer db.Close()

	var table *lut.Table
	if *tablePath != "" {
		table, err = lut.Load(*tablePath)
		if err != nil {
			log.Fatalf("Failed to load travel-time table: %v", err)
		}
	}

	collector, err := observability.NewPipelineCollector(nil)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	server, err := monitor.NewServer(monitor.Config{
		Addr:      *listen,
		DB:        db,
		Table:     table,
		Collector: collector,
		Normalise: cfg.GetNormalise(),
	})
	if err != nil {
		log.Fatalf("Failed to build monitor server: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *worker {
		w := trigger.NewWorker(db, meteredStore{db: db, collector: collector}, cfg.TriggerConfig())
		w.Interval = cfg.GetTriggerInterval()
		w.Window = cfg.GetTriggerWindow()
		w.Start()
		log.Printf("Trigger worker running every %s over a %s lookback", w.Interval, w.Window)

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			w.Stop()
			log.Print("trigger worker stopped")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			log.Printf("monitor server error: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// runStatusCommand queries a running monitor over its HTTP API.
func runStatusCommand(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var (
		baseURL = fs.String("url", envOr("QUAKESCAN_URL", "http://localhost:8080"), "Base URL of the monitor server")
		day     = fs.String("day", "", "Also list the day's events (YYYY-MM-DD)")
	)
	fs.Parse(args)

	client := monitor.NewClient(nil, *baseURL)
	if err := client.Health(); err != nil {
		log.Fatalf("Monitor unreachable: %v", err)
	}

	status, err := client.Status()
	if err != nil {
		log.Fatalf("Failed to fetch status: %v", err)
	}
	fmt.Println("=== QuakeScan Monitor ===")
	for _, key := range []string{"version", "uptime", "db_path", "stations", "phases", "nodes", "pairs", "day", "day_events"} {
		if v, ok := status[key]; ok {
			fmt.Printf("%-12s %v\n", key, v)
		}
	}

	if *day != "" {
		events, err := client.Events(*day)
		if err != nil {
			log.Fatalf("Failed to fetch events: %v", err)
		}
		fmt.Printf("\n%d events on %s\n", len(events), *day)
		for _, ev := range events {
			fmt.Printf("  %s  origin %s  node %d  peak %.3f\n",
				ev.ID, ev.OriginTime.Format(time.RFC3339), ev.Node, ev.PeakValue)
		}
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/glacier-data/quakescan/internal/report"
	"github.com/glacier-data/quakescan/internal/scandb"
	"github.com/glacier-data/quakescan/internal/security"
	"github.com/glacier-data/quakescan/internal/timeutil"
	"github.com/glacier-data/quakescan/internal/trigger"
)

// runReportCommand writes a day's candidate CSV, per-event record and pick
// files, and the coalescence summary plot.
func runReportCommand(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	var (
		dbPath  = fs.String("db", envOr("QUAKESCAN_DB", "quakescan.db"), "Path to the run database")
		dir     = fs.String("dir", "reports", "Output directory")
		day     = fs.String("day", "", "Day to report (YYYY-MM-DD)")
		cfgPath = fs.String("config", "", "Path to the tuning config JSON")
	)
	fs.Parse(args)

	if *day == "" {
		log.Fatal("report requires -day")
	}
	d0, err := timeutil.ParseDayKey(*day)
	if err != nil {
		log.Fatalf("Invalid -day: %v", err)
	}
	d1 := d0.Add(24 * time.Hour)
	if err := security.ValidateExportPath(*dir); err != nil {
		log.Fatalf("Refusing output directory: %v", err)
	}
	cfg := loadTuning(*cfgPath)

	db, err := scandb.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open run database: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	events, err := db.EventsOn(ctx, *day)
	if err != nil {
		log.Fatalf("Failed to load events: %v", err)
	}
	candidates, err := db.CandidatesBetween(ctx, d0, d1)
	if err != nil {
		log.Fatalf("Failed to load candidates: %v", err)
	}
	series, err := db.LoadSeries(ctx, d0, d1)
	if err != nil {
		log.Fatalf("Failed to load coalescence series: %v", err)
	}

	writer, err := report.NewWriter(*dir, nil)
	if err != nil {
		log.Fatalf("Failed to prepare report directory: %v", err)
	}

	path, err := writer.WriteCandidates(*day, candidates)
	if err != nil {
		log.Fatalf("Failed to write candidate report: %v", err)
	}
	log.Printf("Wrote %d candidates to %s", len(candidates), path)

	for _, ev := range events {
		if _, err := writer.WriteEvent(ev); err != nil {
			log.Fatalf("Failed to write event %s: %v", ev.ID, err)
		}
		if _, err := writer.WritePicks(ev); err != nil {
			log.Fatalf("Failed to write picks for event %s: %v", ev.ID, err)
		}
	}
	log.Printf("Wrote %d event and pick files", len(events))

	// The summary plot redraws the day's threshold; recompute it from the
	// stored series rather than trusting any stale candidate rows.
	threshold := 0.0
	if series != nil && series.Len() > 0 {
		if _, thr, err := trigger.Run(series, cfg.TriggerConfig()); err == nil {
			threshold = thr
		}
	}
	summary, err := writer.DaySummary(series, cfg.GetNormalise(), threshold, events)
	if err != nil {
		log.Fatalf("Failed to render day summary: %v", err)
	}
	if summary == "" {
		log.Printf("No coalescence stored on %s; skipped the summary plot", *day)
	} else {
		log.Printf("Rendered day summary %s", summary)
	}
	log.Printf("✓ Report for %s written to %s", *day, writer.Dir())
}

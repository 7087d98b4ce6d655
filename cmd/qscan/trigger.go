package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/glacier-data/quakescan/internal/scandb"
	"github.com/glacier-data/quakescan/internal/trigger"
)

// runTriggerCommand reads a span of stored coalescence, thresholds it into
// candidates, and replaces the span's candidates with the result.
func runTriggerCommand(args []string) {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	var (
		dbPath   = fs.String("db", envOr("QUAKESCAN_DB", "quakescan.db"), "Path to the run database")
		cfgPath  = fs.String("config", "", "Path to the tuning config JSON")
		day      = fs.String("day", "", "Day to trigger (YYYY-MM-DD)")
		startStr = fs.String("start", "", "Span start, RFC 3339")
		endStr   = fs.String("end", "", "Span end, RFC 3339")
	)
	fs.Parse(args)

	t0, t1, err := parseSpan(*day, *startStr, *endStr)
	if err != nil {
		log.Fatalf("Invalid span: %v", err)
	}
	cfg := loadTuning(*cfgPath)

	db, err := scandb.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open run database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	runID, err := db.StartRun(ctx, "trigger")
	if err != nil {
		log.Fatalf("Failed to record run start: %v", err)
	}

	series, err := db.LoadSeries(ctx, t0, t1)
	if err != nil {
		_ = db.FailRun(ctx, runID, err.Error())
		log.Fatalf("Failed to load coalescence series: %v", err)
	}
	if series == nil || series.Len() == 0 {
		_ = db.FailRun(ctx, runID, "no coalescence in span")
		log.Fatalf("No coalescence stored in [%s, %s]; run detect first",
			t0.Format(time.RFC3339), t1.Format(time.RFC3339))
	}

	candidates, threshold, err := trigger.Run(series, cfg.TriggerConfig())
	if err != nil {
		_ = db.FailRun(ctx, runID, err.Error())
		log.Fatalf("Trigger failed: %v", err)
	}
	if err := db.ReplaceCandidates(ctx, t0, t1, candidates); err != nil {
		_ = db.FailRun(ctx, runID, err.Error())
		log.Fatalf("Failed to store candidates: %v", err)
	}

	detail := fmt.Sprintf("config=%s candidates=%d threshold=%.4f",
		cfg.Fingerprint(), len(candidates), threshold)
	if err := db.CompleteRun(ctx, runID, detail); err != nil {
		log.Fatalf("Failed to record run completion: %v", err)
	}
	log.Printf("✓ %d candidates in [%s, %s], threshold %.4f",
		len(candidates), t0.Format(time.RFC3339), t1.Format(time.RFC3339), threshold)
}

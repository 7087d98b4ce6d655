package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/glacier-data/quakescan/internal/locate"
	"github.com/glacier-data/quakescan/internal/lut"
	"github.com/glacier-data/quakescan/internal/onset"
	"github.com/glacier-data/quakescan/internal/pick"
	"github.com/glacier-data/quakescan/internal/scandb"
	"github.com/glacier-data/quakescan/internal/waveform"
)

// runLocateCommand relocates every candidate in a span on the undecimated
// grid, picks phase arrivals, and stores the resulting events.
func runLocateCommand(args []string) {
	fs := flag.NewFlagSet("locate", flag.ExitOnError)
	var (
		dbPath    = fs.String("db", envOr("QUAKESCAN_DB", "quakescan.db"), "Path to the run database")
		tablePath = fs.String("table", "", "Path to the travel-time table")
		wavePath  = fs.String("waveform", "", "Path to the waveform segments file")
		cfgPath   = fs.String("config", "", "Path to the tuning config JSON")
		day       = fs.String("day", "", "Day to locate (YYYY-MM-DD)")
		startStr  = fs.String("start", "", "Span start, RFC 3339")
		endStr    = fs.String("end", "", "Span end, RFC 3339")
	)
	fs.Parse(args)

	if *tablePath == "" || *wavePath == "" {
		log.Fatal("locate requires -table and -waveform")
	}
	t0, t1, err := parseSpan(*day, *startStr, *endStr)
	if err != nil {
		log.Fatalf("Invalid span: %v", err)
	}
	cfg := loadTuning(*cfgPath)

	// The relocation grid is never decimated, whatever detect ran on.
	table, err := lut.Load(*tablePath)
	if err != nil {
		log.Fatalf("Failed to load travel-time table: %v", err)
	}

	segments, err := waveform.ReadSegments(*wavePath)
	if err != nil {
		log.Fatalf("Failed to read waveform segments: %v", err)
	}
	sets := waveform.GroupByStation(segments)

	// Centred onsets place their peak on the arrival itself, which both the
	// marginal re-scan and the picker rely on.
	generator, err := onset.NewSTALTA(onset.ModeCentred, cfg.OnsetParams())
	if err != nil {
		log.Fatalf("Invalid onset parameters: %v", err)
	}
	series, _, _ := computeOnsets(generator, sets, cfg.GetPhases())
	if len(series) == 0 {
		log.Fatal("No onset series could be computed from the waveform archive")
	}

	locator, err := locate.NewLocator(table, series, cfg.LocateConfig())
	if err != nil {
		log.Fatalf("Failed to build locator: %v", err)
	}
	picker, err := pick.NewPicker(table, series, cfg.PickConfig())
	if err != nil {
		log.Fatalf("Failed to build picker: %v", err)
	}

	db, err := scandb.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open run database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID, err := db.StartRun(ctx, "locate")
	if err != nil {
		log.Fatalf("Failed to record run start: %v", err)
	}

	candidates, err := db.CandidatesBetween(ctx, t0, t1)
	if err != nil {
		_ = db.FailRun(ctx, runID, err.Error())
		log.Fatalf("Failed to load candidates: %v", err)
	}
	log.Printf("Locating %d candidates in [%s, %s]...",
		len(candidates), t0.Format(time.RFC3339), t1.Format(time.RFC3339))

	located, culled, failed := 0, 0, 0
	for _, cand := range candidates {
		ev, err := locator.Locate(ctx, cand)
		if err != nil {
			switch {
			case errors.Is(err, locate.ErrFadedPeak) || errors.Is(err, locate.ErrPeakAtEdge):
				culled++
				log.Printf("Culled candidate %s: %v", cand.ID, err)
				continue
			case ctx.Err() != nil:
				stop()
				storeCtx := context.Background()
				detail := fmt.Sprintf("interrupted after %d of %d candidates", located+culled+failed, len(candidates))
				_ = db.FailRun(storeCtx, runID, detail)
				log.Fatalf("Locate interrupted: %v", err)
			default:
				failed++
				log.Printf("Failed to locate candidate %s: %v", cand.ID, err)
				continue
			}
		}

		ev.Picks = picker.PickEvent(ev)
		if err := db.InsertEvent(ctx, ev); err != nil {
			failed++
			log.Printf("Failed to store event for candidate %s: %v", cand.ID, err)
			continue
		}
		located++
		log.Printf("Event %s at (%.0f, %.0f, %.0f) m, %d/%d valid picks",
			ev.ID, ev.Hypocentre.X, ev.Hypocentre.Y, ev.Hypocentre.Z, ev.ValidPicks(), len(ev.Picks))
	}

	detail := fmt.Sprintf("config=%s located=%d culled=%d failed=%d of=%d",
		cfg.Fingerprint(), located, culled, failed, len(candidates))
	if err := db.CompleteRun(ctx, runID, detail); err != nil {
		log.Fatalf("Failed to record run completion: %v", err)
	}
	log.Printf("✓ Located %d of %d candidates (%d culled, %d failed)",
		located, len(candidates), culled, failed)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/glacier-data/quakescan/internal/config"
	"github.com/glacier-data/quakescan/internal/lut"
	"github.com/glacier-data/quakescan/internal/onset"
	"github.com/glacier-data/quakescan/internal/scan"
	"github.com/glacier-data/quakescan/internal/scandb"
	"github.com/glacier-data/quakescan/internal/waveform"
)

// runDetectCommand scans a waveform archive into the coalescence series and
// stores it in the run database.
func runDetectCommand(args []string) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	var (
		dbPath    = fs.String("db", envOr("QUAKESCAN_DB", "quakescan.db"), "Path to the run database")
		tablePath = fs.String("table", "", "Path to the travel-time table")
		wavePath  = fs.String("waveform", "", "Path to the waveform segments file")
		cfgPath   = fs.String("config", "", "Path to the tuning config JSON")
		startStr  = fs.String("start", "", "Scan start, RFC 3339 (default: data start plus onset warmup)")
		endStr    = fs.String("end", "", "Scan end, RFC 3339 (default: data end minus the travel-time reach)")
		saveVols  = fs.Bool("save-volumes", false, "Persist per-tick stack volumes for chart replay")
		arenaMB   = fs.Int64("arena-mb", 0, "Stack volume memory limit in MiB (0: engine default)")
	)
	fs.Parse(args)

	if *tablePath == "" || *wavePath == "" {
		log.Fatal("detect requires -table and -waveform")
	}
	cfg := loadTuning(*cfgPath)

	table, err := lut.Load(*tablePath)
	if err != nil {
		log.Fatalf("Failed to load travel-time table: %v", err)
	}
	if d := cfg.GetDecimate(); d > 1 {
		before := table.Grid.NumNodes()
		table = table.Decimate(d, d, d)
		log.Printf("Decimated grid by %d per axis: %d -> %d nodes", d, before, table.Grid.NumNodes())
	}

	segments, err := waveform.ReadSegments(*wavePath)
	if err != nil {
		log.Fatalf("Failed to read waveform segments: %v", err)
	}
	sets := waveform.GroupByStation(segments)
	log.Printf("Loaded %d segments across %d stations", len(segments), len(sets))

	generator, err := onset.NewSTALTA(onset.ModeClassic, cfg.OnsetParams())
	if err != nil {
		log.Fatalf("Invalid onset parameters: %v", err)
	}
	series, dataStart, dataEnd := computeOnsets(generator, sets, cfg.GetPhases())
	if len(series) == 0 {
		log.Fatal("No onset series could be computed from the waveform archive")
	}
	log.Printf("Computed %d onset series, data spans [%s, %s]",
		len(series), dataStart.Format(time.RFC3339), dataEnd.Format(time.RFC3339))

	start, end, err := scanSpan(*startStr, *endStr, dataStart, dataEnd, onsetWarmup(cfg), ttReach(table))
	if err != nil {
		log.Fatalf("Cannot resolve scan span: %v", err)
	}

	scanCfg := cfg.ScanConfig()
	scanCfg.KeepVolumes = *saveVols
	scanCfg.ArenaBytes = *arenaMB << 20
	scanner, err := scan.NewScanner(table, series, scanCfg)
	if err != nil {
		log.Fatalf("Failed to build scanner: %v", err)
	}

	db, err := scandb.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open run database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID, err := db.StartRun(ctx, "detect")
	if err != nil {
		log.Fatalf("Failed to record run start: %v", err)
	}

	log.Printf("Scanning %d ticks in [%s, %s]...",
		scanner.NumTicks(start, end), start.Format(time.RFC3339), end.Format(time.RFC3339))
	result, scanErr := scanner.Scan(ctx, start, end)

	// Persist whatever was produced, even after an interrupt, under a fresh
	// context; a resumed run continues from the stored series end.
	stop()
	storeCtx := context.Background()
	if result != nil && result.Series.Len() > 0 {
		if err := db.InsertSeries(storeCtx, result.Series); err != nil {
			_ = db.FailRun(storeCtx, runID, err.Error())
			log.Fatalf("Failed to store coalescence series: %v", err)
		}
		log.Printf("Stored %d coalescence ticks", result.Series.Len())
		if result.Arena != nil {
			saved := 0
			for i := 0; i < result.Arena.NumTicks() && i < result.Series.Len(); i++ {
				if err := db.SaveVolume(storeCtx, result.Arena.TimeAt(i), result.Arena.Volume(i)); err != nil {
					log.Printf("Failed to save volume at tick %d: %v", i, err)
					break
				}
				saved++
			}
			log.Printf("Saved %d stack volumes", saved)
		}
	}
	if scanErr != nil {
		_ = db.FailRun(storeCtx, runID, scanErr.Error())
		log.Fatalf("Scan failed: %v", scanErr)
	}

	detail := fmt.Sprintf("config=%s ticks=%d span=[%s, %s]",
		cfg.Fingerprint(), result.Series.Len(), start.Format(time.RFC3339), end.Format(time.RFC3339))
	if err := db.CompleteRun(storeCtx, runID, detail); err != nil {
		log.Fatalf("Failed to record run completion: %v", err)
	}
	log.Printf("✓ Detect run %s complete: %d ticks", runID, result.Series.Len())
}

// computeOnsets builds one onset series per station and configured phase.
// Stations lacking a phase's channels are skipped with a log line. The
// returned bounds are the span common to every series.
func computeOnsets(generator onset.Generator, sets map[string]*waveform.Set, phases []string) ([]*onset.Series, time.Time, time.Time) {
	var (
		out                []*onset.Series
		dataStart, dataEnd time.Time
	)
	for station, set := range sets {
		for _, phase := range phases {
			s, err := generator.Compute(phase, set)
			if err != nil {
				log.Printf("Skipping %s/%s onsets: %v", station, phase, err)
				continue
			}
			if dataStart.IsZero() || s.Start.After(dataStart) {
				dataStart = s.Start
			}
			if e := s.End(); dataEnd.IsZero() || e.Before(dataEnd) {
				dataEnd = e
			}
			out = append(out, s)
		}
	}
	return out, dataStart, dataEnd
}

// scanSpan resolves the scan window. Explicit flags win; otherwise the data
// coverage is shrunk by the onset warmup at the front and the travel-time
// reach at the back, so every tick stacks fully settled onsets.
func scanSpan(startStr, endStr string, dataStart, dataEnd time.Time, warmup, reach time.Duration) (time.Time, time.Time, error) {
	start := dataStart.Add(warmup)
	end := dataEnd.Add(-reach)
	if startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -start: %w", err)
		}
		start = t.UTC()
	}
	if endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -end: %w", err)
		}
		end = t.UTC()
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf(
			"span [%s, %s] is empty; the archive covers [%s, %s] and needs %s warmup plus %s travel-time reach",
			start.Format(time.RFC3339), end.Format(time.RFC3339),
			dataStart.Format(time.RFC3339), dataEnd.Format(time.RFC3339), warmup, reach)
	}
	return start, end, nil
}

// onsetWarmup is the longest LTA window across the configured phases.
func onsetWarmup(cfg *config.TuningConfig) time.Duration {
	var warmup time.Duration
	for _, p := range cfg.OnsetParams() {
		if p.LTA > warmup {
			warmup = p.LTA
		}
	}
	return warmup
}

// ttReach is the table's largest travel time, rounded up to whole
// milliseconds.
func ttReach(table *lut.Table) time.Duration {
	ms := table.MaxTravelTime() * 1000
	return time.Duration(ms+1) * time.Millisecond
}

// Command qscan drives the detection pipeline: it builds travel-time tables,
// scans waveform archives into coalescence, triggers and locates events,
// writes day reports, and serves the monitoring UI.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/glacier-data/quakescan/internal/config"
	"github.com/glacier-data/quakescan/internal/timeutil"
	"github.com/glacier-data/quakescan/internal/version"
)

func main() {
	// Optional .env for deployment settings; absence is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command, args := os.Args[1], os.Args[2:]
	switch command {
	case "lut":
		runLUTCommand(args)
	case "detect":
		runDetectCommand(args)
	case "trigger":
		runTriggerCommand(args)
	case "locate":
		runLocateCommand(args)
	case "report":
		runReportCommand(args)
	case "monitor":
		runMonitorCommand(args)
	case "status":
		runStatusCommand(args)
	case "db":
		runDBCommand(args)
	case "version":
		fmt.Println(version.String())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("QuakeScan Detection Pipeline")
	fmt.Println()
	fmt.Println("Usage: qscan <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  lut       Build or inspect a travel-time table")
	fmt.Println("  detect    Scan a waveform archive into the coalescence series")
	fmt.Println("  trigger   Turn a span of coalescence into event candidates")
	fmt.Println("  locate    Locate and pick the candidates in a span")
	fmt.Println("  report    Write a day's CSV reports and summary plot")
	fmt.Println("  monitor   Serve the monitoring UI, optionally with the trigger worker")
	fmt.Println("  status    Query a running monitor over HTTP")
	fmt.Println("  db        Database migrations and pruning")
	fmt.Println("  version   Print the build version")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  QUAKESCAN_DB        Default run database path")
	fmt.Println("  QUAKESCAN_CONFIG    Default tuning config path")
	fmt.Println("  QUAKESCAN_LISTEN    Default monitor listen address")
	fmt.Println("  QUAKESCAN_URL       Default monitor base URL for status")
	fmt.Println()
	fmt.Println("Run 'qscan <command> -h' for the command's options.")
}

// envOr returns the environment value for key, or fallback when unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadTuning resolves the pipeline tuning: an explicit -config path first,
// then QUAKESCAN_CONFIG, then the built-in defaults.
func loadTuning(path string) *config.TuningConfig {
	if path == "" {
		path = os.Getenv("QUAKESCAN_CONFIG")
	}
	if path == "" {
		return config.DefaultTuningConfig()
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}
	log.Printf("Loaded tuning config %s (fingerprint %s)", path, cfg.Fingerprint())
	return cfg
}

// parseSpan resolves a processing span from either a -day key or an
// RFC 3339 -start/-end pair.
func parseSpan(day, start, end string) (time.Time, time.Time, error) {
	if day != "" {
		if start != "" || end != "" {
			return time.Time{}, time.Time{}, fmt.Errorf("-day and -start/-end are mutually exclusive")
		}
		d, err := timeutil.ParseDayKey(day)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return d, d.Add(24 * time.Hour), nil
	}
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("need -day or both -start and -end")
	}
	t0, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -start: %w", err)
	}
	t1, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -end: %w", err)
	}
	if !t1.After(t0) {
		return time.Time{}, time.Time{}, fmt.Errorf("-end %s is not after -start %s", end, start)
	}
	return t0.UTC(), t1.UTC(), nil
}

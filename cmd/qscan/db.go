package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glacier-data/quakescan/internal/scandb"
)

// runDBCommand handles migration and retention actions on the run database.
func runDBCommand(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	var (
		dbPath = fs.String("db", envOr("QUAKESCAN_DB", "quakescan.db"), "Path to the run database")
		keep   = fs.Duration("keep", 0, "Retention horizon for prune, for example 720h")
	)
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 1 {
		printDBHelp()
		os.Exit(1)
	}
	action := rest[0]

	database, err := scandb.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	switch action {
	case "up":
		handleMigrateUp(database)

	case "down":
		handleMigrateDown(database)

	case "status":
		handleMigrateStatus(database)

	case "version":
		if len(rest) < 2 {
			log.Fatal("Usage: qscan db version <version_number>")
		}
		handleMigrateVersion(database, rest[1])

	case "force":
		if len(rest) < 2 {
			log.Fatal("Usage: qscan db force <version_number>")
		}
		handleMigrateForce(database, rest[1])

	case "prune":
		if *keep <= 0 {
			log.Fatal("Usage: qscan db -keep <duration> prune")
		}
		handlePrune(database, *keep)

	case "help":
		printDBHelp()

	default:
		fmt.Printf("Unknown db action: %s\n\n", action)
		printDBHelp()
		os.Exit(1)
	}
}

// handleMigrateUp applies all pending migrations
func handleMigrateUp(database *scandb.DB) {
	log.Printf("Running migrations...")
	if err := database.MigrateUp(); err != nil {
		log.Fatalf("Migration up failed: %v", err)
	}
	log.Println("✓ All migrations applied successfully")

	version, dirty, _ := database.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateDown rolls back one migration
func handleMigrateDown(database *scandb.DB) {
	log.Printf("Rolling back one migration...")
	if err := database.MigrateDown(); err != nil {
		log.Fatalf("Migration down failed: %v", err)
	}
	log.Println("✓ Migration rolled back successfully")

	version, dirty, _ := database.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateStatus displays the current migration status
func handleMigrateStatus(database *scandb.DB) {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}

	fmt.Println("=== Migration Status ===")
	fmt.Printf("Database: %s\n", database.Path())
	fmt.Printf("Current version: %d\n", version)
	fmt.Printf("Dirty: %v\n", dirty)

	if dirty {
		fmt.Println("\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Println("A migration failed mid-execution. You may need to:")
		fmt.Println("  1. Inspect the database manually")
		fmt.Println("  2. Fix any issues")
		fmt.Println("  3. Run: qscan db force <version>")
	}
}

// handleMigrateVersion migrates to a specific version
func handleMigrateVersion(database *scandb.DB, versionStr string) {
	var targetVersion uint
	if _, err := fmt.Sscanf(versionStr, "%d", &targetVersion); err != nil {
		log.Fatalf("Invalid version number: %s", versionStr)
	}

	log.Printf("Migrating to version %d...", targetVersion)
	if err := database.MigrateTo(targetVersion); err != nil {
		log.Fatalf("Migration to version %d failed: %v", targetVersion, err)
	}
	log.Printf("✓ Migrated to version %d successfully", targetVersion)
}

// handleMigrateForce forces the migration version (recovery only)
func handleMigrateForce(database *scandb.DB, versionStr string) {
	var forceVersion int
	if _, err := fmt.Sscanf(versionStr, "%d", &forceVersion); err != nil {
		log.Fatalf("Invalid version number: %s", versionStr)
	}

	fmt.Printf("⚠️  WARNING: Forcing migration version to %d\n", forceVersion)
	fmt.Println("This should only be used to recover from a dirty migration state.")
	fmt.Print("Continue? [y/N]: ")

	var response string
	fmt.Scanln(&response)
	if response != "y" && response != "Y" {
		log.Println("Aborted")
		os.Exit(0)
	}

	if err := database.MigrateForce(forceVersion); err != nil {
		log.Fatalf("Force migration failed: %v", err)
	}
	log.Printf("✓ Migration version forced to %d", forceVersion)
}

// handlePrune drops coalescence ticks and stack volumes older than the
// retention horizon. Candidates, events, and runs are never pruned.
func handlePrune(database *scandb.DB, keep time.Duration) {
	cutoff := time.Now().UTC().Add(-keep)
	ctx := context.Background()

	ticks, err := database.PruneCoalescenceBefore(ctx, cutoff)
	if err != nil {
		log.Fatalf("Prune coalescence failed: %v", err)
	}
	volumes, err := database.PruneVolumesBefore(ctx, cutoff)
	if err != nil {
		log.Fatalf("Prune volumes failed: %v", err)
	}
	log.Printf("✓ Pruned %d coalescence ticks and %d stack volumes before %s",
		ticks, volumes, cutoff.Format(time.RFC3339))
}

// printDBHelp displays the help message for the db command
func printDBHelp() {
	fmt.Println("Run Database Commands")
	fmt.Println()
	fmt.Println("Usage: qscan db [options] <action> [args]")
	fmt.Println()
	fmt.Println("Actions:")
	fmt.Println("  up              Apply all pending migrations")
	fmt.Println("  down            Rollback one migration")
	fmt.Println("  status          Show current migration status and version")
	fmt.Println("  version <N>     Migrate to specific version N")
	fmt.Println("  force <N>       Force migration version to N (recovery only)")
	fmt.Println("  prune           Drop coalescence and volumes older than -keep")
	fmt.Println("  help            Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -db <path>      Path to database file (default: quakescan.db)")
	fmt.Println("  -keep <dur>     Retention horizon for prune, for example 720h")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  qscan db status")
	fmt.Println("  qscan db -db runs/glacier.db up")
	fmt.Println("  qscan db -keep 720h prune")
	fmt.Println("  qscan db force 2")
}

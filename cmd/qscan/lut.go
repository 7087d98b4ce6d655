package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/glacier-data/quakescan/internal/geom"
	"github.com/glacier-data/quakescan/internal/lut"
	"github.com/glacier-data/quakescan/internal/stations"
	"github.com/glacier-data/quakescan/internal/units"
)

// runLUTCommand builds a travel-time table from a station inventory and a
// velocity model, or prints a summary of an existing table.
func runLUTCommand(args []string) {
	fs := flag.NewFlagSet("lut", flag.ExitOnError)
	var (
		stationsPath = fs.String("stations", "", "Station inventory CSV (header station,x,y,z, projected metres)")
		out          = fs.String("out", "table.lut", "Output table path")
		info         = fs.String("info", "", "Print a summary of an existing table and exit")
		llStr        = fs.String("ll", "0,0,0", "Grid lower corner as x,y,z in -units")
		urStr        = fs.String("ur", "", "Grid upper corner as x,y,z in -units")
		spacingStr   = fs.String("spacing", "100,100,100", "Node spacing as x,y,z in -units")
		unitsStr     = fs.String("units", units.Metres, "Distance unit for the grid flags: m or km")
		phasesStr    = fs.String("phases", "P,S", "Comma-separated phases to model")
		vp           = fs.Float64("vp", 3000, "Homogeneous P velocity in -vunits")
		vs           = fs.Float64("vs", 1700, "Homogeneous S velocity in -vunits")
		vunitsStr    = fs.String("vunits", units.MPS, "Velocity unit for -vp/-vs: m/s or km/s")
		modelPath    = fs.String("model", "", "Layered 1-D velocity model JSON, metres and m/s (overrides -vp/-vs)")
	)
	fs.Parse(args)

	if *info != "" {
		table, err := lut.Load(*info)
		if err != nil {
			log.Fatalf("Failed to load table: %v", err)
		}
		printTableInfo(table)
		return
	}
	if *stationsPath == "" || *urStr == "" {
		log.Fatal("lut requires -stations and -ur (or -info to inspect a table)")
	}

	ll, err := parseVec3(*llStr, *unitsStr)
	if err != nil {
		log.Fatalf("Invalid -ll: %v", err)
	}
	ur, err := parseVec3(*urStr, *unitsStr)
	if err != nil {
		log.Fatalf("Invalid -ur: %v", err)
	}
	spacing, err := parseVec3(*spacingStr, *unitsStr)
	if err != nil {
		log.Fatalf("Invalid -spacing: %v", err)
	}
	grid, err := geom.NewGrid(ll, ur, spacing)
	if err != nil {
		log.Fatalf("Invalid grid: %v", err)
	}

	inv, err := stations.LoadCSV(*stationsPath)
	if err != nil {
		log.Fatalf("Failed to load stations: %v", err)
	}
	phases := splitCSV(*phasesStr)

	var table *lut.Table
	if *modelPath != "" {
		model, err := loadLayeredModel(*modelPath)
		if err != nil {
			log.Fatalf("Failed to load velocity model: %v", err)
		}
		log.Printf("Solving eikonal travel times for %d layers over %d nodes...", len(model.Layers), grid.NumNodes())
		table, err = lut.ComputeLayered(grid, inv, phases, model)
		if err != nil {
			log.Fatalf("Failed to compute layered table: %v", err)
		}
	} else {
		vpM, err := units.ToMetresPerSecond(*vp, *vunitsStr)
		if err != nil {
			log.Fatalf("Invalid -vp: %v", err)
		}
		vsM, err := units.ToMetresPerSecond(*vs, *vunitsStr)
		if err != nil {
			log.Fatalf("Invalid -vs: %v", err)
		}
		velocities := map[string]float64{"P": vpM, "S": vsM}
		table, err = lut.ComputeHomogeneous(grid, inv, phases, velocities)
		if err != nil {
			log.Fatalf("Failed to compute homogeneous table: %v", err)
		}
	}

	if err := table.Save(*out); err != nil {
		log.Fatalf("Failed to save table: %v", err)
	}
	log.Printf("✓ Travel-time table written to %s", *out)
	printTableInfo(table)
}

func printTableInfo(t *lut.Table) {
	g := t.Grid
	fmt.Println("=== Travel-Time Table ===")
	fmt.Printf("Grid:     %d nodes (%d x %d x %d), spacing %g/%g/%g m\n",
		g.NumNodes(), g.NX, g.NY, g.NZ, g.Spacing.X, g.Spacing.Y, g.Spacing.Z)
	fmt.Printf("Extent:   (%g, %g, %g) to (%g, %g, %g) m, %s x %s km footprint\n",
		g.LL.X, g.LL.Y, g.LL.Z, g.UR.X, g.UR.Y, g.UR.Z,
		units.FormatKm(g.UR.X-g.LL.X), units.FormatKm(g.UR.Y-g.LL.Y))
	fmt.Printf("Stations: %d\n", len(t.Stations))
	fmt.Printf("Phases:   %s\n", strings.Join(t.Phases, ", "))
	fmt.Printf("Pairs:    %d\n", t.NumPairs())
	fmt.Printf("Max TT:   %.3f s\n", t.MaxTravelTime())
}

// parseVec3 parses "x,y,z" in the given distance unit and converts to metres.
func parseVec3(s, unit string) (geom.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return geom.Vec3{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var out [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geom.Vec3{}, fmt.Errorf("invalid coordinate '%s': %w", p, err)
		}
		if out[i], err = units.ToMetres(v, unit); err != nil {
			return geom.Vec3{}, err
		}
	}
	return geom.Vec3{X: out[0], Y: out[1], Z: out[2]}, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadLayeredModel reads a layered 1-D velocity model from JSON.
func loadLayeredModel(path string) (lut.LayeredModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lut.LayeredModel{}, err
	}
	var model lut.LayeredModel
	if err := json.Unmarshal(data, &model); err != nil {
		return lut.LayeredModel{}, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return model, model.Validate()
}

// Package stations holds the immutable station inventory consumed by the
// travel-time model and the picker. Positions are metres in the projected
// local frame; geographic inventories are converted through a caller-supplied
// projection.
package stations

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/glacier-data/quakescan/internal/geom"
)

// Station is one seismometer site.
type Station struct {
	ID  string    `json:"id"`
	Pos geom.Vec3 `json:"pos"`
}

// Projection maps geographic coordinates (decimal degrees, elevation metres
// above datum) to the projected frame. Supplied by the caller; this package
// performs no geodesy of its own.
type Projection func(lat, lon, elev float64) geom.Vec3

// Inventory is an immutable, ordered set of stations with unique IDs.
type Inventory struct {
	list []Station
	byID map[string]int
}

// NewInventory builds an inventory, rejecting duplicate or empty IDs. The
// station order is preserved as given; it defines the stable station ordering
// used everywhere downstream.
func NewInventory(list []Station) (*Inventory, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("station inventory is empty")
	}
	byID := make(map[string]int, len(list))
	for i, s := range list {
		if s.ID == "" {
			return nil, fmt.Errorf("station %d has empty id", i)
		}
		if prev, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate station id %q (positions %d and %d)", s.ID, prev, i)
		}
		byID[s.ID] = i
	}
	cp := make([]Station, len(list))
	copy(cp, list)
	return &Inventory{list: cp, byID: byID}, nil
}

// Len returns the number of stations.
func (inv *Inventory) Len() int { return len(inv.list) }

// At returns the station at ordinal position i.
func (inv *Inventory) At(i int) Station { return inv.list[i] }

// Index returns the ordinal position of a station ID, or -1 if absent.
func (inv *Inventory) Index(id string) int {
	i, ok := inv.byID[id]
	if !ok {
		return -1
	}
	return i
}

// ByID looks up a station by ID.
func (inv *Inventory) ByID(id string) (Station, bool) {
	i, ok := inv.byID[id]
	if !ok {
		return Station{}, false
	}
	return inv.list[i], true
}

// IDs returns the station IDs in inventory order.
func (inv *Inventory) IDs() []string {
	out := make([]string, len(inv.list))
	for i, s := range inv.list {
		out[i] = s.ID
	}
	return out
}

// Sorted returns a copy of the inventory ordered by station ID. Useful for
// stable report output regardless of load order.
func (inv *Inventory) Sorted() *Inventory {
	cp := make([]Station, len(inv.list))
	copy(cp, inv.list)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ID < cp[j].ID })
	out, _ := NewInventory(cp)
	return out
}

// LoadCSV reads an inventory from a CSV file with header "station,x,y,z"
// (projected metres). Additional columns are ignored.
func LoadCSV(path string) (*Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open station file: %w", err)
	}
	defer f.Close()
	inv, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("station file %s: %w", path, err)
	}
	return inv, nil
}

// ReadCSV parses inventory CSV from a reader.
func ReadCSV(r io.Reader) (*Inventory, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{"station", "x", "y", "z"} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("missing required column %q", need)
		}
	}

	var list []Station
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		id := strings.TrimSpace(rec[cols["station"]])
		var pos geom.Vec3
		for _, ax := range []struct {
			name string
			dst  *float64
		}{{"x", &pos.X}, {"y", &pos.Y}, {"z", &pos.Z}} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[ax.name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad %s value %q", line, ax.name, rec[cols[ax.name]])
			}
			*ax.dst = v
		}
		list = append(list, Station{ID: id, Pos: pos})
	}
	return NewInventory(list)
}

// GeographicStation is a station given in geographic coordinates, converted
// to the projected frame by FromGeographic.
type GeographicStation struct {
	ID        string
	Lat       float64
	Lon       float64
	Elevation float64
}

// FromGeographic projects a geographic station list into an inventory.
func FromGeographic(list []GeographicStation, proj Projection) (*Inventory, error) {
	if proj == nil {
		return nil, fmt.Errorf("nil projection")
	}
	out := make([]Station, len(list))
	for i, g := range list {
		out[i] = Station{ID: g.ID, Pos: proj(g.Lat, g.Lon, g.Elevation)}
	}
	return NewInventory(out)
}

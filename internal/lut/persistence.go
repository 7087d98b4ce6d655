package lut

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/glacier-data/quakescan/internal/geom"
	"github.com/glacier-data/quakescan/internal/stations"
)

// tableFormatVersion tags the serialized layout so later readers can reject
// or translate old files.
const tableFormatVersion = 1

// tableFile is the self-describing on-disk form of a Table.
type tableFile struct {
	FormatVersion int
	Grid          geom.Grid
	Stations      []stations.Station
	Phases        []string
	TT            [][]float64
}

// serializeTable compresses the table using gob encoding and gzip compression.
// gob carries float64 values bit-exactly, so save/load round-trips reproduce
// identical travel times.
func serializeTable(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(tableFile{
		FormatVersion: tableFormatVersion,
		Grid:          t.Grid,
		Stations:      t.Stations,
		Phases:        t.Phases,
		TT:            t.TT,
	}); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deserializeTable decompresses and decodes a table from a gob+gzip blob.
func deserializeTable(blob []byte) (*Table, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty table blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var f tableFile
	dec := gob.NewDecoder(gz)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode table: %w", err)
	}
	if f.FormatVersion != tableFormatVersion {
		return nil, fmt.Errorf("unsupported table format version %d (want %d)", f.FormatVersion, tableFormatVersion)
	}
	t := &Table{Grid: f.Grid, Stations: f.Stations, Phases: f.Phases, TT: f.TT}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("loaded table invalid: %w", err)
	}
	return t, nil
}

// Save writes the table to path. The file is self-describing: grid geometry,
// stations, and phases travel with the numbers, so it loads independently of
// the run that created it.
func (t *Table) Save(path string) error {
	blob, err := serializeTable(t)
	if err != nil {
		return fmt.Errorf("serialize table: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	logf("saved table to %s (%d bytes, %d pairs, %d nodes)", path, len(blob), t.NumPairs(), t.Grid.NumNodes())
	return nil
}

// Load reads a table previously written by Save.
func Load(path string) (*Table, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	t, err := deserializeTable(blob)
	if err != nil {
		return nil, fmt.Errorf("table file %s: %w", path, err)
	}
	return t, nil
}

package scandb

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/glacier-data/quakescan/internal/timeutil"
)

// serializeVolume compresses one tick's stack volume with gob+gzip, the same
// wire form the travel-time tables use. gob carries float64 bit-exactly.
func serializeVolume(vol []float64) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(vol); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeVolume(blob []byte) ([]float64, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty volume blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var vol []float64
	if err := gob.NewDecoder(gz).Decode(&vol); err != nil {
		return nil, fmt.Errorf("failed to decode volume: %w", err)
	}
	return vol, nil
}

// SaveVolume stores the full stack volume for one tick. Saving the same tick
// again replaces the blob.
func (db *DB) SaveVolume(ctx context.Context, tick time.Time, vol []float64) error {
	if len(vol) == 0 {
		return fmt.Errorf("volume is empty")
	}
	blob, err := serializeVolume(vol)
	if err != nil {
		return fmt.Errorf("serialize volume: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO volumes (tick_ns, day, num_nodes, data)
		VALUES (?, ?, ?, ?)
	`, tick.UnixNano(), timeutil.DayKey(tick), len(vol), blob)
	if err != nil {
		return fmt.Errorf("insert volume: %w", err)
	}
	return nil
}

// LoadVolume retrieves the stored stack volume for one tick.
func (db *DB) LoadVolume(ctx context.Context, tick time.Time) ([]float64, error) {
	var numNodes int
	var blob []byte
	err := db.QueryRowContext(ctx,
		`SELECT num_nodes, data FROM volumes WHERE tick_ns = ?`, tick.UnixNano(),
	).Scan(&numNodes, &blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no volume stored at %s", tick.Format(time.RFC3339Nano))
	}
	if err != nil {
		return nil, fmt.Errorf("get volume: %w", err)
	}

	vol, err := deserializeVolume(blob)
	if err != nil {
		return nil, err
	}
	if len(vol) != numNodes {
		return nil, fmt.Errorf("volume at %s decoded to %d nodes, row says %d",
			tick.Format(time.RFC3339Nano), len(vol), numNodes)
	}
	return vol, nil
}

// PruneVolumesBefore deletes stored volumes older than cutoff and reports how
// many went. Volume blobs dominate the database size, so retention here is
// the main lever on disk use.
func (db *DB) PruneVolumesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM volumes WHERE tick_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune volumes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check prune result: %w", err)
	}
	return n, nil
}

package scandb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/glacier-data/quakescan/internal/scan"
	"github.com/glacier-data/quakescan/internal/timeutil"
)

// InsertSeries stores the ticks of a coalescence series, replacing any rows
// already present at the same instants so re-scans of a span are idempotent.
func (db *DB) InsertSeries(ctx context.Context, s *scan.Series) error {
	if s == nil || s.Len() == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO coalescence (
				tick_ns, day, interval_ns, raw, norm, node, ncontrib
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare coalescence insert: %w", err)
		}
		defer stmt.Close()

		for i := 0; i < s.Len(); i++ {
			at := s.TimeAt(i)
			if _, err := stmt.ExecContext(ctx,
				at.UnixNano(), timeutil.DayKey(at), int64(s.Interval),
				s.Raw[i], s.Norm[i], s.Node[i], s.NContrib[i],
			); err != nil {
				return fmt.Errorf("insert coalescence tick %s: %w", at.Format(time.RFC3339Nano), err)
			}
		}
		return nil
	})
}

// LoadSeries reconstructs the stored series covering [start, end]. The result
// spans the first to the last stored tick in range; interior gaps are filled
// with zero-value ticks (node -1, no contributors) so the series stays
// regular. An empty range loads as an empty series.
func (db *DB) LoadSeries(ctx context.Context, start, end time.Time) (*scan.Series, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tick_ns, interval_ns, raw, norm, node, ncontrib
		FROM coalescence
		WHERE tick_ns BETWEEN ? AND ?
		ORDER BY tick_ns ASC
	`, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query coalescence: %w", err)
	}
	defer rows.Close()

	var series *scan.Series
	for rows.Next() {
		var tickNs, intervalNs int64
		var raw, norm float64
		var node, ncontrib int
		if err := rows.Scan(&tickNs, &intervalNs, &raw, &norm, &node, &ncontrib); err != nil {
			return nil, fmt.Errorf("scan coalescence row: %w", err)
		}
		at := time.Unix(0, tickNs).UTC()
		interval := time.Duration(intervalNs)

		if series == nil {
			series = scan.NewSeries(at, interval)
		} else if interval != series.Interval {
			return nil, fmt.Errorf("coalescence tick spacing changed from %v to %v at %s",
				series.Interval, interval, at.Format(time.RFC3339Nano))
		}

		// Pad interior gaps up to this tick.
		for series.End().Before(at) {
			series.Append(0, 0, -1, 0)
		}
		series.Append(raw, norm, node, ncontrib)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("coalescence rows: %w", err)
	}
	if series == nil {
		series = scan.NewSeries(start.UTC(), 0)
	}
	return series, nil
}

// PruneCoalescenceBefore deletes stored ticks older than cutoff and reports
// how many went.
func (db *DB) PruneCoalescenceBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM coalescence WHERE tick_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune coalescence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check prune result: %w", err)
	}
	return n, nil
}

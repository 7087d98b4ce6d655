package scandb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glacier-data/quakescan/internal/event"
	"github.com/glacier-data/quakescan/internal/timeutil"
)

// ReplaceCandidates deletes the candidates whose peak falls inside
// [start, end] and inserts cands in their place, in one transaction. The
// trigger worker re-runs overlapping windows, so plain inserts would
// duplicate every detection the windows share; replacement keyed on the peak
// tick keeps exactly one row per detection.
func (db *DB) ReplaceCandidates(ctx context.Context, start, end time.Time, cands []event.Candidate) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM candidates WHERE peak_ns >= ? AND peak_ns <= ?`,
			start.UnixNano(), end.UnixNano(),
		); err != nil {
			return fmt.Errorf("delete window candidates: %w", err)
		}

		if len(cands) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candidates (
				candidate_id, day, peak_ns, peak_value, peak_node,
				start_ns, end_ns, threshold, merged
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare candidate insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range cands {
			if _, err := stmt.ExecContext(ctx,
				c.ID.String(), timeutil.DayKey(c.PeakTime),
				c.PeakTime.UnixNano(), c.PeakValue, c.PeakNode,
				c.Start.UnixNano(), c.End.UnixNano(), c.Threshold, c.Merged,
			); err != nil {
				return fmt.Errorf("insert candidate %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// CandidatesBetween lists candidates peaking within [start, end] in peak
// order.
func (db *DB) CandidatesBetween(ctx context.Context, start, end time.Time) ([]event.Candidate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT candidate_id, peak_ns, peak_value, peak_node,
		       start_ns, end_ns, threshold, merged
		FROM candidates
		WHERE peak_ns BETWEEN ? AND ?
		ORDER BY peak_ns ASC
	`, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var cands []event.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candidate rows: %w", err)
	}
	return cands, nil
}

// GetCandidate retrieves one candidate by ID.
func (db *DB) GetCandidate(ctx context.Context, id uuid.UUID) (*event.Candidate, error) {
	row := db.QueryRowContext(ctx, `
		SELECT candidate_id, peak_ns, peak_value, peak_node,
		       start_ns, end_ns, threshold, merged
		FROM candidates WHERE candidate_id = ?
	`, id.String())
	c, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("candidate not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return &c, nil
}

func scanCandidate(row rowScanner) (event.Candidate, error) {
	var c event.Candidate
	var idStr string
	var peakNs, startNs, endNs int64

	if err := row.Scan(&idStr, &peakNs, &c.PeakValue, &c.PeakNode,
		&startNs, &endNs, &c.Threshold, &c.Merged); err != nil {
		return event.Candidate{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return event.Candidate{}, fmt.Errorf("parse candidate id %q: %w", idStr, err)
	}
	c.ID = id
	c.PeakTime = time.Unix(0, peakNs).UTC()
	c.Start = time.Unix(0, startNs).UTC()
	c.End = time.Unix(0, endNs).UTC()
	return c, nil
}

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

// InsertEvent stores a located event and its picks in one transaction. The
// triggered candidate is denormalised into the event row so relocation
// survives the trigger worker replacing candidates underneath it. Re-locating
// the same event ID replaces the previous row and picks.
func (db *DB) InsertEvent(ctx context.Context, ev *event.Event) error {
	if ev == nil {
		return fmt.Errorf("event is required")
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO events (
				event_id, candidate_id, day, origin_ns,
				x, y, z, node, peak_value, n_contrib,
				sigma_x, sigma_y, sigma_z, capped,
				global_sigma, centroid_x, centroid_y, centroid_z,
				on_boundary,
				trig_peak_ns, trig_peak_value, trig_peak_node,
				trig_start_ns, trig_end_ns, trig_threshold, trig_merged
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ev.ID.String(), ev.Triggered.ID.String(),
			timeutil.DayKey(ev.OriginTime), ev.OriginTime.UnixNano(),
			ev.Hypocentre.X, ev.Hypocentre.Y, ev.Hypocentre.Z,
			ev.Node, ev.PeakValue, ev.NContrib,
			ev.Uncertainty.Sigma.X, ev.Uncertainty.Sigma.Y, ev.Uncertainty.Sigma.Z,
			boolToInt(ev.Uncertainty.Capped),
			ev.Uncertainty.GlobalSigma,
			ev.Uncertainty.Centroid.X, ev.Uncertainty.Centroid.Y, ev.Uncertainty.Centroid.Z,
			boolToInt(ev.OnBoundary),
			ev.Triggered.PeakTime.UnixNano(), ev.Triggered.PeakValue, ev.Triggered.PeakNode,
			ev.Triggered.Start.UnixNano(), ev.Triggered.End.UnixNano(),
			ev.Triggered.Threshold, ev.Triggered.Merged,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM picks WHERE event_id = ?`, ev.ID.String(),
		); err != nil {
			return fmt.Errorf("clear event picks: %w", err)
		}
		if len(ev.Picks) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO picks (
				event_id, seq, station, phase, pick_ns, pick_error, snr, valid, reason
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare pick insert: %w", err)
		}
		defer stmt.Close()

		for i, p := range ev.Picks {
			var pickNs interface{}
			if !p.Time.IsZero() {
				pickNs = p.Time.UnixNano()
			}
			if _, err := stmt.ExecContext(ctx,
				ev.ID.String(), i, p.Station, p.Phase,
				pickNs, p.Error, p.SNR, boolToInt(p.Valid), nullString(p.Reason),
			); err != nil {
				return fmt.Errorf("insert pick %s %s: %w", p.Station, p.Phase, err)
			}
		}
		return nil
	})
}

// GetEvent retrieves one event with its picks.
func (db *DB) GetEvent(ctx context.Context, id uuid.UUID) (*event.Event, error) {
	row := db.QueryRowContext(ctx, eventSelect+` WHERE event_id = ?`, id.String())
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if err := db.loadPicks(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// EventsBetween lists events with origin times in [start, end] in origin
// order, picks included.
func (db *DB) EventsBetween(ctx context.Context, start, end time.Time) ([]*event.Event, error) {
	rows, err := db.QueryContext(ctx,
		eventSelect+` WHERE origin_ns BETWEEN ? AND ? ORDER BY origin_ns ASC`,
		start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return db.collectEvents(ctx, rows)
}

// EventsOn lists the events of one UTC day in origin order, picks included.
func (db *DB) EventsOn(ctx context.Context, day string) ([]*event.Event, error) {
	rows, err := db.QueryContext(ctx,
		eventSelect+` WHERE day = ? ORDER BY origin_ns ASC`, day,
	)
	if err != nil {
		return nil, fmt.Errorf("query day events: %w", err)
	}
	return db.collectEvents(ctx, rows)
}

const eventSelect = `
	SELECT event_id, candidate_id, origin_ns,
	       x, y, z, node, peak_value, n_contrib,
	       sigma_x, sigma_y, sigma_z, capped,
	       global_sigma, centroid_x, centroid_y, centroid_z,
	       on_boundary,
	       trig_peak_ns, trig_peak_value, trig_peak_node,
	       trig_start_ns, trig_end_ns, trig_threshold, trig_merged
	FROM events`

func (db *DB) collectEvents(ctx context.Context, rows *sql.Rows) ([]*event.Event, error) {
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event rows: %w", err)
	}
	for _, ev := range events {
		if err := db.loadPicks(ctx, ev); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var ev event.Event
	var idStr, candStr string
	var originNs, trigPeakNs, trigStartNs, trigEndNs int64
	var capped, onBoundary int

	if err := row.Scan(
		&idStr, &candStr, &originNs,
		&ev.Hypocentre.X, &ev.Hypocentre.Y, &ev.Hypocentre.Z,
		&ev.Node, &ev.PeakValue, &ev.NContrib,
		&ev.Uncertainty.Sigma.X, &ev.Uncertainty.Sigma.Y, &ev.Uncertainty.Sigma.Z,
		&capped,
		&ev.Uncertainty.GlobalSigma,
		&ev.Uncertainty.Centroid.X, &ev.Uncertainty.Centroid.Y, &ev.Uncertainty.Centroid.Z,
		&onBoundary,
		&trigPeakNs, &ev.Triggered.PeakValue, &ev.Triggered.PeakNode,
		&trigStartNs, &trigEndNs, &ev.Triggered.Threshold, &ev.Triggered.Merged,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse event id %q: %w", idStr, err)
	}
	candID, err := uuid.Parse(candStr)
	if err != nil {
		return nil, fmt.Errorf("parse candidate id %q: %w", candStr, err)
	}
	ev.ID = id
	ev.Triggered.ID = candID
	ev.OriginTime = time.Unix(0, originNs).UTC()
	ev.Uncertainty.Capped = capped != 0
	ev.OnBoundary = onBoundary != 0
	ev.Triggered.PeakTime = time.Unix(0, trigPeakNs).UTC()
	ev.Triggered.Start = time.Unix(0, trigStartNs).UTC()
	ev.Triggered.End = time.Unix(0, trigEndNs).UTC()
	return &ev, nil
}

func (db *DB) loadPicks(ctx context.Context, ev *event.Event) error {
	rows, err := db.QueryContext(ctx, `
		SELECT station, phase, pick_ns, pick_error, snr, valid, reason
		FROM picks WHERE event_id = ? ORDER BY seq ASC
	`, ev.ID.String())
	if err != nil {
		return fmt.Errorf("query event picks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p event.Pick
		var pickNs sql.NullInt64
		var valid int
		var reason sql.NullString
		if err := rows.Scan(&p.Station, &p.Phase, &pickNs, &p.Error, &p.SNR, &valid, &reason); err != nil {
			return fmt.Errorf("scan pick row: %w", err)
		}
		if pickNs.Valid {
			p.Time = time.Unix(0, pickNs.Int64).UTC()
		}
		p.Valid = valid != 0
		if reason.Valid {
			p.Reason = reason.String
		}
		ev.Picks = append(ev.Picks, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("pick rows: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

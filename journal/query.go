package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// GetFill returns a single fill by ID.
func (j *SQLite) GetFill(fillID string) (FillRecord, error) {
	row := j.db.QueryRow(`
		SELECT fill_id, session_id, time, bucket, exchange, symbol, side, qty, price, order_id, fallback
		FROM fills
		WHERE fill_id = ?`, fillID)

	rec, err := scanFill(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return FillRecord{}, fmt.Errorf("fill %q not found", fillID)
		}
		return FillRecord{}, err
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFill(s scanner) (FillRecord, error) {
	var rec FillRecord
	err := s.Scan(
		&rec.FillID,
		&rec.SessionID,
		&rec.Time,
		&rec.Bucket,
		&rec.Exchange,
		&rec.Symbol,
		&rec.Side,
		&rec.Qty,
		&rec.Price,
		&rec.OrderID,
		&rec.Fallback,
	)
	return rec, err
}

// ListFillsBetween returns fills with time within [start, end).
func (j *SQLite) ListFillsBetween(start, end time.Time) ([]FillRecord, error) {
	rows, err := j.db.Query(`
		SELECT fill_id, session_id, time, bucket, exchange, symbol, side, qty, price, order_id, fallback
		FROM fills
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, fill_id ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		rec, err := scanFill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListActionsBetween returns actions with time within [start, end).
func (j *SQLite) ListActionsBetween(start, end time.Time) ([]ActionRecord, error) {
	rows, err := j.db.Query(`
		SELECT id, session_id, time, action, details
		FROM actions
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, id ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var rec ActionRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Time, &rec.Action, &rec.Details); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMTMBetween returns MTM snapshots with time within [start, end).
func (j *SQLite) ListMTMBetween(start, end time.Time) ([]MTMSnapshot, error) {
	rows, err := j.db.Query(`
		SELECT session_id, time, mtm, peak, day_realized, pnl_batman, pnl_spread
		FROM mtm
		WHERE time >= ? AND time < ?
		ORDER BY time ASC;`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MTMSnapshot
	for rows.Next() {
		var rec MTMSnapshot
		if err := rows.Scan(
			&rec.SessionID,
			&rec.Time,
			&rec.MTM,
			&rec.Peak,
			&rec.DayRealized,
			&rec.PnLBatman,
			&rec.PnLSpread,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

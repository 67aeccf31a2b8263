package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordFill(f FillRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO fills
		(fill_id, session_id, time, bucket, exchange, symbol, side, qty, price, order_id, fallback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FillID, f.SessionID, f.Time, f.Bucket, f.Exchange, f.Symbol,
		f.Side, f.Qty, f.Price, f.OrderID, f.Fallback,
	)
	return err
}

func (j *SQLite) RecordAction(a ActionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO actions
		(id, session_id, time, action, details)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.Time, a.Action, a.Details,
	)
	return err
}

func (j *SQLite) RecordMTM(m MTMSnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO mtm
		(session_id, time, mtm, peak, day_realized, pnl_batman, pnl_spread)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Time, m.MTM, m.Peak, m.DayRealized, m.PnLBatman, m.PnLSpread,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

package journal

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fillRow, actionRow and mtmRow map the records onto the same tables the
// SQLite schema creates.
type fillRow struct {
	FillID    string    `gorm:"column:fill_id;primaryKey"`
	SessionID string    `gorm:"column:session_id;not null"`
	Time      time.Time `gorm:"column:time;not null;index:idx_fills_time"`
	Bucket    string    `gorm:"column:bucket;not null"`
	Exchange  string    `gorm:"column:exchange;not null"`
	Symbol    string    `gorm:"column:symbol;not null"`
	Side      string    `gorm:"column:side;not null"`
	Qty       int       `gorm:"column:qty;not null"`
	Price     float64   `gorm:"column:price;not null"`
	OrderID   string    `gorm:"column:order_id;not null"`
	Fallback  bool      `gorm:"column:fallback;not null"`
}

func (fillRow) TableName() string { return "fills" }

type actionRow struct {
	ID        string    `gorm:"column:id;primaryKey"`
	SessionID string    `gorm:"column:session_id;not null"`
	Time      time.Time `gorm:"column:time;not null;index:idx_actions_time"`
	Action    string    `gorm:"column:action;not null"`
	Details   string    `gorm:"column:details;not null"`
}

func (actionRow) TableName() string { return "actions" }

type mtmRow struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID   string    `gorm:"column:session_id;not null"`
	Time        time.Time `gorm:"column:time;not null;index:idx_mtm_time"`
	MTM         float64   `gorm:"column:mtm;not null"`
	Peak        float64   `gorm:"column:peak;not null"`
	DayRealized float64   `gorm:"column:day_realized;not null"`
	PnLBatman   float64   `gorm:"column:pnl_batman;not null"`
	PnLSpread   float64   `gorm:"column:pnl_spread;not null"`
}

func (mtmRow) TableName() string { return "mtm" }

func toFillRow(r FillRecord) fillRow {
	return fillRow{
		FillID: r.FillID, SessionID: r.SessionID, Time: r.Time, Bucket: r.Bucket,
		Exchange: r.Exchange, Symbol: r.Symbol, Side: r.Side, Qty: r.Qty,
		Price: r.Price, OrderID: r.OrderID, Fallback: r.Fallback,
	}
}

func (r fillRow) record() FillRecord {
	return FillRecord{
		FillID: r.FillID, SessionID: r.SessionID, Time: r.Time, Bucket: r.Bucket,
		Exchange: r.Exchange, Symbol: r.Symbol, Side: r.Side, Qty: r.Qty,
		Price: r.Price, OrderID: r.OrderID, Fallback: r.Fallback,
	}
}

func toMTMRow(m MTMSnapshot) mtmRow {
	return mtmRow{
		SessionID: m.SessionID, Time: m.Time, MTM: m.MTM, Peak: m.Peak,
		DayRealized: m.DayRealized, PnLBatman: m.PnLBatman, PnLSpread: m.PnLSpread,
	}
}

func (r mtmRow) record() MTMSnapshot {
	return MTMSnapshot{
		SessionID: r.SessionID, Time: r.Time, MTM: r.MTM, Peak: r.Peak,
		DayRealized: r.DayRealized, PnLBatman: r.PnLBatman, PnLSpread: r.PnLSpread,
	}
}

// Postgres is a journal on a shared PostgreSQL database.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres connects with dsn and migrates the journal tables.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&fillRow{}, &actionRow{}, &mtmRow{}); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (j *Postgres) RecordFill(r FillRecord) error {
	row := toFillRow(r)
	return j.db.Create(&row).Error
}

func (j *Postgres) RecordAction(a ActionRecord) error {
	row := actionRow(a)
	return j.db.Create(&row).Error
}

func (j *Postgres) RecordMTM(m MTMSnapshot) error {
	row := toMTMRow(m)
	return j.db.Create(&row).Error
}

func (j *Postgres) ListFillsBetween(start, end time.Time) ([]FillRecord, error) {
	var rows []fillRow
	err := j.db.Where("time >= ? AND time < ?", start, end).
		Order("time ASC, fill_id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]FillRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (j *Postgres) ListActionsBetween(start, end time.Time) ([]ActionRecord, error) {
	var rows []actionRow
	err := j.db.Where("time >= ? AND time < ?", start, end).
		Order("time ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]ActionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, ActionRecord(r))
	}
	return out, nil
}

func (j *Postgres) ListMTMBetween(start, end time.Time) ([]MTMSnapshot, error) {
	var rows []mtmRow
	err := j.db.Where("time >= ? AND time < ?", start, end).
		Order("time ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]MTMSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (j *Postgres) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

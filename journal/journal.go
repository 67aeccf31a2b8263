package journal

import (
	"time"
)

// FillRecord is one executed order slice booked into the ledger.
type FillRecord struct {
	FillID    string
	SessionID string
	Time      time.Time
	Bucket    string
	Exchange  string
	Symbol    string
	Side      string
	Qty       int
	Price     float64
	OrderID   string
	Fallback  bool // filled after the limit order was converted to market
}

// ActionRecord is a strategy decision such as an entry, exit or shift.
type ActionRecord struct {
	ID        string
	SessionID string
	Time      time.Time
	Action    string
	Details   string // JSON object
}

// MTMSnapshot is one risk monitor tick.
type MTMSnapshot struct {
	SessionID   string
	Time        time.Time
	MTM         float64
	Peak        float64
	DayRealized float64
	PnLBatman   float64
	PnLSpread   float64
}

type Journal interface {
	RecordFill(FillRecord) error
	RecordAction(ActionRecord) error
	RecordMTM(MTMSnapshot) error
	Close() error
}

// Reader is implemented by journals that can be queried.
type Reader interface {
	ListFillsBetween(start, end time.Time) ([]FillRecord, error)
	ListActionsBetween(start, end time.Time) ([]ActionRecord, error)
	ListMTMBetween(start, end time.Time) ([]MTMSnapshot, error)
}

// Nop discards every record.
type Nop struct{}

func (Nop) RecordFill(FillRecord) error     { return nil }
func (Nop) RecordAction(ActionRecord) error { return nil }
func (Nop) RecordMTM(MTMSnapshot) error     { return nil }
func (Nop) Close() error                    { return nil }

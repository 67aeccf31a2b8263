package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"
)

// CSV appends records to three files. It is write only.
type CSV struct {
	mu      sync.Mutex
	fills   *csv.Writer
	actions *csv.Writer
	mtm     *csv.Writer
	files   []*os.File
}

var (
	fillsHeader   = []string{"fill_id", "session_id", "time", "bucket", "exchange", "symbol", "side", "qty", "price", "order_id", "fallback"}
	actionsHeader = []string{"id", "session_id", "time", "action", "details"}
	mtmHeader     = []string{"session_id", "time", "mtm", "peak", "day_realized", "pnl_batman", "pnl_spread"}
)

func NewCSV(fillsPath, actionsPath, mtmPath string) (*CSV, error) {
	j := &CSV{}
	open := func(path string, header []string) (*csv.Writer, error) {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		j.files = append(j.files, f)
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		w.Flush()
		return w, w.Error()
	}

	var err error
	if j.fills, err = open(fillsPath, fillsHeader); err != nil {
		j.Close()
		return nil, err
	}
	if j.actions, err = open(actionsPath, actionsHeader); err != nil {
		j.Close()
		return nil, err
	}
	if j.mtm, err = open(mtmPath, mtmHeader); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func (j *CSV) write(w *csv.Writer, row []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSV) RecordFill(r FillRecord) error {
	return j.write(j.fills, []string{
		r.FillID,
		r.SessionID,
		r.Time.Format(time.RFC3339),
		r.Bucket,
		r.Exchange,
		r.Symbol,
		r.Side,
		strconv.Itoa(r.Qty),
		f(r.Price),
		r.OrderID,
		strconv.FormatBool(r.Fallback),
	})
}

func (j *CSV) RecordAction(a ActionRecord) error {
	return j.write(j.actions, []string{
		a.ID,
		a.SessionID,
		a.Time.Format(time.RFC3339),
		a.Action,
		a.Details,
	})
}

func (j *CSV) RecordMTM(m MTMSnapshot) error {
	return j.write(j.mtm, []string{
		m.SessionID,
		m.Time.Format(time.RFC3339),
		f(m.MTM),
		f(m.Peak),
		f(m.DayRealized),
		f(m.PnLBatman),
		f(m.PnLSpread),
	})
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var first error
	for _, file := range j.files {
		if err := file.Close(); err != nil && first == nil {
			first = err
		}
	}
	j.files = nil
	return first
}

func f(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

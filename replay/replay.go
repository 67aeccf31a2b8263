// Package replay runs recorded minute bars through a full session against
// the paper gateway on a simulated clock.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/straddle/broker/paper"
	"github.com/rustyeddy/straddle/config"
	"github.com/rustyeddy/straddle/journal"
	"github.com/rustyeddy/straddle/ledger"
	"github.com/rustyeddy/straddle/market"
	"github.com/rustyeddy/straddle/session"
	"github.com/rustyeddy/straddle/status"
	"github.com/rustyeddy/straddle/strategy"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "replay")

// Bar is one recorded candle of an instrument key, e.g. the index key
// "256265" or "NFO:NIFTY25OCT24500CE".
type Bar struct {
	Key string
	market.Bar
}

// LoadCSV reads rows of time,key,close[,volume]. Times are RFC3339. A
// leading header row starting with "time" is skipped.
func LoadCSV(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var out []Bar
	for line := 1; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}
		b, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, b)
	}
}

// LoadFile reads a bar file written in the LoadCSV format.
func LoadFile(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSV(f)
}

func parseRow(row []string) (Bar, error) {
	if len(row) < 3 {
		return Bar{}, fmt.Errorf("bad row (need at least 3 cols time,key,close): %v", row)
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
	if err != nil {
		return Bar{}, fmt.Errorf("bad time %q: %w", row[0], err)
	}
	key := strings.TrimSpace(row[1])
	if key == "" {
		return Bar{}, errors.New("empty key")
	}
	closePx, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return Bar{}, fmt.Errorf("bad close %q: %w", row[2], err)
	}
	var vol float64
	if len(row) >= 4 && strings.TrimSpace(row[3]) != "" {
		vol, err = strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			return Bar{}, fmt.Errorf("bad volume %q: %w", row[3], err)
		}
	}
	return Bar{Key: key, Bar: market.Bar{Time: market.Minute(t.In(market.IST)), Close: closePx, Volume: vol}}, nil
}

// Options controls a replay.
type Options struct {
	Strategy  config.Strategy
	Execution config.ExecutionConfig
	Journal   journal.Journal
	Sink      status.Sink
	SessionID string

	// CloseAtEnd exits every position after the last bar.
	CloseAtEnd bool
}

// Result summarises a replay.
type Result struct {
	Minutes     int
	Orders      int
	DayRealized float64
	MTM         float64
	VWAP        float64
	VWAPValid   bool
	Trigger     string // risk exit code, empty when none fired
	FinalState  strategy.State
	Open        map[ledger.Bucket][]ledger.Position
}

// Run replays bars one index minute at a time. Each minute's candle is
// treated as closed one minute later; option quotes are the candle closes.
// Orders fill at their limit price.
func Run(ctx context.Context, bars []Bar, opts Options) (Result, error) {
	und, err := opts.Strategy.Underlying()
	if err != nil {
		return Result{}, err
	}

	gw := paper.New(paper.FillComplete)
	byMinute := map[time.Time][]Bar{}
	indexed := map[time.Time]bool{}
	var minutes []time.Time
	for _, b := range bars {
		gw.AddBars(b.Key, b.Bar)
		byMinute[b.Time] = append(byMinute[b.Time], b)
		if b.Key == und.IndexKey && !indexed[b.Time] {
			indexed[b.Time] = true
			minutes = append(minutes, b.Time)
		}
	}
	if len(minutes) == 0 {
		return Result{}, fmt.Errorf("no %s index bars (key %s)", und.Name, und.IndexKey)
	}
	sort.Slice(minutes, func(i, j int) bool { return minutes[i].Before(minutes[j]) })

	exec := opts.Execution
	exec.SliceDelay = ""
	exec.PollInterval = ""

	id := opts.SessionID
	if id == "" {
		id = "REPLAY"
	}
	sess, err := session.New(id, opts.Strategy, session.Deps{
		Gateway:   gw,
		Ledger:    ledger.New(),
		Journal:   opts.Journal,
		Sink:      opts.Sink,
		Execution: exec,
	})
	if err != nil {
		return Result{}, err
	}

	var now time.Time
	clock := func() time.Time { return now }
	gw.SetClock(clock)
	sess.Aggregator.SetClock(clock)
	sess.Runner.SetClock(clock)
	sess.Engine.SetClock(clock)
	sess.Monitor.SetClock(clock)

	var res Result
	for _, m := range minutes {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		now = m.Add(time.Minute + sess.Runner.SettleDelay)
		for _, b := range byMinute[m] {
			gw.SetQuote(b.Key, b.Close)
		}
		res.Minutes++

		if err := sess.Aggregator.Poll(ctx); err != nil {
			log.WithError(err).WithField("minute", m.In(market.IST).Format("15:04")).Debug("aggregate")
		}
		sess.Runner.Poll(ctx)
		d, err := sess.Monitor.Tick(ctx)
		if err != nil {
			log.WithError(err).Debug("mtm")
			continue
		}
		res.MTM = d.Mark.MTM
		if d.Exit {
			res.Trigger = d.Trigger().Code
			break
		}
	}

	if opts.CloseAtEnd && res.Trigger == "" {
		if err := sess.ExitAll(ctx, "END_OF_REPLAY"); err != nil {
			log.WithError(err).Warn("close at end")
		}
	}

	l := sess.Engine.Ledger()
	snap := sess.Aggregator.Snapshot()
	res.Orders = len(gw.Orders())
	res.DayRealized = l.DayRealized()
	res.VWAP, res.VWAPValid = snap.VWAP, snap.VWAPValid
	res.FinalState = sess.Machine.State()
	res.Open = map[ledger.Bucket][]ledger.Position{}
	for _, b := range []ledger.Bucket{ledger.Batman, ledger.DebitSpread} {
		if ps := l.Positions(b); len(ps) > 0 {
			res.Open[b] = ps
		}
	}
	return res, nil
}

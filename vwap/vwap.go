// Package vwap builds the synthetic ATM straddle series from minute bars
// and keeps its cumulative volume weighted average price.
package vwap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/straddle/broker"
	"github.com/rustyeddy/straddle/market"
	"github.com/rustyeddy/straddle/status"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("component", "vwap")

// State accumulates price×volume and volume. The zero value is an empty
// accumulator.
type State struct {
	CumPV  float64
	CumVol float64
}

func (s *State) Add(price, volume float64) {
	s.CumPV += price * volume
	s.CumVol += volume
}

// Value returns CumPV/CumVol. ok is false while no volume has traded.
func (s State) Value() (float64, bool) {
	if s.CumVol == 0 {
		return 0, false
	}
	return s.CumPV / s.CumVol, true
}

// BarSource is the part of the gateway the aggregator reads.
type BarSource interface {
	MinuteBars(ctx context.Context, key string, from, to time.Time) ([]market.Bar, error)
}

// Snapshot is the aggregator's last published view.
type Snapshot struct {
	Time      time.Time // last accepted index bar
	Index     float64
	ATM       int
	Straddle  float64
	VWAP      float64
	VWAPValid bool
	Ready     bool
	Bars      int
}

type Aggregator struct {
	src    BarSource
	und    market.Underlying
	expiry string
	sink   status.Sink

	index    *market.Series
	straddle *market.Series

	// SettleDelay is waited after each minute boundary before polling so
	// the just-closed candle is available.
	SettleDelay time.Duration
	now         func() time.Time

	mu    sync.RWMutex
	state State
	snap  Snapshot
}

func New(src BarSource, und market.Underlying, expiry string, sink status.Sink) *Aggregator {
	if sink == nil {
		sink = status.Nop{}
	}
	return &Aggregator{
		src:         src,
		und:         und,
		expiry:      expiry,
		sink:        sink,
		index:       market.NewSeries(und.Name),
		straddle:    market.NewSeries(und.Name + " straddle"),
		SettleDelay: 2 * time.Second,
		now:         time.Now,
	}
}

// SetClock replaces the wall clock, for tests and replays.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

func (a *Aggregator) Index() *market.Series    { return a.index }
func (a *Aggregator) Straddle() *market.Series { return a.straddle }

func (a *Aggregator) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap.Ready
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// State returns the accumulator.
func (a *Aggregator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Backfill processes every index bar from session open to now. Before the
// session opens nothing is fetched.
func (a *Aggregator) Backfill(ctx context.Context) error {
	now := a.now()
	open := market.SessionOpen(now)
	if now.Before(open) {
		return nil
	}
	return a.fetch(ctx, open, now)
}

// Poll processes index bars newer than the last accepted one.
func (a *Aggregator) Poll(ctx context.Context) error {
	now := a.now()
	open := market.SessionOpen(now)
	if now.Before(open) {
		return nil
	}
	from := open
	if last, ok := a.index.Last(); ok && !last.Time.Before(open) {
		from = last.Time.Add(time.Minute)
	}
	if from.After(now) {
		return nil
	}
	return a.fetch(ctx, from, now)
}

func (a *Aggregator) fetch(ctx context.Context, from, to time.Time) error {
	bars, err := a.src.MinuteBars(ctx, a.und.IndexKey, from, to)
	if err != nil {
		return fmt.Errorf("index bars: %w", err)
	}

	// the candle of the current minute is still forming
	closed := market.Minute(to)
	accepted := 0
	for _, b := range bars {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !b.Time.Before(closed) {
			continue
		}
		ok, err := a.Process(ctx, b)
		if err != nil {
			log.WithError(err).WithField("bar", b.Time.Format("15:04")).Warn("straddle bar dropped")
			continue
		}
		if ok {
			accepted++
		}
	}
	if accepted > 0 {
		a.publish(ctx)
	}
	return nil
}

// Process adds one index bar. The CE and PE candles at the bar's ATM strike
// are fetched together and both must be present, otherwise nothing is
// updated. ok is false for bars at or before the last accepted one.
func (a *Aggregator) Process(ctx context.Context, bar market.Bar) (ok bool, err error) {
	if last, have := a.index.Last(); have && !bar.Time.After(last.Time) {
		return false, nil
	}

	atm := a.und.ATM(bar.Close)
	ceKey := a.und.Key(a.und.OptionSymbol(a.expiry, atm, market.Call))
	peKey := a.und.Key(a.und.OptionSymbol(a.expiry, atm, market.Put))

	var ce, pe market.Bar
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ce, err = a.optionBar(gctx, ceKey, bar.Time)
		return err
	})
	g.Go(func() (err error) {
		pe, err = a.optionBar(gctx, peKey, bar.Time)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	price := ce.Close + pe.Close
	volume := ce.Volume + pe.Volume

	if err := a.index.Append(bar); err != nil {
		return false, err
	}
	if err := a.straddle.Append(market.Bar{Time: bar.Time, Close: price, Volume: volume}); err != nil {
		return false, err
	}

	a.mu.Lock()
	a.state.Add(price, volume)
	v, valid := a.state.Value()
	a.snap = Snapshot{
		Time:      bar.Time,
		Index:     bar.Close,
		ATM:       atm,
		Straddle:  price,
		VWAP:      v,
		VWAPValid: valid,
		Ready:     true,
		Bars:      a.snap.Bars + 1,
	}
	a.mu.Unlock()

	log.WithFields(logrus.Fields{
		"bar":      bar.Time.Format("15:04"),
		"index":    bar.Close,
		"atm":      atm,
		"straddle": price,
		"vwap":     v,
	}).Debug("straddle bar")
	return true, nil
}

// optionBar returns the candle of key stamped t. The range ends a minute
// later since historical APIs treat equal bounds inconsistently.
func (a *Aggregator) optionBar(ctx context.Context, key string, t time.Time) (market.Bar, error) {
	bars, err := a.src.MinuteBars(ctx, key, t, t.Add(time.Minute))
	if err != nil {
		return market.Bar{}, err
	}
	for _, b := range bars {
		if b.Time.Equal(t) {
			return b, nil
		}
	}
	return market.Bar{}, fmt.Errorf("%w: no %s candle for %s", broker.ErrDataUnavailable, key, t.Format("15:04"))
}

func (a *Aggregator) publish(ctx context.Context) {
	s := a.Snapshot()
	u := status.TradingUpdate{Straddle: status.Float(s.Straddle)}
	if s.VWAPValid {
		u.VWAP = status.Float(s.VWAP)
	}
	a.sink.Trading(ctx, u)
}

// Run back-fills the session and then polls once per minute until ctx is
// done. Fetch failures are logged and retried on the next minute.
func (a *Aggregator) Run(ctx context.Context) error {
	if err := a.Backfill(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Warn("backfill failed, continuing with live bars")
		a.sink.Status(ctx, status.StateError, "straddle backfill failed: "+err.Error())
	}

	for {
		wait := a.untilNextPoll()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		if err := a.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("poll failed")
		}
	}
}

// untilNextPoll is the time left to the next minute boundary plus
// SettleDelay, or to session open when the session has not started.
func (a *Aggregator) untilNextPoll() time.Duration {
	now := a.now()
	if open := market.SessionOpen(now); now.Before(open) {
		return open.Add(time.Minute + a.SettleDelay).Sub(now)
	}
	next := market.Minute(now).Add(time.Minute + a.SettleDelay)
	return next.Sub(now)
}

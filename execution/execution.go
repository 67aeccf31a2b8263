// Package execution turns an order intent into freeze-limit sized limit
// order slices, falls back to market on slices that do not fill in time,
// and books every fill into the ledger.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/straddle/broker"
	"github.com/rustyeddy/straddle/journal"
	"github.com/rustyeddy/straddle/ledger"
	"github.com/rustyeddy/straddle/pkg/id"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "execution")

// ErrInvalidOrder is returned for orders with an unknown side, a
// non-positive quantity or no symbol.
var ErrInvalidOrder = errors.New("invalid order")

// Reason describes how a slice ended.
type Reason string

const (
	ReasonFilled         Reason = "filled"
	ReasonMarketFallback Reason = "market_fallback"
	ReasonQuoteFailed    Reason = "quote_failed"
	ReasonPlaceFailed    Reason = "place_failed"
	ReasonRejected       Reason = "rejected"
	ReasonCancelled      Reason = "cancelled"
)

type Order struct {
	Bucket   ledger.Bucket
	Exchange string
	Symbol   string
	Side     broker.Side
	Quantity int
}

// Key is the exchange qualified instrument, e.g. NFO:NIFTY25OCT24500CE.
func (o Order) Key() string { return o.Exchange + ":" + o.Symbol }

func (o Order) validate() error {
	if !o.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidOrder, o.Quantity)
	}
	if o.Symbol == "" || o.Exchange == "" {
		return fmt.Errorf("%w: missing instrument", ErrInvalidOrder)
	}
	return nil
}

type Slice struct {
	Symbol   string
	Side     broker.Side
	Quantity int
	Index    int // 1-based
	Total    int
}

type SliceResult struct {
	Slice
	OrderID    string
	Reason     Reason
	LimitPrice float64
	FillPrice  float64
	Err        error
}

// Filled reports whether the slice was booked into the ledger.
func (r SliceResult) Filled() bool {
	return r.Reason == ReasonFilled || r.Reason == ReasonMarketFallback
}

type Outcome struct {
	Order   Order
	Slices  []SliceResult
	OrderID string // first filled slice
}

// OK is false when no slice filled.
func (o Outcome) OK() bool { return o.OrderID != "" }

func (o Outcome) FilledQty() int {
	n := 0
	for _, s := range o.Slices {
		if s.Filled() {
			n += s.Quantity
		}
	}
	return n
}

// Slices splits total into freeze-limit sized pieces plus a remainder.
func Slices(total, limit int) []int {
	if total <= 0 {
		return nil
	}
	if limit <= 0 || total <= limit {
		return []int{total}
	}
	out := make([]int, 0, total/limit+1)
	for total >= limit {
		out = append(out, limit)
		total -= limit
	}
	if total > 0 {
		out = append(out, total)
	}
	return out
}

// LimitPrice offsets ltp by buffer (a fraction) against the trader and
// rounds to tick: BUY rounds up, SELL rounds down. The result is never
// below one tick.
func LimitPrice(ltp float64, side broker.Side, buffer, tick float64) float64 {
	p := decimal.NewFromFloat(ltp)
	b := decimal.NewFromFloat(buffer)
	t := decimal.NewFromFloat(tick)
	one := decimal.NewFromInt(1)

	var ticks decimal.Decimal
	if side == broker.Buy {
		ticks = p.Mul(one.Add(b)).Div(t).Ceil()
	} else {
		ticks = p.Mul(one.Sub(b)).Div(t).Floor()
	}
	if ticks.LessThan(one) {
		ticks = one
	}
	return ticks.Mul(t).InexactFloat64()
}

type Config struct {
	FreezeLimits map[string]int
	DefaultLimit int
	TickSize     float64
	Buffer       float64 // fraction of LTP
	FillTimeout  time.Duration
	PollInterval time.Duration
	SliceDelay   time.Duration
	Product      broker.Product
}

func (c Config) FreezeLimit(exchange string) int {
	if lim, ok := c.FreezeLimits[exchange]; ok && lim > 0 {
		return lim
	}
	return c.DefaultLimit
}

// FillRecorder receives every booked fill.
type FillRecorder interface {
	RecordFill(journal.FillRecord) error
}

type Engine struct {
	gw        broker.Gateway
	ledger    *ledger.Ledger
	cfg       Config
	fills     FillRecorder
	sessionID string
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(gw broker.Gateway, l *ledger.Ledger, cfg Config, fills FillRecorder, sessionID string) *Engine {
	if fills == nil {
		fills = journal.Nop{}
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = 0.05
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Product == "" {
		cfg.Product = broker.MIS
	}
	return &Engine{
		gw:        gw,
		ledger:    l,
		cfg:       cfg,
		fills:     fills,
		sessionID: sessionID,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// SetClock replaces the wall clock used for fill deadlines and journal
// stamps, for replays.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// lock serializes Execute calls for one (bucket, symbol).
func (e *Engine) lock(o Order) func() {
	key := string(o.Bucket) + "|" + o.Symbol
	e.mu.Lock()
	m, ok := e.locks[key]
	if !ok {
		m = &sync.Mutex{}
		e.locks[key] = m
	}
	e.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Execute places o as one or more slices. Slice failures do not stop the
// remaining slices; they are reported in the Outcome.
func (e *Engine) Execute(ctx context.Context, o Order) (Outcome, error) {
	if err := o.validate(); err != nil {
		return Outcome{Order: o}, err
	}

	unlock := e.lock(o)
	defer unlock()

	sizes := Slices(o.Quantity, e.cfg.FreezeLimit(o.Exchange))
	out := Outcome{Order: o, Slices: make([]SliceResult, 0, len(sizes))}

	for i, q := range sizes {
		s := Slice{Symbol: o.Symbol, Side: o.Side, Quantity: q, Index: i + 1, Total: len(sizes)}

		if i > 0 && !sleep(ctx, e.cfg.SliceDelay) {
			out.Slices = append(out.Slices, SliceResult{Slice: s, Reason: ReasonCancelled, Err: ctx.Err()})
			sliceFailures.WithLabelValues(string(ReasonCancelled)).Inc()
			continue
		}

		res := e.executeSlice(ctx, o, s)
		if !res.Filled() {
			sliceFailures.WithLabelValues(string(res.Reason)).Inc()
			log.WithError(res.Err).WithFields(logrus.Fields{
				"symbol": o.Symbol,
				"slice":  fmt.Sprintf("%d/%d", s.Index, s.Total),
				"reason": res.Reason,
			}).Warn("slice failed")
		} else if out.OrderID == "" {
			out.OrderID = res.OrderID
		}
		out.Slices = append(out.Slices, res)
	}

	e.logStats(out)
	return out, nil
}

func (e *Engine) executeSlice(ctx context.Context, o Order, s Slice) SliceResult {
	res := SliceResult{Slice: s}
	if err := ctx.Err(); err != nil {
		res.Reason, res.Err = ReasonCancelled, err
		return res
	}

	ltp, err := e.gw.Quote(ctx, o.Key())
	if err != nil {
		res.Reason, res.Err = ReasonQuoteFailed, err
		return res
	}

	limit := LimitPrice(ltp, s.Side, e.cfg.Buffer, e.cfg.TickSize)
	res.LimitPrice = limit

	oid, err := e.gw.PlaceOrder(ctx, broker.OrderRequest{
		Exchange: o.Exchange,
		Symbol:   o.Symbol,
		Side:     s.Side,
		Quantity: s.Quantity,
		Type:     broker.Limit,
		Price:    &limit,
		Product:  e.cfg.Product,
	})
	if err != nil {
		res.Reason, res.Err = ReasonPlaceFailed, err
		return res
	}
	res.OrderID = oid
	limitPlaced.WithLabelValues(string(s.Side)).Inc()

	ev, done := e.waitFill(ctx, oid)
	switch {
	case done && ev.Status == broker.StatusComplete:
		res.Reason = ReasonFilled
		res.FillPrice = ev.FillPrice()
		if res.FillPrice <= 0 {
			res.FillPrice = limit
		}
		limitFilled.WithLabelValues(string(s.Side)).Inc()
	case done:
		res.Reason = ReasonRejected
		res.Err = fmt.Errorf("order %s %s: %s", oid, ev.Status, ev.StatusMessage)
		return res
	default:
		// The order is live at the broker; convert it even if ctx is done.
		limitTimeout.WithLabelValues(string(s.Side)).Inc()
		mctx := context.WithoutCancel(ctx)
		if err := e.gw.ModifyOrder(mctx, oid, broker.Market, nil); err != nil {
			log.WithError(err).WithField("order_id", oid).Error("modify to market failed")
		}
		res.Reason = ReasonMarketFallback
		res.FillPrice = limit
	}

	e.book(o, &res)
	return res
}

// waitFill polls the order history until the order reaches a terminal
// status or the fill timeout expires. done is false on timeout.
func (e *Engine) waitFill(ctx context.Context, oid string) (broker.OrderEvent, bool) {
	deadline := e.now().Add(e.cfg.FillTimeout)
	for {
		hist, err := e.gw.OrderHistory(ctx, oid)
		if err != nil {
			log.WithError(err).WithField("order_id", oid).Debug("order history")
		} else if n := len(hist); n > 0 && hist[n-1].Status.Terminal() {
			return hist[n-1], true
		}

		if !e.now().Before(deadline) {
			return broker.OrderEvent{}, false
		}
		if !sleep(ctx, e.cfg.PollInterval) {
			return broker.OrderEvent{}, false
		}
	}
}

func (e *Engine) book(o Order, res *SliceResult) {
	if _, _, err := e.ledger.Apply(o.Bucket, o.Symbol, res.Side, res.Quantity, res.FillPrice); err != nil {
		log.WithError(err).WithField("order_id", res.OrderID).Error("ledger rejected fill")
		return
	}
	rec := journal.FillRecord{
		FillID:    id.New(),
		SessionID: e.sessionID,
		Time:      e.now(),
		Bucket:    string(o.Bucket),
		Exchange:  o.Exchange,
		Symbol:    o.Symbol,
		Side:      string(res.Side),
		Qty:       res.Quantity,
		Price:     res.FillPrice,
		OrderID:   res.OrderID,
		Fallback:  res.Reason == ReasonMarketFallback,
	}
	if err := e.fills.RecordFill(rec); err != nil {
		log.WithError(err).Warn("journal fill")
	}
}

func (e *Engine) logStats(out Outcome) {
	var filled, fallback, failed int
	for _, s := range out.Slices {
		switch {
		case s.Reason == ReasonFilled:
			filled++
		case s.Reason == ReasonMarketFallback:
			fallback++
		default:
			failed++
		}
	}
	log.WithFields(logrus.Fields{
		"bucket":   out.Order.Bucket,
		"symbol":   out.Order.Symbol,
		"side":     out.Order.Side,
		"qty":      out.Order.Quantity,
		"slices":   len(out.Slices),
		"filled":   filled,
		"fallback": fallback,
		"failed":   failed,
	}).Info("order executed")
}

// sleep waits d or until ctx is done. It reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

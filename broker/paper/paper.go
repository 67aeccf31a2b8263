// Package paper is an in-memory sandbox gateway. Orders never leave the
// process: quotes and minute bars are seeded by the caller and orders fill
// according to the configured FillMode.
package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/straddle/broker"
	"github.com/rustyeddy/straddle/market"
	"github.com/rustyeddy/straddle/pkg/id"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "paper")

type FillMode string

const (
	// FillComplete fills every order immediately at its limit price.
	FillComplete FillMode = "complete"
	// FillOpen leaves limit orders open until they are modified to market.
	FillOpen FillMode = "open"
	// FillReject rejects every order.
	FillReject FillMode = "reject"
)

func ParseFillMode(s string) (FillMode, error) {
	switch m := FillMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return FillComplete, nil
	case FillComplete, FillOpen, FillReject:
		return m, nil
	default:
		return "", fmt.Errorf("unknown paper fill mode %q", s)
	}
}

// Order is a snapshot of one sandbox order.
type Order struct {
	ID            string
	Request       broker.OrderRequest
	Status        broker.OrderStatus
	Modifications int
}

type order struct {
	id     string
	req    broker.OrderRequest
	events []broker.OrderEvent
	mods   int
}

func (o *order) status() broker.OrderStatus {
	return o.events[len(o.events)-1].Status
}

type Gateway struct {
	mu     sync.Mutex
	quotes *market.QuoteStore
	bars   map[string][]market.Bar
	orders map[string]*order
	seq    []string
	mode   FillMode
	now    func() time.Time
}

var _ broker.Gateway = (*Gateway)(nil)

func New(mode FillMode) *Gateway {
	if mode == "" {
		mode = FillComplete
	}
	return &Gateway{
		quotes: market.NewQuoteStore(),
		bars:   make(map[string][]market.Bar),
		orders: make(map[string]*order),
		mode:   mode,
		now:    time.Now,
	}
}

// SetClock replaces the time source used to stamp order events.
func (g *Gateway) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

func (g *Gateway) SetMode(mode FillMode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = mode
}

// SetQuote sets the last traded price for key.
func (g *Gateway) SetQuote(key string, price float64) {
	g.quotes.Set(market.Quote{Key: key, Price: price, Time: g.clock()})
}

// AddBars appends minute bars for key. Bars are kept sorted by time.
func (g *Gateway) AddBars(key string, bars ...market.Bar) {
	g.mu.Lock()
	defer g.mu.Unlock()
	all := append(g.bars[key], bars...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })
	g.bars[key] = all
}

func (g *Gateway) clock() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now()
}

func (g *Gateway) Quote(ctx context.Context, key string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p, err := g.quotes.Quote(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", broker.ErrDataUnavailable, err)
	}
	return p, nil
}

// MinuteBars returns the seeded bars of key with from <= Time <= to.
func (g *Gateway) MinuteBars(ctx context.Context, key string, from, to time.Time) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []market.Bar
	for _, b := range g.bars[key] {
		if b.Time.Before(from) || b.Time.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !req.Side.Valid() || req.Quantity <= 0 {
		return "", fmt.Errorf("place order: invalid request %s %d %s", req.Side, req.Quantity, req.Symbol)
	}

	price := 0.0
	switch req.Type {
	case broker.Limit:
		if req.Price == nil || *req.Price <= 0 {
			return "", fmt.Errorf("place order: limit order without price")
		}
		price = *req.Price
	case broker.Market:
		p, err := g.quotes.Get(req.Exchange + ":" + req.Symbol)
		if err != nil {
			return "", fmt.Errorf("place order: %w", err)
		}
		price = p.Price
	default:
		return "", fmt.Errorf("place order: unknown order type %q", req.Type)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	o := &order{id: id.WithPrefix("SANDBOX"), req: req}
	now := g.now()
	open := broker.OrderEvent{OrderID: o.id, Status: broker.StatusOpen, Price: price, Time: now}
	o.events = append(o.events, open)

	switch {
	case g.mode == FillReject:
		o.events = append(o.events, broker.OrderEvent{
			OrderID: o.id, Status: broker.StatusRejected, Price: price,
			StatusMessage: "sandbox rejection", Time: now,
		})
	case g.mode == FillComplete || req.Type == broker.Market:
		o.events = append(o.events, completed(o, price, now))
	}

	g.orders[o.id] = o
	g.seq = append(g.seq, o.id)

	log.WithFields(logrus.Fields{
		"order_id": o.id,
		"symbol":   req.Symbol,
		"side":     req.Side,
		"qty":      req.Quantity,
		"price":    price,
		"status":   o.status(),
	}).Debug("sandbox order")

	return o.id, nil
}

func completed(o *order, price float64, t time.Time) broker.OrderEvent {
	return broker.OrderEvent{
		OrderID:      o.id,
		Status:       broker.StatusComplete,
		Price:        price,
		AveragePrice: price,
		FilledQty:    o.req.Quantity,
		Time:         t,
	}
}

// ModifyOrder records the modification. Converting an open order to MARKET
// fills it at the current quote, or at its last price when no quote is set.
func (g *Gateway) ModifyOrder(ctx context.Context, orderID string, typ broker.OrderType, price *float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("modify order: order %q not found", orderID)
	}
	o.mods++
	if o.status().Terminal() {
		return fmt.Errorf("modify order: order %q is %s", orderID, o.status())
	}

	last := o.events[len(o.events)-1].Price
	now := g.now()
	switch typ {
	case broker.Market:
		fill := last
		if q, err := g.quotes.Get(o.req.Exchange + ":" + o.req.Symbol); err == nil {
			fill = q.Price
		}
		o.req.Type = broker.Market
		o.events = append(o.events, completed(o, fill, now))
	case broker.Limit:
		if price == nil || *price <= 0 {
			return fmt.Errorf("modify order: limit without price")
		}
		o.req.Price = price
		o.events = append(o.events, broker.OrderEvent{OrderID: o.id, Status: broker.StatusOpen, Price: *price, Time: now})
	default:
		return fmt.Errorf("modify order: unknown order type %q", typ)
	}
	return nil
}

func (g *Gateway) OrderHistory(ctx context.Context, orderID string) ([]broker.OrderEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order history: order %q not found", orderID)
	}
	out := make([]broker.OrderEvent, len(o.events))
	copy(out, o.events)
	return out, nil
}

// Orders returns every order in placement order.
func (g *Gateway) Orders() []Order {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Order, 0, len(g.seq))
	for _, oid := range g.seq {
		o := g.orders[oid]
		out = append(out, Order{ID: o.id, Request: o.req, Status: o.status(), Modifications: o.mods})
	}
	return out
}

package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/straddle/market"
)

// ErrDataUnavailable wraps quote and candle failures. Callers skip the
// current unit of work and retry on the next cycle.
var ErrDataUnavailable = errors.New("market data unavailable")

// Gateway is the market data and order surface the core trades through.
type Gateway interface {
	market.QuoteSource
	MinuteBars(ctx context.Context, key string, from, to time.Time) ([]market.Bar, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	ModifyOrder(ctx context.Context, orderID string, typ OrderType, price *float64) error
	OrderHistory(ctx context.Context, orderID string) ([]OrderEvent, error)
}

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

type Product string

const (
	MIS  Product = "MIS"
	NRML Product = "NRML"
)

func (p Product) Valid() bool { return p == MIS || p == NRML }

// ParseProduct accepts MIS or NRML in any case.
func ParseProduct(s string) (Product, error) {
	switch p := Product(strings.ToUpper(strings.TrimSpace(s))); p {
	case MIS, NRML:
		return p, nil
	default:
		return "", fmt.Errorf("unknown product type %q", s)
	}
}

type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusComplete  OrderStatus = "COMPLETE"
	StatusRejected  OrderStatus = "REJECTED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further fills can follow this status.
func (s OrderStatus) Terminal() bool {
	return s == StatusComplete || s == StatusRejected || s == StatusCancelled
}

type OrderRequest struct {
	Exchange string
	Symbol   string
	Side     Side
	Quantity int
	Type     OrderType
	Price    *float64
	Product  Product
}

// OrderEvent is one entry of an order's status history.
type OrderEvent struct {
	OrderID       string
	Status        OrderStatus
	Price         float64
	AveragePrice  float64
	FilledQty     int
	StatusMessage string
	Time          time.Time
}

// FillPrice returns the best price known for a completed event.
func (e OrderEvent) FillPrice() float64 {
	if e.AveragePrice > 0 {
		return e.AveragePrice
	}
	return e.Price
}

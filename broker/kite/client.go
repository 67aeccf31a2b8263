// Package kite implements broker.Gateway over the Kite Connect v3 REST API.
package kite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/straddle/broker"
	"github.com/rustyeddy/straddle/market"
	"github.com/sirupsen/logrus"
)

// DefaultURL is the production Kite Connect endpoint.
const DefaultURL = "https://api.kite.trade"

const (
	// candleTime is the timestamp layout of historical candles.
	candleTime = "2006-01-02T15:04:05-0700"
	// queryTime is the layout Kite expects for from/to parameters.
	queryTime = "2006-01-02 15:04:05"
	// orderTime is the layout of order_timestamp in order history.
	orderTime = "2006-01-02 15:04:05"
)

var log = logrus.WithField("component", "kite")

// Client represents a Kite Connect API client
type Client struct {
	baseURL     string
	apiKey      string
	accessToken string
	httpClient  *http.Client

	mu     sync.Mutex
	tokens map[string]int64 // "NFO:SYMBOL" -> instrument token
}

var _ broker.Gateway = (*Client)(nil)

// NewClient creates a new Kite Connect client. An empty baseURL selects
// DefaultURL and a zero timeout selects 30s.
func NewClient(apiKey, accessToken, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
		tokens:      make(map[string]int64),
	}
}

// envelope is the common response wrapper.
type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// APIError is a non-success response from Kite.
type APIError struct {
	StatusCode int
	ErrorType  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("kite API error (status %d, %s): %s", e.StatusCode, e.ErrorType, e.Message)
	}
	return fmt.Sprintf("kite API error (status %d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, query, form url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", "token "+c.apiKey+":"+c.accessToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || env.Status != "success" {
		return &APIError{StatusCode: resp.StatusCode, ErrorType: env.ErrorType, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

type ltpEntry struct {
	InstrumentToken int64   `json:"instrument_token"`
	LastPrice       float64 `json:"last_price"`
}

// Quote returns the last traded price for key ("NFO:NIFTY25OCT24500CE").
// The instrument token in the response is cached for MinuteBars.
func (c *Client) Quote(ctx context.Context, key string) (float64, error) {
	var data map[string]ltpEntry
	if err := c.do(ctx, http.MethodGet, "/quote/ltp", url.Values{"i": {key}}, nil, &data); err != nil {
		return 0, fmt.Errorf("%w: ltp %s: %v", broker.ErrDataUnavailable, key, err)
	}
	e, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("%w: ltp %s: not in response", broker.ErrDataUnavailable, key)
	}
	c.mu.Lock()
	c.tokens[key] = e.InstrumentToken
	c.mu.Unlock()
	return e.LastPrice, nil
}

// token resolves key to an instrument token. Numeric keys are tokens
// already; exchange qualified symbols are looked up through the LTP call.
func (c *Client) token(ctx context.Context, key string) (int64, error) {
	if tok, err := strconv.ParseInt(key, 10, 64); err == nil {
		return tok, nil
	}
	c.mu.Lock()
	tok, ok := c.tokens[key]
	c.mu.Unlock()
	if ok {
		return tok, nil
	}
	if _, err := c.Quote(ctx, key); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[key], nil
}

type historicalData struct {
	Candles [][]json.RawMessage `json:"candles"`
}

// MinuteBars fetches 1-minute candles for key between from and to inclusive.
func (c *Client) MinuteBars(ctx context.Context, key string, from, to time.Time) ([]market.Bar, error) {
	tok, err := c.token(ctx, key)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("from", from.In(market.IST).Format(queryTime))
	q.Set("to", to.In(market.IST).Format(queryTime))

	var data historicalData
	path := fmt.Sprintf("/instruments/historical/%d/minute", tok)
	if err := c.do(ctx, http.MethodGet, path, q, nil, &data); err != nil {
		return nil, fmt.Errorf("%w: candles %s: %v", broker.ErrDataUnavailable, key, err)
	}

	bars := make([]market.Bar, 0, len(data.Candles))
	for _, row := range data.Candles {
		b, err := parseCandle(row)
		if err != nil {
			return nil, fmt.Errorf("%w: candles %s: %v", broker.ErrDataUnavailable, key, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// parseCandle decodes [time, open, high, low, close, volume].
func parseCandle(row []json.RawMessage) (market.Bar, error) {
	if len(row) < 6 {
		return market.Bar{}, fmt.Errorf("short candle row (%d fields)", len(row))
	}
	var ts string
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return market.Bar{}, fmt.Errorf("candle time: %w", err)
	}
	t, err := time.Parse(candleTime, ts)
	if err != nil {
		return market.Bar{}, fmt.Errorf("parse time %s: %w", ts, err)
	}
	var closePrice, volume float64
	if err := json.Unmarshal(row[4], &closePrice); err != nil {
		return market.Bar{}, fmt.Errorf("candle close: %w", err)
	}
	if err := json.Unmarshal(row[5], &volume); err != nil {
		return market.Bar{}, fmt.Errorf("candle volume: %w", err)
	}
	return market.Bar{Time: market.Minute(t), Close: closePrice, Volume: volume}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	form := url.Values{}
	form.Set("exchange", req.Exchange)
	form.Set("tradingsymbol", req.Symbol)
	form.Set("transaction_type", string(req.Side))
	form.Set("quantity", strconv.Itoa(req.Quantity))
	form.Set("order_type", string(req.Type))
	form.Set("product", string(req.Product))
	form.Set("validity", "DAY")
	if req.Price != nil {
		form.Set("price", strconv.FormatFloat(*req.Price, 'f', 2, 64))
	}

	var data struct {
		OrderID string `json:"order_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders/regular", nil, form, &data); err != nil {
		return "", fmt.Errorf("place order %s %s: %w", req.Side, req.Symbol, err)
	}
	log.WithFields(logrus.Fields{
		"order_id": data.OrderID,
		"symbol":   req.Symbol,
		"side":     req.Side,
		"qty":      req.Quantity,
	}).Debug("order placed")
	return data.OrderID, nil
}

func (c *Client) ModifyOrder(ctx context.Context, orderID string, typ broker.OrderType, price *float64) error {
	form := url.Values{}
	form.Set("order_type", string(typ))
	if price != nil {
		form.Set("price", strconv.FormatFloat(*price, 'f', 2, 64))
	}
	path := "/orders/regular/" + url.PathEscape(orderID)
	if err := c.do(ctx, http.MethodPut, path, nil, form, nil); err != nil {
		return fmt.Errorf("modify order %s: %w", orderID, err)
	}
	return nil
}

type apiOrderEvent struct {
	OrderID        string  `json:"order_id"`
	Status         string  `json:"status"`
	Price          float64 `json:"price"`
	AveragePrice   float64 `json:"average_price"`
	FilledQuantity int     `json:"filled_quantity"`
	StatusMessage  string  `json:"status_message"`
	OrderTimestamp string  `json:"order_timestamp"`
}

func (c *Client) OrderHistory(ctx context.Context, orderID string) ([]broker.OrderEvent, error) {
	var data []apiOrderEvent
	path := "/orders/" + url.PathEscape(orderID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &data); err != nil {
		return nil, fmt.Errorf("order history %s: %w", orderID, err)
	}

	events := make([]broker.OrderEvent, 0, len(data))
	for _, e := range data {
		ev := broker.OrderEvent{
			OrderID:       e.OrderID,
			Status:        broker.OrderStatus(strings.ToUpper(e.Status)),
			Price:         e.Price,
			AveragePrice:  e.AveragePrice,
			FilledQty:     e.FilledQuantity,
			StatusMessage: e.StatusMessage,
		}
		if e.OrderTimestamp != "" {
			if t, err := time.ParseInLocation(orderTime, e.OrderTimestamp, market.IST); err == nil {
				ev.Time = t
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

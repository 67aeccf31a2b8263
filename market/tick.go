package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNoQuote = errors.New("quote not found")

// QuoteSource returns the last traded price for an instrument key such as
// "NFO:NIFTY25OCT24500CE".
type QuoteSource interface {
	Quote(ctx context.Context, key string) (float64, error)
}

type Quote struct {
	Key   string
	Price float64
	Time  time.Time
}

// QuoteStore is a concurrency-safe last-price cache.
type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[string]Quote)}
}

func (qs *QuoteStore) Set(q Quote) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.quotes[q.Key] = q
}

func (qs *QuoteStore) Get(key string) (Quote, error) {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	q, ok := qs.quotes[key]
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return q, nil
}

func (qs *QuoteStore) Quote(ctx context.Context, key string) (float64, error) {
	q, err := qs.Get(key)
	if err != nil {
		return 0, err
	}
	return q.Price, nil
}

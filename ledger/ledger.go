// Package ledger tracks signed option positions per strategy bucket and
// accumulates realized P/L as fills reduce or flip them.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/straddle/broker"
)

var ErrInvalidFill = errors.New("invalid fill")

// Bucket isolates the positions of one strategy. Buckets never net against
// each other.
type Bucket string

const (
	Batman      Bucket = "BATMAN"
	DebitSpread Bucket = "DEBIT_SPREAD"
)

// Buckets lists every bucket in a stable order.
var Buckets = []Bucket{Batman, DebitSpread}

type Position struct {
	Symbol   string
	Qty      int // +long, -short
	AvgPrice float64
}

// UnrealizedPL marks the position at price.
func (p Position) UnrealizedPL(mark float64) float64 {
	return float64(p.Qty) * (mark - p.AvgPrice)
}

type book struct {
	positions map[string]Position
	closed    []float64
}

func newBook() *book {
	return &book{positions: make(map[string]Position)}
}

func (b *book) realized() float64 {
	var sum float64
	for _, pl := range b.closed {
		sum += pl
	}
	return sum
}

type Ledger struct {
	mu          sync.Mutex
	books       map[Bucket]*book
	dayRealized float64
	settlements uint64
}

func New() *Ledger {
	l := &Ledger{books: make(map[Bucket]*book)}
	for _, b := range Buckets {
		l.books[b] = newBook()
	}
	return l
}

func (l *Ledger) bookLocked(b Bucket) *book {
	bk, ok := l.books[b]
	if !ok {
		bk = newBook()
		l.books[b] = bk
	}
	return bk
}

// Apply books a fill of qty units at price against (bucket, symbol) and
// returns the resulting position and the P/L realized by this fill.
// A position that reaches zero is removed.
func (l *Ledger) Apply(bucket Bucket, symbol string, side broker.Side, qty int, price float64) (Position, float64, error) {
	if !side.Valid() {
		return Position{}, 0, fmt.Errorf("%w: side %q", ErrInvalidFill, side)
	}
	if qty <= 0 {
		return Position{}, 0, fmt.Errorf("%w: quantity %d", ErrInvalidFill, qty)
	}
	if price <= 0 {
		return Position{}, 0, fmt.Errorf("%w: price %.2f", ErrInvalidFill, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bk := l.bookLocked(bucket)
	pos := bk.positions[symbol]
	pos.Symbol = symbol
	next, realized, closed := applyFill(pos, side, qty, price)
	if closed {
		bk.closed = append(bk.closed, realized)
	}

	if next.Qty == 0 {
		delete(bk.positions, symbol)
		return Position{Symbol: symbol}, realized, nil
	}
	bk.positions[symbol] = next
	return next, realized, nil
}

// applyFill is the average-price rule. closed reports whether the fill
// reduced an existing position (and so realized P/L, possibly zero).
func applyFill(pos Position, side broker.Side, qty int, price float64) (next Position, realized float64, closed bool) {
	next = pos
	q := pos.Qty

	if side == broker.Buy {
		if q >= 0 {
			next.Qty = q + qty
			next.AvgPrice = (float64(q)*pos.AvgPrice + float64(qty)*price) / float64(next.Qty)
			return next, 0, false
		}
		cover := min(qty, -q)
		realized = (pos.AvgPrice - price) * float64(cover)
		next.Qty = q + qty
		if qty > -q {
			next.AvgPrice = price
		}
		return next, realized, true
	}

	if q <= 0 {
		next.Qty = q - qty
		next.AvgPrice = (float64(-q)*pos.AvgPrice + float64(qty)*price) / float64(-next.Qty)
		return next, 0, false
	}
	reduce := min(qty, q)
	realized = (price - pos.AvgPrice) * float64(reduce)
	next.Qty = q - qty
	if qty > q {
		next.AvgPrice = price
	}
	return next, realized, true
}

// Position returns the open position for (bucket, symbol).
func (l *Ledger) Position(bucket Bucket, symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.bookLocked(bucket).positions[symbol]
	return p, ok
}

// Positions returns the open positions of bucket sorted by symbol.
func (l *Ledger) Positions(bucket Bucket) []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedPositions(l.bookLocked(bucket))
}

func sortedPositions(bk *book) []Position {
	out := make([]Position, 0, len(bk.positions))
	for _, p := range bk.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Realized returns the unsettled realized P/L of bucket.
func (l *Ledger) Realized(bucket Bucket) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bookLocked(bucket).realized()
}

// ClosedPnLs returns a copy of the realized amounts recorded for bucket.
func (l *Ledger) ClosedPnLs(bucket Bucket) []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	bk := l.bookLocked(bucket)
	out := make([]float64, len(bk.closed))
	copy(out, bk.closed)
	return out
}

func (l *Ledger) Flat(bucket Bucket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bookLocked(bucket).positions) == 0
}

// Settle moves the realized P/L of a flat bucket into the day total and
// clears its closed list. A bucket with open legs is left untouched and ok
// is false.
func (l *Ledger) Settle(bucket Bucket) (realized float64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bk := l.bookLocked(bucket)
	if len(bk.positions) > 0 {
		return 0, false
	}
	realized = bk.realized()
	l.dayRealized += realized
	bk.closed = bk.closed[:0]
	l.settlements++
	return realized, true
}

// DayRealized is the P/L of every settled bucket this session.
func (l *Ledger) DayRealized() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dayRealized
}

// Settlements increases by one on every successful Settle.
func (l *Ledger) Settlements() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settlements
}

type BookSnapshot struct {
	Bucket     Bucket
	Positions  []Position
	ClosedPnLs []float64
	Realized   float64
}

type Snapshot struct {
	Books       []BookSnapshot
	DayRealized float64
	Settlements uint64
}

// Snapshot copies the whole ledger under one lock.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{DayRealized: l.dayRealized, Settlements: l.settlements}
	for _, b := range Buckets {
		bk := l.bookLocked(b)
		closed := make([]float64, len(bk.closed))
		copy(closed, bk.closed)
		snap.Books = append(snap.Books, BookSnapshot{
			Bucket:     b,
			Positions:  sortedPositions(bk),
			ClosedPnLs: closed,
			Realized:   bk.realized(),
		})
	}
	return snap
}

// Book returns the snapshot of one bucket.
func (s Snapshot) Book(b Bucket) BookSnapshot {
	for _, bk := range s.Books {
		if bk.Bucket == b {
			return bk
		}
	}
	return BookSnapshot{Bucket: b}
}

// Unrealized marks positions with marks keyed by symbol. A missing mark is
// reported as an error naming the symbol.
func Unrealized(positions []Position, marks map[string]float64) (float64, error) {
	var sum float64
	for _, p := range positions {
		m, ok := marks[p.Symbol]
		if !ok {
			return 0, fmt.Errorf("no mark for %s", p.Symbol)
		}
		sum += p.UnrealizedPL(m)
	}
	return sum, nil
}

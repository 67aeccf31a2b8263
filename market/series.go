package market

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrStaleBar = errors.New("bar is not newer than the last bar")

// Series is an append-only, time-ascending sequence of bars.
//
// There is one writer (the aggregator); any number of readers take copies
// through Snapshot, Tail or Since and never see a slice the writer mutates.
type Series struct {
	mu   sync.RWMutex
	name string
	bars []Bar
}

func NewSeries(name string) *Series {
	return &Series{name: name}
}

func (s *Series) Name() string { return s.name }

// Append adds b to the end of the series. Bars must advance strictly in time.
func (s *Series) Append(b Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.bars); n > 0 && !b.Time.After(s.bars[n-1].Time) {
		return fmt.Errorf("%s append %s: %w", s.name, b.Time.Format("15:04"), ErrStaleBar)
	}
	s.bars = append(s.bars, b)
	return nil
}

func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

// Last returns the most recent bar.
func (s *Series) Last() (Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Snapshot returns a copy of every bar.
func (s *Series) Snapshot() []Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Tail returns a copy of the last n bars (fewer if the series is shorter).
func (s *Series) Tail(n int) []Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	if n > len(s.bars) {
		n = len(s.bars)
	}
	out := make([]Bar, n)
	copy(out, s.bars[len(s.bars)-n:])
	return out
}

// Since returns a copy of the bars with Time >= t.
func (s *Series) Since(t time.Time) []Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// bars are time-ascending, walk back from the end
	i := len(s.bars)
	for i > 0 && !s.bars[i-1].Time.Before(t) {
		i--
	}
	out := make([]Bar, len(s.bars)-i)
	copy(out, s.bars[i:])
	return out
}

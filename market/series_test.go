package market

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minute(i int) time.Time {
	return time.Date(2025, 10, 17, 9, 15, 0, 0, IST).Add(time.Duration(i) * time.Minute)
}

func TestSeriesAppendMonotonic(t *testing.T) {
	t.Parallel()

	s := NewSeries("straddle")
	require.NoError(t, s.Append(Bar{Time: minute(0), Close: 100}))
	require.NoError(t, s.Append(Bar{Time: minute(1), Close: 101}))

	err := s.Append(Bar{Time: minute(1), Close: 102})
	assert.ErrorIs(t, err, ErrStaleBar)
	err = s.Append(Bar{Time: minute(0), Close: 99})
	assert.ErrorIs(t, err, ErrStaleBar)

	assert.Equal(t, 2, s.Len())
	last, ok := s.Last()
	require.True(t, ok)
	assert.InDelta(t, 101.0, last.Close, 1e-9)
}

func TestSeriesSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	s := NewSeries("index")
	require.NoError(t, s.Append(Bar{Time: minute(0), Close: 24500}))

	snap := s.Snapshot()
	snap[0].Close = 0

	last, _ := s.Last()
	assert.InDelta(t, 24500.0, last.Close, 1e-9)
}

func TestSeriesTailAndSince(t *testing.T) {
	t.Parallel()

	s := NewSeries("index")
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(Bar{Time: minute(i), Close: float64(100 + i)}))
	}

	tail := s.Tail(3)
	require.Len(t, tail, 3)
	assert.InDelta(t, 107.0, tail[0].Close, 1e-9)
	assert.InDelta(t, 109.0, tail[2].Close, 1e-9)
	assert.Len(t, s.Tail(50), 10)
	assert.Nil(t, s.Tail(0))

	since := s.Since(minute(7))
	require.Len(t, since, 3)
	assert.Equal(t, minute(7), since[0].Time)
	assert.Empty(t, s.Since(minute(11)))
}

func TestSeriesConcurrentReaders(t *testing.T) {
	t.Parallel()

	s := NewSeries("straddle")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.Append(Bar{Time: minute(i), Close: float64(i)})
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := s.Snapshot()
				for j := 1; j < len(snap); j++ {
					if !snap[j].Time.After(snap[j-1].Time) {
						t.Errorf("snapshot out of order at %d", j)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, s.Len())
}

func TestHighLow(t *testing.T) {
	t.Parallel()

	_, _, ok := HighLow(nil)
	assert.False(t, ok)

	hi, lo, ok := HighLow([]Bar{{Close: 5}, {Close: 9}, {Close: 2}, {Close: 7}})
	require.True(t, ok)
	assert.InDelta(t, 9.0, hi, 1e-9)
	assert.InDelta(t, 2.0, lo, 1e-9)
}

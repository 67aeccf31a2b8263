package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/straddle/market"
	"github.com/rustyeddy/straddle/vwap"
)

// ErrWaitingForData is returned by BuildInputs until the straddle history
// covers the pivot range.
var ErrWaitingForData = errors.New("waiting for data")

// Market is the read side of the aggregator.
type Market interface {
	Snapshot() vwap.Snapshot
	Index() *market.Series
	Straddle() *market.Series
}

// Inputs is everything one decision looks at.
type Inputs struct {
	Time      time.Time
	Straddle  float64
	VWAP      float64
	VWAPValid bool
	Index     float64

	// Range of the last PivotRangeMinutes straddle points.
	StraddleHigh float64
	StraddleLow  float64

	// Range of the index bars inside the last PivotRangeMinutes. Only
	// valid with at least two bars.
	IndexHigh       float64
	IndexLow        float64
	IndexRangeValid bool
}

// BuildInputs reads the aggregator at the decision minute now.
func BuildInputs(now time.Time, m Market, pivotMinutes int) (Inputs, error) {
	if pivotMinutes <= 0 {
		return Inputs{}, fmt.Errorf("pivot range must be positive, got %d", pivotMinutes)
	}

	straddle := m.Straddle().Tail(pivotMinutes)
	if len(straddle) < pivotMinutes {
		return Inputs{}, fmt.Errorf("%w: have %d/%d points", ErrWaitingForData, len(straddle), pivotMinutes)
	}
	lastIndex, ok := m.Index().Last()
	if !ok {
		return Inputs{}, fmt.Errorf("%w: no index bars", ErrWaitingForData)
	}

	snap := m.Snapshot()
	in := Inputs{
		Time:      now,
		Straddle:  straddle[len(straddle)-1].Close,
		VWAP:      snap.VWAP,
		VWAPValid: snap.VWAPValid,
		Index:     lastIndex.Close,
	}
	in.StraddleHigh, in.StraddleLow, _ = market.HighLow(straddle)

	cutoff := now.Add(-time.Duration(pivotMinutes) * time.Minute)
	recent := m.Index().Since(cutoff)
	if len(recent) >= 2 {
		in.IndexHigh, in.IndexLow, in.IndexRangeValid = market.HighLow(recent)
	}
	return in, nil
}

package market

import "time"

// Bar is a one-minute close/volume sample. Bars are immutable once built.
type Bar struct {
	Time   time.Time
	Close  float64
	Volume float64
}

// Minute truncates t to the start of its minute.
func Minute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// HighLow returns the highest and lowest close among bars.
// ok is false when bars is empty.
func HighLow(bars []Bar) (hi, lo float64, ok bool) {
	if len(bars) == 0 {
		return 0, 0, false
	}
	hi, lo = bars[0].Close, bars[0].Close
	for _, b := range bars[1:] {
		if b.Close > hi {
			hi = b.Close
		}
		if b.Close < lo {
			lo = b.Close
		}
	}
	return hi, lo, true
}

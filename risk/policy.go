package risk

import "github.com/rustyeddy/straddle/config"

type Policy struct {
	// Profit and loss bounds on the open MTM
	TargetPnL float64 // 1000
	MaxLoss   float64 // -500

	// Trailing stop: exit when MTM gives back TrailDistance from its peak
	TrailEnabled  bool
	TrailDistance float64 // 100

	// Floor on MTM plus the day's settled P/L
	RMSCap float64 // -100000
}

// PolicyFromConfig maps the strategy parameters onto a Policy.
func PolicyFromConfig(s config.Strategy) Policy {
	return Policy{
		TargetPnL:     s.TargetPnL,
		MaxLoss:       s.ExitPnL,
		TrailEnabled:  s.TrailStopLoss,
		TrailDistance: s.RollingValue,
		RMSCap:        s.RMSCap,
	}
}

// ExitLine is the MTM level that currently ends the session on the
// downside: the trailing line once a positive peak exists, else MaxLoss.
func (p Policy) ExitLine(peak float64) float64 {
	if p.TrailEnabled && peak > 0 {
		return peak - p.TrailDistance
	}
	return p.MaxLoss
}

// Mark is one MTM observation.
type Mark struct {
	MTM         float64 // realized + unrealized across open buckets
	Peak        float64
	DayRealized float64 // settled buckets
}

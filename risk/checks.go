package risk

import "fmt"

// Trigger codes, in priority order.
const (
	TargetPnL    = "TARGET_PNL"
	MaxLoss      = "MAX_LOSS"
	TrailingStop = "TRAILING_STOP"
	RMSCap       = "RMS_CAP"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Exit       bool
	Violations []Violation
	Mark       Mark
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Exit = true
}

// Trigger is the highest priority violation. It is zero when Exit is false.
func (d Decision) Trigger() Violation {
	if len(d.Violations) == 0 {
		return Violation{}
	}
	return d.Violations[0]
}

func Evaluate(p Policy, m Mark) Decision {
	d := Decision{Mark: m}

	if m.MTM >= p.TargetPnL {
		d.add(TargetPnL, fmt.Sprintf("mtm %.2f reached target %.2f", m.MTM, p.TargetPnL))
	}
	if m.MTM <= p.MaxLoss {
		d.add(MaxLoss, fmt.Sprintf("mtm %.2f breached exit pnl %.2f", m.MTM, p.MaxLoss))
	}
	if p.TrailEnabled && m.Peak > 0 {
		line := m.Peak - p.TrailDistance
		if m.MTM <= line {
			d.add(TrailingStop, fmt.Sprintf("mtm %.2f fell to trailing line %.2f (peak %.2f)", m.MTM, line, m.Peak))
		}
	}
	if total := m.MTM + m.DayRealized; total <= p.RMSCap {
		d.add(RMSCap, fmt.Sprintf("mtm %.2f + day %.2f breached rms cap %.2f", m.MTM, m.DayRealized, p.RMSCap))
	}

	return d
}

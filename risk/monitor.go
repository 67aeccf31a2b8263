package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/straddle/journal"
	"github.com/rustyeddy/straddle/ledger"
	"github.com/rustyeddy/straddle/market"
	"github.com/rustyeddy/straddle/status"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "risk")

// Exiter closes every position. The strategy machine implements it.
type Exiter interface {
	ExitAll(ctx context.Context, reason string) error
}

// MTMRecorder receives one snapshot per monitor tick.
type MTMRecorder interface {
	RecordMTM(journal.MTMSnapshot) error
}

// Monitor marks the ledger to market and forces a session exit when the
// policy trips. It triggers at most once, then keeps closing positions on
// each tick until the ledger is flat before calling OnTrigger.
type Monitor struct {
	policy Policy
	ledger *ledger.Ledger
	quotes market.QuoteSource
	und    market.Underlying
	exiter Exiter

	// Optional collaborators, set before Run.
	Sink      status.Sink
	Journal   MTMRecorder
	SessionID string
	OnTrigger func(Decision)

	Interval     time.Duration
	IdleInterval time.Duration
	ErrorBackoff time.Duration

	now func() time.Time

	mu          sync.Mutex
	peak        float64
	settlements uint64
	triggered   bool
	halted      bool
	last        Decision
}

func NewMonitor(p Policy, l *ledger.Ledger, quotes market.QuoteSource, und market.Underlying, exiter Exiter) *Monitor {
	return &Monitor{
		policy:       p,
		ledger:       l,
		quotes:       quotes,
		und:          und,
		exiter:       exiter,
		Sink:         status.Nop{},
		Journal:      journal.Nop{},
		Interval:     3 * time.Second,
		IdleInterval: 5 * time.Second,
		ErrorBackoff: 30 * time.Second,
		now:          time.Now,
		settlements:  l.Settlements(),
	}
}

// SetClock replaces the wall clock used to stamp journal snapshots.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

func (m *Monitor) Triggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered
}

// Peak is the highest MTM since the last bucket settlement.
func (m *Monitor) Peak() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Tick marks every open position, publishes the figures and evaluates the
// policy. A failed quote fails the whole tick; nothing is evaluated.
func (m *Monitor) Tick(ctx context.Context) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.triggered {
		if !m.halted {
			m.finishExit(ctx)
		}
		return m.last, nil
	}

	snap := m.ledger.Snapshot()
	if snap.Settlements != m.settlements {
		m.settlements = snap.Settlements
		m.peak = 0
	}

	pnl := make(map[ledger.Bucket]float64, len(snap.Books))
	positions := make(map[ledger.Bucket][]ledger.Position, len(snap.Books))
	var mtm float64
	for _, bk := range snap.Books {
		marks := make(map[string]float64, len(bk.Positions))
		for _, p := range bk.Positions {
			ltp, err := m.quotes.Quote(ctx, m.und.Key(p.Symbol))
			if err != nil {
				return Decision{}, fmt.Errorf("mark %s %s: %w", bk.Bucket, p.Symbol, err)
			}
			marks[p.Symbol] = ltp
		}
		unrealized, err := ledger.Unrealized(bk.Positions, marks)
		if err != nil {
			return Decision{}, err
		}
		pnl[bk.Bucket] = bk.Realized + unrealized
		positions[bk.Bucket] = bk.Positions
		mtm += pnl[bk.Bucket]
	}
	if mtm > m.peak {
		m.peak = mtm
	}

	mark := Mark{MTM: mtm, Peak: m.peak, DayRealized: snap.DayRealized}
	m.publish(ctx, mark, pnl, positions)

	d := Evaluate(m.policy, mark)
	m.last = d
	if !d.Exit {
		return d, nil
	}

	m.triggered = true
	trig := d.Trigger()
	riskExits.WithLabelValues(trig.Code).Inc()
	log.WithFields(logrus.Fields{
		"trigger": trig.Code,
		"mtm":     mark.MTM,
		"peak":    mark.Peak,
		"day":     mark.DayRealized,
	}).Warn(trig.Msg)
	m.Sink.Status(ctx, status.StateTriggered, trig.Code+": "+trig.Msg)
	m.Sink.Action(ctx, "RISK_EXIT", map[string]any{
		"trigger": trig.Code,
		"mtm":     mark.MTM,
		"peak":    mark.Peak,
		"day_pnl": mark.DayRealized,
	})

	m.finishExit(ctx)
	return d, nil
}

// finishExit closes every position and calls OnTrigger once the ledger is
// flat. Open legs are retried on the next tick.
func (m *Monitor) finishExit(ctx context.Context) {
	code := m.last.Trigger().Code
	if err := m.exiter.ExitAll(ctx, code); err != nil {
		log.WithError(err).Error("exit all after risk trigger")
	}
	for _, bk := range m.ledger.Snapshot().Books {
		if len(bk.Positions) > 0 {
			log.WithFields(logrus.Fields{"trigger": code, "bucket": bk.Bucket, "legs": len(bk.Positions)}).
				Warn("risk exit incomplete, retrying")
			m.Sink.Status(ctx, status.StateError, fmt.Sprintf("%s exit incomplete: %d legs open in %s", code, len(bk.Positions), bk.Bucket))
			return
		}
	}
	m.halted = true
	if m.OnTrigger != nil {
		m.OnTrigger(m.last)
	}
}

func (m *Monitor) publish(ctx context.Context, mark Mark, pnl map[ledger.Bucket]float64, positions map[ledger.Bucket][]ledger.Position) {
	mtmGauge.Set(mark.MTM)
	peakGauge.Set(mark.Peak)
	dayRealizedGauge.Set(mark.DayRealized)

	m.Sink.Trading(ctx, status.TradingUpdate{
		PnLBatman: status.Float(pnl[ledger.Batman]),
		PnLSpread: status.Float(pnl[ledger.DebitSpread]),
		ExitPnL:   status.Float(m.policy.ExitLine(mark.Peak)),
		Positions: positions,
	})

	err := m.Journal.RecordMTM(journal.MTMSnapshot{
		SessionID:   m.SessionID,
		Time:        m.now(),
		MTM:         mark.MTM,
		Peak:        mark.Peak,
		DayRealized: mark.DayRealized,
		PnLBatman:   pnl[ledger.Batman],
		PnLSpread:   pnl[ledger.DebitSpread],
	})
	if err != nil {
		log.WithError(err).Warn("journal mtm")
	}
}

// Run ticks until ctx is done. Errors are reported and retried after
// ErrorBackoff. After a trigger the loop ticks at IdleInterval, which
// retries the exit until the ledger is flat.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info("mtm monitor started")
	for {
		wait := m.Interval
		if _, err := m.Tick(ctx); err != nil {
			log.WithError(err).Error("mtm tick")
			m.Sink.Status(ctx, status.StateError, "mtm monitor: "+err.Error())
			wait = m.ErrorBackoff
		} else if m.Triggered() {
			wait = m.IdleInterval
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/straddle/market"
	"github.com/rustyeddy/straddle/status"
)

// Run drives m from mkt with the default cadence until ctx is done.
func (m *Machine) Run(ctx context.Context, mkt Market) error {
	return NewRunner(m, mkt).Run(ctx)
}

// Runner drives a Machine from the aggregator once per minute.
type Runner struct {
	Machine *Machine
	Market  Market

	// Tick is the wake-up cadence; decisions happen on the first tick at
	// least SettleDelay past a minute boundary.
	Tick        time.Duration
	SettleDelay time.Duration

	now  func() time.Time
	last time.Time
}

func NewRunner(m *Machine, mkt Market) *Runner {
	return &Runner{
		Machine:     m,
		Market:      mkt,
		Tick:        time.Second,
		SettleDelay: 2 * time.Second,
		now:         time.Now,
	}
}

// SetClock replaces the wall clock, for tests.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// Run blocks until ctx is done. Decision errors are reported and never
// stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	log.WithField("pivot_minutes", r.Machine.cfg.PivotRangeMinutes).Info("strategy loop started")
	r.Machine.sink.Action(ctx, "STRATEGY_LOOP_STARTED", nil)

	t := time.NewTicker(r.Tick)
	defer t.Stop()
	for {
		r.Poll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Poll makes the decision for the current minute if it is due. It reports
// whether a decision was attempted.
func (r *Runner) Poll(ctx context.Context) bool {
	now := r.now()
	minute := market.Minute(now)
	if now.Sub(minute) < r.SettleDelay || !minute.After(r.last) {
		return false
	}
	r.last = minute

	if err := r.Machine.RetryExit(ctx); err != nil {
		log.WithError(err).Error("retry exit")
	}

	in, err := BuildInputs(minute, r.Market, r.Machine.cfg.PivotRangeMinutes)
	if errors.Is(err, ErrWaitingForData) {
		log.Info(err.Error())
		r.Machine.sink.Action(ctx, ActionWaiting, map[string]any{"detail": err.Error()})
		return true
	}
	if err != nil {
		log.WithError(err).Error("build inputs")
		r.Machine.sink.Status(ctx, status.StateError, err.Error())
		return true
	}

	if err := r.Machine.Step(ctx, in); err != nil {
		log.WithError(err).Error("strategy step")
	}
	return true
}

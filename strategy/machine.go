// Package strategy runs the intraday decision loop: a directional debit
// spread when the ATM straddle trades above its VWAP on an index breakout,
// and a hedged short strangle ("batman") when the straddle sinks to the
// bottom of its recent range.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rustyeddy/straddle/config"
	"github.com/rustyeddy/straddle/execution"
	"github.com/rustyeddy/straddle/ledger"
	"github.com/rustyeddy/straddle/market"
	"github.com/rustyeddy/straddle/status"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "strategy")

type State string

const (
	Idle        State = "IDLE"
	DebitSpread State = "DEBIT_SPREAD"
	Batman      State = "BATMAN"
	Exiting     State = "EXITING"
)

// Direction of a debit spread.
type Direction string

const (
	Long  Direction = "LONG"  // CE
	Short Direction = "SHORT" // PE
)

// Actions reported through status.Sink.
const (
	ActionWaiting     = "WAITING_FOR_DATA"
	ActionMonitoring  = "MONITORING"
	ActionDebitEntry  = "DEBIT_SPREAD_ENTRY"
	ActionDebitStop   = "DEBIT_SPREAD_STOP"
	ActionDebitTrail  = "DEBIT_SPREAD_TRAIL"
	ActionBatmanEntry = "BATMAN_ENTRY"
	ActionBatmanStop  = "BATMAN_STOP"
	ActionBatmanShift = "BATMAN_SHIFT"
	ActionExitAll     = "EXIT_ALL"
	ActionReset       = "RESET"
)

// Executor places orders and books their fills.
type Executor interface {
	Execute(ctx context.Context, o execution.Order) (execution.Outcome, error)
}

// Snapshot is a copy of the machine's runtime fields.
type Snapshot struct {
	State     State
	Direction Direction
	Pivot     float64
	HasPivot  bool
	Stop      float64
	Peak      float64
}

type Machine struct {
	cfg    config.Strategy
	und    market.Underlying
	exec   Executor
	ledger *ledger.Ledger
	quotes market.QuoteSource
	sink   status.Sink

	// mu is held for a whole Step so ExitAll waits for in-flight orders.
	mu        sync.Mutex
	state     State
	direction Direction
	pivot     float64
	hasPivot  bool
	stop      float64
	peak      float64
}

func New(cfg config.Strategy, exec Executor, l *ledger.Ledger, quotes market.QuoteSource, sink status.Sink) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Expiry == "" {
		return nil, errors.New("strategy: expiry is required")
	}
	und, err := cfg.Underlying()
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = status.Nop{}
	}
	return &Machine{
		cfg:    cfg,
		und:    und,
		exec:   exec,
		ledger: l,
		quotes: quotes,
		sink:   sink,
		state:  Idle,
	}, nil
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:     m.state,
		Direction: m.direction,
		Pivot:     m.pivot,
		HasPivot:  m.hasPivot,
		Stop:      m.stop,
		Peak:      m.peak,
	}
}

// Step evaluates every transition once, in order, against in.
func (m *Machine) Step(ctx context.Context, in Inputs) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Exiting {
		return nil
	}

	m.sink.Action(ctx, ActionMonitoring, map[string]any{
		"straddle":      in.Straddle,
		"vwap":          in.VWAP,
		"index":         in.Index,
		"straddle_high": in.StraddleHigh,
		"straddle_low":  in.StraddleLow,
	})

	var errs []error

	// directional entry
	if m.state == Idle && in.VWAPValid && in.Straddle > in.VWAP && in.IndexRangeValid {
		switch {
		case in.Index >= in.IndexHigh:
			errs = append(errs, m.enterDebit(ctx, Long, in))
		case in.Index <= in.IndexLow:
			errs = append(errs, m.enterDebit(ctx, Short, in))
		}
	}

	// directional stop
	if m.state == DebitSpread && in.Straddle <= m.stop {
		m.sink.Status(ctx, status.StateRunning,
			fmt.Sprintf("debit spread stop: straddle %.2f <= %.2f", in.Straddle, m.stop))
		m.sink.Action(ctx, ActionDebitStop, map[string]any{"straddle": in.Straddle, "stop": m.stop})
		if err := m.exitBucket(ctx, ledger.DebitSpread); err != nil {
			errs = append(errs, err)
		} else {
			m.clear()
		}
	}

	// trailing stop
	if m.state == DebitSpread && in.Straddle > m.peak {
		old := m.stop
		m.peak = in.Straddle
		m.stop = math.Max(m.stop, m.peak*(1-m.cfg.StopLossBuffer()))
		m.sink.Action(ctx, ActionDebitTrail, map[string]any{"old_stop": old, "new_stop": m.stop, "peak": m.peak})
	}

	// mean-reversion entry
	if m.state == Idle && in.Straddle <= in.StraddleLow {
		m.sink.Status(ctx, status.StateRunning,
			fmt.Sprintf("batman entry: straddle %.2f <= %.2f", in.Straddle, in.StraddleLow))
		if err := m.enterBatman(ctx, in); err != nil {
			errs = append(errs, err)
		}
	}

	// mean-reversion stop
	if m.state == Batman && in.Straddle >= m.stop {
		m.sink.Status(ctx, status.StateRunning,
			fmt.Sprintf("batman stop: straddle %.2f >= %.2f", in.Straddle, m.stop))
		m.sink.Action(ctx, ActionBatmanStop, map[string]any{"straddle": in.Straddle, "stop": m.stop})
		if err := m.exitBucket(ctx, ledger.Batman); err != nil {
			errs = append(errs, err)
		} else {
			m.clear()
		}
	}

	// shift
	if m.state == Batman && m.hasPivot && math.Abs(in.Index-m.pivot) >= float64(m.cfg.ShiftThresholdPts) {
		m.sink.Action(ctx, ActionBatmanShift, map[string]any{
			"index_move": math.Abs(in.Index - m.pivot),
			"old_pivot":  m.pivot,
			"new_pivot":  in.Index,
		})
		if err := m.exitBucket(ctx, ledger.Batman); err != nil {
			errs = append(errs, err)
		} else {
			m.clear()
			if err := m.enterBatman(ctx, in); err != nil {
				errs = append(errs, err)
			}
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		m.sink.Status(ctx, status.StateError, err.Error())
	}
	return err
}

// ExitAll moves the machine to EXITING and closes both buckets. Nothing is
// entered again until Reset.
func (m *Machine) ExitAll(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = Exiting
	log.WithField("reason", reason).Warn("exiting all positions")
	m.sink.Status(ctx, status.StateExiting, "exiting all positions: "+reason)
	m.sink.Action(ctx, ActionExitAll, map[string]any{"reason": reason})

	err := errors.Join(
		m.exitBucket(ctx, ledger.Batman),
		m.exitBucket(ctx, ledger.DebitSpread),
	)
	m.direction, m.pivot, m.hasPivot, m.stop, m.peak = "", 0, false, 0, 0
	if err != nil {
		m.sink.Status(ctx, status.StateError, "exit all: "+err.Error())
		return err
	}
	m.sink.Status(ctx, status.StateExiting, "all positions exited")
	return nil
}

// RetryExit closes legs a failed ExitAll left open. It does nothing
// unless the machine is EXITING.
func (m *Machine) RetryExit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Exiting {
		return nil
	}
	if !m.ledger.Flat(ledger.Batman) || !m.ledger.Flat(ledger.DebitSpread) {
		log.Warn("legs still open after exit, closing again")
	}
	err := errors.Join(
		m.exitBucket(ctx, ledger.Batman),
		m.exitBucket(ctx, ledger.DebitSpread),
	)
	if err != nil {
		m.sink.Status(ctx, status.StateError, "exit retry: "+err.Error())
	}
	return err
}

// Reset returns the machine to IDLE with cleared runtime fields.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
	m.sink.Action(context.Background(), ActionReset, nil)
}

func (m *Machine) clear() {
	m.state = Idle
	m.direction, m.pivot, m.hasPivot, m.stop, m.peak = "", 0, false, 0, 0
}

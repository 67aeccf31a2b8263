// Package status carries best-effort progress reports out of the trading
// core: execution state, actions, live trading figures and heartbeats.
// Sinks never return errors to their callers.
package status

import (
	"context"
	"time"

	"github.com/rustyeddy/straddle/ledger"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "status")

// Execution states reported through Sink.Status.
const (
	StateWaiting   = "waiting"
	StateStarting  = "starting"
	StateRunning   = "running"
	StateStopping  = "stopping"
	StateStopped   = "stopped"
	StateExiting   = "exiting"
	StateError     = "error"
	StateTriggered = "risk_triggered"
)

// TradingUpdate is a partial update of the live trading figures. Nil
// fields are left unchanged by sinks that keep state.
type TradingUpdate struct {
	Straddle  *float64
	VWAP      *float64
	ExitPnL   *float64
	PnLBatman *float64
	PnLSpread *float64
	Positions map[ledger.Bucket][]ledger.Position
}

// Float returns a pointer to v for TradingUpdate fields.
func Float(v float64) *float64 { return &v }

// Fields flattens the update into the names used by the dashboard.
func (u TradingUpdate) Fields() map[string]any {
	out := make(map[string]any)
	if u.Straddle != nil {
		out["straddle_price"] = *u.Straddle
	}
	if u.VWAP != nil {
		out["vwap"] = *u.VWAP
	}
	if u.ExitPnL != nil {
		out["exit_pnl"] = *u.ExitPnL
	}
	if u.PnLBatman != nil {
		out["pnl_batman"] = *u.PnLBatman
	}
	if u.PnLSpread != nil {
		out["pnl_spread"] = *u.PnLSpread
	}
	if u.Positions != nil {
		out["positions_data"] = positionsData(u.Positions)
	}
	return out
}

// positionsData renders positions as bucket -> symbol -> {qty, avg_price}.
func positionsData(in map[ledger.Bucket][]ledger.Position) map[string]map[string]map[string]any {
	out := make(map[string]map[string]map[string]any, len(in))
	for b, ps := range in {
		legs := make(map[string]map[string]any, len(ps))
		for _, p := range ps {
			legs[p.Symbol] = map[string]any{"qty": p.Qty, "avg_price": p.AvgPrice}
		}
		out[string(b)] = legs
	}
	return out
}

type Sink interface {
	Status(ctx context.Context, state, msg string)
	Action(ctx context.Context, action string, details map[string]any)
	Trading(ctx context.Context, u TradingUpdate)
	Heartbeat(ctx context.Context)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Status(context.Context, string, string)         {}
func (Nop) Action(context.Context, string, map[string]any) {}
func (Nop) Trading(context.Context, TradingUpdate)         {}
func (Nop) Heartbeat(context.Context)                      {}

// Multi fans every report out to each sink in order.
type Multi []Sink

func (m Multi) Status(ctx context.Context, state, msg string) {
	for _, s := range m {
		s.Status(ctx, state, msg)
	}
}

func (m Multi) Action(ctx context.Context, action string, details map[string]any) {
	for _, s := range m {
		s.Action(ctx, action, details)
	}
}

func (m Multi) Trading(ctx context.Context, u TradingUpdate) {
	for _, s := range m {
		s.Trading(ctx, u)
	}
}

func (m Multi) Heartbeat(ctx context.Context) {
	for _, s := range m {
		s.Heartbeat(ctx)
	}
}

// Logger writes reports to a logrus entry. Heartbeats and trading updates
// are logged at debug level.
type Logger struct {
	Entry *logrus.Entry
}

func NewLogger() *Logger {
	return &Logger{Entry: log}
}

func (l *Logger) Status(_ context.Context, state, msg string) {
	e := l.Entry.WithField("state", state)
	if state == StateError {
		e.Warn(msg)
		return
	}
	e.Info(msg)
}

func (l *Logger) Action(_ context.Context, action string, details map[string]any) {
	l.Entry.WithFields(logrus.Fields(details)).Info(action)
}

func (l *Logger) Trading(_ context.Context, u TradingUpdate) {
	f := u.Fields()
	delete(f, "positions_data")
	l.Entry.WithFields(logrus.Fields(f)).Debug("trading update")
}

func (l *Logger) Heartbeat(context.Context) {
	l.Entry.WithField("at", time.Now().Format(time.RFC3339)).Trace("heartbeat")
}

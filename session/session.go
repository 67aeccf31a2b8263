// Package session wires one trading session: the straddle aggregator, the
// strategy machine, the execution engine and the risk monitor, run
// together on a shared context.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rustyeddy/straddle/broker"
	"github.com/rustyeddy/straddle/config"
	"github.com/rustyeddy/straddle/execution"
	"github.com/rustyeddy/straddle/journal"
	"github.com/rustyeddy/straddle/ledger"
	"github.com/rustyeddy/straddle/risk"
	"github.com/rustyeddy/straddle/status"
	"github.com/rustyeddy/straddle/strategy"
	"github.com/rustyeddy/straddle/vwap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("component", "session")

// Deps are the process level collaborators shared by every session.
type Deps struct {
	Gateway   broker.Gateway
	Ledger    *ledger.Ledger
	Journal   journal.Journal
	Sink      status.Sink
	Execution config.ExecutionConfig
}

func (d Deps) executionConfig(s config.Strategy) (execution.Config, error) {
	slice, err := d.Execution.SliceDelayDuration()
	if err != nil {
		return execution.Config{}, fmt.Errorf("slice delay: %w", err)
	}
	poll, err := d.Execution.PollIntervalDuration()
	if err != nil {
		return execution.Config{}, fmt.Errorf("poll interval: %w", err)
	}
	return execution.Config{
		FreezeLimits: d.Execution.FreezeLimits,
		DefaultLimit: d.Execution.DefaultLimit,
		TickSize:     d.Execution.TickSize,
		Buffer:       s.OrderBuffer(),
		FillTimeout:  s.FillTimeout(),
		PollInterval: poll,
		SliceDelay:   slice,
		Product:      s.ProductType,
	}, nil
}

type Session struct {
	ID       string
	Strategy config.Strategy

	Aggregator *vwap.Aggregator
	Engine     *execution.Engine
	Machine    *strategy.Machine
	Runner     *strategy.Runner
	Monitor    *risk.Monitor

	sink status.Sink
	quit chan struct{}
	once sync.Once
}

// New builds a session for the strategy snapshot s. The snapshot must carry
// the index and the expiry.
func New(id string, s config.Strategy, d Deps) (*Session, error) {
	und, err := s.Underlying()
	if err != nil {
		return nil, err
	}
	if d.Ledger == nil {
		d.Ledger = ledger.New()
	}
	if d.Journal == nil {
		d.Journal = journal.Nop{}
	}
	sink := d.Sink
	if sink == nil {
		sink = status.Nop{}
	}
	sink = status.Multi{sink, status.NewJournal(d.Journal, id)}

	ecfg, err := d.executionConfig(s)
	if err != nil {
		return nil, err
	}
	engine := execution.New(d.Gateway, d.Ledger, ecfg, d.Journal, id)

	machine, err := strategy.New(s, engine, d.Ledger, d.Gateway, sink)
	if err != nil {
		return nil, err
	}
	agg := vwap.New(d.Gateway, und, s.Expiry, sink)

	mon := risk.NewMonitor(risk.PolicyFromConfig(s), d.Ledger, d.Gateway, und, machine)
	mon.Sink = sink
	mon.Journal = d.Journal
	mon.SessionID = id

	sess := &Session{
		ID:         id,
		Strategy:   s,
		Aggregator: agg,
		Engine:     engine,
		Machine:    machine,
		Runner:     strategy.NewRunner(machine, agg),
		Monitor:    mon,
		sink:       sink,
		quit:       make(chan struct{}),
	}
	mon.OnTrigger = func(dec risk.Decision) {
		log.WithField("trigger", dec.Trigger().Code).Warn("risk exit done, ending session")
		sess.halt()
	}
	return sess, nil
}

func (s *Session) halt() {
	s.once.Do(func() { close(s.quit) })
}

// Run blocks until ctx is done, the session is stopped or the risk monitor
// has forced an exit.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l := log.WithFields(logrus.Fields{
		"session": s.ID,
		"index":   s.Strategy.Index,
		"expiry":  s.Strategy.Expiry,
	})
	l.Info("session started")
	s.sink.Action(ctx, "SESSION_STARTED", map[string]any{
		"session": s.ID,
		"index":   s.Strategy.Index,
		"expiry":  s.Strategy.Expiry,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Aggregator.Run(gctx) })
	g.Go(func() error { return s.Runner.Run(gctx) })
	g.Go(func() error { return s.Monitor.Run(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.quit:
			cancel()
		}
		return nil
	})

	err := g.Wait()
	l.WithField("day_realized", s.Engine.Ledger().DayRealized()).Info("session ended")
	return err
}

// ExitAll closes every position and leaves the loops running with the
// machine in EXITING.
func (s *Session) ExitAll(ctx context.Context, reason string) error {
	return s.Machine.ExitAll(ctx, reason)
}

// Stop closes every position and ends Run.
func (s *Session) Stop(ctx context.Context, reason string) error {
	defer s.halt()
	return s.Machine.ExitAll(ctx, reason)
}

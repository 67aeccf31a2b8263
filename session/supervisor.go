package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/straddle/config"
	"github.com/rustyeddy/straddle/control"
	"github.com/rustyeddy/straddle/status"
	"github.com/sirupsen/logrus"
)

// Control is where the supervisor reads strategy inputs and dashboard
// commands. control.Redis implements it; Static serves a file strategy.
type Control interface {
	Available(ctx context.Context) (bool, error)
	Strategy(ctx context.Context) (config.Strategy, error)
	Command(ctx context.Context) (control.Action, error)
	ExitAllRequested(ctx context.Context) (bool, error)
}

// Static is a Control for a fixed strategy that starts immediately and is
// never stopped by command.
type Static struct {
	Config config.Strategy
}

func (s Static) Available(context.Context) (bool, error) { return true, nil }
func (s Static) Strategy(context.Context) (config.Strategy, error) {
	return s.Config, s.Config.Validate()
}
func (s Static) Command(context.Context) (control.Action, error) { return control.Start, nil }
func (s Static) ExitAllRequested(context.Context) (bool, error)  { return false, nil }

// Supervisor waits for configuration, then starts and stops sessions on
// dashboard commands until its context is done. A session ended by the
// risk monitor is not restarted until a stop command has been seen.
type Supervisor struct {
	Control Control
	Deps    Deps

	// Underlying is the only index this process trades. Expiry is used
	// when the inputs carry none.
	Underlying string
	Expiry     string

	// NewID names each session.
	NewID func() string

	ConfigPoll  time.Duration
	Tick        time.Duration
	StopTimeout time.Duration

	sink   status.Sink
	active bool
	sess   *Session
	done   chan error
}

func NewSupervisor(ctl Control, deps Deps, underlying, expiry string, newID func() string) *Supervisor {
	sink := deps.Sink
	if sink == nil {
		sink = status.Nop{}
	}
	return &Supervisor{
		Control:     ctl,
		Deps:        deps,
		Underlying:  underlying,
		Expiry:      expiry,
		NewID:       newID,
		ConfigPoll:  5 * time.Second,
		Tick:        time.Second,
		StopTimeout: 2 * time.Minute,
		sink:        sink,
	}
}

// Active reports whether a start has been accepted and not yet stopped.
func (s *Supervisor) Active() bool { return s.active }

// Session is the running session, or nil.
func (s *Supervisor) Session() *Session { return s.sess }

// Run blocks until ctx is done. On the way out the running session exits
// all positions.
func (s *Supervisor) Run(ctx context.Context) error {
	s.sink.Status(ctx, status.StateStarting, fmt.Sprintf("Starting %s strategy... Please wait.", s.Underlying))

	if err := s.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.WithField("index", s.Underlying).Info("symbol validation passed")
	s.sink.Status(ctx, status.StateWaiting,
		fmt.Sprintf("%s strategy initialized, waiting for start signal", s.Underlying))

	t := time.NewTicker(s.Tick)
	defer t.Stop()
	for {
		s.sink.Heartbeat(ctx)
		s.Step(ctx)

		select {
		case <-ctx.Done():
			s.shutdown(ctx)
			return nil
		case <-t.C:
		}
	}
}

// WaitReady polls until the essential inputs are published and name the
// configured underlying.
func (s *Supervisor) WaitReady(ctx context.Context) error {
	for {
		ok, err := s.Control.Available(ctx)
		switch {
		case err != nil:
			log.WithError(err).Warn("check configuration")
		case !ok:
			log.Info("no configuration available, waiting for strategy parameters")
			s.sink.Status(ctx, status.StateWaiting, "Waiting for configuration to be set...")
		default:
			cfg, err := s.Control.Strategy(ctx)
			switch {
			case err == nil && cfg.Index == s.Underlying:
				return nil
			case err == nil:
				log.WithFields(logrus.Fields{"want": s.Underlying, "got": cfg.Index}).Info("waiting for index")
			case errors.Is(err, config.ErrConfigMissing):
				s.sink.Status(ctx, status.StateWaiting, "Waiting for configuration to be set...")
			default:
				log.WithError(err).Warn("strategy inputs")
				s.sink.Status(ctx, status.StateError, "invalid strategy inputs: "+err.Error())
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.ConfigPoll):
		}
	}
}

// Step handles one round of commands.
func (s *Supervisor) Step(ctx context.Context) {
	s.reap(ctx)

	action, err := s.Control.Command(ctx)
	if err != nil {
		log.WithError(err).Warn("read control command")
		return
	}
	switch {
	case action == control.Start && !s.active:
		s.start(ctx)
	case action == control.Stop && s.active:
		s.stop(ctx, "REQUESTED")
	}

	if s.sess == nil {
		return
	}
	exit, err := s.Control.ExitAllRequested(ctx)
	if err != nil {
		log.WithError(err).Warn("read exit signal")
		return
	}
	if exit {
		log.Warn("exit all signal received")
		if err := s.sess.ExitAll(ctx, "EXIT_ALL_SIGNAL"); err != nil {
			log.WithError(err).Error("exit all")
		}
	}
}

func (s *Supervisor) start(ctx context.Context) {
	cfg, err := s.Control.Strategy(ctx)
	if err != nil {
		log.WithError(err).Error("load strategy")
		s.sink.Status(ctx, status.StateError, "cannot start: "+err.Error())
		return
	}
	if cfg.Index != s.Underlying {
		log.WithField("index", cfg.Index).Debug("start ignored, index does not match")
		return
	}
	if cfg.Expiry == "" {
		cfg.Expiry = s.Expiry
	}

	log.Info("received START")
	s.sink.Status(ctx, status.StateStarting, "Strategy execution starting...")
	sess, err := New(s.NewID(), cfg, s.Deps)
	if err != nil {
		log.WithError(err).Error("build session")
		s.sink.Status(ctx, status.StateError, "cannot start: "+err.Error())
		return
	}

	s.active = true
	s.sess = sess
	s.done = make(chan error, 1)
	go func() { s.done <- sess.Run(ctx) }()
	s.sink.Status(ctx, status.StateRunning, fmt.Sprintf("%s %s strategy running", cfg.Index, cfg.Expiry))
}

func (s *Supervisor) stop(ctx context.Context, reason string) {
	log.WithField("reason", reason).Info("received STOP")
	s.sink.Status(ctx, status.StateStopping, "Stopping strategy...")
	if s.sess != nil {
		s.sink.Status(ctx, status.StateStopping, "Exiting all positions")
		if err := s.sess.Stop(ctx, reason); err != nil {
			log.WithError(err).Error("exit all on stop")
		}
		if err := <-s.done; err != nil {
			log.WithError(err).Warn("session ended with error")
		}
	}
	s.active = false
	s.sess = nil
	s.sink.Status(ctx, status.StateStopped, "Strategy stopped")
}

// reap forgets a session that ended on its own. The supervisor stays
// active so a standing start command does not re-enter.
func (s *Supervisor) reap(ctx context.Context) {
	if s.sess == nil {
		return
	}
	select {
	case err := <-s.done:
		if err != nil {
			log.WithError(err).Warn("session ended with error")
		}
		s.sess = nil
		s.sink.Status(ctx, status.StateStopped, "Session ended after risk exit, send stop before starting again")
	default:
	}
}

func (s *Supervisor) shutdown(ctx context.Context) {
	if s.sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.StopTimeout)
	defer cancel()
	s.stop(ctx, "SHUTDOWN")
}

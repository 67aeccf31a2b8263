package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rustyeddy/straddle/config"
	"github.com/rustyeddy/straddle/control"
	"github.com/rustyeddy/straddle/ledger"
	"github.com/rustyeddy/straddle/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mr   *miniredis.Miniredis
	ctl  *control.Redis
	sup  *Supervisor
	deps Deps
}

func newFixture(t *testing.T, mark float64) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctl := control.New(client)

	deps, _ := shortBatman(t, mark)
	deps.Sink = ctl

	var n atomic.Int64
	newID := func() string { return fmt.Sprintf("S%d", n.Add(1)) }

	sup := NewSupervisor(ctl, deps, "NIFTY", "25OCT", newID)
	sup.ConfigPoll = 10 * time.Millisecond
	return &fixture{mr: mr, ctl: ctl, sup: sup, deps: deps}
}

func (f *fixture) publish(t *testing.T, index string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ctl.SetInput(ctx, config.KeyIndex, index))
	require.NoError(t, f.ctl.SetInput(ctx, config.KeyQuantity, 75))
	require.NoError(t, f.ctl.SetInput(ctx, config.KeyTrailStopLoss, false))
}

func (f *fixture) state(t *testing.T) string {
	t.Helper()
	raw, err := f.mr.Get(control.StatusKey)
	if err != nil {
		return ""
	}
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	s, _ := m["execution_status"].(string)
	return s
}

func TestWaitReadyPollsForInputsAndIndex(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 90)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.sup.WaitReady(ctx) }()

	require.Eventually(t, func() bool { return f.state(t) == "waiting" }, time.Second, 5*time.Millisecond)

	f.publish(t, "SENSEX")
	select {
	case <-done:
		t.Fatal("ready with the wrong index")
	case <-time.After(50 * time.Millisecond):
	}

	f.publish(t, "NIFTY")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never became ready")
	}
}

func TestWaitReadyHonoursCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 90)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.sup.WaitReady(ctx), context.Canceled)
}

func TestStartExitAllStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 95)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.publish(t, "NIFTY")
	f.sup.Step(ctx)
	assert.False(t, f.sup.Active(), "no command yet")

	require.NoError(t, f.ctl.SendCommand(ctx, control.Start))
	f.sup.Step(ctx)
	require.True(t, f.sup.Active())
	sess := f.sup.Session()
	require.NotNil(t, sess)
	assert.Equal(t, "S1", sess.ID)
	assert.Equal(t, "25OCT", sess.Strategy.Expiry)
	assert.Equal(t, "running", f.state(t))

	// a standing start does not start a second session
	f.sup.Step(ctx)
	assert.Same(t, sess, f.sup.Session())

	require.NoError(t, f.ctl.RequestExitAll(ctx))
	f.sup.Step(ctx)
	assert.Equal(t, strategy.Exiting, sess.Machine.State())
	assert.True(t, f.deps.Ledger.Flat(ledger.Batman))
	assert.Same(t, sess, f.sup.Session())

	require.NoError(t, f.ctl.SendCommand(ctx, control.Stop))
	f.sup.Step(ctx)
	assert.False(t, f.sup.Active())
	assert.Nil(t, f.sup.Session())
	assert.Equal(t, "stopped", f.state(t))
}

func TestStartGatedOnIndex(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 95)
	ctx := context.Background()

	f.publish(t, "SENSEX")
	require.NoError(t, f.ctl.SendCommand(ctx, control.Start))
	f.sup.Step(ctx)
	assert.False(t, f.sup.Active())
	assert.Nil(t, f.sup.Session())
}

func TestNoRestartAfterRiskExit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 80)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.publish(t, "NIFTY")
	require.NoError(t, f.ctl.SendCommand(ctx, control.Start))
	f.sup.Step(ctx)
	first := f.sup.Session()
	require.NotNil(t, first)

	require.Eventually(t, func() bool {
		f.sup.Step(ctx)
		return f.sup.Session() == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, first.Monitor.Triggered())
	assert.True(t, f.sup.Active())
	assert.Equal(t, "stopped", f.state(t))

	f.sup.Step(ctx)
	assert.Nil(t, f.sup.Session(), "standing start must not re-enter")

	require.NoError(t, f.ctl.SendCommand(ctx, control.Stop))
	f.sup.Step(ctx)
	assert.False(t, f.sup.Active())

	require.NoError(t, f.ctl.SendCommand(ctx, control.Start))
	f.sup.Step(ctx)
	require.NotNil(t, f.sup.Session())
	assert.Equal(t, "S2", f.sup.Session().ID)
}

func TestStaticControlStartsImmediately(t *testing.T) {
	t.Parallel()
	deps, _ := shortBatman(t, 95)
	sup := NewSupervisor(Static{Config: testStrategy()}, deps, "NIFTY", "", func() string { return "FILE" })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sup.WaitReady(ctx))

	sup.Step(ctx)
	require.NotNil(t, sup.Session())
	assert.Equal(t, "FILE", sup.Session().ID)
	assert.Equal(t, "25OCT", sup.Session().Strategy.Expiry)
}

func TestRunShutdownExitsPositions(t *testing.T) {
	t.Parallel()
	deps, _ := shortBatman(t, 95)
	sup := NewSupervisor(Static{Config: testStrategy()}, deps, "NIFTY", "", func() string { return "FILE" })
	sup.Tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Run owns the supervisor state; watch the ledger instead.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down")
	}
	assert.True(t, deps.Ledger.Flat(ledger.Batman))
}

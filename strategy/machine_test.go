package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/straddle/broker"
	"github.com/rustyeddy/straddle/broker/paper"
	"github.com/rustyeddy/straddle/config"
	"github.com/rustyeddy/straddle/execution"
	"github.com/rustyeddy/straddle/ledger"
	"github.com/rustyeddy/straddle/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quoteGateway quotes every instrument at price unless prices overrides it.
type quoteGateway struct {
	*paper.Gateway
	price  float64
	prices map[string]float64
}

func (g *quoteGateway) Quote(ctx context.Context, key string) (float64, error) {
	if p, ok := g.prices[key]; ok {
		return p, nil
	}
	return g.price, nil
}

// pickyExec drops orders for the listed symbols without placing them.
type pickyExec struct {
	*execution.Engine
	reject map[string]bool
}

func (p pickyExec) Execute(ctx context.Context, o execution.Order) (execution.Outcome, error) {
	if p.reject[o.Symbol] {
		return execution.Outcome{Order: o}, nil
	}
	return p.Engine.Execute(ctx, o)
}

type recordingSink struct {
	status.Nop
	mu       sync.Mutex
	actions  []string
	statuses []string
}

func (s *recordingSink) Status(_ context.Context, state, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, state)
}

func (s *recordingSink) Action(_ context.Context, action string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
}

func (s *recordingSink) has(action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a == action {
			return true
		}
	}
	return false
}

func (s *recordingSink) lastStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

type harness struct {
	m      *Machine
	gw     *quoteGateway
	engine *execution.Engine
	ledger *ledger.Ledger
	sink   *recordingSink
}

func testStrategy() config.Strategy {
	cfg := config.DefaultStrategy()
	cfg.Index = "NIFTY"
	cfg.Expiry = "25OCT"
	cfg.PivotRangeMinutes = 3
	return cfg
}

func newHarness(t *testing.T, cfg config.Strategy, mode paper.FillMode, wrap func(*execution.Engine) Executor) *harness {
	t.Helper()

	gw := &quoteGateway{Gateway: paper.New(mode), price: 100, prices: map[string]float64{}}
	l := ledger.New()
	engine := execution.New(gw, l, execution.Config{
		FreezeLimits: map[string]int{"NFO": 1800},
		TickSize:     0.05,
		Buffer:       0.003,
		FillTimeout:  20 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
	}, nil, "S1")

	var exec Executor = engine
	if wrap != nil {
		exec = wrap(engine)
	}
	sink := &recordingSink{}
	m, err := New(cfg, exec, l, gw, sink)
	require.NoError(t, err)
	return &harness{m: m, gw: gw, engine: engine, ledger: l, sink: sink}
}

func (h *harness) orders() []paper.Order { return h.gw.Orders() }

// breakout has the straddle above VWAP and the index at its range high.
func breakout() Inputs {
	return Inputs{
		Straddle:        120,
		VWAP:            100,
		VWAPValid:       true,
		Index:           24510,
		StraddleHigh:    125,
		StraddleLow:     110,
		IndexHigh:       24510,
		IndexLow:        24400,
		IndexRangeValid: true,
	}
}

// sag has the straddle at the bottom of its range, below VWAP.
func sag() Inputs {
	return Inputs{
		Straddle:        90,
		VWAP:            100,
		VWAPValid:       true,
		Index:           24500,
		StraddleHigh:    130,
		StraddleLow:     90,
		IndexHigh:       24550,
		IndexLow:        24450,
		IndexRangeValid: true,
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cfg := testStrategy()
	cfg.Expiry = ""
	_, err := New(cfg, nil, ledger.New(), nil, nil)
	assert.Error(t, err)

	cfg = testStrategy()
	cfg.Index = "DOW"
	_, err = New(cfg, nil, ledger.New(), nil, nil)
	assert.Error(t, err)
}

func TestDirectionalLongOpensOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, testStrategy(), paper.FillComplete, nil)

	require.NoError(t, h.m.Step(ctx, breakout()))
	assert.Equal(t, DebitSpread, h.m.State())

	snap := h.m.Snapshot()
	assert.Equal(t, Long, snap.Direction)
	assert.Equal(t, 110.0, snap.Stop)
	assert.Equal(t, 120.0, snap.Peak)

	orders := h.orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "NIFTY25OCT24500CE", orders[0].Request.Symbol)
	assert.Equal(t, broker.Buy, orders[0].Request.Side)
	assert.Equal(t, "NIFTY25OCT24550CE", orders[1].Request.Symbol)
	assert.Equal(t, broker.Sell, orders[1].Request.Side)
	assert.Equal(t, 75, orders[0].Request.Quantity)

	pos, ok := h.ledger.Position(ledger.DebitSpread, "NIFTY25OCT24500CE")
	require.True(t, ok)
	assert.Equal(t, 75, pos.Qty)
	assert.True(t, h.ledger.Flat(ledger.Batman))
	assert.True(t, h.sink.has(ActionDebitEntry))

	// already in a spread: nothing new is opened
	require.NoError(t, h.m.Step(ctx, breakout()))
	assert.Len(t, h.orders(), 2)
}

func TestDirectionalShortUsesPuts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testStrategy(), paper.FillComplete, nil)

	in := breakout()
	in.Index = 24400
	require.NoError(t, h.m.Step(context.Background(), in))
	assert.Equal(t, Short, h.m.Snapshot().Direction)

	orders := h.orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "NIFTY25OCT24400PE", orders[0].Request.Symbol)
	assert.Equal(t, "NIFTY25OCT24350PE", orders[1].Request.Symbol)
}

func TestNoDirectionalEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Inputs)
	}{
		{"vwap undefined", func(in *Inputs) { in.VWAPValid = false }},
		{"straddle at vwap", func(in *Inputs) { in.Straddle = in.VWAP }},
		{"index range too short", func(in *Inputs) { in.IndexRangeValid = false }},
		{"index inside range", func(in *Inputs) { in.Index = 24450 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, testStrategy(), paper.FillComplete, nil)
			in := breakout()
			in.StraddleLow = 50
			tt.mutate(&in)

			require.NoError(t, h.m.Step(context.Background(), in))
			assert.Equal(t, Idle, h.m.State())
			assert.Empty(t, h.orders())
		})
	}
}

func TestTrailingStopNeverFalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, testStrategy(), paper.FillComplete, nil)

	require.NoError(t, h.m.Step(ctx, breakout()))

	stops := []float64{h.m.Snapshot().Stop}
	for _, s := range []float64{130, 129, 131, 129.8} {
		in := breakout()
		in.Straddle = s
		require.NoError(t, h.m.Step(ctx, in))
		require.Equal(t, DebitSpread, h.m.State(), "straddle %v", s)
		stops = append(stops, h.m.Snapshot().Stop)
	}
	for i := 1; i < len(stops); i++ {
		assert.GreaterOrEqual(t, stops[i], stops[i-1])
	}
	assert.InDelta(t, 131*0.99, h.m.Snapshot().Stop, 1e-9)
	assert.Equal(t, 131.0, h.m.Snapshot().Peak)

	// falling through the trailed stop closes the spread
	in := breakout()
	in.Straddle = 129
	require.NoError(t, h.m.Step(ctx, in))
	assert.Equal(t, Idle, h.m.State())
	assert.True(t, h.ledger.Flat(ledger.DebitSpread))
	assert.Equal(t, uint64(1), h.ledger.Settlements())
	// both legs bought at 100.3 and sold at 99.7
	assert.InDelta(t, -90.0, h.ledger.DayRealized(), 1e-9)
	assert.True(t, h.sink.has(ActionDebitStop))
}

func TestBatmanEntryAndStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, testStrategy(), paper.FillComplete, nil)

	require.NoError(t, h.m.Step(ctx, sag()))
	assert.Equal(t, Batman, h.m.State())
	snap := h.m.Snapshot()
	assert.True(t, snap.HasPivot)
	assert.Equal(t, 24500.0, snap.Pivot)
	assert.Equal(t, 130.0, snap.Stop)

	orders := h.orders()
	require.Len(t, orders, 4)
	want := []struct {
		symbol string
		side   broker.Side
	}{
		{"NIFTY25OCT25100CE", broker.Buy},
		{"NIFTY25OCT24750CE", broker.Sell},
		{"NIFTY25OCT23900PE", broker.Buy},
		{"NIFTY25OCT24250PE", broker.Sell},
	}
	for i, w := range want {
		assert.Equal(t, w.symbol, orders[i].Request.Symbol)
		assert.Equal(t, w.side, orders[i].Request.Side)
	}

	// straddle back at the range high stops the position out
	in := sag()
	in.Straddle = 130
	require.NoError(t, h.m.Step(ctx, in))
	assert.Equal(t, Idle, h.m.State())
	assert.False(t, h.m.Snapshot().HasPivot)
	assert.True(t, h.ledger.Flat(ledger.Batman))

	exits := h.orders()[4:]
	require.Len(t, exits, 4)
	assert.Equal(t, broker.Buy, exits[0].Request.Side, "shorts are bought back first")
	assert.Equal(t, broker.Buy, exits[1].Request.Side)
	assert.Equal(t, broker.Sell, exits[2].Request.Side)
	assert.Equal(t, broker.Sell, exits[3].Request.Side)
	assert.True(t, h.sink.has(ActionBatmanStop))
}

func TestBatmanShift(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, testStrategy(), paper.FillComplete, nil)

	require.NoError(t, h.m.Step(ctx, sag()))

	// a small move keeps the legs
	in := sag()
	in.Straddle = 95
	in.Index = 24549
	require.NoError(t, h.m.Step(ctx, in))
	assert.Len(t, h.orders(), 4)

	in.Index = 24560
	require.NoError(t, h.m.Step(ctx, in))
	assert.Equal(t, Batman, h.m.State())
	assert.Equal(t, 24560.0, h.m.Snapshot().Pivot)
	assert.Equal(t, 130.0, h.m.Snapshot().Stop)
	assert.Len(t, h.orders(), 12)

	_, ok := h.ledger.Position(ledger.Batman, "NIFTY25OCT24800CE")
	assert.True(t, ok)
	_, ok = h.ledger.Position(ledger.Batman, "NIFTY25OCT24750CE")
	assert.False(t, ok)
	assert.True(t, h.sink.has(ActionBatmanShift))
}

func TestBatmanHedgeRatio(t *testing.T) {
	t.Parallel()

	cfg := testStrategy()
	cfg.QtyHedgeRatio = 2
	h := newHarness(t, cfg, paper.FillComplete, nil)
	h.gw.prices["NFO:NIFTY25OCT24750CE"] = 100
	h.gw.prices["NFO:NIFTY25OCT25100CE"] = 40

	require.NoError(t, h.m.Step(context.Background(), sag()))

	hedge, ok := h.ledger.Position(ledger.Batman, "NIFTY25OCT25100CE")
	require.True(t, ok)
	assert.Equal(t, 375, hedge.Qty)

	short, ok := h.ledger.Position(ledger.Batman, "NIFTY25OCT24750CE")
	require.True(t, ok)
	assert.Equal(t, -75, short.Qty)

	// PE side: 75*100*2/100/75 = 2 lots
	pe, ok := h.ledger.Position(ledger.Batman, "NIFTY25OCT23900PE")
	require.True(t, ok)
	assert.Equal(t, 150, pe.Qty)
}

func TestBatmanShortNeedsHedge(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testStrategy(), paper.FillComplete, func(e *execution.Engine) Executor {
		return pickyExec{Engine: e, reject: map[string]bool{"NIFTY25OCT25100CE": true}}
	})

	err := h.m.Step(context.Background(), sag())
	assert.Error(t, err)
	assert.Equal(t, Batman, h.m.State())

	_, ok := h.ledger.Position(ledger.Batman, "NIFTY25OCT24750CE")
	assert.False(t, ok, "CE short must not be sold without its hedge")
	_, ok = h.ledger.Position(ledger.Batman, "NIFTY25OCT24250PE")
	assert.True(t, ok)
}

func TestEntryWithoutFillStaysIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testStrategy(), paper.FillReject, nil)

	err := h.m.Step(context.Background(), breakout())
	assert.Error(t, err)
	assert.Equal(t, Idle, h.m.State())
	assert.Equal(t, status.StateError, h.sink.lastStatus())
	assert.True(t, h.ledger.Flat(ledger.DebitSpread))
}

func TestExitAllSuppressesTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, testStrategy(), paper.FillComplete, nil)

	require.NoError(t, h.m.Step(ctx, breakout()))
	require.NoError(t, h.m.ExitAll(ctx, "TARGET_PNL"))
	assert.Equal(t, Exiting, h.m.State())
	assert.True(t, h.ledger.Flat(ledger.DebitSpread))
	assert.True(t, h.ledger.Flat(ledger.Batman))
	n := len(h.orders())

	require.NoError(t, h.m.Step(ctx, breakout()))
	require.NoError(t, h.m.Step(ctx, sag()))
	assert.Len(t, h.orders(), n)
	assert.Equal(t, Exiting, h.m.State())

	h.m.Reset()
	assert.Equal(t, Idle, h.m.State())
	assert.Equal(t, Snapshot{State: Idle}, h.m.Snapshot())
}

func TestRetryExitClosesLegsLeftOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const leg = "NIFTY25OCT24750CE"

	reject := map[string]bool{leg: true}
	h := newHarness(t, testStrategy(), paper.FillComplete, func(e *execution.Engine) Executor {
		return pickyExec{Engine: e, reject: reject}
	})

	// not exiting: nothing to retry
	require.NoError(t, h.m.RetryExit(ctx))
	assert.Empty(t, h.orders())

	_, _, err := h.ledger.Apply(ledger.Batman, leg, broker.Sell, 75, 100)
	require.NoError(t, err)

	assert.Error(t, h.m.ExitAll(ctx, "MAX_LOSS"))
	assert.Equal(t, Exiting, h.m.State())
	assert.False(t, h.ledger.Flat(ledger.Batman))

	delete(reject, leg)
	require.NoError(t, h.m.RetryExit(ctx))
	assert.True(t, h.ledger.Flat(ledger.Batman))
	assert.Equal(t, Exiting, h.m.State())
	require.Len(t, h.orders(), 1)
	assert.Equal(t, broker.Buy, h.orders()[0].Request.Side)

	require.NoError(t, h.m.RetryExit(ctx))
	assert.Len(t, h.orders(), 1)
}

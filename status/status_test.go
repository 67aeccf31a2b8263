package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rustyeddy/straddle/journal"
	"github.com/rustyeddy/straddle/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	Nop
	statuses, actions, trading, beats int
}

func (c *countingSink) Status(context.Context, string, string)         { c.statuses++ }
func (c *countingSink) Action(context.Context, string, map[string]any) { c.actions++ }
func (c *countingSink) Trading(context.Context, TradingUpdate)         { c.trading++ }
func (c *countingSink) Heartbeat(context.Context)                      { c.beats++ }

func TestMultiFansOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, b := &countingSink{}, &countingSink{}
	m := Multi{a, b, Nop{}, NewLogger()}
	m.Status(ctx, StateRunning, "ok")
	m.Action(ctx, "X", map[string]any{"k": 1})
	m.Trading(ctx, TradingUpdate{Straddle: Float(1)})
	m.Heartbeat(ctx)

	for _, s := range []*countingSink{a, b} {
		assert.Equal(t, 1, s.statuses)
		assert.Equal(t, 1, s.actions)
		assert.Equal(t, 1, s.trading)
		assert.Equal(t, 1, s.beats)
	}
}

func TestTradingUpdateFields(t *testing.T) {
	t.Parallel()

	u := TradingUpdate{
		Straddle:  Float(120.5),
		PnLBatman: Float(-10),
		Positions: map[ledger.Bucket][]ledger.Position{
			ledger.Batman: {{Symbol: "NIFTY25OCT24750CE", Qty: -75, AvgPrice: 40}},
		},
	}
	f := u.Fields()
	assert.Equal(t, 120.5, f["straddle_price"])
	assert.Equal(t, -10.0, f["pnl_batman"])
	assert.NotContains(t, f, "vwap")
	assert.NotContains(t, f, "pnl_spread")

	pos := f["positions_data"].(map[string]map[string]map[string]any)
	assert.Equal(t, -75, pos["BATMAN"]["NIFTY25OCT24750CE"]["qty"])
	assert.Equal(t, 40.0, pos["BATMAN"]["NIFTY25OCT24750CE"]["avg_price"])
}

type actionLog struct {
	recs []journal.ActionRecord
	err  error
}

func (a *actionLog) RecordAction(r journal.ActionRecord) error {
	a.recs = append(a.recs, r)
	return a.err
}

func TestJournalSinkRecordsActions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rec := &actionLog{}
	j := NewJournal(rec, "S1")
	j.Action(ctx, "BATMAN_ENTRY", map[string]any{"pivot": 24500})
	j.Action(ctx, "RESET", nil)
	j.Status(ctx, StateRunning, "ignored")
	j.Heartbeat(ctx)

	require.Len(t, rec.recs, 2)
	assert.Equal(t, "S1", rec.recs[0].SessionID)
	assert.Equal(t, "BATMAN_ENTRY", rec.recs[0].Action)
	assert.JSONEq(t, `{"pivot":24500}`, rec.recs[0].Details)
	assert.Equal(t, "{}", rec.recs[1].Details)
	assert.NotEqual(t, rec.recs[0].ID, rec.recs[1].ID)

	// journal failures are swallowed
	rec.err = errors.New("disk full")
	assert.NotPanics(t, func() { j.Action(ctx, "X", nil) })
}

func TestHubBroadcasts(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Status(ctx, StateRunning, "batman active")
	hub.Trading(ctx, TradingUpdate{VWAP: Float(101)})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, "status", m.Type)
	assert.Equal(t, StateRunning, m.State)
	assert.Equal(t, "batman active", m.Text)

	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, "trading", m.Type)
	assert.Equal(t, 101.0, m.Details["vwap"])

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.Heartbeat(context.Background())
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))

	b := <-hub.broadcast
	var m Message
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "heartbeat", m.Type)
}

func TestHubSlowClientDoesNotStallOthers(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	// never reads, so its socket buffers fill up
	stuck, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer stuck.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	big := strings.Repeat("x", 256<<10)
	for i := 0; i < 64; i++ {
		hub.Action(ctx, "BULK", map[string]any{"pad": big})
	}
	require.Eventually(t, func() bool { return len(hub.broadcast) == 0 }, 2*time.Second, 5*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	hub.Status(ctx, StateRunning, "still flowing")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, "still flowing", m.Text)
}

// gateSink blocks every report until release is closed.
type gateSink struct {
	Nop
	release chan struct{}
	mu      sync.Mutex
	got     []string
}

func (g *gateSink) Action(_ context.Context, action string, _ map[string]any) {
	<-g.release
	g.mu.Lock()
	g.got = append(g.got, action)
	g.mu.Unlock()
}

func (g *gateSink) actions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.got...)
}

func TestAsyncKeepsOrderAndNeverBlocks(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	g := &gateSink{release: make(chan struct{})}
	a := NewAsync(g, 3)

	start := time.Now()
	for _, name := range []string{"A", "B", "C", "D", "E", "F"} {
		a.Action(ctx, name, nil)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.NotZero(t, a.Dropped())

	// a cancelled caller does not cancel queued reports
	cancel()
	close(g.release)
	require.NoError(t, a.Close())

	got := g.actions()
	require.NotEmpty(t, got)
	assert.Equal(t, "A", got[0])
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i], "reports out of order")
	}
	assert.Equal(t, uint64(6-len(got)), a.Dropped())

	a.Action(context.Background(), "late", nil)
	assert.Equal(t, uint64(7-len(got)), a.Dropped())
	assert.Len(t, g.actions(), len(got))
}

package fire

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HydraXdev/HydraX-v2-sub002/protocol"
	"github.com/HydraXdev/HydraX-v2-sub002/relay"
	"github.com/HydraXdev/HydraX-v2-sub002/transport"
)

func newTestAdapter(t *testing.T) (*Adapter, *transport.ChannelEnd) {
	t.Helper()

	relayEnd, agentEnd := transport.Pair(64)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := relay.New(relayEnd, relay.Options{
		PollTimeout: 20 * time.Millisecond,
		PendingTTL:  time.Hour,
		Logger:      logger,
	})
	require.NoError(t, r.Start())
	t.Cleanup(func() {
		if r.State() == relay.StateRunning {
			_ = r.Stop()
		}
	})
	return NewAdapter(r, logger), agentEnd
}

func recvCommand(t *testing.T, agentEnd *transport.ChannelEnd) protocol.Command {
	t.Helper()

	payload, err := agentEnd.Recv(context.Background(), time.Second)
	require.NoError(t, err)
	cmd, err := protocol.DecodeCommand(payload)
	require.NoError(t, err)
	return cmd
}

func TestSubmitFire(t *testing.T) {
	t.Parallel()

	a, agentEnd := newTestAdapter(t)

	res := a.SubmitFire("u1", Intent{
		Symbol:     "EURUSD",
		Side:       "buy",
		Lot:        0.01,
		StopLoss:   50,
		TakeProfit: 100,
	})
	require.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.SignalID, "FIRE_u1_"), "got %s", res.SignalID)

	cmd := recvCommand(t, agentEnd)
	assert.Equal(t, protocol.TypeSignal, cmd.Type)
	assert.Equal(t, res.SignalID, cmd.SignalID)
	assert.Equal(t, protocol.ActionBuy, cmd.Action)
	assert.Equal(t, 0.01, cmd.Lot)
	assert.Equal(t, 50.0, cmd.SL)
	assert.Equal(t, 100.0, cmd.TP)
}

func TestSubmitFireResolution(t *testing.T) {
	t.Parallel()

	a, agentEnd := newTestAdapter(t)

	res := a.SubmitFire("u1", Intent{Symbol: "EURUSD", Side: "buy", Lot: 0.01, StopLoss: 50, TakeProfit: 100})
	require.True(t, res.Success)

	var got atomic.Pointer[relay.ResultEvent]
	a.OnResult(res.SignalID, func(ev relay.ResultEvent) { got.Store(&ev) })

	payload, err := protocol.EncodeResult(protocol.NewTradeResult(res.SignalID, protocol.StatusSuccess, 123456, 1.0850, "filled"))
	require.NoError(t, err)
	require.NoError(t, agentEnd.Send(context.Background(), payload))

	require.Eventually(t, func() bool { return got.Load() != nil }, time.Second, 5*time.Millisecond)
	ev := got.Load()
	assert.Equal(t, relay.OutcomeSuccess, ev.Outcome)
	assert.Equal(t, int64(123456), ev.Ticket)
	assert.Equal(t, 1.0850, ev.Price)
	assert.Equal(t, 0, a.Relay().PendingCount())
}

func TestSubmitFireAndWatch(t *testing.T) {
	t.Parallel()

	a, agentEnd := newTestAdapter(t)

	// Agent echoes a fill back as soon as the signal lands, before the
	// submitting goroutine gets a chance to do anything else.
	go func() {
		payload, err := agentEnd.Recv(context.Background(), time.Second)
		if err != nil {
			return
		}
		cmd, err := protocol.DecodeCommand(payload)
		if err != nil {
			return
		}
		reply, err := protocol.EncodeResult(protocol.NewTradeResult(cmd.SignalID, protocol.StatusSuccess, 555, 1.0901, "filled"))
		if err != nil {
			return
		}
		_ = agentEnd.Send(context.Background(), reply)
	}()

	got := make(chan relay.ResultEvent, 1)
	res := a.SubmitFireAndWatch("u1", Intent{Symbol: "EURUSD", Side: "buy", Lot: 0.01},
		func(ev relay.ResultEvent) { got <- ev })
	require.True(t, res.Success)

	select {
	case ev := <-got:
		assert.Equal(t, res.SignalID, ev.SignalID)
		assert.Equal(t, relay.OutcomeSuccess, ev.Outcome)
		assert.Equal(t, int64(555), ev.Ticket)
	case <-time.After(time.Second):
		t.Fatal("fill never reached the callback")
	}
	assert.Equal(t, 0, a.Relay().PendingCount())
}

func TestOnResultReportsWhetherArmed(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t)

	assert.False(t, a.OnResult("no_such_signal", func(relay.ResultEvent) {}))

	res := a.SubmitFire("u1", Intent{Symbol: "EURUSD", Side: "buy", Lot: 0.01})
	require.True(t, res.Success)
	assert.True(t, a.OnResult(res.SignalID, func(relay.ResultEvent) {}))
}

func TestSubmitFireUppercaseSide(t *testing.T) {
	t.Parallel()

	a, agentEnd := newTestAdapter(t)

	res := a.SubmitFire("u2", Intent{Symbol: "GBPUSD", Side: " SELL ", Lot: 0.05})
	require.True(t, res.Success)
	assert.Equal(t, protocol.ActionSell, recvCommand(t, agentEnd).Action)
}

func TestSubmitFireInvalidSide(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t)

	res := a.SubmitFire("u1", Intent{Symbol: "EURUSD", Side: "hold", Lot: 0.01})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "invalid side")
	assert.Equal(t, 0, a.Relay().PendingCount())

	// close is not a fire side either; it goes through ClosePositions.
	res = a.SubmitFire("u1", Intent{Symbol: "EURUSD", Side: "close", Lot: 0.01})
	assert.False(t, res.Success)
}

func TestSubmitFireExplicitSignalID(t *testing.T) {
	t.Parallel()

	a, agentEnd := newTestAdapter(t)

	res := a.SubmitFire("u1", Intent{Symbol: "EURUSD", Side: "buy", Lot: 0.01, SignalID: "my_key_1"})
	require.True(t, res.Success)
	assert.Equal(t, "my_key_1", res.SignalID)
	assert.Equal(t, "my_key_1", recvCommand(t, agentEnd).SignalID)
}

func TestClosePositionsAll(t *testing.T) {
	t.Parallel()

	a, agentEnd := newTestAdapter(t)

	res := a.ClosePositions("u1", "")
	require.True(t, res.Success)

	cmd := recvCommand(t, agentEnd)
	assert.Equal(t, protocol.ActionCloseAll, cmd.Action)
	assert.Empty(t, cmd.Symbol)
}

func TestClosePositionsSingleSymbol(t *testing.T) {
	t.Parallel()

	a, agentEnd := newTestAdapter(t)

	res := a.ClosePositions("u1", "EURUSD")
	require.True(t, res.Success)

	cmd := recvCommand(t, agentEnd)
	assert.Equal(t, protocol.ActionClose, cmd.Action)
	assert.Equal(t, "EURUSD", cmd.Symbol)
}

func TestGetStatusSkipsRegistry(t *testing.T) {
	t.Parallel()

	a, agentEnd := newTestAdapter(t)

	res := a.GetStatus()
	require.True(t, res.Success)
	assert.Equal(t, 0, a.Relay().PendingCount())

	cmd := recvCommand(t, agentEnd)
	assert.Equal(t, protocol.TypeCommand, cmd.Type)
	assert.Equal(t, "status", cmd.Command)

	// The reply carries no signal id; it lands as the most recent status.
	payload, err := protocol.EncodeResult(protocol.NewStatus("running", "3 positions open"))
	require.NoError(t, err)
	require.NoError(t, agentEnd.Send(context.Background(), payload))

	require.Eventually(t, func() bool {
		_, ok := a.Relay().LastAgentStatus()
		return ok
	}, time.Second, 5*time.Millisecond)

	res = a.GetStatus()
	require.True(t, res.Success)
	assert.Contains(t, res.Message, "3 positions open")
	assert.Equal(t, 0, a.Relay().PendingCount())
	_ = recvCommand(t, agentEnd) // drain the second status command
}

func TestSubmitFireWhenStopped(t *testing.T) {
	t.Parallel()

	a, _ := newTestAdapter(t)
	require.NoError(t, a.Relay().Stop())

	res := a.SubmitFire("u1", Intent{Symbol: "EURUSD", Side: "buy", Lot: 0.01})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not running")
}

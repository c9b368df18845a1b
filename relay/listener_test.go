package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HydraXdev/HydraX-v2-sub002/protocol"
)

func TestTradeResultResolvesPending(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{PendingTTL: time.Hour})

	before := r.PendingCount()
	sid, err := r.SubmitSignal("EURUSD", protocol.ActionBuy, 0.01, 50, 100, "")
	require.NoError(t, err)
	require.Equal(t, before+1, r.PendingCount())

	var got atomic.Pointer[ResultEvent]
	r.OnResult(sid, func(ev ResultEvent) { got.Store(&ev) })

	injectResult(t, agentEnd, protocol.NewTradeResult(sid, protocol.StatusSuccess, 123456, 1.0850, "filled"))

	require.Eventually(t, func() bool { return got.Load() != nil }, time.Second, 5*time.Millisecond)
	ev := got.Load()
	assert.Equal(t, OutcomeSuccess, ev.Outcome)
	assert.Equal(t, int64(123456), ev.Ticket)
	assert.Equal(t, 1.0850, ev.Price)
	assert.Equal(t, sid, ev.Command.SignalID)
	assert.False(t, ev.SubmittedAt.IsZero())

	// Registry size returns to its pre-submission value.
	assert.Equal(t, before, r.PendingCount())
	assert.Equal(t, uint64(1), r.Metrics().Resolved)
}

func TestTradeResultFailure(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{PendingTTL: time.Hour})

	sid, err := r.SubmitSignal("EURUSD", protocol.ActionSell, 0.05, 30, 60, "")
	require.NoError(t, err)

	var got atomic.Pointer[ResultEvent]
	r.OnResult(sid, func(ev ResultEvent) { got.Store(&ev) })

	injectResult(t, agentEnd, protocol.NewTradeResult(sid, protocol.StatusFailure, 0, 0, "not enough margin"))

	require.Eventually(t, func() bool { return got.Load() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, OutcomeFailure, got.Load().Outcome)
	assert.Equal(t, "not enough margin", got.Load().Message)
	assert.Equal(t, uint64(1), r.Metrics().Failed)
}

func TestOrphanedResult(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{})

	before := r.PendingCount()
	injectResult(t, agentEnd, protocol.NewTradeResult("never_submitted", protocol.StatusSuccess, 777, 1.1, ""))

	require.Eventually(t, func() bool {
		return r.Metrics().OrphanedResults == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, before, r.PendingCount())
	assert.Zero(t, r.Metrics().Resolved)
}

func TestTTLReaperReportsUnknownOutcome(t *testing.T) {
	t.Parallel()

	r, _ := newTestRelay(t, Options{
		PollTimeout: 10 * time.Millisecond,
		PendingTTL:  50 * time.Millisecond,
	})

	var got atomic.Pointer[ResultEvent]
	sid, err := r.SubmitSignal("EURUSD", protocol.ActionBuy, 0.01, 0, 0, "")
	require.NoError(t, err)
	r.OnResult(sid, func(ev ResultEvent) { got.Store(&ev) })

	require.Eventually(t, func() bool { return got.Load() != nil }, time.Second, 5*time.Millisecond)
	// Never success, never failure: the result may merely have been lost.
	assert.Equal(t, OutcomeUnknown, got.Load().Outcome)
	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, uint64(1), r.Metrics().UnknownOutcomes)
	assert.Zero(t, r.Metrics().Resolved)
	assert.Zero(t, r.Metrics().Failed)
}

func TestParseFailureDoesNotStallListener(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{PendingTTL: time.Hour})

	sid, err := r.SubmitSignal("EURUSD", protocol.ActionBuy, 0.01, 0, 0, "")
	require.NoError(t, err)

	var got atomic.Pointer[ResultEvent]
	r.OnResult(sid, func(ev ResultEvent) { got.Store(&ev) })

	// Garbage first, then the real result: the real one must still land.
	require.NoError(t, agentEnd.Send(context.Background(), []byte("{broken")))
	require.NoError(t, agentEnd.Send(context.Background(), []byte(`{"type":"mystery"}`)))
	injectResult(t, agentEnd, protocol.NewTradeResult(sid, protocol.StatusSuccess, 42, 1.2, ""))

	require.Eventually(t, func() bool { return got.Load() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, OutcomeSuccess, got.Load().Outcome)
	assert.Equal(t, uint64(2), r.Metrics().ParseFailures)
}

func TestHeartbeatUpdatesTelemetry(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{})

	assert.False(t, r.Connected())
	injectResult(t, agentEnd, protocol.NewHeartbeat(10250.50, 10180.25, 3))

	require.Eventually(t, r.Connected, time.Second, 5*time.Millisecond)
	tel := r.Telemetry()
	assert.Equal(t, 10250.50, tel.Balance)
	assert.Equal(t, 10180.25, tel.Equity)
	assert.Equal(t, 3, tel.Positions)
	assert.False(t, tel.LastHeartbeat.IsZero())
	assert.Equal(t, 0, r.PendingCount())
}

func TestStatusStateMachine(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{})

	injectResult(t, agentEnd, protocol.NewStatus(protocol.StateStartup, "agent online"))
	require.Eventually(t, r.Connected, time.Second, 5*time.Millisecond)

	injectResult(t, agentEnd, protocol.NewStatus(protocol.StateReconnected, "link restored"))
	time.Sleep(50 * time.Millisecond)
	assert.True(t, r.Connected())

	injectResult(t, agentEnd, protocol.NewStatus(protocol.StateShutdown, "bye"))
	require.Eventually(t, func() bool { return !r.Connected() }, time.Second, 5*time.Millisecond)

	st, ok := r.LastAgentStatus()
	require.True(t, ok)
	assert.Equal(t, protocol.StateShutdown, st.State)
}

func TestLivenessWindowDisconnects(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{
		PollTimeout:    10 * time.Millisecond,
		LivenessWindow: 60 * time.Millisecond,
	})

	injectResult(t, agentEnd, protocol.NewHeartbeat(1000, 1000, 0))
	require.Eventually(t, r.Connected, time.Second, 5*time.Millisecond)

	// No more heartbeats: the watchdog must flip to disconnected.
	require.Eventually(t, func() bool { return !r.Connected() }, time.Second, 5*time.Millisecond)
}

func TestErrorWithSignalIDResolvesAsFailed(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{PendingTTL: time.Hour})

	sid, err := r.SubmitSignal("EURUSD", protocol.ActionBuy, 0.01, 0, 0, "")
	require.NoError(t, err)

	var got atomic.Pointer[ResultEvent]
	r.OnResult(sid, func(ev ResultEvent) { got.Store(&ev) })

	injectResult(t, agentEnd, protocol.NewError(sid, "symbol disabled"))

	require.Eventually(t, func() bool { return got.Load() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, OutcomeFailure, got.Load().Outcome)
	assert.Equal(t, "symbol disabled", got.Load().Message)
	assert.Equal(t, 0, r.PendingCount())
}

func TestBareErrorOnlyObserved(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{})

	var events atomic.Int32
	r.OnAgentEvent(func(res protocol.Result) {
		if res.Type == protocol.TypeError {
			events.Add(1)
		}
	})

	injectResult(t, agentEnd, protocol.NewError("", "terminal busy"))

	require.Eventually(t, func() bool { return events.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, r.Metrics().OrphanedResults)
	assert.Zero(t, r.Metrics().Failed)
}

func TestObserverSeesEveryOutcome(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{
		PollTimeout: 10 * time.Millisecond,
		PendingTTL:  80 * time.Millisecond,
	})

	var outcomes atomic.Int32
	r.Observe(func(ev ResultEvent) { outcomes.Add(1) })

	resolved, err := r.SubmitSignal("EURUSD", protocol.ActionBuy, 0.01, 0, 0, "resolved_sig")
	require.NoError(t, err)
	_, err = r.SubmitSignal("GBPUSD", protocol.ActionSell, 0.02, 0, 0, "expiring_sig")
	require.NoError(t, err)

	injectResult(t, agentEnd, protocol.NewTradeResult(resolved, protocol.StatusSuccess, 9, 1.3, ""))

	require.Eventually(t, func() bool { return outcomes.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, r.PendingCount())
}

// brokenTransport serves a fixed set of payloads, then fails every receive
// with a non-timeout error. It counts receive calls so tests can assert the
// listener polls at its normal cadence instead of spinning.
type brokenTransport struct {
	mu       sync.Mutex
	payloads [][]byte
	recvs    int
}

func (b *brokenTransport) Send(context.Context, []byte) error { return nil }

func (b *brokenTransport) Recv(_ context.Context, _ time.Duration) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recvs++
	if len(b.payloads) > 0 {
		p := b.payloads[0]
		b.payloads = b.payloads[1:]
		return p, nil
	}
	return nil, errors.New("connection reset by peer")
}

func (b *brokenTransport) Close() error { return nil }

func (b *brokenTransport) recvCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recvs
}

func TestPersistentRecvErrorsBackOffAndDisconnect(t *testing.T) {
	t.Parallel()

	hb, err := protocol.EncodeResult(protocol.NewHeartbeat(1000, 1000, 0))
	require.NoError(t, err)

	tr := &brokenTransport{payloads: [][]byte{hb}}
	r := New(tr, Options{
		PollTimeout:    30 * time.Millisecond,
		LivenessWindow: time.Hour,
		Logger:         quietLogger(),
	})
	require.NoError(t, r.Start())
	t.Cleanup(func() {
		if r.State() == StateRunning {
			_ = r.Stop()
		}
	})

	// One heartbeat connects the agent, then every receive fails. The
	// listener must flip to disconnected once the failures persist.
	require.Eventually(t, r.Connected, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !r.Connected() }, time.Second, 5*time.Millisecond)

	// Failing receives are retried at the poll cadence, not in a hot loop:
	// at a 30ms grain roughly ten polls fit in 300ms.
	base := tr.recvCount()
	time.Sleep(300 * time.Millisecond)
	assert.LessOrEqual(t, tr.recvCount()-base, 15)
	assert.Equal(t, StateRunning, r.State())
}

func TestOnResultOnlyArmsPendingSignals(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{PendingTTL: time.Hour})

	var fired atomic.Bool
	assert.False(t, r.OnResult("never_submitted", func(ResultEvent) { fired.Store(true) }))

	// The rejected registration left nothing behind: a result for that id
	// is an orphan and the callback never runs.
	injectResult(t, agentEnd, protocol.NewTradeResult("never_submitted", protocol.StatusSuccess, 7, 1.1, ""))
	require.Eventually(t, func() bool {
		return r.Metrics().OrphanedResults == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, fired.Load())

	sid, err := r.SubmitSignal("EURUSD", protocol.ActionBuy, 0.01, 0, 0, "")
	require.NoError(t, err)
	assert.True(t, r.OnResult(sid, func(ResultEvent) {}))
}

func TestCallbackArmedBeforeCommandLeavesRelay(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{PendingTTL: time.Hour})

	// Agent answers the instant the command arrives, faster than any
	// registration the caller could make after submitting.
	go func() {
		payload, err := agentEnd.Recv(context.Background(), time.Second)
		if err != nil {
			return
		}
		cmd, err := protocol.DecodeCommand(payload)
		if err != nil {
			return
		}
		res, err := protocol.EncodeResult(protocol.NewTradeResult(cmd.SignalID, protocol.StatusSuccess, 31, 1.0900, "instant fill"))
		if err != nil {
			return
		}
		_ = agentEnd.Send(context.Background(), res)
	}()

	got := make(chan ResultEvent, 1)
	sid, err := r.SubmitSignalWithResult("EURUSD", protocol.ActionBuy, 0.01, 0, 0, "",
		func(ev ResultEvent) { got <- ev })
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, sid, ev.SignalID)
		assert.Equal(t, OutcomeSuccess, ev.Outcome)
		assert.Equal(t, int64(31), ev.Ticket)
	case <-time.After(time.Second):
		t.Fatal("resolution never reached the callback")
	}
	assert.Equal(t, 0, r.PendingCount())
}

func TestPongRefreshesLiveness(t *testing.T) {
	t.Parallel()

	r, agentEnd := newTestRelay(t, Options{
		PollTimeout:    10 * time.Millisecond,
		LivenessWindow: 150 * time.Millisecond,
	})

	injectResult(t, agentEnd, protocol.NewHeartbeat(1000, 1000, 0))
	require.Eventually(t, r.Connected, time.Second, 5*time.Millisecond)

	// Keep the link alive with pongs only.
	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		injectResult(t, agentEnd, protocol.NewPong())
		time.Sleep(40 * time.Millisecond)
		assert.True(t, r.Connected())
	}
}

package relay

import (
	"context"
	"errors"
	"time"

	"github.com/HydraXdev/HydraX-v2-sub002/protocol"
	"github.com/HydraXdev/HydraX-v2-sub002/transport"
)

// maxRecvFailures is how many consecutive receive errors the listener
// tolerates before it declares the agent unreachable.
const maxRecvFailures = 5

// listen is the single reader of the inbound channel. It polls with a
// bounded timeout so the stop flag is observed promptly, dispatches each
// message by type, and runs housekeeping (TTL reaper, liveness check) once
// per poll cycle. A bad message is counted and dropped; nothing in this
// loop panics or blocks subsequent messages.
//
// A transport error that is neither a timeout nor a close is retried at
// the poll cadence, never hot-looped: the loop sleeps one poll grain after
// each failure, and after maxRecvFailures in a row the agent is marked
// disconnected until a message gets through again.
func (r *Relay) listen() {
	defer close(r.done)

	recvFailures := 0
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		payload, err := r.tr.Recv(context.Background(), r.opts.PollTimeout)
		now := time.Now()

		switch {
		case err == nil:
			recvFailures = 0
			r.handleMessage(payload, now)
		case errors.Is(err, transport.ErrTimeout):
			// Quiet cycle; housekeeping below still runs.
			recvFailures = 0
		case errors.Is(err, transport.ErrClosed):
			r.log.Warn("inbound channel closed, listener exiting")
			r.markDisconnected(now, "transport closed")
			return
		default:
			recvFailures++
			r.log.Warn("inbound receive failed",
				"err", err,
				"consecutive", recvFailures)
			if recvFailures >= maxRecvFailures {
				r.markDisconnected(now, "inbound channel failing")
			}
			select {
			case <-r.stop:
				return
			case <-time.After(r.opts.PollTimeout):
			}
		}

		r.housekeep(now)
	}
}

func (r *Relay) handleMessage(payload []byte, now time.Time) {
	res, err := protocol.DecodeResult(payload)
	if err != nil {
		r.metrics.parseFailures.Add(1)
		r.log.Warn("dropping unparseable result", "err", err)
		return
	}

	switch res.Type {
	case protocol.TypeHeartbeat:
		r.handleHeartbeat(res, now)
	case protocol.TypeTradeResult:
		r.resolve(res, now)
	case protocol.TypeStatus:
		r.handleStatus(res, now)
	case protocol.TypeError:
		r.handleError(res, now)
	case protocol.TypePong:
		r.touch(now)
		r.log.Debug("pong received")
	}
}

func (r *Relay) handleHeartbeat(res protocol.Result, now time.Time) {
	r.metrics.heartbeats.Add(1)

	r.telMu.Lock()
	r.tel = Telemetry{
		Balance:       res.Balance,
		Equity:        res.Equity,
		Positions:     res.Positions,
		LastHeartbeat: now,
	}
	r.lastSeen = now
	wasConnected := r.connected
	r.connected = true
	r.telMu.Unlock()

	if !wasConnected {
		r.log.Info("agent connected",
			"balance", res.Balance,
			"equity", res.Equity,
			"positions", res.Positions)
	}
}

func (r *Relay) handleStatus(res protocol.Result, now time.Time) {
	r.telMu.Lock()
	r.lastStatus = res
	r.hasStatus = true
	r.telMu.Unlock()

	switch res.State {
	case protocol.StateStartup:
		r.telMu.Lock()
		r.lastSeen = now
		wasConnected := r.connected
		r.connected = true
		r.telMu.Unlock()
		if !wasConnected {
			r.log.Info("agent startup", "message", res.Message)
		}
	case protocol.StateShutdown:
		r.markDisconnected(now, "agent shutdown")
	case protocol.StateReconnected:
		// Self-loop: only the last-seen timestamp resets.
		r.touch(now)
		r.log.Info("agent reconnected", "message", res.Message)
	default:
		r.log.Info("agent status", "state", res.State, "message", res.Message)
	}

	r.fireAgentEvent(res)
}

// handleError logs agent errors. An error carrying a signal id resolves
// the corresponding pending entry as failed; bare errors are observational.
func (r *Relay) handleError(res protocol.Result, now time.Time) {
	r.log.Warn("agent error", "signal_id", res.SignalID, "error", res.Error)

	if res.SignalID != "" {
		failed := res
		failed.Status = protocol.StatusFailure
		if failed.Message == "" {
			failed.Message = res.Error
		}
		r.resolve(failed, now)
	}
	r.fireAgentEvent(res)
}

// resolve matches a trade_result (or signal-scoped error) against the
// pending registry and delivers the outcome.
func (r *Relay) resolve(res protocol.Result, now time.Time) {
	entry, ok := r.pending.take(res.SignalID)
	if !ok {
		// Duplicate, late, or never ours. No state changes.
		r.metrics.orphanedResults.Add(1)
		r.log.Warn("orphaned result",
			"signal_id", res.SignalID,
			"status", res.Status)
		return
	}

	outcome := OutcomeFailure
	if res.Status == protocol.StatusSuccess {
		outcome = OutcomeSuccess
		r.metrics.resolved.Add(1)
	} else {
		r.metrics.failed.Add(1)
	}

	ev := ResultEvent{
		SignalID:    res.SignalID,
		Outcome:     outcome,
		Ticket:      res.Ticket,
		Price:       res.Price,
		Message:     res.Message,
		Command:     entry.Command,
		SubmittedAt: entry.SubmittedAt,
		ResolvedAt:  now,
	}

	r.log.Info("trade resolved",
		"signal_id", res.SignalID,
		"outcome", outcome,
		"ticket", res.Ticket,
		"price", res.Price,
		"latency", now.Sub(entry.SubmittedAt))

	r.deliver(ev)
}

// housekeep runs once per poll cycle: reap pending entries past their TTL
// and check agent liveness.
func (r *Relay) housekeep(now time.Time) {
	for _, exp := range r.pending.expire(now.Add(-r.opts.PendingTTL)) {
		r.metrics.unknownOutcomes.Add(1)
		r.log.Warn("pending trade expired with unknown outcome",
			"signal_id", exp.SignalID,
			"age", now.Sub(exp.SubmittedAt))

		// Unknown, not failure: the agent may have executed the trade and
		// only the result message was lost.
		r.deliver(ResultEvent{
			SignalID:    exp.SignalID,
			Outcome:     OutcomeUnknown,
			Message:     "no result within TTL",
			Command:     exp.Command,
			SubmittedAt: exp.SubmittedAt,
			ResolvedAt:  now,
		})
	}

	r.telMu.Lock()
	silent := r.connected && now.Sub(r.lastSeen) > r.opts.LivenessWindow
	r.telMu.Unlock()
	if silent {
		r.markDisconnected(now, "missed heartbeats")
	}
}

func (r *Relay) deliver(ev ResultEvent) {
	r.cbMu.Lock()
	cb := r.callbacks[ev.SignalID]
	delete(r.callbacks, ev.SignalID)
	observers := make([]func(ResultEvent), len(r.observers))
	copy(observers, r.observers)
	r.cbMu.Unlock()

	if cb != nil {
		cb(ev)
	}
	for _, fn := range observers {
		fn(ev)
	}
}

func (r *Relay) fireAgentEvent(res protocol.Result) {
	r.cbMu.Lock()
	fns := make([]func(protocol.Result), len(r.agentEvents))
	copy(fns, r.agentEvents)
	r.cbMu.Unlock()

	for _, fn := range fns {
		fn(res)
	}
}

func (r *Relay) touch(now time.Time) {
	r.telMu.Lock()
	r.lastSeen = now
	r.telMu.Unlock()
}

func (r *Relay) markDisconnected(now time.Time, reason string) {
	r.telMu.Lock()
	wasConnected := r.connected
	r.connected = false
	r.lastSeen = now
	r.telMu.Unlock()

	if wasConnected {
		r.log.Warn("agent disconnected", "reason", reason)
	}
}

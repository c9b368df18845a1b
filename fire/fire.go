// Package fire is the integration surface the rest of the application
// touches: it translates domain-level trade intents into protocol signals
// and delegates to the relay. Success from any method here means
// "enqueued", never "filled" — remote outcomes always arrive later through
// the relay's callback path.
package fire

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HydraXdev/HydraX-v2-sub002/pkg/id"
	"github.com/HydraXdev/HydraX-v2-sub002/protocol"
	"github.com/HydraXdev/HydraX-v2-sub002/relay"
)

// Intent is a domain-level trade request. Side is case-insensitive
// ("BUY"/"buy"); StopLoss and TakeProfit are distances in the agent's
// units, zero meaning none.
type Intent struct {
	Symbol     string
	Side       string
	Lot        float64
	StopLoss   float64
	TakeProfit float64

	// SignalID overrides the generated id when the caller needs its own
	// idempotency key.
	SignalID string
}

// Result reports the local outcome of a submission.
type Result struct {
	Success  bool
	Message  string
	SignalID string
}

// Adapter wraps an explicitly constructed relay. It holds no state of its
// own, so one adapter can serve any number of caller goroutines.
type Adapter struct {
	relay *relay.Relay
	log   *slog.Logger
}

// NewAdapter builds the adapter around r. The caller owns the relay's
// Start/Stop lifecycle.
func NewAdapter(r *relay.Relay, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{relay: r, log: logger.With("component", "fire")}
}

// Relay exposes the underlying relay for lifecycle and telemetry access.
func (a *Adapter) Relay() *relay.Relay {
	return a.relay
}

// SubmitFire submits a trade for userID. When no signal id is supplied one
// is derived as FIRE_<user>_<unix-nanos>_<suffix>; the random suffix keeps
// ids unique even for submissions landing on the same timestamp.
func (a *Adapter) SubmitFire(userID string, in Intent) Result {
	return a.SubmitFireAndWatch(userID, in, nil)
}

// SubmitFireAndWatch submits like SubmitFire and arms fn as the one-shot
// resolution callback before the signal is written, so an agent replying
// immediately cannot slip past the registration. fn runs on the relay's
// listener goroutine.
func (a *Adapter) SubmitFireAndWatch(userID string, in Intent, fn func(relay.ResultEvent)) Result {
	action, err := sideToAction(in.Side)
	if err != nil {
		return Result{Success: false, Message: err.Error()}
	}

	signalID := in.SignalID
	if signalID == "" {
		signalID = fmt.Sprintf("FIRE_%s_%d_%s", userID, time.Now().UnixNano(), id.Suffix(4))
	}

	sid, err := a.relay.SubmitSignalWithResult(in.Symbol, action, in.Lot, in.StopLoss, in.TakeProfit, signalID, fn)
	if err != nil {
		a.log.Warn("fire rejected", "user_id", userID, "symbol", in.Symbol, "err", err)
		return Result{Success: false, Message: err.Error(), SignalID: signalID}
	}

	a.log.Info("fire enqueued",
		"user_id", userID,
		"signal_id", sid,
		"symbol", in.Symbol,
		"side", action,
		"lot", in.Lot)
	return Result{Success: true, Message: "fire command enqueued", SignalID: sid}
}

// ClosePositions closes a single symbol's positions when symbol is given,
// or everything via close_all when it is empty.
func (a *Adapter) ClosePositions(userID, symbol string) Result {
	action := protocol.ActionCloseAll
	if symbol != "" {
		action = protocol.ActionClose
	}

	signalID := fmt.Sprintf("CLOSE_%s_%d_%s", userID, time.Now().UnixNano(), id.Suffix(4))
	sid, err := a.relay.SubmitSignal(symbol, action, 0, 0, 0, signalID)
	if err != nil {
		return Result{Success: false, Message: err.Error(), SignalID: signalID}
	}

	a.log.Info("close enqueued",
		"user_id", userID,
		"signal_id", sid,
		"symbol", symbol,
		"action", action)
	return Result{Success: true, Message: "close command enqueued", SignalID: sid}
}

// GetStatus asks the agent for its status. The reply carries no signal id
// and cannot be correlated to this specific call: the Message returned
// here is the most recent status reply the listener has seen, which may
// predate this request. Callers needing precise correlation must poll
// Relay().LastAgentStatus after the next inbound cycle.
func (a *Adapter) GetStatus() Result {
	if err := a.relay.SubmitCommand("status", nil); err != nil {
		return Result{Success: false, Message: err.Error()}
	}

	if st, ok := a.relay.LastAgentStatus(); ok {
		return Result{Success: true, Message: fmt.Sprintf("%s: %s", st.State, st.Message)}
	}
	return Result{Success: true, Message: "status requested, no reply seen yet"}
}

// OnResult registers a one-shot resolution callback for an already-pending
// signalID; it reports whether the callback was armed. The callback runs on
// the relay's listener goroutine.
func (a *Adapter) OnResult(signalID string, fn func(relay.ResultEvent)) bool {
	return a.relay.OnResult(signalID, fn)
}

func sideToAction(side string) (protocol.Action, error) {
	action := protocol.Action(strings.ToLower(strings.TrimSpace(side)))
	if !action.Valid() || !action.Opens() {
		return "", fmt.Errorf("invalid side %q (want buy or sell)", side)
	}
	return action, nil
}

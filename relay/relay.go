// Package relay implements the trade command relay: a fire-and-forget
// dispatcher for signal/command/config/ping messages toward a remote
// execution agent, a single-goroutine listener draining the agent's result
// channel, and the pending-trade registry correlating the two.
//
// No call here performs a synchronous round trip. Submitting returns as
// soon as the message is enqueued locally; every remote outcome arrives
// later through the listener and is delivered via callbacks, observers and
// the journal. There are no automatic retries anywhere: retry policy is an
// explicit caller decision, because a resubmitted signal without an
// idempotency key can execute twice at the agent.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HydraXdev/HydraX-v2-sub002/pkg/id"
	"github.com/HydraXdev/HydraX-v2-sub002/protocol"
	"github.com/HydraXdev/HydraX-v2-sub002/transport"
)

// State is the whole-relay lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrNotRunning     = errors.New("relay: not running")
	ErrAlreadyRunning = errors.New("relay: already running")
	ErrNoTransport    = errors.New("relay: no transport bound")
)

// Outcome classifies how a pending trade ended. Unknown is deliberately
// distinct from failure: the agent may have executed the trade and only
// the result message was lost, so callers must reconcile against the
// agent's trade history before assuming the trade never happened.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// ResultEvent is delivered to callbacks and observers when a pending trade
// resolves, fails, or expires.
type ResultEvent struct {
	SignalID    string
	Outcome     Outcome
	Ticket      int64
	Price       float64
	Message     string
	Command     protocol.Command
	SubmittedAt time.Time
	ResolvedAt  time.Time
}

// Telemetry is the last account state reported by the agent's heartbeats.
type Telemetry struct {
	Balance       float64
	Equity        float64
	Positions     int
	LastHeartbeat time.Time
}

// Options tune the relay's timing. Zero values take the defaults below.
type Options struct {
	// PollTimeout bounds each inbound receive so the shutdown flag is
	// observed between polls.
	PollTimeout time.Duration

	// SendTimeout bounds an outbound write under transport backpressure.
	SendTimeout time.Duration

	// PendingTTL is how long a signal may stay pending before it is
	// reaped as unknown outcome.
	PendingTTL time.Duration

	// LivenessWindow is how long the agent may stay silent before it is
	// considered disconnected.
	LivenessWindow time.Duration

	Logger *slog.Logger
}

const (
	defaultPollTimeout    = time.Second
	defaultSendTimeout    = 5 * time.Second
	defaultPendingTTL     = 60 * time.Second
	defaultLivenessWindow = 30 * time.Second
)

func (o *Options) fill() {
	if o.PollTimeout <= 0 {
		o.PollTimeout = defaultPollTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = defaultPendingTTL
	}
	if o.LivenessWindow <= 0 {
		o.LivenessWindow = defaultLivenessWindow
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Relay owns one transport and exactly one listener goroutine. Submit
// methods are safe for concurrent use from any number of caller
// goroutines; messages from a single caller reach the outbound channel in
// call order.
type Relay struct {
	opts Options
	tr   transport.Transport
	log  *slog.Logger

	state atomic.Int32

	// writeMu serializes outbound writes (FIFO per caller) and orders a
	// pending insert strictly before its own send.
	writeMu sync.Mutex
	pending *pendingRegistry
	metrics metrics

	cbMu        sync.Mutex
	callbacks   map[string]func(ResultEvent)
	observers   []func(ResultEvent)
	agentEvents []func(protocol.Result)

	telMu      sync.Mutex
	tel        Telemetry
	connected  bool
	lastSeen   time.Time
	lastStatus protocol.Result
	hasStatus  bool

	stop chan struct{}
	done chan struct{}
}

// New builds a relay over an already-dialed transport. The relay stays
// STOPPED until Start.
func New(tr transport.Transport, opts Options) *Relay {
	opts.fill()
	return &Relay{
		opts:      opts,
		tr:        tr,
		log:       opts.Logger.With("component", "relay"),
		pending:   newPendingRegistry(),
		callbacks: make(map[string]func(ResultEvent)),
	}
}

// Start moves the relay STOPPED -> STARTING -> RUNNING and spawns the
// listener goroutine. Calling Start on a relay that is not stopped fails
// loudly rather than double-binding the channels.
func (r *Relay) Start() error {
	if r.tr == nil {
		return ErrNoTransport
	}
	if !r.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("%w (state=%s)", ErrAlreadyRunning, r.State())
	}

	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	r.telMu.Lock()
	r.lastSeen = time.Now()
	r.telMu.Unlock()

	r.state.Store(int32(StateRunning))
	go r.listen()

	r.log.Info("relay started",
		"poll_timeout", r.opts.PollTimeout,
		"pending_ttl", r.opts.PendingTTL)
	return nil
}

// Stop sets the shutdown flag, waits for the current poll to return
// (bounded by the poll timeout) and joins the listener goroutine. Pending
// trades are left intact for inspection, not silently discarded.
func (r *Relay) Stop() error {
	if !r.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("%w (state=%s)", ErrNotRunning, r.State())
	}
	close(r.stop)
	<-r.done
	r.state.Store(int32(StateStopped))
	r.log.Info("relay stopped", "pending", r.pending.len())
	return nil
}

// State returns the relay's lifecycle state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

// SubmitSignal enqueues a trade signal and registers it as pending. When
// signalID is empty a ULID is generated, so ids are unique even under
// concurrent submission in the same timestamp. Returns the signal id used;
// success means enqueued, never filled.
func (r *Relay) SubmitSignal(symbol string, action protocol.Action, lot, sl, tp float64, signalID string) (string, error) {
	return r.SubmitSignalWithResult(symbol, action, lot, sl, tp, signalID, nil)
}

// SubmitSignalWithResult submits like SubmitSignal and additionally arms fn
// as the signal's one-shot result callback before the command is written.
// Registering through here instead of a later OnResult call closes the
// window where an agent replying faster than the caller would resolve the
// trade with no callback in place.
func (r *Relay) SubmitSignalWithResult(symbol string, action protocol.Action, lot, sl, tp float64, signalID string, fn func(ResultEvent)) (string, error) {
	if r.State() != StateRunning {
		return "", ErrNotRunning
	}
	if signalID == "" {
		signalID = id.New()
	}

	cmd := protocol.NewSignal(signalID, symbol, action, lot, sl, tp)
	payload, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return "", err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	// Register before the write so a result can never race ahead of its
	// own registration.
	if err := r.pending.insert(signalID, cmd, time.Now()); err != nil {
		return "", err
	}
	if fn != nil {
		r.cbMu.Lock()
		r.callbacks[signalID] = fn
		r.cbMu.Unlock()
	}

	if err := r.send(payload); err != nil {
		// A failed submission leaves no pending entry or callback behind.
		r.pending.take(signalID)
		r.cbMu.Lock()
		delete(r.callbacks, signalID)
		r.cbMu.Unlock()
		return "", fmt.Errorf("submit signal %s: %w", signalID, err)
	}

	r.log.Info("signal enqueued",
		"signal_id", signalID,
		"symbol", symbol,
		"action", action,
		"lot", lot)
	return signalID, nil
}

// SubmitCommand enqueues an administrative command (status, shutdown,
// reset...). Fire-and-forget; never touches the pending registry.
func (r *Relay) SubmitCommand(name string, params map[string]any) error {
	if r.State() != StateRunning {
		return ErrNotRunning
	}
	payload, err := protocol.EncodeCommand(protocol.NewCommand(name, params))
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.send(payload); err != nil {
		return fmt.Errorf("submit command %s: %w", name, err)
	}
	r.log.Debug("command enqueued", "command", name)
	return nil
}

// SubmitConfig enqueues a single agent parameter update.
func (r *Relay) SubmitConfig(param string, value any) error {
	if r.State() != StateRunning {
		return ErrNotRunning
	}
	payload, err := protocol.EncodeCommand(protocol.NewConfig(param, value))
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.send(payload); err != nil {
		return fmt.Errorf("submit config %s: %w", param, err)
	}
	r.log.Debug("config enqueued", "param", param)
	return nil
}

// Ping enqueues a ping. The pong arrives asynchronously and only refreshes
// the agent's liveness timestamp.
func (r *Relay) Ping() error {
	if r.State() != StateRunning {
		return ErrNotRunning
	}
	payload, err := protocol.EncodeCommand(protocol.NewPing())
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.send(payload); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// send writes one payload within the configured send timeout. Callers hold
// writeMu.
func (r *Relay) send(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.SendTimeout)
	defer cancel()
	return r.tr.Send(ctx, payload)
}

// OnResult registers a one-shot callback fired when signalID resolves
// (success, failure or unknown outcome). The callback runs on the listener
// goroutine and must not block; it is discarded after firing.
//
// Registration only takes while the signal is pending, so a callback can
// never be parked forever under an id that already resolved or was never
// submitted. The return value reports whether the callback was armed.
// Callers that need the callback in place before the command hits the wire
// use SubmitSignalWithResult instead.
func (r *Relay) OnResult(signalID string, fn func(ResultEvent)) bool {
	if fn == nil {
		return false
	}
	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	// Insert first, then check membership: the listener takes the pending
	// entry before it reads callbacks under cbMu, so every interleaving
	// either delivers the callback or rejects the registration.
	r.callbacks[signalID] = fn
	if !r.pending.contains(signalID) {
		delete(r.callbacks, signalID)
		return false
	}
	return true
}

// Observe registers fn for every resolved, failed or expired trade. Used
// to wire the journal and other sinks.
func (r *Relay) Observe(fn func(ResultEvent)) {
	if fn == nil {
		return
	}
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.observers = append(r.observers, fn)
}

// OnAgentEvent registers fn for status and error messages from the agent.
func (r *Relay) OnAgentEvent(fn func(protocol.Result)) {
	if fn == nil {
		return
	}
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.agentEvents = append(r.agentEvents, fn)
}

// Telemetry returns the last heartbeat account snapshot.
func (r *Relay) Telemetry() Telemetry {
	r.telMu.Lock()
	defer r.telMu.Unlock()
	return r.tel
}

// Connected reports whether the agent is currently considered alive.
func (r *Relay) Connected() bool {
	r.telMu.Lock()
	defer r.telMu.Unlock()
	return r.connected
}

// LastAgentStatus returns the most recent status message seen on the
// inbound channel. Status replies carry no signal id, so this is the
// documented most-recent-reply approximation, not a correlated answer.
func (r *Relay) LastAgentStatus() (protocol.Result, bool) {
	r.telMu.Lock()
	defer r.telMu.Unlock()
	return r.lastStatus, r.hasStatus
}

// PendingCount returns the number of outstanding signals.
func (r *Relay) PendingCount() int {
	return r.pending.len()
}

// PendingSignals returns the outstanding signal ids, sorted.
func (r *Relay) PendingSignals() []string {
	return r.pending.signalIDs()
}

// Metrics returns a snapshot of the relay counters.
func (r *Relay) Metrics() MetricsSnapshot {
	return r.metrics.snapshot()
}

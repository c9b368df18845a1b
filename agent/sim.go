// Package agent provides a simulated execution agent: it drains the
// relay's outbound channel, paper-executes signals, and emits results and
// heartbeats on the inbound channel. The real agent lives in the trading
// terminal; this one backs integration tests and the simagent command.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HydraXdev/HydraX-v2-sub002/protocol"
	"github.com/HydraXdev/HydraX-v2-sub002/transport"
)

// Options tune the simulated agent.
type Options struct {
	Balance        float64
	PollTimeout    time.Duration
	HeartbeatEvery time.Duration

	// Prices supplies the fill price per symbol; unknown symbols fill at 1.0.
	Prices map[string]float64

	// Reject maps symbols to a rejection message, turning their signals
	// into failure results.
	Reject map[string]string

	Logger *slog.Logger
}

type position struct {
	symbol string
	action protocol.Action
	lot    float64
	price  float64
}

// Sim is the paper agent. Run drives it until the context is cancelled.
type Sim struct {
	tr   transport.Transport
	opts Options
	log  *slog.Logger

	mu         sync.Mutex
	balance    float64
	nextTicket int64
	positions  map[int64]position
	params     map[string]any
}

// NewSim builds a simulated agent over the agent end of a transport pair.
func NewSim(tr transport.Transport, opts Options) *Sim {
	if opts.Balance <= 0 {
		opts.Balance = 10000
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 250 * time.Millisecond
	}
	if opts.HeartbeatEvery <= 0 {
		opts.HeartbeatEvery = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sim{
		tr:         tr,
		opts:       opts,
		log:        opts.Logger.With("component", "simagent"),
		balance:    opts.Balance,
		nextTicket: 100000,
		positions:  make(map[int64]position),
		params:     make(map[string]any),
	}
}

// Run announces startup, then consumes commands and emits heartbeats until
// ctx is done, announcing shutdown on the way out.
func (s *Sim) Run(ctx context.Context) error {
	s.emit(protocol.NewStatus(protocol.StateStartup, "sim agent online"))
	s.heartbeat()
	lastHeartbeat := time.Now()

	for {
		select {
		case <-ctx.Done():
			s.emit(protocol.NewStatus(protocol.StateShutdown, "sim agent stopping"))
			return nil
		default:
		}

		payload, err := s.tr.Recv(ctx, s.opts.PollTimeout)
		switch {
		case err == nil:
			s.handle(payload)
		case errors.Is(err, transport.ErrTimeout):
		case errors.Is(err, transport.ErrClosed):
			s.log.Info("command channel closed")
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.emit(protocol.NewStatus(protocol.StateShutdown, "sim agent stopping"))
			return nil
		default:
			s.log.Warn("receive failed", "err", err)
		}

		if time.Since(lastHeartbeat) >= s.opts.HeartbeatEvery {
			s.heartbeat()
			lastHeartbeat = time.Now()
		}
	}
}

func (s *Sim) handle(payload []byte) {
	cmd, err := protocol.DecodeCommand(payload)
	if err != nil {
		s.log.Warn("dropping unparseable command", "err", err)
		s.emit(protocol.NewError("", err.Error()))
		return
	}

	switch cmd.Type {
	case protocol.TypeSignal:
		s.execute(cmd)
	case protocol.TypePing:
		s.emit(protocol.NewPong())
	case protocol.TypeCommand:
		s.admin(cmd)
	case protocol.TypeConfig:
		s.mu.Lock()
		s.params[cmd.Param] = cmd.Value
		s.mu.Unlock()
		s.log.Info("param set", "param", cmd.Param, "value", cmd.Value)
	}
}

func (s *Sim) execute(cmd protocol.Command) {
	if msg, bad := s.opts.Reject[cmd.Symbol]; bad {
		s.emit(protocol.NewTradeResult(cmd.SignalID, protocol.StatusFailure, 0, 0, msg))
		return
	}

	switch cmd.Action {
	case protocol.ActionBuy, protocol.ActionSell:
		price := s.priceFor(cmd.Symbol)
		s.mu.Lock()
		s.nextTicket++
		ticket := s.nextTicket
		s.positions[ticket] = position{
			symbol: cmd.Symbol,
			action: cmd.Action,
			lot:    cmd.Lot,
			price:  price,
		}
		s.mu.Unlock()

		s.log.Info("position opened",
			"signal_id", cmd.SignalID,
			"ticket", ticket,
			"symbol", cmd.Symbol,
			"lot", cmd.Lot)
		s.emit(protocol.NewTradeResult(cmd.SignalID, protocol.StatusSuccess, ticket, price, "filled"))

	case protocol.ActionClose, protocol.ActionCloseAll:
		closed := s.closePositions(cmd.Symbol, cmd.Action == protocol.ActionCloseAll)
		s.emit(protocol.NewTradeResult(
			cmd.SignalID, protocol.StatusSuccess, 0, s.priceFor(cmd.Symbol),
			fmt.Sprintf("closed %d positions", closed)))
	}
}

func (s *Sim) admin(cmd protocol.Command) {
	switch cmd.Command {
	case "status":
		s.mu.Lock()
		open := len(s.positions)
		s.mu.Unlock()
		s.emit(protocol.NewStatus("running", fmt.Sprintf("%d positions open", open)))
	default:
		s.log.Info("command ignored", "command", cmd.Command)
	}
}

func (s *Sim) closePositions(symbol string, all bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	closed := 0
	for ticket, pos := range s.positions {
		if all || pos.symbol == symbol {
			delete(s.positions, ticket)
			closed++
		}
	}
	return closed
}

func (s *Sim) heartbeat() {
	s.mu.Lock()
	balance := s.balance
	open := len(s.positions)
	s.mu.Unlock()

	s.emit(protocol.NewHeartbeat(balance, balance, open))
}

func (s *Sim) priceFor(symbol string) float64 {
	if p, ok := s.opts.Prices[symbol]; ok {
		return p
	}
	return 1.0
}

// OpenPositions returns the number of currently open paper positions.
func (s *Sim) OpenPositions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.positions)
}

func (s *Sim) emit(res protocol.Result) {
	payload, err := protocol.EncodeResult(res)
	if err != nil {
		s.log.Warn("encode failed", "type", res.Type, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tr.Send(ctx, payload); err != nil {
		s.log.Warn("emit failed", "type", res.Type, "err", err)
	}
}

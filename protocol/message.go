// Package protocol defines the JSON wire format spoken between the relay
// and the remote execution agent. Every message carries a mandatory "type"
// discriminator; the field set per type is fixed.
package protocol

import (
	"fmt"
	"time"
)

// Command message types (relay -> agent).
const (
	TypeSignal  = "signal"
	TypeCommand = "command"
	TypeConfig  = "config"
	TypePing    = "ping"
)

// Result message types (agent -> relay).
const (
	TypeHeartbeat   = "heartbeat"
	TypeTradeResult = "trade_result"
	TypeStatus      = "status"
	TypeError       = "error"
	TypePong        = "pong"
)

// Action is the directive carried by a signal.
type Action string

const (
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
	ActionClose    Action = "close"
	ActionCloseAll Action = "close_all"
)

// Valid reports whether a is one of the four protocol actions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionClose, ActionCloseAll:
		return true
	}
	return false
}

// Opens reports whether the action opens a position (and therefore needs a
// positive lot size).
func (a Action) Opens() bool {
	return a == ActionBuy || a == ActionSell
}

// Agent lifecycle states carried by status results.
const (
	StateStartup     = "startup"
	StateShutdown    = "shutdown"
	StateReconnected = "reconnected"
)

// Trade result statuses reported by the agent.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Command is a relay -> agent message. Only the fields for its Type are
// populated; the rest stay at their zero value and are omitted on the wire.
type Command struct {
	Type string `json:"type"`

	// signal
	SignalID string  `json:"signal_id,omitempty"`
	Symbol   string  `json:"symbol,omitempty"`
	Action   Action  `json:"action,omitempty"`
	Lot      float64 `json:"lot,omitempty"`
	SL       float64 `json:"sl,omitempty"`
	TP       float64 `json:"tp,omitempty"`

	// command
	Command string         `json:"command,omitempty"`
	Params  map[string]any `json:"params,omitempty"`

	// config
	Param string `json:"param,omitempty"`
	Value any    `json:"value,omitempty"`

	Timestamp int64 `json:"timestamp"`
}

// NewSignal builds a signal command. Lot, sl and tp are distances in the
// agent's units; close/close_all signals carry lot 0.
func NewSignal(signalID, symbol string, action Action, lot, sl, tp float64) Command {
	return Command{
		Type:      TypeSignal,
		SignalID:  signalID,
		Symbol:    symbol,
		Action:    action,
		Lot:       lot,
		SL:        sl,
		TP:        tp,
		Timestamp: time.Now().Unix(),
	}
}

// NewCommand builds an administrative command (status, shutdown, reset...).
func NewCommand(name string, params map[string]any) Command {
	return Command{
		Type:      TypeCommand,
		Command:   name,
		Params:    params,
		Timestamp: time.Now().Unix(),
	}
}

// NewConfig builds a single parameter update.
func NewConfig(param string, value any) Command {
	return Command{
		Type:      TypeConfig,
		Param:     param,
		Value:     value,
		Timestamp: time.Now().Unix(),
	}
}

// NewPing builds a ping. The agent answers with a pong.
func NewPing() Command {
	return Command{Type: TypePing, Timestamp: time.Now().Unix()}
}

// Validate checks the per-type field requirements before a command is put
// on the wire.
func (c Command) Validate() error {
	switch c.Type {
	case TypeSignal:
		if c.SignalID == "" {
			return fmt.Errorf("signal: missing signal_id")
		}
		if !c.Action.Valid() {
			return fmt.Errorf("signal %s: invalid action %q", c.SignalID, c.Action)
		}
		if c.Action.Opens() && c.Lot <= 0 {
			return fmt.Errorf("signal %s: lot must be positive for %s", c.SignalID, c.Action)
		}
		if c.Action.Opens() && c.Symbol == "" {
			return fmt.Errorf("signal %s: missing symbol for %s", c.SignalID, c.Action)
		}
		return nil
	case TypeCommand:
		if c.Command == "" {
			return fmt.Errorf("command: missing command name")
		}
		return nil
	case TypeConfig:
		if c.Param == "" {
			return fmt.Errorf("config: missing param")
		}
		return nil
	case TypePing:
		return nil
	default:
		return fmt.Errorf("unknown command type %q", c.Type)
	}
}

// Result is an agent -> relay message. As with Command, only the fields for
// its Type are meaningful.
type Result struct {
	Type string `json:"type"`

	// heartbeat
	Balance   float64 `json:"balance,omitempty"`
	Equity    float64 `json:"equity,omitempty"`
	Positions int     `json:"positions,omitempty"`

	// trade_result (SignalID is also set on errors tied to a signal)
	SignalID string  `json:"signal_id,omitempty"`
	Status   string  `json:"status,omitempty"`
	Ticket   int64   `json:"ticket,omitempty"`
	Price    float64 `json:"price,omitempty"`

	// status
	State string `json:"state,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// NewHeartbeat builds the periodic account telemetry message.
func NewHeartbeat(balance, equity float64, positions int) Result {
	return Result{
		Type:      TypeHeartbeat,
		Balance:   balance,
		Equity:    equity,
		Positions: positions,
		Timestamp: time.Now().Unix(),
	}
}

// NewTradeResult builds the outcome message for a signal.
func NewTradeResult(signalID, status string, ticket int64, price float64, message string) Result {
	return Result{
		Type:      TypeTradeResult,
		SignalID:  signalID,
		Status:    status,
		Ticket:    ticket,
		Price:     price,
		Message:   message,
		Timestamp: time.Now().Unix(),
	}
}

// NewStatus builds a lifecycle status message.
func NewStatus(state, message string) Result {
	return Result{
		Type:      TypeStatus,
		State:     state,
		Message:   message,
		Timestamp: time.Now().Unix(),
	}
}

// NewError builds an error report. signalID may be empty when the error is
// not tied to a particular signal.
func NewError(signalID, text string) Result {
	return Result{
		Type:      TypeError,
		SignalID:  signalID,
		Error:     text,
		Timestamp: time.Now().Unix(),
	}
}

// NewPong acknowledges a ping.
func NewPong() Result {
	return Result{Type: TypePong, Timestamp: time.Now().Unix()}
}

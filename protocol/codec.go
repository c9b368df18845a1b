package protocol

import (
	"encoding/json"
	"fmt"
)

// EncodeCommand validates and serializes a command for the outbound channel.
func EncodeCommand(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Type, err)
	}
	return b, nil
}

// DecodeCommand parses a command from the wire. Used by agents (and the
// simulated agent) consuming the outbound channel.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("bad command json: %w (payload=%q)", err, trimForErr(data))
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// EncodeResult serializes a result for the inbound channel.
func EncodeResult(r Result) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.Type, err)
	}
	return b, nil
}

// DecodeResult parses a result message. Unknown or missing types are
// rejected here so the listener can count them as parse failures and drop
// them without inspecting the payload further.
func DecodeResult(data []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("bad result json: %w (payload=%q)", err, trimForErr(data))
	}
	switch r.Type {
	case TypeHeartbeat, TypeTradeResult, TypeStatus, TypeError, TypePong:
		return r, nil
	default:
		return Result{}, fmt.Errorf("unknown result type %q", r.Type)
	}
}

func trimForErr(b []byte) string {
	const n = 200
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Package journal persists relay outcomes: every resolved, failed or
// expired fire, plus periodic account telemetry from the agent heartbeats.
package journal

import "time"

// FireRecord is one submitted signal and how it ended.
type FireRecord struct {
	SignalID    string
	Symbol      string
	Action      string
	Lot         float64
	Outcome     string // success, failure, unknown
	Ticket      int64
	Price       float64
	Message     string
	SubmittedAt time.Time
	ResolvedAt  time.Time
}

// TelemetrySnapshot is one heartbeat's account state.
type TelemetrySnapshot struct {
	Time      time.Time
	Balance   float64
	Equity    float64
	Positions int
}

type Journal interface {
	RecordFire(FireRecord) error
	RecordTelemetry(TelemetrySnapshot) error
	Close() error
}

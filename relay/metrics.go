package relay

import "sync/atomic"

// metrics are the relay's observability counters. Parse failures and
// orphans are counted rather than raised so one bad inbound message never
// interrupts the listener.
type metrics struct {
	parseFailures   atomic.Uint64
	orphanedResults atomic.Uint64
	unknownOutcomes atomic.Uint64
	resolved        atomic.Uint64
	failed          atomic.Uint64
	heartbeats      atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the relay counters.
type MetricsSnapshot struct {
	ParseFailures   uint64
	OrphanedResults uint64
	UnknownOutcomes uint64
	Resolved        uint64
	Failed          uint64
	Heartbeats      uint64
}

func (m *metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ParseFailures:   m.parseFailures.Load(),
		OrphanedResults: m.orphanedResults.Load(),
		UnknownOutcomes: m.unknownOutcomes.Load(),
		Resolved:        m.resolved.Load(),
		Failed:          m.failed.Load(),
		Heartbeats:      m.heartbeats.Load(),
	}
}

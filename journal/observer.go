package journal

import (
	"log/slog"

	"github.com/HydraXdev/HydraX-v2-sub002/relay"
)

// Observer adapts a Journal into a relay result observer. Write failures
// are logged, never propagated: journaling must not disturb the listener.
func Observer(j Journal, logger *slog.Logger) func(relay.ResultEvent) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ev relay.ResultEvent) {
		rec := FireRecord{
			SignalID:    ev.SignalID,
			Symbol:      ev.Command.Symbol,
			Action:      string(ev.Command.Action),
			Lot:         ev.Command.Lot,
			Outcome:     string(ev.Outcome),
			Ticket:      ev.Ticket,
			Price:       ev.Price,
			Message:     ev.Message,
			SubmittedAt: ev.SubmittedAt,
			ResolvedAt:  ev.ResolvedAt,
		}
		if err := j.RecordFire(rec); err != nil {
			logger.Warn("journal write failed", "signal_id", ev.SignalID, "err", err)
		}
	}
}

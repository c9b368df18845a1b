package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordFire(r FireRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO fires
		(signal_id, symbol, action, lot, outcome, ticket, price, message, submitted_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SignalID, r.Symbol, r.Action, r.Lot, r.Outcome,
		r.Ticket, r.Price, r.Message, r.SubmittedAt, r.ResolvedAt,
	)
	return err
}

func (j *SQLite) RecordTelemetry(s TelemetrySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO telemetry (time, balance, equity, positions)
		VALUES (?, ?, ?, ?)`,
		s.Time, s.Balance, s.Equity, s.Positions,
	)
	return err
}

// ListFiresByOutcome returns recorded fires with the given outcome, most
// recent first. Used to reconcile unknown outcomes against the agent's own
// trade history.
func (j *SQLite) ListFiresByOutcome(outcome string) ([]FireRecord, error) {
	rows, err := j.db.Query(`
		SELECT signal_id, symbol, action, lot, outcome, ticket, price, message, submitted_at, resolved_at
		FROM fires WHERE outcome = ? ORDER BY resolved_at DESC`, outcome)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FireRecord
	for rows.Next() {
		var r FireRecord
		if err := rows.Scan(
			&r.SignalID, &r.Symbol, &r.Action, &r.Lot, &r.Outcome,
			&r.Ticket, &r.Price, &r.Message, &r.SubmittedAt, &r.ResolvedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

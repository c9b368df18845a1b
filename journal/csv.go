package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

type CSV struct {
	fires     *csv.Writer
	telemetry *csv.Writer
	ff, tf    *os.File
}

func NewCSV(firesPath, telemetryPath string) (*CSV, error) {
	ff, err := os.Create(firesPath)
	if err != nil {
		return nil, err
	}
	tf, err := os.Create(telemetryPath)
	if err != nil {
		_ = ff.Close()
		return nil, err
	}

	fw := csv.NewWriter(ff)
	tw := csv.NewWriter(tf)

	if err := fw.Write([]string{"signal_id", "symbol", "action", "lot", "outcome", "ticket", "price", "message", "submitted_at", "resolved_at"}); err != nil {
		return nil, err
	}
	if err := tw.Write([]string{"time", "balance", "equity", "positions"}); err != nil {
		return nil, err
	}

	fw.Flush()
	if err := fw.Error(); err != nil {
		return nil, err
	}
	tw.Flush()
	if err := tw.Error(); err != nil {
		return nil, err
	}

	return &CSV{fires: fw, telemetry: tw, ff: ff, tf: tf}, nil
}

func (j *CSV) RecordFire(r FireRecord) error {
	if err := j.fires.Write([]string{
		r.SignalID,
		r.Symbol,
		r.Action,
		f(r.Lot),
		r.Outcome,
		strconv.FormatInt(r.Ticket, 10),
		f(r.Price),
		r.Message,
		r.SubmittedAt.Format(time.RFC3339),
		r.ResolvedAt.Format(time.RFC3339),
	}); err != nil {
		return err
	}
	j.fires.Flush()
	return j.fires.Error()
}

func (j *CSV) RecordTelemetry(s TelemetrySnapshot) error {
	if err := j.telemetry.Write([]string{
		s.Time.Format(time.RFC3339),
		f(s.Balance),
		f(s.Equity),
		strconv.Itoa(s.Positions),
	}); err != nil {
		return err
	}
	j.telemetry.Flush()
	return j.telemetry.Error()
}

func (j *CSV) Close() error {
	j.fires.Flush()
	if err := j.fires.Error(); err != nil {
		return err
	}
	j.telemetry.Flush()
	if err := j.telemetry.Error(); err != nil {
		return err
	}

	if err := j.ff.Close(); err != nil {
		return err
	}
	return j.tf.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/HydraXdev/HydraX-v2-sub002/config"
	"github.com/HydraXdev/HydraX-v2-sub002/journal"
	"github.com/HydraXdev/HydraX-v2-sub002/relay"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay daemon",
	Long: `Run the relay: bind the transport, start the result listener, and
keep draining agent results until interrupted.

Example:
  firerelay run -f relay.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	tr, err := dialTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bind transport: %w", err)
	}
	defer tr.Close()

	opts, err := relayOptions(cfg)
	if err != nil {
		return err
	}

	r := relay.New(tr, opts)

	j, err := openJournal(cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if j != nil {
		defer j.Close()
		r.Observe(journal.Observer(j, slog.Default()))
	}

	if err := r.Start(); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	slog.Info("relay running",
		"transport", cfg.Transport.Type,
		"journal", cfg.Journal.Type)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Journal telemetry at a coarse grain while waiting.
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	var lastJournaled time.Time
	for {
		select {
		case sig := <-sigCh:
			slog.Info("shutting down", "signal", sig.String())
			if err := r.Stop(); err != nil {
				return err
			}
			m := r.Metrics()
			slog.Info("final counters",
				"resolved", m.Resolved,
				"failed", m.Failed,
				"unknown", m.UnknownOutcomes,
				"orphans", m.OrphanedResults,
				"parse_failures", m.ParseFailures,
				"still_pending", r.PendingCount())
			return nil

		case <-ticker.C:
			if j == nil {
				continue
			}
			tel := r.Telemetry()
			if tel.LastHeartbeat.IsZero() || !tel.LastHeartbeat.After(lastJournaled) {
				continue
			}
			lastJournaled = tel.LastHeartbeat
			if err := j.RecordTelemetry(journal.TelemetrySnapshot{
				Time:      tel.LastHeartbeat,
				Balance:   tel.Balance,
				Equity:    tel.Equity,
				Positions: tel.Positions,
			}); err != nil {
				slog.Warn("telemetry journal write failed", "err", err)
			}
		}
	}
}

func openJournal(cfg *config.Config) (journal.Journal, error) {
	switch cfg.Journal.Type {
	case "", "none":
		return nil, nil
	case "csv":
		return journal.NewCSV(cfg.Journal.FiresFile, cfg.Journal.TelemetryFile)
	case "sqlite":
		return journal.NewSQLite(cfg.Journal.DBPath)
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Journal.Type)
	}
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/HydraXdev/HydraX-v2-sub002/fire"
	"github.com/HydraXdev/HydraX-v2-sub002/relay"
)

var fireCmd = &cobra.Command{
	Use:   "fire",
	Short: "Submit one trade signal",
	Long: `Submit a single trade signal over the configured transport.

By default the command returns as soon as the signal is enqueued; with
--wait it keeps the listener alive until the result arrives (or the wait
expires, in which case the outcome is unknown, not failed).

Example:
  firerelay fire --user u1 --symbol EURUSD --side buy --lot 0.01 --sl 50 --tp 100 --wait 10s`,
	RunE: runFire,
}

var (
	fireUser   string
	fireSymbol string
	fireSide   string
	fireLot    float64
	fireSL     float64
	fireTP     float64
	fireID     string
	fireWait   time.Duration
)

func init() {
	rootCmd.AddCommand(fireCmd)

	fireCmd.Flags().StringVar(&fireUser, "user", "", "user id (required)")
	fireCmd.Flags().StringVar(&fireSymbol, "symbol", "", "symbol, e.g. EURUSD (required)")
	fireCmd.Flags().StringVar(&fireSide, "side", "", "buy or sell (required)")
	fireCmd.Flags().Float64Var(&fireLot, "lot", 0, "lot size (required)")
	fireCmd.Flags().Float64Var(&fireSL, "sl", 0, "stop loss distance")
	fireCmd.Flags().Float64Var(&fireTP, "tp", 0, "take profit distance")
	fireCmd.Flags().StringVar(&fireID, "signal-id", "", "explicit signal id (idempotency key)")
	fireCmd.Flags().DurationVar(&fireWait, "wait", 0, "wait this long for the trade result")
	fireCmd.MarkFlagRequired("user")
	fireCmd.MarkFlagRequired("symbol")
	fireCmd.MarkFlagRequired("side")
	fireCmd.MarkFlagRequired("lot")
}

func runFire(cmd *cobra.Command, args []string) error {
	adapter, cleanup, err := startAdapter()
	if err != nil {
		return err
	}
	defer cleanup()

	// The callback is armed as part of the submission itself: an agent
	// answering faster than this process can otherwise resolve the trade
	// before a separate registration lands.
	resultCh := make(chan relay.ResultEvent, 1)
	var onResult func(relay.ResultEvent)
	if fireWait > 0 {
		onResult = func(ev relay.ResultEvent) { resultCh <- ev }
	}

	res := adapter.SubmitFireAndWatch(fireUser, fire.Intent{
		Symbol:     fireSymbol,
		Side:       fireSide,
		Lot:        fireLot,
		StopLoss:   fireSL,
		TakeProfit: fireTP,
		SignalID:   fireID,
	}, onResult)
	if !res.Success {
		return fmt.Errorf("fire rejected: %s", res.Message)
	}

	fmt.Printf("enqueued signal %s\n", res.SignalID)
	if fireWait <= 0 {
		return nil
	}

	select {
	case ev := <-resultCh:
		fmt.Printf("outcome=%s ticket=%d price=%.5f message=%q latency=%s\n",
			ev.Outcome, ev.Ticket, ev.Price, ev.Message, ev.ResolvedAt.Sub(ev.SubmittedAt))
		return nil
	case <-time.After(fireWait):
		fmt.Printf("no result within %s: outcome unknown (the agent may still have executed it)\n", fireWait)
		return nil
	}
}

// startAdapter binds the transport and starts a relay for a one-shot
// command, returning a cleanup that stops everything.
func startAdapter() (*fire.Adapter, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	tr, err := dialTransport(context.Background(), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("bind transport: %w", err)
	}

	opts, err := relayOptions(cfg)
	if err != nil {
		tr.Close()
		return nil, nil, err
	}

	r := relay.New(tr, opts)
	if err := r.Start(); err != nil {
		tr.Close()
		return nil, nil, fmt.Errorf("start relay: %w", err)
	}

	cleanup := func() {
		if err := r.Stop(); err != nil {
			slog.Warn("relay stop failed", "err", err)
		}
		_ = tr.Close()
	}
	return fire.NewAdapter(r, slog.Default()), cleanup, nil
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/HydraXdev/HydraX-v2-sub002/agent"
	"github.com/HydraXdev/HydraX-v2-sub002/config"
	"github.com/HydraXdev/HydraX-v2-sub002/transport"
)

var simagentCmd = &cobra.Command{
	Use:   "simagent",
	Short: "Run a simulated execution agent",
	Long: `Run the paper-trading agent against the configured Redis queues:
it consumes fire commands, opens and closes simulated positions, and emits
trade results and heartbeats.

Only the redis transport is supported; the websocket transport dials the
real agent's endpoint, which simagent cannot impersonate.

Example:
  firerelay simagent -f relay.yaml`,
	RunE: runSimagent,
}

func init() {
	rootCmd.AddCommand(simagentCmd)
}

func runSimagent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Transport.Type != "redis" {
		return fmt.Errorf("simagent requires the redis transport, config has %q", cfg.Transport.Type)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The agent end of the link: queues swapped relative to the relay.
	tr, err := transport.NewRedisQueue(ctx, cfg.Transport.RedisURL, transport.RedisQueueOptions{
		SendKey: cfg.Transport.ResultQueue,
		RecvKey: cfg.Transport.FireQueue,
	})
	if err != nil {
		return fmt.Errorf("bind transport: %w", err)
	}
	defer tr.Close()

	heartbeatEvery, err := config.ParseDuration(cfg.Agent.HeartbeatEvery, 0)
	if err != nil {
		return fmt.Errorf("agent.heartbeat_every: %w", err)
	}

	sim := agent.NewSim(tr, agent.Options{
		Balance:        cfg.Agent.Balance,
		HeartbeatEvery: heartbeatEvery,
		Logger:         slog.Default(),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("simagent shutting down", "signal", sig.String())
		cancel()
	}()

	slog.Info("simagent running",
		"redis", cfg.Transport.RedisURL,
		"fire_queue", cfg.Transport.FireQueue,
		"result_queue", cfg.Transport.ResultQueue)
	return sim.Run(ctx)
}

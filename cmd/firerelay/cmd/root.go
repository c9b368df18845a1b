package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/HydraXdev/HydraX-v2-sub002/config"
	"github.com/HydraXdev/HydraX-v2-sub002/relay"
	"github.com/HydraXdev/HydraX-v2-sub002/transport"
)

var rootCmd = &cobra.Command{
	Use:   "firerelay",
	Short: "Bridge between trade decisions and a remote execution agent",
	Long: `firerelay connects a decision-making service to a remote trade
execution agent over a pair of one-way message channels.

It provides:
  - A long-running relay daemon (run) draining the agent's result channel
  - One-shot fire, close and status commands over the same transport
  - A simulated execution agent (simagent) for local development
  - SQLite/CSV journaling of every resolved, failed or expired fire`,
}

var (
	cfgPath string
	verbose bool
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "f", "", "path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func initEnv() {
	// A missing .env file is fine; explicit env always wins.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads the --config file, or falls back to defaults plus env
// overrides when no file is given.
func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromFile(cfgPath)
	}
	cfg := config.Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// dialTransport binds the relay end of the configured channel pair.
func dialTransport(ctx context.Context, cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport.Type {
	case "redis":
		return transport.NewRedisQueue(ctx, cfg.Transport.RedisURL, transport.RedisQueueOptions{
			SendKey: cfg.Transport.FireQueue,
			RecvKey: cfg.Transport.ResultQueue,
		})
	case "websocket":
		return transport.DialWS(ctx, cfg.Transport.WSURL)
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}
}

// relayOptions maps the config timings onto relay options.
func relayOptions(cfg *config.Config) (relay.Options, error) {
	var opts relay.Options
	var err error

	if opts.PollTimeout, err = config.ParseDuration(cfg.Relay.PollTimeout, 0); err != nil {
		return opts, err
	}
	if opts.SendTimeout, err = config.ParseDuration(cfg.Relay.SendTimeout, 0); err != nil {
		return opts, err
	}
	if opts.PendingTTL, err = config.ParseDuration(cfg.Relay.PendingTTL, 0); err != nil {
		return opts, err
	}
	if opts.LivenessWindow, err = config.ParseDuration(cfg.Relay.LivenessWindow, 0); err != nil {
		return opts, err
	}
	opts.Logger = slog.Default()
	return opts, nil
}

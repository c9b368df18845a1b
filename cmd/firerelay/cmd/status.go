package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Ask the agent for its status",
	Long: `Send a status command and print the most recent status reply.

Status replies carry no signal id, so the answer cannot be tied to this
exact request; what is printed is the latest reply seen on the inbound
channel within the wait window.`,
	RunE: runStatus,
}

var statusWait time.Duration

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().DurationVar(&statusWait, "wait", 3*time.Second, "how long to wait for a reply")
}

func runStatus(cmd *cobra.Command, args []string) error {
	adapter, cleanup, err := startAdapter()
	if err != nil {
		return err
	}
	defer cleanup()

	res := adapter.GetStatus()
	if !res.Success {
		return fmt.Errorf("status request failed: %s", res.Message)
	}

	deadline := time.Now().Add(statusWait)
	for time.Now().Before(deadline) {
		if st, ok := adapter.Relay().LastAgentStatus(); ok {
			fmt.Printf("agent %s: %s\n", st.State, st.Message)
			tel := adapter.Relay().Telemetry()
			if !tel.LastHeartbeat.IsZero() {
				fmt.Printf("balance=%.2f equity=%.2f positions=%d (heartbeat %s ago)\n",
					tel.Balance, tel.Equity, tel.Positions, time.Since(tel.LastHeartbeat).Round(time.Second))
			}
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Println("no status reply within the wait window")
	return nil
}

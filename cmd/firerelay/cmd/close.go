package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close open positions",
	Long: `Close positions at the agent: a single symbol's positions when
--symbol is given, everything otherwise.

Example:
  firerelay close --user u1 --symbol EURUSD`,
	RunE: runClose,
}

var (
	closeUser   string
	closeSymbol string
)

func init() {
	rootCmd.AddCommand(closeCmd)

	closeCmd.Flags().StringVar(&closeUser, "user", "", "user id (required)")
	closeCmd.Flags().StringVar(&closeSymbol, "symbol", "", "symbol to close (empty closes all)")
	closeCmd.MarkFlagRequired("user")
}

func runClose(cmd *cobra.Command, args []string) error {
	adapter, cleanup, err := startAdapter()
	if err != nil {
		return err
	}
	defer cleanup()

	res := adapter.ClosePositions(closeUser, closeSymbol)
	if !res.Success {
		return fmt.Errorf("close rejected: %s", res.Message)
	}

	fmt.Printf("enqueued %s\n", res.SignalID)
	return nil
}

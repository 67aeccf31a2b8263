package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "straddle",
	Short: "Straddle/VWAP index options automation",
	Long: `Straddle trades NIFTY and SENSEX weekly options from the synthetic ATM
straddle and its session VWAP.

It provides:
  - A live runner driven by dashboard inputs in Redis or a config file
  - Directional debit spreads and BATMAN short strangles
  - Order slicing with limit to market fallback
  - Session MTM targets, loss limits and trailing exits
  - A journal of fills, actions and MTM snapshots`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/rustyeddy/straddle/config"
	"github.com/rustyeddy/straddle/journal"
	"github.com/rustyeddy/straddle/ledger"
	"github.com/rustyeddy/straddle/replay"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded day of minute bars",
	Long: `Replay recorded minute bars through the strategy with paper fills.

The bar file is CSV with rows of time,key,close,volume where key is the
index key (e.g. 256265) or an option key (e.g. NFO:NIFTY25OCT24500CE).

Examples:
  straddle replay --bars data/nifty-2025-10-20.csv --expiry 25OCT
  straddle replay -f nifty.yaml --bars data/nifty-2025-10-20.csv -d replay.sqlite`,
	RunE: runReplay,
}

var (
	replayConfigPath string
	replayBarsPath   string
	replayIndex      string
	replayExpiry     string
	replayDBPath     string
	replayCloseEnd   bool
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVarP(&replayConfigPath, "config", "f", "", "config file with the strategy section")
	replayCmd.Flags().StringVarP(&replayBarsPath, "bars", "b", "", "CSV file of minute bars (required)")
	replayCmd.Flags().StringVar(&replayIndex, "index", "NIFTY", "underlying when no config file is given")
	replayCmd.Flags().StringVar(&replayExpiry, "expiry", "", "option expiry, overrides the config file")
	replayCmd.Flags().StringVarP(&replayDBPath, "db", "d", "", "SQLite journal path (default none)")
	replayCmd.Flags().BoolVar(&replayCloseEnd, "close-end", true, "exit open positions after the last bar")
	replayCmd.MarkFlagRequired("bars")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s := config.DefaultStrategy()
	s.Index = replayIndex
	exec := config.Default().Execution
	if replayConfigPath != "" {
		cfg, err := config.LoadFromFile(replayConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		s = cfg.FileStrategy()
		exec = cfg.Execution
	}
	if replayExpiry != "" {
		s.Expiry = replayExpiry
	}
	if s.Expiry == "" {
		return fmt.Errorf("expiry required (--expiry or config expiry)")
	}

	bars, err := replay.LoadFile(replayBarsPath)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}

	var j journal.Journal = journal.Nop{}
	if replayDBPath != "" {
		sq, err := journal.NewSQLite(replayDBPath)
		if err != nil {
			return fmt.Errorf("create journal: %w", err)
		}
		defer sq.Close()
		j = sq
	}

	fmt.Printf("Replaying %d bars from: %s (%s %s)\n", len(bars), replayBarsPath, s.Index, s.Expiry)
	res, err := replay.Run(ctx, bars, replay.Options{
		Strategy:   s,
		Execution:  exec,
		Journal:    j,
		CloseAtEnd: replayCloseEnd,
	})
	if err != nil {
		return fmt.Errorf("replay error: %w", err)
	}

	fmt.Printf("\nResults:\n")
	fmt.Printf("  Minutes: %d\n", res.Minutes)
	if res.VWAPValid {
		fmt.Printf("  Straddle VWAP: %.2f\n", res.VWAP)
	}
	fmt.Printf("  Orders: %d\n", res.Orders)
	if res.Trigger != "" {
		fmt.Printf("  Risk exit: %s (MTM %.2f)\n", res.Trigger, res.MTM)
	}
	fmt.Printf("  Final state: %s\n", res.FinalState)
	fmt.Printf("  Day realized P/L: %.2f\n", res.DayRealized)

	buckets := make([]string, 0, len(res.Open))
	for b := range res.Open {
		buckets = append(buckets, string(b))
	}
	sort.Strings(buckets)
	for _, b := range buckets {
		for _, p := range res.Open[ledger.Bucket(b)] {
			fmt.Printf("  Open %s: %s %d @ %.2f\n", b, p.Symbol, p.Qty, p.AvgPrice)
		}
	}
	return nil
}

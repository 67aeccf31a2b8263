package cmd

import (
	"fmt"
	"time"

	"github.com/rustyeddy/straddle/journal"
	"github.com/rustyeddy/straddle/market"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the fills, actions and MTM journal",
	Long: `Query and display journal records from the SQLite or Postgres journal.

Subcommands:
  fill     - Get details of a specific fill by ID
  fills    - List fills booked on a day
  actions  - List strategy actions taken on a day
  mtm      - List MTM snapshots of a day

Days are exchange (IST) days and default to today.

Examples:
  straddle journal fill <fill-id>
  straddle journal fills --day 2025-10-20 --org
  straddle journal actions --dsn postgres://localhost/straddle`,
}

var journalFillCmd = &cobra.Command{
	Use:   "fill <fill-id>",
	Short: "Get details of a specific fill",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalFill,
}

var journalFillsCmd = &cobra.Command{
	Use:   "fills",
	Short: "List fills booked on a day",
	Args:  cobra.NoArgs,
	RunE:  runJournalFills,
}

var journalActionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List strategy actions taken on a day",
	Args:  cobra.NoArgs,
	RunE:  runJournalActions,
}

var journalMTMCmd = &cobra.Command{
	Use:   "mtm",
	Short: "List MTM snapshots of a day",
	Args:  cobra.NoArgs,
	RunE:  runJournalMTM,
}

var (
	journalDBPath string
	journalDSN    string
	journalDay    string
	journalOrg    bool
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalFillCmd)
	journalCmd.AddCommand(journalFillsCmd)
	journalCmd.AddCommand(journalActionsCmd)
	journalCmd.AddCommand(journalMTMCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./straddle.sqlite", "path to SQLite journal DB")
	journalCmd.PersistentFlags().StringVar(&journalDSN, "dsn", "", "Postgres DSN, overrides --db")
	journalCmd.PersistentFlags().StringVar(&journalDay, "day", "", "day to list, YYYY-MM-DD (default today)")
	journalFillsCmd.Flags().BoolVar(&journalOrg, "org", false, "print fills as Org-mode entries")
}

type journalReader interface {
	journal.Reader
	Close() error
}

func openReader() (journalReader, error) {
	if journalDSN != "" {
		j, err := journal.NewPostgres(journalDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return j, nil
	}
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalFill(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	rec, err := j.GetFill(args[0])
	if err != nil {
		return fmt.Errorf("get fill: %w", err)
	}

	fmt.Println(journal.FormatFillOrg(rec))
	return nil
}

func runJournalFills(cmd *cobra.Command, args []string) error {
	j, err := openReader()
	if err != nil {
		return err
	}
	defer j.Close()

	start, end, err := dayBounds(journalDay)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	recs, err := j.ListFillsBetween(start, end)
	if err != nil {
		return fmt.Errorf("query fills: %w", err)
	}

	if journalOrg {
		fmt.Println(journal.FormatFillsOrg(recs))
		return nil
	}
	for _, r := range recs {
		fb := ""
		if r.Fallback {
			fb = " (market)"
		}
		fmt.Printf("%s  %-12s %-4s %5d %-22s @ %8.2f%s\n",
			r.Time.In(market.IST).Format("15:04:05"), r.Bucket, r.Side, r.Qty, r.Symbol, r.Price, fb)
	}
	fmt.Printf("%d fills\n", len(recs))
	return nil
}

func runJournalActions(cmd *cobra.Command, args []string) error {
	j, err := openReader()
	if err != nil {
		return err
	}
	defer j.Close()

	start, end, err := dayBounds(journalDay)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	recs, err := j.ListActionsBetween(start, end)
	if err != nil {
		return fmt.Errorf("query actions: %w", err)
	}

	for _, a := range recs {
		fmt.Printf("%s  %-20s %s\n", a.Time.In(market.IST).Format("15:04:05"), a.Action, a.Details)
	}
	fmt.Printf("%d actions\n", len(recs))
	return nil
}

func runJournalMTM(cmd *cobra.Command, args []string) error {
	j, err := openReader()
	if err != nil {
		return err
	}
	defer j.Close()

	start, end, err := dayBounds(journalDay)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	recs, err := j.ListMTMBetween(start, end)
	if err != nil {
		return fmt.Errorf("query mtm: %w", err)
	}

	for _, m := range recs {
		fmt.Printf("%s  mtm %10.2f  peak %10.2f  day %10.2f  batman %10.2f  spread %10.2f\n",
			m.Time.In(market.IST).Format("15:04:05"), m.MTM, m.Peak, m.DayRealized, m.PnLBatman, m.PnLSpread)
	}
	fmt.Printf("%d snapshots\n", len(recs))
	return nil
}

// dayBounds returns the IST day [start, end). An empty day is today.
func dayBounds(day string) (time.Time, time.Time, error) {
	if day == "" {
		day = time.Now().In(market.IST).Format("2006-01-02")
	}
	t, err := time.ParseInLocation("2006-01-02", day, market.IST)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, market.IST)
	return start, start.Add(24 * time.Hour), nil
}

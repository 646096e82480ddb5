package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tapworks/tapestry/packages/db"
	"github.com/tapworks/tapestry/packages/output"
)

var (
	historyLimitFlag int
	historyQueryFlag string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long: `List runs recorded with "tapestry run --record", newest first.

Examples:
  tapestry history
  tapestry history --limit 5
  tapestry history show 1
  tapestry history show 1 --query stats.failed
  tapestry history show 2 --query "files.#.path"`,
	RunE: historyList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <n>",
	Short: "Print the report of the n-th most recent run",
	Args:  cobra.ExactArgs(1),
	RunE:  historyShow,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Max runs to list")
	historyCmd.PersistentFlags().StringVar(&historyPathFlag, "history-path", getEnvString("TAPESTRY_HISTORY", DefaultHistoryPath), "History database path (env: TAPESTRY_HISTORY)")
	historyShowCmd.Flags().StringVar(&historyQueryFlag, "query", "", "Extract a value from the report by gjson path")
	historyCmd.AddCommand(historyShowCmd)
}

func openHistory() (*db.Store, error) {
	path := historyPathFlag
	if path == "" {
		path = DefaultHistoryPath
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no history at %s (record runs with --record)", path)
	}
	return db.Open(path)
}

func historyList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(historyLimitFlag)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tWHEN\tFILES\tPASSED\tFAILED\tSKIPPED\tTODO\tDURATION\tEXIT")
	for i, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%d\n",
			i+1, r.StartedAt.Format(time.RFC3339),
			r.Files, r.Passed, r.Failed, r.Skipped, r.Todo,
			r.Duration.Round(time.Millisecond), r.ExitCode)
	}
	return w.Flush()
}

func historyShow(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("run index must be a number, got %q", args[0])
	}

	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.GetRun(n)
	if err != nil {
		return err
	}

	if historyQueryFlag != "" {
		value, err := output.Query(rec.Report, historyQueryFlag)
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	}
	fmt.Println(rec.Report)
	return nil
}

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hostprobe/hostprobe/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		dbPath string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded run history",
		Long: `List past diagnostic runs from the history database, newest first.

With a run ID argument, show that run's per-module results instead.`,
		Example: `  # List the last ten runs
  hostprobe history --db /var/lib/hostprobe/history.db

  # Show one run's module results
  hostprobe history 2f1c... --db /var/lib/hostprobe/history.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return showRun(cmd, store, args[0])
			}

			runs, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(os.Stdout, "No recorded runs.")
				return nil
			}

			fmt.Fprintf(os.Stdout, "%-38s %-10s %-21s %s\n", "RUN", "STATUS", "STARTED", "SUMMARY")
			for _, run := range runs {
				fmt.Fprintf(os.Stdout, "%-38s %-10s %-21s %s\n",
					run.ID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"), run.Summary)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "history database path")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	cmd.MarkFlagRequired("db")

	return cmd
}

func showRun(cmd *cobra.Command, store *stores.SQLiteStore, runID string) error {
	run, err := store.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Run:     %s\n", run.ID)
	fmt.Fprintf(os.Stdout, "Status:  %s\n", run.Status)
	fmt.Fprintf(os.Stdout, "Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Fprintf(os.Stdout, "Ended:   %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if run.Summary != "" {
		fmt.Fprintf(os.Stdout, "Summary: %s\n", run.Summary)
	}

	results, err := store.ListModuleResults(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}

	fmt.Fprintf(os.Stdout, "\n%-20s %-10s %-9s %s\n", "MODULE", "CLASS", "VERDICT", "SUMMARY")
	for _, result := range results {
		fmt.Fprintf(os.Stdout, "%-20s %-10s %-9s %s\n",
			result.Name, result.Class, result.Verdict, result.Summary)
	}
	return nil
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent import runs",
	Long: `Runs lists recorded import runs, newest first, with their row
counts and status. Dry runs are never recorded.`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, st, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := st.ListImportRuns(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No import runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRUN\tTRADE\tFILE\tSTATUS\tCREATED\tUPDATED\tSKIPPED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.StartedAt.Format("2006-01-02 15:04"), r.ID, r.TradeName, r.FileName,
			r.Status, r.RowsCreated, r.RowsUpdated, r.RowsSkipped)
	}
	return tw.Flush()
}

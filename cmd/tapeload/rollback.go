package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <run-id>",
	Short: "Remove every loan an import run created",
	Long: `Rollback deletes the loans and assets a recorded run created and
marks the run rolled back. Loans the run updated rather than created
keep their updated values.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}

	ctx := cmd.Context()
	_, st, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	deleted, err := st.RollbackImportRun(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rolled back run %s: %d loans removed\n", id, deleted)
	return nil
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/franz/ordb/internal/report"
	"github.com/franz/ordb/internal/store"
	"github.com/franz/ordb/internal/trash"
	"github.com/franz/ordb/internal/util"
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Move the source directories into the trash",
	Long: `Finalize a run by moving every recorded source directory into a
'` + trash.DirName + `' directory next to it.

Each source is renamed in one step when possible. When the rename fails (for
example across filesystems) it is copied and then deleted. Sources that no
longer exist are skipped. Nothing is deleted permanently; use 'ordb purge'
for that.`,
	Args: cobra.NoArgs,
	RunE: runCommit,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Delete the organized output and reset every file to PENDING",
	Long: `Undo a run: delete the top-level destination directories that hold
staged files and reset every record to PENDING so the pipeline can run again.

The directories are listed and confirmation is required unless --yes is given.`,
	Args: cobra.NoArgs,
	RunE: runRollback,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently delete the trash directories",
	Long: `Permanently delete the '` + trash.DirName + `' directory next to every
recorded source. This cannot be undone and requires --force.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

func init() {
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(purgeCmd)

	rollbackCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	purgeCmd.Flags().Bool("force", false, "Confirm permanent deletion")
}

func newController(db *store.Store, logger *report.EventLogger) *trash.Controller {
	return trash.New(&trash.Config{Store: db, Logger: logger})
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	logger := openEventLogger()
	defer logger.Close()
	controller := newController(db, logger)

	util.InfoLog("=== Commit ===")
	result, err := controller.Commit(ctx)
	if result != nil {
		util.InfoLog("Moved: %d (renamed %d, copied %d), missing: %d, failed: %d",
			result.Renamed+result.Copied, result.Renamed, result.Copied, result.Missing, result.Failed)
	}
	if err != nil {
		return fmt.Errorf("commit incomplete: %w", err)
	}
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	var confirmer trash.Confirmer = trash.NewStdinConfirmer()
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		confirmer = trash.AutoConfirm{}
	}

	logger := openEventLogger()
	defer logger.Close()

	util.InfoLog("=== Rollback ===")
	result, err := newController(db, logger).Rollback(ctx, confirmer)
	if errors.Is(err, trash.ErrDeclined) {
		util.InfoLog("Rollback cancelled, nothing was changed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	if result.Nothing() {
		util.InfoLog("Nothing to roll back")
	}
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	force, _ := cmd.Flags().GetBool("force")
	if !force {
		return trash.ErrForceRequired
	}

	db, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	logger := openEventLogger()
	defer logger.Close()

	util.InfoLog("=== Purge ===")
	result, err := newController(db, logger).Purge(ctx, force)
	if err != nil {
		return fmt.Errorf("purge incomplete: %w", err)
	}
	if len(result.Removed) == 0 {
		util.InfoLog("No trash directories found")
	}
	return nil
}

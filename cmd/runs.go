package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/uimap/internal/database"
	"github.com/lance13c/uimap/internal/ui"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recorded apply runs",
	Long: `List the most recent apply runs with their counts, or every recorded
attempt of one run when a run id is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntP("limit", "n", 20, "number of runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg := uimapConfig
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := database.New(cfg.Output.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	ctx, stop := signalContext()
	defer stop()

	if len(args) == 1 {
		return showRun(ctx, store, args[0])
	}

	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No apply runs recorded.")
		return nil
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			string(r.Status),
			r.AccountNumber,
			fmt.Sprintf("%d/%d/%d/%d", r.Counts.Applied, r.Counts.Unchanged, r.Counts.Skipped, r.Counts.Failed),
			fmt.Sprintf("%d (%d errors)", r.Items, r.ItemErrors),
			strings.Join(r.SavedPages, ","),
		})
	}
	ui.WriteTable(os.Stdout, []string{"RUN", "STARTED", "STATUS", "ACCOUNT", "A/U/S/F", "ATTEMPTS", "SAVED"}, rows)
	return nil
}

func showRun(ctx context.Context, store *database.Store, runID string) error {
	items, err := store.RunItems(ctx, runID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no attempts recorded for run %s", runID)
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.SettingID,
			it.PageID,
			fmt.Sprint(it.Attempt),
			string(it.Status),
			string(it.Outcome),
			it.Class,
			it.Message,
		})
	}
	ui.WriteTable(os.Stdout, []string{"SETTING", "PAGE", "TRY", "STATUS", "OUTCOME", "CLASS", "MESSAGE"}, rows)
	return nil
}

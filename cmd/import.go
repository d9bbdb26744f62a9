package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lance13c/uimap/internal/database"
	"github.com/lance13c/uimap/internal/types"
	"github.com/lance13c/uimap/internal/ui"
)

var importCmd = &cobra.Command{
	Use:   "import <ui_map.json>",
	Short: "Store a map in the local database",
	Long: `Upsert a map, its pages and its fields into the local database by id.

Rows whose content did not change are left untouched, so importing the same
map twice writes nothing the second time.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().Bool("stats", false, "print row counts per table afterwards")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg := uimapConfig
	showStats, _ := cmd.Flags().GetBool("stats")

	m, err := types.LoadMap(args[0])
	if err != nil {
		return err
	}
	store, err := database.New(cfg.Output.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	ctx, stop := signalContext()
	defer stop()

	stats, err := store.ImportMap(ctx, m)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %s as %q\n", args[0], stats.MapID)
	fmt.Printf("  pages:  %d written, %d unchanged\n", stats.Pages.Written, stats.Pages.Unchanged)
	fmt.Printf("  fields: %d written, %d unchanged\n", stats.Fields.Written, stats.Fields.Unchanged)
	if !stats.MapChange {
		fmt.Println("  map metadata unchanged")
	}

	if !showStats {
		return nil
	}
	counts, err := store.GetStatistics(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(counts))
	for _, table := range []string{"maps", "pages", "fields", "apply_runs", "apply_run_items"} {
		rows = append(rows, []string{table, fmt.Sprint(counts[table])})
	}
	fmt.Println()
	ui.WriteTable(os.Stdout, []string{"TABLE", "ROWS"}, rows)
	return nil
}

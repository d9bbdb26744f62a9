package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lance13c/uimap/internal/apply"
	"github.com/lance13c/uimap/internal/database"
	"github.com/lance13c/uimap/internal/types"
)

const applyReportFile = "apply_report.json"

var applyCmd = &cobra.Command{
	Use:   "apply <plan.json>",
	Short: "Apply stored setting values to the device UI",
	Long: `Apply a plan of setting values through the device's web UI.

The plan is {"meta": {...}, "settings": [{"id": ..., "value": ...}]}, or a
flat object of id → value. Settings are grouped by page in map order; each
page is navigated to, its controls are driven, and the page's save or apply
control is clicked once when something changed.

Every attempt is recorded in the local database and in apply_report.json.
The command exits 1 when the run fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().String("map", "", "map file (default ui_map.json in the output directory)")
	applyCmd.Flags().String("url", "", "device base URL (default from config)")
	applyCmd.Flags().String("fixture", "", "apply against a saved HTML file instead of a live device")
	applyCmd.Flags().String("report", "", "report path (default apply_report.json in the output directory)")
	applyCmd.Flags().Bool("no-db", false, "do not record the run in the local database")
}

func runApply(cmd *cobra.Command, args []string) error {
	cfg := uimapConfig
	mapPath, _ := cmd.Flags().GetString("map")
	url, _ := cmd.Flags().GetString("url")
	fixture, _ := cmd.Flags().GetString("fixture")
	reportPath, _ := cmd.Flags().GetString("report")
	noDB, _ := cmd.Flags().GetBool("no-db")

	if mapPath == "" {
		mapPath = filepath.Join(cfg.Output.Dir, mapFile)
	}
	if reportPath == "" {
		reportPath = filepath.Join(cfg.Output.Dir, applyReportFile)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	plan, err := apply.LoadPlan(args[0])
	if err != nil {
		return err
	}
	m, err := types.LoadMap(mapPath)
	if err != nil {
		return err
	}
	// Schema problems are reported before a browser is started
	if err := apply.CheckSchema(m); err != nil {
		return err
	}
	if _, err := apply.Prepare(m, plan); err != nil {
		return err
	}

	audit := apply.MultiAudit{apply.NewReportAudit(reportPath)}
	if !noDB {
		store, err := database.New(cfg.Output.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()
		audit = append(audit, store)
	}

	startURL, err := startURLFor(cfg, url, "")
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	driver, err := openDriver(ctx, cfg, startURL, fixture)
	if err != nil {
		return err
	}
	defer driver.Close()
	if err := driver.Goto(ctx, startURL); err != nil {
		return fmt.Errorf("failed to open %s: %w", startURL, err)
	}

	runner, err := apply.NewRunner(driver, cfg, audit)
	if err != nil {
		return err
	}
	runner.MapPath = mapPath

	fmt.Printf("Applying %d settings from %s\n", len(plan.Settings), args[0])
	result, runErr := runner.Run(ctx, m, plan)
	if result == nil {
		return runErr
	}

	c := result.Counts
	fmt.Printf("Run %s: %s (applied %d, unchanged %d, skipped %d, failed %d)\n",
		result.RunID, result.Status, c.Applied, c.Unchanged, c.Skipped, c.Failed)
	if len(result.SavedPages) > 0 {
		fmt.Printf("Saved pages: %v\n", result.SavedPages)
	}
	fmt.Printf("Wrote %s\n", reportPath)
	return runErr
}

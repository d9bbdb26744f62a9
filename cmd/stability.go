package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lance13c/uimap/internal/contract"
	"github.com/lance13c/uimap/internal/logging"
	"github.com/lance13c/uimap/internal/types"
)

var stabilityCmd = &cobra.Command{
	Use:   "stability [schema-a schema-b]",
	Short: "Compare two captures for id drift",
	Long: `Compare two ui_schema.json captures of the same UI.

Drift is any added or removed container or setting, a changed label or
type, a field whose id moved while its signature stayed, an enum field with
no options, or radio options that reordered without a label change.

Without arguments ui_schema.baseline.json and ui_schema.json in the output
directory are compared. Drift exits 2 unless --ui-changed says the UI
really did change.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected two schema paths or none, got %d", len(args))
		}
		return nil
	},
	RunE: runStability,
}

func init() {
	rootCmd.AddCommand(stabilityCmd)

	stabilityCmd.Flags().Bool("ui-changed", false, "accept drift without failing")
	stabilityCmd.Flags().String("report", "", "report path (default stability_report.json in the output directory)")
}

func runStability(cmd *cobra.Command, args []string) error {
	cfg := uimapConfig
	uiChanged, _ := cmd.Flags().GetBool("ui-changed")
	reportPath, _ := cmd.Flags().GetString("report")
	if reportPath == "" {
		reportPath = filepath.Join(cfg.Output.Dir, "stability_report.json")
	}

	a := filepath.Join(cfg.Output.Dir, "ui_schema.baseline.json")
	b := filepath.Join(cfg.Output.Dir, contract.SchemaFile)
	if len(args) == 2 {
		a, b = args[0], args[1]
	}

	report, err := contract.CompareFiles(a, b, uiChanged)
	if err != nil {
		return err
	}
	if err := types.WriteJSON(reportPath, report); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", reportPath)

	d := report.Diff
	if !report.DriftDetected {
		fmt.Println("Stability check passed.")
		return nil
	}
	fmt.Printf("Drift: containers +%d -%d, settings +%d -%d, %d label/type changes, %d id drifts, %d empty dropdowns, %d radio reorders\n",
		len(d.Containers.Added), len(d.Containers.Removed),
		len(d.Settings.Added), len(d.Settings.Removed), len(d.Settings.LabelOrTypeChanged),
		len(d.FieldIDDrift), len(d.DropdownsMissingOptionsA)+len(d.DropdownsMissingOptionsB),
		len(d.RadioOrderingChanged))
	if uiChanged {
		fmt.Println("Stability check passed (UI marked as changed).")
		return nil
	}
	fmt.Fprintln(os.Stderr, "Stability check failed: key drift or label/type changes detected.")
	logging.Warn("stability drift%s", logging.KV("a", a, "b", b))
	logging.GetLogger().Close()
	os.Exit(2)
	return nil
}

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/uimap/internal/contract"
	"github.com/lance13c/uimap/internal/logging"
	"github.com/lance13c/uimap/internal/types"
)

var contractCmd = &cobra.Command{
	Use:   "contract [payload.json]",
	Short: "Generate the capture contract from a map",
	Long: `Generate ui_schema.json, verify_report.json and the YAML views.

The input defaults to ui_map.json in the output directory. A capture
schema or a legacy containers/settings payload is accepted too; those
produce the schema, verify report and form view only.

When a click log is available every field id it discovered must appear in
the schema and every schema field must have been discovered. A mismatch
fails the command and nothing is written.

--overlay merges fresher in-session value reads ([{field_id, current_value}])
before the artifacts are written. --watch regenerates whenever the map or
click log changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runContract,
}

func init() {
	rootCmd.AddCommand(contractCmd)

	contractCmd.Flags().String("click-log", "", "click log for reconciliation (default click_log.json next to the map)")
	contractCmd.Flags().Bool("no-reconcile", false, "skip the click log reconciliation")
	contractCmd.Flags().String("overlay", "", "JSON file of snapshot values to merge")
	contractCmd.Flags().StringP("out", "o", "", "output directory (default from config)")
	contractCmd.Flags().Bool("watch", false, "regenerate when the inputs change")
}

type contractJob struct {
	input       string
	clickLog    string
	noReconcile bool
	overlay     string
	out         string
}

func runContract(cmd *cobra.Command, args []string) error {
	cfg := uimapConfig
	job := contractJob{}
	job.clickLog, _ = cmd.Flags().GetString("click-log")
	job.noReconcile, _ = cmd.Flags().GetBool("no-reconcile")
	job.overlay, _ = cmd.Flags().GetString("overlay")
	job.out, _ = cmd.Flags().GetString("out")
	watch, _ := cmd.Flags().GetBool("watch")

	if job.out == "" {
		job.out = cfg.Output.Dir
	}
	job.input = filepath.Join(job.out, mapFile)
	if len(args) == 1 {
		job.input = args[0]
	}
	if job.clickLog == "" {
		job.clickLog = filepath.Join(filepath.Dir(job.input), clickLogFile)
	}

	if !watch {
		if err := job.generate(); err != nil {
			return err
		}
		return nil
	}

	// A failing first run still starts the watcher so a fixed map is picked up
	if err := job.generate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	paths := []string{job.input}
	if !job.noReconcile {
		paths = append(paths, job.clickLog)
	}
	return watchContract(job, paths, time.Duration(cfg.Discovery.DebounceMS)*time.Millisecond)
}

func watchContract(job contractJob, paths []string, debounce time.Duration) error {
	w, err := contract.NewWatcher(paths, debounce)
	if err != nil {
		return err
	}
	w.OnChange(func(files []string) error {
		logging.Info("contract inputs changed%s", logging.KV("files", len(files)))
		fmt.Printf("Changed: %v\n", files)
		return job.generate()
	})

	ctx, stop := signalContext()
	defer stop()
	fmt.Println("Watching for changes, Ctrl+C to stop")
	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (j contractJob) generate() error {
	data, err := os.ReadFile(j.input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", j.input, err)
	}
	shape, err := contract.Sniff(data)
	if err != nil {
		return fmt.Errorf("%s: %w", j.input, err)
	}

	var a *contract.Artifacts
	if shape == contract.ShapeMap {
		a, err = j.generateFromMap()
	} else {
		a, err = j.generateFromPayload(data)
	}
	if err != nil {
		return err
	}
	printVerify(a.Verify, j.out)
	return nil
}

func (j contractJob) generateFromMap() (*contract.Artifacts, error) {
	m, err := types.LoadMap(j.input)
	if err != nil {
		return nil, err
	}
	var log *types.ClickLog
	if !j.noReconcile {
		if _, err := os.Stat(j.clickLog); err == nil {
			if log, err = types.LoadClickLog(j.clickLog); err != nil {
				return nil, err
			}
		} else {
			logging.Warn("no click log, reconciliation skipped%s", logging.KV("path", j.clickLog))
		}
	}
	var overlay []contract.OverlayValue
	if j.overlay != "" {
		if overlay, err = loadOverlay(j.overlay); err != nil {
			return nil, err
		}
	}
	a, err := contract.Generate(m, log, j.out, overlay...)
	if err != nil {
		return nil, err
	}
	if j.overlay != "" {
		logging.Info("overlay merged%s", logging.KV("file", j.overlay, "records", len(overlay)))
	}
	return a, nil
}

func (j contractJob) generateFromPayload(data []byte) (*contract.Artifacts, error) {
	s, err := contract.Normalize(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", j.input, err)
	}
	if j.overlay == "" {
		return contract.WriteSchema(s, j.out)
	}
	return j.applyOverlay(s)
}

func (j contractJob) applyOverlay(s *contract.CaptureSchema) (*contract.Artifacts, error) {
	overlay, err := loadOverlay(j.overlay)
	if err != nil {
		return nil, err
	}
	n, err := s.ApplyOverlay(overlay)
	if err != nil {
		return nil, fmt.Errorf("overlay %s: %w", j.overlay, err)
	}
	logging.Info("overlay merged%s", logging.KV("file", j.overlay, "records", n))
	return contract.WriteSchema(s, j.out)
}

// loadOverlay accepts a bare array or {"values": [...]}
func loadOverlay(path string) ([]contract.OverlayValue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read overlay: %w", err)
	}
	var list []contract.OverlayValue
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Values []contract.OverlayValue `json:"values"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse overlay %s: %w", path, err)
	}
	return wrapped.Values, nil
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/contract"
	"github.com/lance13c/uimap/internal/discovery"
	"github.com/lance13c/uimap/internal/graph"
	"github.com/lance13c/uimap/internal/logging"
	"github.com/lance13c/uimap/internal/types"
	"github.com/lance13c/uimap/internal/ui"
)

const (
	mapFile      = "ui_map.json"
	clickLogFile = "click_log.json"
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Discover the device UI and write its map",
	Long: `Discover the device UI and write ui_map.json and click_log.json.

By default uimap crawls from the start page on its own: tabs, menus and
links are followed, modals are opened to a bounded depth, and dropdowns and
radio groups are explored for the fields they reveal. Destructive actions
(save, apply, reset, reboot) are never clicked.

With --manual the browser opens for you to click through the UI; every
interaction is classified and logged. Press q or Enter (or close stdin when
not on a terminal) to finish. The contract artifacts are generated from
the new map unless --no-contract is given.`,
	RunE: runMap,
}

func init() {
	rootCmd.AddCommand(mapCmd)

	mapCmd.Flags().Bool("manual", false, "capture while you click through the UI")
	mapCmd.Flags().String("url", "", "device base URL (default from config)")
	mapCmd.Flags().String("location", "", "start route appended to the URL, e.g. /#/network")
	mapCmd.Flags().Int("max-clicks", 0, "click budget (default from config)")
	mapCmd.Flags().Int("timeout-ms", 0, "per-action timeout in milliseconds (default from config)")
	mapCmd.Flags().Bool("screenshot", false, "save a screenshot per discovered page")
	mapCmd.Flags().String("fixture", "", "map a saved HTML file instead of a live device")
	mapCmd.Flags().String("engine", "", "browser engine: chromedp or rod (default from config)")
	mapCmd.Flags().StringP("out", "o", "", "output directory (default from config)")
	mapCmd.Flags().Bool("no-contract", false, "skip generating contract artifacts")
}

func runMap(cmd *cobra.Command, args []string) error {
	cfg := uimapConfig
	manual, _ := cmd.Flags().GetBool("manual")
	url, _ := cmd.Flags().GetString("url")
	location, _ := cmd.Flags().GetString("location")
	maxClicks, _ := cmd.Flags().GetInt("max-clicks")
	timeoutMS, _ := cmd.Flags().GetInt("timeout-ms")
	screenshot, _ := cmd.Flags().GetBool("screenshot")
	fixture, _ := cmd.Flags().GetString("fixture")
	engine, _ := cmd.Flags().GetString("engine")
	out, _ := cmd.Flags().GetString("out")
	noContract, _ := cmd.Flags().GetBool("no-contract")

	if maxClicks > 0 {
		cfg.Discovery.MaxClicks = maxClicks
	}
	if timeoutMS > 0 {
		cfg.Browser.ActionTimeoutMS = timeoutMS
	}
	if engine != "" {
		cfg.Browser.Engine = engine
	}
	if out == "" {
		out = cfg.Output.Dir
	}
	if manual {
		cfg.Browser.Headless = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	startURL, err := startURLFor(cfg, url, location)
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

	opts := discovery.Options{
		Mode:            "crawl",
		Location:        location,
		ExploreVariants: cfg.Discovery.ExploreVariants,
	}
	if manual {
		opts.Mode = "manual"
	}
	if screenshot {
		opts.ScreenshotDir = filepath.Join(out, "screenshots")
	}
	session, err := discovery.NewSession(driver, cfg, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Mapping %s (%s)\n", startURL, opts.Mode)
	var result *types.Discovery
	if manual {
		result, err = captureManually(ctx, session, cfg, startURL)
	} else {
		result, err = discovery.NewCrawler(session, cfg).Run(ctx, startURL)
	}
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	m, err := graph.NewBuilder(cfg.Classifier).Build(result)
	if err != nil {
		return fmt.Errorf("failed to build map: %w", err)
	}
	mapPath := filepath.Join(out, mapFile)
	if err := types.WriteJSON(mapPath, m); err != nil {
		return err
	}
	logPath := filepath.Join(out, clickLogFile)
	if err := types.WriteJSON(logPath, result.ClickLog); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d pages, %d fields)\n", mapPath, len(m.Pages), len(m.Fields))
	fmt.Printf("Wrote %s (%d interactions)\n", logPath, len(result.ClickLog.Clicks))
	printPages(m)

	if noContract {
		return nil
	}
	artifacts, err := contract.Generate(m, result.ClickLog, out)
	if err != nil {
		return err
	}
	printVerify(artifacts.Verify, out)
	return nil
}

// captureManually runs the live view on a terminal, and a plain log that
// ends at EOF on stdin otherwise
func captureManually(ctx context.Context, session *discovery.Session, cfg *config.Config, startURL string) (*types.Discovery, error) {
	mc := discovery.NewManualCapture(session, discovery.NewPageRecorder(session.Driver()), cfg, cfg.Discovery.MaxClicks)
	if term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())) {
		return ui.RunCapture(ctx, mc, startURL)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(io.Discard, os.Stdin)
	}()
	mc.Stop = done
	mc.OnEntry = func(e types.ClickLogEntry) {
		fmt.Printf("%4d  %-16s %s  +%d fields\n", e.Index, e.Kind, e.TargetText, len(e.NewlyDiscoveredFieldIDs))
	}
	logging.Info("manual capture without a terminal; close stdin to finish")
	return mc.Run(ctx, startURL)
}

func printPages(m *types.UiMap) {
	perPage := map[string]int{}
	for _, f := range m.Fields {
		perPage[f.PageID]++
	}
	rows := make([][]string, 0, len(m.Pages))
	for _, p := range m.Pages {
		trail := graph.Trail(p.Breadcrumb)
		if trail == "" {
			trail = p.Title
		}
		rows = append(rows, []string{string(p.Kind), p.ID, trail, fmt.Sprint(perPage[p.ID])})
	}
	fmt.Println()
	ui.WriteTable(os.Stdout, []string{"KIND", "PAGE", "BREADCRUMB", "FIELDS"}, rows)
	fmt.Println()
}

func printVerify(r *contract.VerifyReport, out string) {
	fmt.Printf("Wrote contract artifacts to %s (%d fields in %d containers)\n", out, r.TotalFields, r.TotalContainers)
	if r.Clean() {
		fmt.Println("Verify: clean")
		return
	}
	fmt.Printf("Verify: %d selector issues, %d empty option lists, %d missing values, %d fragile-only selectors (see %s)\n",
		len(r.SelectorIssues), len(r.EmptyOptions), len(r.MissingValues), len(r.FragileSelectors),
		filepath.Join(out, contract.VerifyFile))
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/logging"
)

var uimapConfig *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "uimap",
	Short: "Map a device's web admin UI and replay settings into it",
	Long: `uimap discovers the pages, modals and controls of an embedded device's
web administration UI, turns them into a stable versioned map, derives a
capture contract from that map, and applies stored configuration values
back into the same UI.

Typical flow:
  uimap map --url http://192.168.1.100      # crawl and write dist/ui_map.json
  uimap contract                            # rebuild dist/ui_schema.json and views
  uimap apply plan.json                     # replay values, audit every attempt`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Error("%v", err)
	}
	logging.GetLogger().Close()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().StringP("device", "d", "", "device from the config to use")
	rootCmd.PersistentFlags().StringP("project", "p", ".", "project directory")
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	startTime := time.Now()
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	projectDir, _ := rootCmd.PersistentFlags().GetString("project")

	// Initialize logging first
	if err := logging.Initialize(projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logging: %v\n", err)
	} else {
		logging.RedirectStandardLog()
	}
	if verbose {
		logging.GetLogger().SetLevel(logging.DEBUG)
	}

	loader := config.NewLoader(projectDir)
	cfg, err := loader.Load()
	if err != nil {
		logging.Warn("Failed to load config, using defaults: %v", err)
		cfg = config.DefaultConfig()
	}
	if device, _ := rootCmd.PersistentFlags().GetString("device"); device != "" {
		if _, exists := cfg.Devices[device]; exists {
			cfg.Current = device
		} else {
			logging.Warn("Unknown device %q, keeping %q", device, cfg.Current)
		}
	}
	if cfg.LogLevel != "" && !verbose {
		logging.GetLogger().SetLevel(logging.ParseLevel(cfg.LogLevel))
	}
	uimapConfig = cfg
	logging.Debug("Config ready in %v%s", time.Since(startTime), logging.KV("device", cfg.Current))
}

// signalContext is cancelled on Ctrl+C or SIGTERM so runs can unwind and
// flush what they have
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/config"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the configuration and that the device answers",
	Long: `Doctor runs the checks a mapping or apply run depends on:

  • the project is initialized and the config validates
  • the current device's web UI answers HTTP
  • the DevTools endpoint answers, when browser.remote_url is set`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	projectDir, _ := cmd.Root().PersistentFlags().GetString("project")
	allPassed := true
	check := func(name string, fn func() (string, error)) {
		fmt.Printf("%-28s ", name+"...")
		detail, err := fn()
		if err != nil {
			fmt.Println("FAILED")
			fmt.Printf("   %v\n", err)
			allPassed = false
			return
		}
		fmt.Println("ok")
		if detail != "" {
			fmt.Printf("   %s\n", detail)
		}
	}

	loader := config.NewLoader(projectDir)
	if !loader.IsInitialized() {
		fmt.Println("uimap is not initialized in this project. Run 'uimap init' to get started.")
		os.Exit(1)
	}
	cfg := uimapConfig
	check("Validating configuration", func() (string, error) {
		return "", cfg.Validate()
	})

	dev := cfg.GetCurrentDevice()
	if dev == nil {
		fmt.Printf("No device %q in the configuration.\n", cfg.Current)
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	check("Reaching device", func() (string, error) {
		res, err := browser.Preflight(ctx, dev.StartURL(), 1)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s answered %d in %s (server %q)", res.URL, res.Status, res.Elapsed.Round(time.Millisecond), res.Server), nil
	})

	if cfg.Browser.RemoteURL != "" {
		check("Reaching DevTools", func() (string, error) {
			ws, err := browser.ResolveDebuggerURL(ctx, cfg.Browser.RemoteURL)
			if err != nil {
				return "", err
			}
			return ws, nil
		})
	}

	if !allPassed {
		return errors.New("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

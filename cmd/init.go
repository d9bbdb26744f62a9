package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/ui"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize uimap in the current project",
	Long: `Create .uimap/config.yaml with a device to map.

The interactive wizard asks for the device name, its base URL, the start
route and the browser engine. With --non-interactive the values come from
flags.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Bool("force", false, "reinitialize even if .uimap already exists")
	initCmd.Flags().Bool("non-interactive", false, "skip the wizard and use flags")
	initCmd.Flags().String("name", "printer", "device name")
	initCmd.Flags().String("url", "", "device base URL, e.g. http://192.168.1.100")
	initCmd.Flags().String("location", "", "start route, e.g. /#/settings")
	initCmd.Flags().String("engine", "chromedp", "browser engine: chromedp or rod")
}

func runInit(cmd *cobra.Command, args []string) error {
	projectDir, _ := cmd.Root().PersistentFlags().GetString("project")
	force, _ := cmd.Flags().GetBool("force")
	nonInteractive, _ := cmd.Flags().GetBool("non-interactive")

	loader := config.NewLoader(projectDir)
	var existing *config.Config
	if loader.IsInitialized() {
		if !force {
			fmt.Println("uimap is already initialized in this project.")
			fmt.Println("Use --force to reinitialize.")
			os.Exit(1)
		}
		cfg, err := loader.Load()
		if err != nil {
			fmt.Printf("Could not load existing config (will use defaults): %v\n", err)
		} else {
			fmt.Println("Using existing config values as defaults...")
			existing = cfg
		}
	}

	var cfg *config.Config
	if nonInteractive {
		var err error
		if cfg, err = nonInteractiveConfig(cmd, existing); err != nil {
			return err
		}
	} else {
		var err error
		cfg, err = ui.RunInitWizard(existing)
		if err != nil {
			return err
		}
		if cfg == nil {
			fmt.Println("Initialization cancelled.")
			return nil
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	configPath := loader.GetConfigPath()
	if err := createProjectDir(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("failed to create %s: %w", config.ConfigDirName, err)
	}
	if err := updateProjectGitignore(projectDir); err != nil {
		fmt.Printf("Warning: could not update .gitignore: %v\n", err)
	}
	if err := loader.Save(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	dev := cfg.GetCurrentDevice()
	fmt.Printf("\nWrote %s\n", configPath)
	fmt.Printf("   • Device: %s (%s)\n", dev.Name, dev.StartURL())
	fmt.Printf("   • Engine: %s\n", cfg.Browser.Engine)
	fmt.Printf("   • Output: %s\n", cfg.Output.Dir)
	fmt.Println("\nNext: uimap doctor, then uimap map")
	return nil
}

func nonInteractiveConfig(cmd *cobra.Command, existing *config.Config) (*config.Config, error) {
	name, _ := cmd.Flags().GetString("name")
	url, _ := cmd.Flags().GetString("url")
	location, _ := cmd.Flags().GetString("location")
	engine, _ := cmd.Flags().GetString("engine")

	cfg := existing
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if url == "" {
		return nil, &config.ValidationError{Field: "url", Message: "--url is required with --non-interactive"}
	}
	if cfg.Devices == nil {
		cfg.Devices = map[string]config.DeviceConfig{}
	}
	cfg.Devices[name] = config.DeviceConfig{
		Name:     name,
		BaseURL:  strings.TrimRight(strings.TrimSpace(url), "/"),
		Location: strings.TrimSpace(location),
	}
	cfg.Current = name
	cfg.Browser.Engine = engine
	return cfg, nil
}

func createProjectDir(dir string) error {
	for _, d := range []string{dir, filepath.Join(dir, "logs")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	gitignore := `# uimap logs and local database
logs/
*.db
*.tmp

!config.yaml
`
	return os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0644)
}

// updateProjectGitignore adds .uimap/ to the project .gitignore once
func updateProjectGitignore(projectPath string) error {
	gitignorePath := filepath.Join(projectPath, ".gitignore")
	content, err := os.ReadFile(gitignorePath)
	if err != nil {
		if os.IsNotExist(err) {
			return os.WriteFile(gitignorePath, []byte("# uimap local state\n.uimap/\n"), 0644)
		}
		return err
	}

	contentStr := string(content)
	for _, line := range strings.Split(contentStr, "\n") {
		switch strings.TrimSpace(line) {
		case ".uimap", ".uimap/", "/.uimap", "/.uimap/":
			return nil
		}
	}

	entry := "\n# uimap local state\n.uimap/\n"
	if !strings.HasSuffix(contentStr, "\n") {
		entry = "\n" + entry
	}
	return os.WriteFile(gitignorePath, []byte(contentStr+entry), 0644)
}

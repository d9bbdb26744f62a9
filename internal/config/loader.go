package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName  = "config.yaml"
	ConfigDirName   = ".uimap"
	GlobalConfigDir = ".config/uimap"
	EnvFileName     = ".env"
)

// Loader handles configuration loading and discovery
type Loader struct {
	startDir string
}

// NewLoader creates a new config loader starting from the given directory
func NewLoader(startDir string) *Loader {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			startDir = "."
		}
	}
	return &Loader{startDir: startDir}
}

// Load loads the configuration file, then .env, then UIMAP_* overrides.
// Without a config file the defaults are used.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	configPath, err := l.findConfigFile()
	if err == nil {
		if err := l.loadFromFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	if err := l.loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", EnvFileName, err)
	}

	if err := l.applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// findConfigFile searches upward from the start directory for a config file
func (l *Loader) findConfigFile() (string, error) {
	dir := l.startDir
	for {
		configPath := filepath.Join(dir, ConfigDirName, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		globalConfig := filepath.Join(homeDir, GlobalConfigDir, ConfigFileName)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched upward from %s)", l.startDir)
}

// loadFromFile decodes YAML over the defaults already held in config
func (l *Loader) loadFromFile(configPath string, config *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadEnvFile loads KEY=VALUE pairs from .env without overriding the
// process environment
func (l *Loader) loadEnvFile() error {
	path := filepath.Join(l.startDir, EnvFileName)
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func (l *Loader) applyEnvOverrides(config *Config) error {
	if name := os.Getenv("UIMAP_DEVICE"); name != "" {
		config.Current = name
	}
	if baseURL := os.Getenv("UIMAP_BASE_URL"); baseURL != "" {
		dev := config.Devices[config.Current]
		if config.Devices == nil {
			config.Devices = map[string]DeviceConfig{}
		}
		if config.Current == "" {
			config.Current = "default"
		}
		dev.Name = config.Current
		dev.BaseURL = baseURL
		config.Devices[config.Current] = dev
	}
	if location := os.Getenv("UIMAP_LOCATION"); location != "" {
		if dev, ok := config.Devices[config.Current]; ok {
			dev.Location = location
			config.Devices[config.Current] = dev
		}
	}
	if engine := os.Getenv("UIMAP_BROWSER_ENGINE"); engine != "" {
		config.Browser.Engine = engine
	}
	if remote := os.Getenv("UIMAP_BROWSER_REMOTE_URL"); remote != "" {
		config.Browser.RemoteURL = remote
	}
	if execPath := os.Getenv("UIMAP_CHROME_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if headless := os.Getenv("UIMAP_HEADLESS"); headless != "" {
		v, err := strconv.ParseBool(headless)
		if err != nil {
			return fmt.Errorf("UIMAP_HEADLESS: %w", err)
		}
		config.Browser.Headless = v
	}
	ints := map[string]*int{
		"UIMAP_MAX_PAGES":         &config.Discovery.MaxPages,
		"UIMAP_MAX_CLICKS":        &config.Discovery.MaxClicks,
		"UIMAP_READ_TIMEOUT_MS":   &config.Browser.ReadTimeoutMS,
		"UIMAP_ACTION_TIMEOUT_MS": &config.Browser.ActionTimeoutMS,
		"UIMAP_MAX_ATTEMPTS":      &config.Apply.MaxAttempts,
	}
	for key, dst := range ints {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = v
	}
	if dir := os.Getenv("UIMAP_OUTPUT_DIR"); dir != "" {
		config.Output.Dir = dir
	}
	if level := os.Getenv("UIMAP_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	return nil
}

// Save saves the configuration to the specified path
func (l *Loader) Save(config *Config, configPath string) error {
	config.Meta.UpdatedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the path where a config file should be created
func (l *Loader) GetConfigPath() string {
	return filepath.Join(l.startDir, ConfigDirName, ConfigFileName)
}

// IsInitialized checks if a config file exists in the project hierarchy
func (l *Loader) IsInitialized() bool {
	_, err := l.findConfigFile()
	return err == nil
}

// GetProjectRoot returns the directory containing the .uimap folder
func (l *Loader) GetProjectRoot() (string, error) {
	configPath, err := l.findConfigFile()
	if err != nil {
		return "", err
	}
	return filepath.Dir(filepath.Dir(configPath)), nil
}

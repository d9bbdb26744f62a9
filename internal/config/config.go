package config

import (
	"regexp"
	"strings"
	"time"
)

// Config represents the complete uimap configuration
type Config struct {
	Devices    map[string]DeviceConfig `yaml:"devices"`
	Current    string                  `yaml:"current_device"`
	Browser    BrowserConfig           `yaml:"browser"`
	Discovery  DiscoveryConfig         `yaml:"discovery"`
	Classifier ClassifierConfig        `yaml:"classifier"`
	Apply      ApplyConfig             `yaml:"apply"`
	Output     OutputConfig            `yaml:"output"`
	LogLevel   string                  `yaml:"log_level,omitempty"`
	Meta       MetaConfig              `yaml:"meta"`
}

// DeviceConfig describes one device admin UI
type DeviceConfig struct {
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base_url"`
	Location string `yaml:"location,omitempty"` // start route appended to base_url
}

// BrowserConfig selects and tunes the page driver
type BrowserConfig struct {
	Engine          string `yaml:"engine"` // chromedp, rod
	Headless        bool   `yaml:"headless"`
	ExecPath        string `yaml:"exec_path,omitempty"`
	RemoteURL       string `yaml:"remote_url,omitempty"` // http://127.0.0.1:9222 of a running Chrome
	WindowWidth     int    `yaml:"window_width"`
	WindowHeight    int    `yaml:"window_height"`
	ReadTimeoutMS   int    `yaml:"read_timeout_ms"`
	ActionTimeoutMS int    `yaml:"action_timeout_ms"`
	SettleMS        int    `yaml:"settle_ms"`
}

// DiscoveryConfig bounds crawling and manual capture
type DiscoveryConfig struct {
	MaxPages           int      `yaml:"max_pages"`
	MaxClicks          int      `yaml:"max_clicks"`
	MaxModalDepth      int      `yaml:"max_modal_depth"`
	MaxVariantOptions  int      `yaml:"max_variant_options"`
	ExploreVariants    bool     `yaml:"explore_variants"`
	MainSelector       string   `yaml:"main_selector"`
	ModalSelector      string   `yaml:"modal_selector"`
	AlertTokens        []string `yaml:"alert_tokens"`
	DestructivePattern string   `yaml:"destructive_pattern"`
	DebounceMS         int      `yaml:"debounce_ms"`
	PollIntervalMS     int      `yaml:"poll_interval_ms"`
}

// ClassifierConfig holds the empirically tuned click heuristics
type ClassifierConfig struct {
	WrapperWindowMS int        `yaml:"wrapper_window_ms"`
	RadioWindowMS   int        `yaml:"radio_window_ms"`
	Blob            BlobConfig `yaml:"blob"`
	BreadcrumbMax   int        `yaml:"breadcrumb_max"`
}

// BlobConfig decides when a label is a captured blob rather than UI chrome
type BlobConfig struct {
	MaxChars              int     `yaml:"max_chars"`
	MaxWords              int     `yaml:"max_words"`
	MaxPunctuationDensity float64 `yaml:"max_punctuation_density"`
	MinLexicalDiversity   float64 `yaml:"min_lexical_diversity"`
}

// ApplyConfig tunes the replay runner
type ApplyConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms"`
	CommitPattern  string `yaml:"commit_pattern"`
}

// OutputConfig locates generated artifacts
type OutputConfig struct {
	Dir    string `yaml:"dir"`
	DBPath string `yaml:"db_path"`
}

// MetaConfig holds metadata about the configuration
type MetaConfig struct {
	Version   string    `yaml:"version"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// DefaultConfig returns a new config with sensible defaults
func DefaultConfig() *Config {
	now := time.Now()
	return &Config{
		Devices: map[string]DeviceConfig{
			"default": {
				Name:    "default",
				BaseURL: "http://192.168.1.100",
			},
		},
		Current: "default",
		Browser: BrowserConfig{
			Engine:          "chromedp",
			Headless:        true,
			WindowWidth:     1366,
			WindowHeight:    900,
			ReadTimeoutMS:   400,
			ActionTimeoutMS: 5000,
			SettleMS:        350,
		},
		Discovery: DiscoveryConfig{
			MaxPages:           40,
			MaxClicks:          200,
			MaxModalDepth:      3,
			MaxVariantOptions:  12,
			ExploreVariants:    true,
			MainSelector:       "main, [role=main], #content, .content, body",
			ModalSelector:      "[role=dialog], [role=alertdialog], dialog[open], .modal.show, .modal.in, .ui-dialog",
			AlertTokens:        []string{"your connection is not private", "net::err_cert"},
			DestructivePattern: `(?i)\b(save|apply|reset|reboot|restart|submit|delete|remove|factory|format|update firmware|shut ?down)\b`,
			DebounceMS:         250,
			PollIntervalMS:     150,
		},
		Classifier: ClassifierConfig{
			WrapperWindowMS: 800,
			RadioWindowMS:   1200,
			Blob: BlobConfig{
				MaxChars:              60,
				MaxWords:              8,
				MaxPunctuationDensity: 0.2,
				MinLexicalDiversity:   0.5,
			},
			BreadcrumbMax: 6,
		},
		Apply: ApplyConfig{
			MaxAttempts:    3,
			RetryBackoffMS: 300,
			CommitPattern:  `(?i)^\s*(save|apply|ok)\b`,
		},
		Output: OutputConfig{
			Dir:    "dist",
			DBPath: ".uimap/uimap.db",
		},
		Meta: MetaConfig{
			Version:   "1.0.0",
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Current != "" {
		if _, exists := c.Devices[c.Current]; !exists {
			return NewValidationError("current_device references non-existent device: " + c.Current)
		}
	}
	switch c.Browser.Engine {
	case "chromedp", "rod":
	default:
		return NewValidationError("browser.engine must be chromedp or rod, got: " + c.Browser.Engine)
	}
	if c.Browser.ReadTimeoutMS <= 0 || c.Browser.ActionTimeoutMS <= 0 {
		return NewValidationError("browser timeouts must be positive")
	}
	if c.Discovery.MaxPages <= 0 {
		return NewValidationError("discovery.max_pages must be positive")
	}
	if c.Discovery.MaxModalDepth < 0 {
		return NewValidationError("discovery.max_modal_depth must not be negative")
	}
	if c.Classifier.WrapperWindowMS <= 0 || c.Classifier.RadioWindowMS <= 0 {
		return NewValidationError("classifier windows must be positive")
	}
	if c.Apply.MaxAttempts < 1 {
		return NewValidationError("apply.max_attempts must be at least 1")
	}
	for field, pattern := range map[string]string{
		"discovery.destructive_pattern": c.Discovery.DestructivePattern,
		"apply.commit_pattern":          c.Apply.CommitPattern,
	} {
		if _, err := regexp.Compile(pattern); err != nil {
			return &ValidationError{Field: field, Message: "invalid pattern: " + err.Error()}
		}
	}
	return nil
}

// GetCurrentDevice returns the configuration for the current device
func (c *Config) GetCurrentDevice() *DeviceConfig {
	if c.Current == "" {
		return nil
	}
	dev, exists := c.Devices[c.Current]
	if !exists {
		return nil
	}
	return &dev
}

// StartURL joins the device base URL with its start location
func (d *DeviceConfig) StartURL() string {
	return JoinLocation(d.BaseURL, d.Location)
}

// JoinLocation appends a route ("/path" or "#/hash") to a base URL
func JoinLocation(base, location string) string {
	location = strings.TrimSpace(location)
	if location == "" {
		return base
	}
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	if strings.HasPrefix(location, "#") {
		return strings.SplitN(base, "#", 2)[0] + location
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(location, "/")
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation error: " + e.Field + ": " + e.Message
	}
	return "config validation error: " + e.Message
}

// NewValidationError creates a new validation error
func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

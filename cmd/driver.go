package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/logging"
)

// openDriver starts the configured browser engine. A fixture file swaps
// the browser for the static driver serving that HTML at startURL.
func openDriver(ctx context.Context, cfg *config.Config, startURL, fixture string) (browser.PageDriver, error) {
	if fixture != "" {
		html, err := os.ReadFile(fixture)
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture: %w", err)
		}
		logging.Info("Using static fixture%s", logging.KV("file", fixture, "url", startURL))
		return browser.NewStaticDriver(map[string]string{startURL: string(html)}), nil
	}

	if cfg.Browser.RemoteURL == "" {
		if _, err := browser.Preflight(ctx, startURL, 2); err != nil {
			return nil, err
		}
	}

	switch strings.ToLower(cfg.Browser.Engine) {
	case "rod":
		return browser.NewRodDriver(ctx, cfg.Browser)
	case "", "chromedp":
		return browser.NewChromeDriver(ctx, cfg.Browser)
	default:
		return nil, &config.ValidationError{Field: "browser.engine", Message: fmt.Sprintf("unknown engine %q", cfg.Browser.Engine)}
	}
}

// startURLFor joins a --url/--location override with the current device
func startURLFor(cfg *config.Config, url, location string) (string, error) {
	base := url
	loc := location
	if dev := cfg.GetCurrentDevice(); dev != nil {
		if base == "" {
			base = dev.BaseURL
		}
		if loc == "" && url == "" {
			loc = dev.Location
		}
	}
	if base == "" {
		return "", fmt.Errorf("no device URL: pass --url or run 'uimap init'")
	}
	return config.JoinLocation(base, loc), nil
}

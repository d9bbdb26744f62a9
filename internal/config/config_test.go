package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 800, cfg.Classifier.WrapperWindowMS)
	assert.Equal(t, 1200, cfg.Classifier.RadioWindowMS)
	assert.Equal(t, 3, cfg.Apply.MaxAttempts)
}

func TestValidateRejectsBadEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Browser.Engine = "selenium"
	err := cfg.Validate()
	require.Error(t, err)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestValidateRejectsBadPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Apply.CommitPattern = "(unclosed"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply.commit_pattern")
}

func TestLoaderFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)

	cfg := DefaultConfig()
	cfg.Devices["lab"] = DeviceConfig{Name: "lab", BaseURL: "http://10.0.0.5", Location: "#/settings"}
	cfg.Current = "lab"
	cfg.Discovery.MaxPages = 7
	require.NoError(t, loader.Save(cfg, loader.GetConfigPath()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFileName), []byte("UIMAP_MAX_CLICKS=9\n"), 0644))
	t.Setenv("UIMAP_MAX_CLICKS", "")
	os.Unsetenv("UIMAP_MAX_CLICKS")
	t.Setenv("UIMAP_READ_TIMEOUT_MS", "250")

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "lab", loaded.Current)
	assert.Equal(t, 7, loaded.Discovery.MaxPages)
	assert.Equal(t, 9, loaded.Discovery.MaxClicks)
	assert.Equal(t, 250, loaded.Browser.ReadTimeoutMS)
	assert.Equal(t, "http://10.0.0.5/#/settings", JoinLocation("http://10.0.0.5/", "#/settings"))
	assert.Equal(t, "http://10.0.0.5#/settings", loaded.GetCurrentDevice().StartURL())

	root, err := loader.GetProjectRoot()
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestJoinLocation(t *testing.T) {
	assert.Equal(t, "http://p", JoinLocation("http://p", ""))
	assert.Equal(t, "http://p/net/tcp", JoinLocation("http://p/", "/net/tcp"))
	assert.Equal(t, "http://p/index.html#/net", JoinLocation("http://p/index.html#/home", "#/net"))
	assert.Equal(t, "https://other", JoinLocation("http://p", "https://other"))
}

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/contract"
)

const legacyPayload = `{
  "containers": [{"containerKey": "net", "type": "page", "title": "Network"}],
  "settings": [
    {"containerKey": "net", "settingKey": "net.hostname", "type": "text", "label": "Host Name", "currentValue": "printer",
     "selectors": {"primary": {"kind": "css", "value": "#hostname", "stability": "stable"}}},
    {"containerKey": "net", "settingKey": "net.mode", "type": "select", "label": "IP Mode",
     "options": ["dhcp", "static"], "selectors": {"primary": {"kind": "css", "value": "#mode", "stability": "stable"}}}
  ]
}`

func TestStartURLFor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Devices = map[string]config.DeviceConfig{
		"printer": {Name: "printer", BaseURL: "http://10.0.0.5", Location: "/#/home"},
	}
	cfg.Current = "printer"

	u, err := startURLFor(cfg, "", "")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5/#/home", u)

	// An explicit URL drops the configured location
	u, err = startURLFor(cfg, "http://10.0.0.6", "")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.6", u)

	u, err = startURLFor(cfg, "", "/#/network")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5/#/network", u)

	empty := config.DefaultConfig()
	empty.Devices = nil
	empty.Current = ""
	_, err = startURLFor(empty, "", "")
	assert.Error(t, err)
}

func TestUpdateProjectGitignore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")

	require.NoError(t, updateProjectGitignore(dir))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), ".uimap/")

	require.NoError(t, os.WriteFile(path, []byte("node_modules"), 0644))
	require.NoError(t, updateProjectGitignore(dir))
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "node_modules\n\n# uimap local state\n.uimap/\n", string(content))

	require.NoError(t, updateProjectGitignore(dir))
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(content), string(again))
}

func TestLoadOverlayShapes(t *testing.T) {
	dir := t.TempDir()
	bare := filepath.Join(dir, "bare.json")
	wrapped := filepath.Join(dir, "wrapped.json")
	require.NoError(t, os.WriteFile(bare, []byte(`[{"field_id": "a", "current_value": 1}]`), 0644))
	require.NoError(t, os.WriteFile(wrapped, []byte(`{"values": [{"source_field_id": "b", "current_value": "x"}]}`), 0644))

	list, err := loadOverlay(bare)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].FieldID)

	list, err = loadOverlay(wrapped)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].SourceFieldID)
}

func TestContractFromLegacyPayloadWithOverlay(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "legacy.json")
	overlay := filepath.Join(dir, "overlay.json")
	out := filepath.Join(dir, "dist")
	require.NoError(t, os.WriteFile(input, []byte(legacyPayload), 0644))
	require.NoError(t, os.WriteFile(overlay, []byte(`[{"source_field_id": "net.mode", "current_value": "static"}]`), 0644))

	job := contractJob{input: input, overlay: overlay, out: out, clickLog: filepath.Join(dir, "missing.json")}
	require.NoError(t, job.generate())

	data, err := os.ReadFile(filepath.Join(out, contract.SchemaFile))
	require.NoError(t, err)
	s, err := contract.Normalize(data)
	require.NoError(t, err)
	mode := s.Record("net.mode")
	require.NotNil(t, mode)
	assert.Equal(t, "static", mode.Value.CurrentValue)
	assert.Equal(t, "static", mode.Value.DefaultValue)
	assert.FileExists(t, filepath.Join(out, contract.VerifyFile))
	assert.NoFileExists(t, filepath.Join(out, contract.NavigationFile))
}

func TestContractRejectsUnknownPayload(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "x.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"hello": 1}`), 0644))

	job := contractJob{input: input, out: dir}
	assert.Error(t, job.generate())
}

func TestCommandsReturnErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Output.Dir = dir
	cfg.Output.DBPath = filepath.Join(dir, "uimap.db")
	prev := uimapConfig
	uimapConfig = cfg
	t.Cleanup(func() { uimapConfig = prev })

	err := runRuns(runsCmd, []string{"run-unknown"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-unknown")

	err = runApply(applyCmd, []string{filepath.Join(dir, "plan.json")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan.json")

	err = runImport(importCmd, []string{filepath.Join(dir, "ui_map.json")})
	require.Error(t, err)
}

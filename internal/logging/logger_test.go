package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKV(t *testing.T) {
	assert.Equal(t, " page=p1 step=2", KV("page", "p1", "step", 2))
	assert.Equal(t, ` label="Save changes"`, KV("label", "Save changes"))
	assert.Equal(t, " orphan=<missing>", KV("orphan"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}

func TestInitializeWritesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir))
	defer GetLogger().Close()

	GetLogger().SetLevel(DEBUG)
	Debug("crawl started%s", KV("url", "http://printer.local"))

	data, err := os.ReadFile(filepath.Join(dir, ".uimap", "logs", "uimap.log"))
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, "[DEBUG] crawl started url=http://printer.local"), line)
}

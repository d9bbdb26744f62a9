package browser

import (
	"context"
	"testing"

	"github.com/lance13c/uimap/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const staticFixture = `<html><head><title>Device</title></head><body><main>
<select id="ipmode" name="ipmode">
  <option value="dhcp" selected>DHCP</option>
  <option value="static" data-uimap-shows="#static-block">Static</option>
</select>
<div id="static-block" hidden><label for="ip">IP Address</label><input id="ip" value=""></div>
<label><input type="radio" name="duplex" value="half"> Half</label>
<label><input type="radio" name="duplex" value="full" checked> Full</label>
<button data-uimap-open="#adv">Advanced</button>
<div id="adv" role="dialog" aria-label="Advanced Settings" hidden>
  <input id="mtu" type="number" value="1500">
  <button data-uimap-close>Cancel</button>
</div>
<a href="/status.html">Status</a>
</main></body></html>`

func newStatic(t *testing.T) *StaticDriver {
	t.Helper()
	d := NewStaticDriver(map[string]string{
		"http://dev/":            staticFixture,
		"http://dev/status.html": `<html><head><title>Status</title></head><body>ok</body></html>`,
	})
	require.NoError(t, d.Goto(context.Background(), "http://dev/"))
	return d
}

func TestStaticSelectRevealsDependentBlock(t *testing.T) {
	ctx := context.Background()
	d := newStatic(t)

	visible, err := d.IsVisible(ctx, CSS("#ip"))
	require.NoError(t, err)
	assert.False(t, visible)

	require.NoError(t, d.SelectOption(ctx, CSS("#ipmode"), "static"))
	visible, err = d.IsVisible(ctx, CSS("#ip"))
	require.NoError(t, err)
	assert.True(t, visible)

	v, err := d.ReadValue(ctx, CSS("#ipmode"))
	require.NoError(t, err)
	assert.Equal(t, "static", v)

	require.NoError(t, d.SelectOption(ctx, CSS("#ipmode"), "DHCP"))
	visible, _ = d.IsVisible(ctx, CSS("#ip"))
	assert.False(t, visible)
}

func TestStaticRadioAndDialog(t *testing.T) {
	ctx := context.Background()
	d := newStatic(t)

	require.NoError(t, d.Click(ctx, For(types.Selector{Kind: types.SelectorLabel, Text: "Half"})))
	half, err := d.IsChecked(ctx, CSS(`input[value="half"]`))
	require.NoError(t, err)
	assert.True(t, half)
	full, _ := d.IsChecked(ctx, CSS(`input[value="full"]`))
	assert.False(t, full)

	require.NoError(t, d.Click(ctx, For(types.Selector{Kind: types.SelectorRole, Role: "button", Name: "Advanced"})))
	snap, err := d.Snapshot(ctx, SnapshotOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.KindModal, snap.ScopeKind)
	assert.Equal(t, "Advanced Settings", snap.ModalTitle)

	require.NoError(t, d.Press(ctx, "Escape"))
	snap, err = d.Snapshot(ctx, SnapshotOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.KindPage, snap.ScopeKind)
}

func TestStaticLinkNavigation(t *testing.T) {
	ctx := context.Background()
	d := newStatic(t)
	require.NoError(t, d.Click(ctx, For(types.Selector{Kind: types.SelectorRole, Role: "link", Name: "Status"})))
	loc, _ := d.Location(ctx)
	assert.Equal(t, "http://dev/status.html", loc)
	title, _ := d.Title(ctx)
	assert.Equal(t, "Status", title)
	assert.Contains(t, d.Calls(), "click role=link[name=\"Status\"]")
}

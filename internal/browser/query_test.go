package browser

import (
	"testing"

	"github.com/lance13c/uimap/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const queryFixture = `<html><head><title>Network</title></head><body>
<main>
  <label for="host">Host Name</label><input id="host" name="hostname" value="printer1">
  <label>Enable DHCP <input type="checkbox" id="dhcp" checked></label>
  <select id="mode" aria-label="Mode"><option value="a">Auto</option><option value="m" selected>Manual</option></select>
  <button>Save</button>
  <div hidden><input id="secret" name="secret"></div>
  <span id="lbl">Port Number</span><input type="number" aria-labelledby="lbl" id="port">
</main></body></html>`

func TestResolveSelectorKinds(t *testing.T) {
	doc, err := ParseHTML(queryFixture)
	require.NoError(t, err)

	cases := []struct {
		name string
		sel  types.Selector
		id   string
	}{
		{"label for", types.Selector{Kind: types.SelectorLabel, Text: "host name"}, "host"},
		{"wrapping label", types.Selector{Kind: types.SelectorLabel, Text: "Enable DHCP"}, "dhcp"},
		{"aria-label", types.Selector{Kind: types.SelectorLabel, Text: "Mode"}, "mode"},
		{"labelledby", types.Selector{Kind: types.SelectorRole, Role: "spinbutton", Name: "Port Number"}, "port"},
		{"role textbox", types.Selector{Kind: types.SelectorRole, Role: "textbox", Name: "Host Name"}, "host"},
		{"css id", types.Selector{Kind: types.SelectorCSS, Value: "#mode"}, "mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(doc, For(tc.sel))
			require.Equal(t, 1, got.Length())
			id, _ := got.Attr("id")
			assert.Equal(t, tc.id, id)
		})
	}

	buttons := Resolve(doc, For(types.Selector{Kind: types.SelectorText, Text: "save"}))
	require.Equal(t, 1, buttons.Length())
	assert.Equal(t, "button", buttons.Nodes[0].Data)
}

func TestHiddenAndDisabled(t *testing.T) {
	doc, err := ParseHTML(queryFixture)
	require.NoError(t, err)
	assert.True(t, IsHidden(doc.Find("#secret")))
	assert.False(t, IsHidden(doc.Find("#host")))

	annotated, err := ParseHTML(`<input id="x" data-uimap-visible="0"><input id="y" disabled>`)
	require.NoError(t, err)
	assert.True(t, IsHidden(annotated.Find("#x")))
	assert.True(t, IsDisabled(annotated.Find("#y")))
}

func TestHTMLDiffer(t *testing.T) {
	d := NewHTMLDiffer()
	assert.True(t, d.HasChanged("p", "<b>a</b>"))
	assert.False(t, d.HasChanged("p", "<b>a</b>\n"))
	assert.False(t, d.HasChanged("p", `<b data-uimap-hit="1">a</b>`))
	assert.True(t, d.HasChanged("p", "<b>b</b>"))
}

func TestCleanSnapshot(t *testing.T) {
	src := `<html><head><script>boot()</script><style>.a{}</style></head><body><!-- build 12 -->
<div class="a b c d" onclick="go()" data-uimap-hit="3">
  <label for="h">Host    Name</label>
  <input id="h" value="p" style="color:red" aria-label="Host">
  <img src="logo.png">
</div></body></html>`

	out, err := CleanSnapshot(src)
	require.NoError(t, err)
	assert.Contains(t, out, `class="a b c"`)
	assert.Contains(t, out, `data-uimap-hit="3"`)
	assert.Contains(t, out, `<label for="h">Host Name</label>`)
	assert.Contains(t, out, `aria-label="Host"`)
	for _, gone := range []string{"boot()", ".a{}", "build 12", "onclick", "style=", "logo.png"} {
		assert.NotContains(t, out, gone)
	}

	doc, err := ParseHTML(out)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Find("#h").Length())
}

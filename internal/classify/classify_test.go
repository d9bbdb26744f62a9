package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/types"
)

func newTestNormalizer() *Normalizer {
	cfg := config.DefaultConfig()
	return NewNormalizer(NewClassifier(nil, cfg.Discovery.AlertTokens), cfg.Classifier)
}

func TestClassifyRuleOrder(t *testing.T) {
	c := NewClassifier(nil, config.DefaultConfig().Discovery.AlertTokens)

	tests := []struct {
		name string
		raw  RawClick
		want types.ClickKind
	}{
		{"tab", RawClick{Tag: "li", Role: "tab", Text: "Network"}, types.ClickTab},
		{"menu", RawClick{Tag: "a", Role: "menuitem", Text: "Security"}, types.ClickMenu},
		{"navigating link", RawClick{Tag: "a", Role: "link", Href: "/status", Text: "Status"}, types.ClickLink},
		{"dummy link opens modal", RawClick{Tag: "a", Role: "link", Href: "#", Text: "Advanced"}, types.ClickModalOpen},
		{"radio input", RawClick{Tag: "input", Role: "radio", Type: "radio", Label: "Full"}, types.ClickRadioSelect},
		{"radio label", RawClick{Tag: "label", ForType: "radio", Text: "Full"}, types.ClickRadioSelect},
		{"combobox", RawClick{Tag: "div", Role: "combobox", Text: "Auto"}, types.ClickDropdownTrigger},
		{"option", RawClick{Tag: "li", Role: "option", Text: "Manual"}, types.ClickOption},
		{"cancel", RawClick{Tag: "button", Role: "button", Text: "Cancel"}, types.ClickModalClose},
		{"advanced", RawClick{Tag: "button", Role: "button", Text: "Advanced Settings"}, types.ClickModalOpen},
		{"switch", RawClick{Tag: "div", Role: "switch", AriaLabel: "Enable SNMP"}, types.ClickToggle},
		{"checkbox label", RawClick{Tag: "label", ForType: "checkbox", Text: "IPv6"}, types.ClickToggle},
		{"plain button", RawClick{Tag: "button", Role: "button", Text: "Refresh"}, types.ClickButton},
		{"text input", RawClick{Tag: "input", Role: "textbox", Type: "text"}, types.ClickInput},
		{"wrapper", RawClick{Tag: "div", Text: "hello"}, types.ClickUnknown},
		{"alert", RawClick{Tag: "button", Role: "button", ID: "details-button", Text: "Advanced", CSS: "#security-warning > button"}, types.ClickSystemAlert},
		{"cert interstitial", RawClick{Tag: "a", Role: "link", Href: "#", Text: "Proceed", URL: "chrome-error://chromewebdata/"}, types.ClickSystemAlert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.raw)
			assert.Equal(t, tt.want, got.Kind, "rule %s", got.Rule)
		})
	}
}

func TestSystemAlertIgnoresDeviceCertificatePages(t *testing.T) {
	c := NewClassifier(nil, config.DefaultConfig().Discovery.AlertTokens)

	link := c.Classify(RawClick{Tag: "a", Role: "link", Href: "/certificate.html", Text: "Certificate Management", URL: "http://192.168.1.100/index.html"})
	assert.Equal(t, types.ClickLink, link.Kind)

	sel := c.Classify(RawClick{Tag: "select", Role: "combobox", ID: "cert-type", Label: "Certificate Type", URL: "http://192.168.1.100/certificate.html"})
	assert.Equal(t, types.ClickDropdownTrigger, sel.Kind)

	untrusted := c.Classify(RawClick{Tag: "button", Role: "button", Text: "Delete Untrusted Certificates", CSS: "#cert-panel > button"})
	assert.NotEqual(t, types.ClickSystemAlert, untrusted.Kind)

	proceed := c.Classify(RawClick{Tag: "a", ID: "proceed-link", Text: "Proceed to 192.168.1.100 (unsafe)"})
	assert.Equal(t, types.ClickSystemAlert, proceed.Kind)

	warning := c.Classify(RawClick{Tag: "div", Text: "Your connection is not private"})
	assert.Equal(t, types.ClickSystemAlert, warning.Kind)
}

func TestCloseLabelMatchesWholeLabel(t *testing.T) {
	c := NewClassifier(nil, nil)

	for _, text := range []string{"Cancel", " close ", "Done", "OK"} {
		assert.Equal(t, types.ClickModalClose, c.Classify(RawClick{Tag: "button", Role: "button", Text: text}).Kind, text)
	}
	for _, text := range []string{"Back Up Settings", "OK to Reboot", "Close Session Log", "Back"} {
		assert.NotEqual(t, types.ClickModalClose, c.Classify(RawClick{Tag: "button", Role: "button", Text: text}).Kind, text)
	}
}

func TestNormalizerCollapsesRadioLabelAndInput(t *testing.T) {
	n := newTestNormalizer()

	out := n.Push(RawClick{Timestamp: 1000, Tag: "label", ForType: "radio", Text: "Full Duplex", CSS: "form > div.duplex > label"})
	assert.Empty(t, out)
	assert.True(t, n.Pending())

	out = n.Push(RawClick{Timestamp: 1010, Tag: "input", Type: "radio", Role: "radio", Label: "Full Duplex", CSS: "form > div.duplex > input"})
	require.Len(t, out, 1)
	assert.Equal(t, types.ClickRadioSelect, out[0].Kind)
	assert.Equal(t, "Full Duplex", out[0].Label)
	assert.Equal(t, 1, out[0].Collapsed)
	assert.False(t, n.Pending())
}

func TestNormalizerReleasesRadioLabelOutsideWindow(t *testing.T) {
	n := newTestNormalizer()

	n.Push(RawClick{Timestamp: 1000, Tag: "label", ForType: "radio", Text: "Half", CSS: "form > div > label"})
	out := n.Push(RawClick{Timestamp: 5000, Tag: "input", Type: "radio", Role: "radio", Label: "Half", CSS: "form > div > input"})
	require.Len(t, out, 2)
	assert.Equal(t, types.ClickRadioSelect, out[0].Kind)
	assert.Equal(t, "label", out[0].Raw.Tag)
	assert.Equal(t, 0, out[1].Collapsed)
}

func TestNormalizerCollapsesWrapperBeforeDropdown(t *testing.T) {
	n := newTestNormalizer()

	blob := "Automatic Manual Disabled Automatic Manual Disabled Automatic Manual Disabled"
	out := n.Push(RawClick{Timestamp: 100, Tag: "div", Text: blob, Subtree: "form>div.speed"})
	assert.Empty(t, out)

	out = n.Push(RawClick{Timestamp: 300, Tag: "div", Role: "combobox", Text: "Automatic", Subtree: "form>div.speed>div"})
	require.Len(t, out, 1)
	assert.Equal(t, types.ClickDropdownTrigger, out[0].Kind)
	assert.Equal(t, "Automatic", out[0].Label)
	assert.Equal(t, 1, out[0].Collapsed)
}

func TestNormalizerKeepsUnrelatedWrapper(t *testing.T) {
	n := newTestNormalizer()

	blob := "Automatic Manual Disabled Automatic Manual Disabled Automatic Manual Disabled"
	n.Push(RawClick{Timestamp: 100, Tag: "div", Text: blob, Subtree: "form>div.speed"})
	out := n.Push(RawClick{Timestamp: 200, Tag: "div", Role: "combobox", Text: "Auto", Subtree: "nav>div"})
	require.Len(t, out, 2)
	assert.Equal(t, types.ClickUnknown, out[0].Kind)

	assert.Nil(t, n.Flush())
}

func TestNormalizerFlush(t *testing.T) {
	n := newTestNormalizer()
	n.Push(RawClick{Timestamp: 1, Tag: "label", ForType: "radio", Text: "Off"})
	out := n.Flush()
	require.Len(t, out, 1)
	assert.False(t, n.Pending())
}

func TestInferTransitionPriority(t *testing.T) {
	// scope change beats URL change and kind
	assert.Equal(t, types.TransitionOpenModal, InferTransition(Observation{
		Kind: types.ClickLink, ScopeBefore: types.KindPage, ScopeAfter: types.KindModal,
		URLBefore: "http://dev/a", URLAfter: "http://dev/b",
	}))
	assert.Equal(t, types.TransitionCloseModal, InferTransition(Observation{
		Kind: types.ClickButton, ScopeBefore: types.KindModal, ScopeAfter: types.KindPage,
	}))
	// URL change beats kind
	assert.Equal(t, types.TransitionNavigate, InferTransition(Observation{
		Kind: types.ClickTab, ScopeBefore: types.KindPage, ScopeAfter: types.KindPage,
		URLBefore: "http://dev/#/a", URLAfter: "http://dev/#/b",
	}))
	assert.Equal(t, types.TransitionTabSwitch, InferTransition(Observation{
		Kind: types.ClickTab, ScopeBefore: types.KindPage, ScopeAfter: types.KindPage,
		URLBefore: "http://dev/net/", URLAfter: "http://dev/net",
	}))
	assert.Equal(t, types.TransitionExpandSection, InferTransition(Observation{
		Kind: types.ClickToggle, ScopeBefore: types.KindPage, ScopeAfter: types.KindPage,
	}))
	assert.Equal(t, types.TransitionDismissAlert, InferTransition(Observation{Kind: types.ClickSystemAlert}))
}

func TestRevealPolicy(t *testing.T) {
	for _, tt := range []types.TransitionType{
		types.TransitionOpenModal, types.TransitionNavigate, types.TransitionTabSwitch, types.TransitionExpandSection,
	} {
		assert.True(t, RevealsAllowed(tt), tt)
	}
	assert.False(t, RevealsAllowed(types.TransitionCloseModal))
	assert.False(t, RevealsAllowed(types.TransitionDismissAlert))

	e := &types.ClickLogEntry{
		TransitionType:          types.TransitionCloseModal,
		NewFieldIDs:             []string{"a"},
		NewlyDiscoveredFieldIDs: []string{"a"},
	}
	ApplyRevealPolicy(e)
	assert.Empty(t, e.NewFieldIDs)
	assert.NotNil(t, e.NewFieldIDs)
	assert.Equal(t, []string{"a"}, e.NewlyDiscoveredFieldIDs)
}

func TestBlobFilter(t *testing.T) {
	b := DefaultBlobFilter()
	assert.False(t, b.IsBlob("Network Settings"))
	assert.False(t, b.IsBlob("TCP/IP"))
	assert.True(t, b.IsBlob("one two three four five six seven eight nine"))
	assert.True(t, b.IsBlob("a a a a b"))
	assert.True(t, b.IsBlob("::--//**"))
	assert.False(t, b.IsBlob(""))
}

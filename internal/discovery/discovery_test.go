package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/types"
)

const networkPage = `<html><head><title>Device</title></head><body><main>
<h1>Network</h1>
<fieldset><legend>IPv4</legend>
  <label for="hostname">Host Name:</label><input id="hostname" name="hostname" value="printer">
  <input id="mtu" type="number" aria-label="MTU" value="1500">
  <label><input type="checkbox" id="ipv6" checked> Enable IPv6</label>
  <input name="contact" placeholder="Contact">
  <input type="text">
</fieldset>
<div role="radiogroup" aria-label="Duplex">
  <label><input type="radio" name="duplex" value="half"> Half</label>
  <label><input type="radio" name="duplex" value="full" checked> Full</label>
</div>
<label for="ipmode">IP Mode</label>
<select id="ipmode" name="ipmode">
  <option value="dhcp" selected>DHCP</option>
  <option value="static" data-uimap-shows="#static-block">Static</option>
</select>
<div id="static-block" hidden><label for="ip">IP Address</label><input id="ip" value=""></div>
<button data-uimap-open="#adv">Advanced</button>
<div id="adv" role="dialog" aria-label="Advanced Settings" hidden>
  <label for="ttl">TTL</label><input id="ttl" type="number" value="64">
  <button data-uimap-close>Cancel</button>
</div>
<a href="/status.html">Status</a>
</main></body></html>`

const statusPage = `<html><head><title>Status</title></head><body><main>
<h1>Status</h1>
<label for="uptime">Uptime</label><input id="uptime" value="3 days" readonly>
</main></body></html>`

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Browser.SettleMS = 0
	cfg.Browser.ActionTimeoutMS = 200
	cfg.Discovery.PollIntervalMS = 5
	cfg.Discovery.DebounceMS = 5
	return cfg
}

func newDriver() *browser.StaticDriver {
	return browser.NewStaticDriver(map[string]string{
		"http://dev/":            networkPage,
		"http://dev/status.html": statusPage,
	})
}

func scanOf(t *testing.T, d browser.PageDriver) *Scan {
	t.Helper()
	scan, err := NewProbe(testConfig().Discovery).Scan(context.Background(), d)
	require.NoError(t, err)
	return scan
}

func fieldByLabel(t *testing.T, fields []types.FieldEntry, label string) types.FieldEntry {
	t.Helper()
	for _, f := range fields {
		if f.Label == label {
			return f
		}
	}
	t.Fatalf("no field labelled %q", label)
	return types.FieldEntry{}
}

func TestProbeIsDeterministic(t *testing.T) {
	ctx := context.Background()
	d := newDriver()
	require.NoError(t, d.Goto(ctx, "http://dev/"))
	first := scanOf(t, d)

	require.NoError(t, d.Goto(ctx, "http://dev/"))
	second := scanOf(t, d)

	assert.Equal(t, first.Scope.ID, second.Scope.ID)
	assert.Equal(t, first.Keys(), second.Keys())
	assert.Equal(t, types.KindPage, first.Scope.Kind)
	assert.Equal(t, "Network", first.Scope.Title)
}

func TestProbeLabelsAndRadioGroup(t *testing.T) {
	ctx := context.Background()
	d := newDriver()
	require.NoError(t, d.Goto(ctx, "http://dev/"))
	scan := scanOf(t, d)

	host := fieldByLabel(t, scan.Fields, "Host Name")
	assert.Equal(t, types.LabelExplicit, host.LabelQuality)
	assert.Equal(t, "printer", host.CurrentValue)
	assert.Equal(t, "IPv4", host.Group.Title)

	mtu := fieldByLabel(t, scan.Fields, "MTU")
	assert.Equal(t, types.ControlSpinbutton, mtu.ControlType)
	assert.Equal(t, 1500.0, mtu.CurrentValue)

	ipv6 := fieldByLabel(t, scan.Fields, "Enable IPv6")
	assert.Equal(t, true, ipv6.CurrentValue)

	contact := fieldByLabel(t, scan.Fields, "IPv4")
	assert.Equal(t, types.LabelDerived, contact.LabelQuality, "legend outranks placeholder")

	var radios []types.FieldEntry
	for _, f := range scan.Fields {
		if f.Type == types.FieldRadio {
			radios = append(radios, f)
		}
	}
	require.Len(t, radios, 1, "radio inputs collapse into one group field")
	duplex := radios[0]
	assert.Equal(t, "Duplex", duplex.Label)
	assert.Equal(t, types.ControlRadioGroup, duplex.ControlType)
	assert.Equal(t, "full", duplex.CurrentValue)
	require.Len(t, duplex.Options, 2)
	assert.Equal(t, "full", duplex.Options[0].Value)
	assert.Equal(t, "half", duplex.Options[1].Value)

	for _, f := range scan.Fields {
		assert.NotEqual(t, "IP Address", f.Label, "hidden controls are not extracted")
		assert.NotEqual(t, "TTL", f.Label, "closed dialogs are not part of the page scope")
	}
}

func TestUnlabeledControlGetsPlaceholder(t *testing.T) {
	ctx := context.Background()
	d := browser.NewStaticDriver(map[string]string{
		"http://dev/": `<html><body><main><div><input type="text"></div></main></body></html>`,
	})
	require.NoError(t, d.Goto(ctx, "http://dev/"))
	scan := scanOf(t, d)
	require.Len(t, scan.Fields, 1)
	assert.Equal(t, "Unlabeled textbox 1", scan.Fields[0].Label)
	assert.Equal(t, types.LabelMissing, scan.Fields[0].LabelQuality)
}

func TestSelectorsArePrioritised(t *testing.T) {
	ctx := context.Background()
	d := newDriver()
	require.NoError(t, d.Goto(ctx, "http://dev/"))
	host := fieldByLabel(t, scanOf(t, d).Fields, "Host Name")

	require.NotEmpty(t, host.Selectors)
	assert.Equal(t, types.SelectorLabel, host.Selectors[0].Kind)
	for i, s := range host.Selectors {
		require.NotNil(t, s.Priority)
		assert.Equal(t, i+1, *s.Priority)
		require.NotNil(t, s.MatchCount)
		assert.Equal(t, 1, *s.MatchCount, s.String())
	}
	assert.True(t, HasStableSelector(host.Selectors))

	var idSel *types.Selector
	for i := range host.Selectors {
		if host.Selectors[i].Value == "#hostname" {
			idSel = &host.Selectors[i]
		}
	}
	require.NotNil(t, idSel)
	assert.Equal(t, types.Stable, idSel.Stability)
}

func TestRegistryDefaultsAreWriteOnce(t *testing.T) {
	r := NewRegistry()
	f := types.FieldEntry{SourceID: "k/id:mtu", Label: "Unlabeled spinbutton 1", LabelQuality: types.LabelMissing, CurrentValue: 1500.0}

	fresh := r.Observe([]types.FieldEntry{f})
	assert.Equal(t, []string{"k/id:mtu"}, fresh)

	f.CurrentValue = 9000.0
	f.Label, f.LabelQuality = "MTU", types.LabelExplicit
	assert.Empty(t, r.Observe([]types.FieldEntry{f}))

	def, ok := r.Default("k/id:mtu")
	require.True(t, ok)
	assert.Equal(t, 1500.0, def)

	fields := r.Fields()
	require.Len(t, fields, 1)
	assert.Equal(t, 9000.0, fields[0].CurrentValue)
	assert.Equal(t, 1500.0, fields[0].DefaultValue)
	assert.Equal(t, "MTU", fields[0].Label, "better label quality wins")

	f.Label, f.LabelQuality = "mtu", types.LabelDerived
	r.Observe([]types.FieldEntry{f})
	assert.Equal(t, "MTU", r.Fields()[0].Label)
}

func TestRegistrySwapVisibleIsPerScope(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.SwapVisible("page-a", []string{"x", "y"}))
	assert.Nil(t, r.SwapVisible("modal-b", []string{"z"}))
	prev := r.SwapVisible("page-a", []string{"x"})
	assert.Equal(t, map[string]bool{"x": true, "y": true}, prev)
}

// every registered field must be listed by some click-log entry
func assertReconciled(t *testing.T, res *types.Discovery) {
	t.Helper()
	discovered := res.ClickLog.DiscoveredIDs()
	for _, f := range res.Fields {
		_, ok := discovered[f.SourceID]
		assert.True(t, ok, "field %s (%s) missing from click log", f.SourceID, f.Label)
	}
	known := map[string]bool{}
	for _, f := range res.Fields {
		known[f.SourceID] = true
	}
	for id := range discovered {
		assert.True(t, known[id], "click log lists unknown field %s", id)
	}
}

func TestSessionExploresVariantsAndRestores(t *testing.T) {
	ctx := context.Background()
	d := newDriver()
	s, err := NewSession(d, testConfig(), Options{Mode: "crawl", ExploreVariants: true})
	require.NoError(t, err)

	first, err := s.Start(ctx, "http://dev/")
	require.NoError(t, err)
	assert.Equal(t, types.TransitionNavigate, first.TransitionType)
	assert.Equal(t, "initial load", first.TargetText)

	v, err := d.ReadValue(ctx, browser.CSS("#ipmode"))
	require.NoError(t, err)
	assert.Equal(t, "dhcp", v, "original selection restored")
	visible, err := d.IsVisible(ctx, browser.CSS("#ip"))
	require.NoError(t, err)
	assert.False(t, visible)

	res := s.Result()
	mode := fieldByLabel(t, res.Fields, "IP Mode")
	ip := fieldByLabel(t, res.Fields, "IP Address")
	require.NotEmpty(t, mode.Dependencies)
	var dep *types.Dependency
	for i := range mode.Dependencies {
		if mode.Dependencies[i].When == "static" {
			dep = &mode.Dependencies[i]
		}
	}
	require.NotNil(t, dep)
	assert.Contains(t, dep.Reveals, ip.SourceID)
	assert.False(t, ip.Visibility.Visible)
	assert.Equal(t, "dhcp", mode.DefaultValue)

	duplex := fieldByLabel(t, res.Fields, "Duplex")
	assert.Equal(t, "full", duplex.DefaultValue)
	checked, err := d.IsChecked(ctx, browser.CSS(`input[value="full"]`))
	require.NoError(t, err)
	assert.True(t, checked)

	assertReconciled(t, res)
}

func TestSessionModalTransitions(t *testing.T) {
	ctx := context.Background()
	d := newDriver()
	s, err := NewSession(d, testConfig(), Options{Mode: "crawl"})
	require.NoError(t, err)
	_, err = s.Start(ctx, "http://dev/")
	require.NoError(t, err)

	adv := fieldByLabel(t, s.Current().Fields, "Advanced")
	assert.True(t, adv.OpensModal)
	assert.Equal(t, "adv", adv.ModalRef)

	open, err := s.Click(ctx, adv.Label, types.ClickModalOpen, adv.Selectors)
	require.NoError(t, err)
	assert.Equal(t, types.TransitionOpenModal, open.TransitionType)
	assert.Equal(t, types.KindModal, open.ScopeAfter)
	require.Len(t, open.NewFieldIDs, 1)
	assert.Equal(t, open.NewFieldIDs, open.NewlyDiscoveredFieldIDs)

	modal := s.Current()
	assert.Equal(t, "Advanced Settings", modal.Scope.Title)
	require.Len(t, modal.Actions, 1)
	assert.Equal(t, types.ActionCancel, modal.Actions[0].Kind)

	closed, err := s.Click(ctx, "Cancel", types.ClickModalClose, modal.Actions[0].Selectors)
	require.NoError(t, err)
	assert.Equal(t, types.TransitionCloseModal, closed.TransitionType)
	assert.Empty(t, closed.NewFieldIDs)
	assert.Empty(t, closed.NewlyDiscoveredFieldIDs)

	page, ok := s.Registry().Page(modal.Scope.ID)
	require.True(t, ok)
	assert.Equal(t, open.NodeIDBefore, page.ParentID)
	require.Len(t, page.NavPath, 2)
	assert.Equal(t, types.NavGoto, page.NavPath[0].Action)
	assert.Equal(t, types.NavClick, page.NavPath[1].Action)
	assert.Equal(t, "Advanced", page.NavPath[1].Label)

	assertReconciled(t, s.Result())
}

func TestCrawlerVisitsPagesAndModals(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d := newDriver()
	cfg := testConfig()
	s, err := NewSession(d, cfg, Options{Mode: "crawl"})
	require.NoError(t, err)

	res, err := NewCrawler(s, cfg).Run(ctx, "http://dev/")
	require.NoError(t, err)

	kinds := map[types.NodeKind]int{}
	titles := map[string]bool{}
	for _, p := range res.Pages {
		kinds[p.Kind]++
		titles[p.Title] = true
	}
	assert.Equal(t, 2, kinds[types.KindPage])
	assert.Equal(t, 1, kinds[types.KindModal])
	assert.True(t, titles["Status"])
	assert.True(t, titles["Advanced Settings"])

	uptime := fieldByLabel(t, res.Fields, "Uptime")
	assert.Equal(t, types.ControlTextDisplay, uptime.ControlType)
	fieldByLabel(t, res.Fields, "TTL")

	assertReconciled(t, res)
}

func TestCrawlerDumpsPageMarkup(t *testing.T) {
	dir := t.TempDir()
	d := newDriver()
	cfg := testConfig()
	cfg.Discovery.MaxPages = 1
	s, err := NewSession(d, cfg, Options{Mode: "crawl", ScreenshotDir: dir})
	require.NoError(t, err)

	res, err := NewCrawler(s, cfg).Run(context.Background(), "http://dev/")
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)

	// The static driver has no screenshots, the markup dump still lands
	assert.Empty(t, res.Pages[0].Snapshot)
	data, err := os.ReadFile(filepath.Join(dir, res.Pages[0].ID+".html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `id="hostname"`)
	assert.NotContains(t, string(data), "<script")
}

func TestCrawlerRespectsPageBudget(t *testing.T) {
	d := newDriver()
	cfg := testConfig()
	cfg.Discovery.MaxPages = 1
	s, err := NewSession(d, cfg, Options{Mode: "crawl"})
	require.NoError(t, err)

	res, err := NewCrawler(s, cfg).Run(context.Background(), "http://dev/")
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, "Network", res.Pages[0].Title)
}

func TestCoalesceKeepsLastOfARun(t *testing.T) {
	events := []browser.RecordedEvent{
		{Reason: "mutation", TS: 1},
		{Reason: "mutation", TS: 2},
		{Reason: "click", TS: 3},
		{Reason: "click", TS: 4},
		{Reason: "navigation", TS: 5},
	}
	out := Coalesce(events)
	require.Len(t, out, 4)
	assert.Equal(t, int64(2), out[0].TS)
	assert.Equal(t, int64(3), out[1].TS)
	assert.Equal(t, int64(4), out[2].TS)
}

func TestEventSelectorsOrder(t *testing.T) {
	sels := EventSelectors(&browser.EventTarget{
		Tag: "button", Role: "button", ID: "btn-1234", Label: "Advanced", CSS: "main > button",
	})
	require.Len(t, sels, 3)
	assert.Equal(t, types.SelectorRole, sels[0].Kind)
	assert.Equal(t, "#btn-1234", sels[1].Value)
	assert.Equal(t, types.Fragile, sels[1].Stability, "generated ids are fragile")
	assert.Equal(t, "main > button", sels[2].Value)
}

// scriptedRecorder performs one operator action per drain and reports it
type scriptedRecorder struct {
	driver *browser.StaticDriver
	steps  []func() []browser.RecordedEvent
}

func (r *scriptedRecorder) Drain(ctx context.Context) ([]browser.RecordedEvent, error) {
	if len(r.steps) == 0 {
		return nil, nil
	}
	step := r.steps[0]
	r.steps = r.steps[1:]
	return step(), nil
}

func TestManualCaptureRecordsOperatorClicks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d := newDriver()
	cfg := testConfig()
	s, err := NewSession(d, cfg, Options{Mode: "manual"})
	require.NoError(t, err)

	rec := &scriptedRecorder{driver: d}
	rec.steps = append(rec.steps, func() []browser.RecordedEvent {
		target := browser.For(types.Selector{Kind: types.SelectorRole, Role: "button", Name: "Advanced"})
		assert.NoError(t, d.Click(ctx, target))
		return []browser.RecordedEvent{{
			Reason: "click", TS: 1000, URL: "http://dev/",
			Target: &browser.EventTarget{Tag: "button", Role: "button", Label: "Advanced", Text: "Advanced"},
		}}
	})

	var seen []types.ClickLogEntry
	m := NewManualCapture(s, rec, cfg, 1)
	m.OnEntry = func(e types.ClickLogEntry) { seen = append(seen, e) }

	res, err := m.Run(ctx, "http://dev/")
	require.NoError(t, err)
	require.Len(t, res.ClickLog.Clicks, 2)
	click := res.ClickLog.Clicks[1]
	assert.Equal(t, types.ClickModalOpen, click.Kind)
	assert.Equal(t, types.TransitionOpenModal, click.TransitionType)
	assert.Equal(t, "Advanced", click.TargetText)
	assert.Len(t, seen, 2)
	assertReconciled(t, res)
}

func TestManualCaptureRegistersCertificatePage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d := browser.NewStaticDriver(map[string]string{
		"http://dev/": `<html><head><title>Home</title></head><body><main>
<h1>Home</h1><a href="/certificate.html">Certificate Management</a>
</main></body></html>`,
		"http://dev/certificate.html": `<html><head><title>Certificates</title></head><body><main>
<h1>Certificates</h1>
<label for="certtype">Certificate Type</label>
<select id="certtype"><option value="self" selected>Self-signed</option><option value="ca">CA-signed</option></select>
</main></body></html>`,
	})
	cfg := testConfig()
	cfg.Discovery.ExploreVariants = false
	s, err := NewSession(d, cfg, Options{Mode: "manual"})
	require.NoError(t, err)

	rec := &scriptedRecorder{driver: d}
	rec.steps = append(rec.steps, func() []browser.RecordedEvent {
		target := browser.For(types.Selector{Kind: types.SelectorRole, Role: "link", Name: "Certificate Management"})
		assert.NoError(t, d.Click(ctx, target))
		return []browser.RecordedEvent{{
			Reason: "click", TS: 1000, URL: "http://dev/",
			Target: &browser.EventTarget{Tag: "a", Role: "link", Href: "/certificate.html", Label: "Certificate Management", Text: "Certificate Management"},
		}}
	})

	res, err := NewManualCapture(s, rec, cfg, 1).Run(ctx, "http://dev/")
	require.NoError(t, err)
	require.Len(t, res.ClickLog.Clicks, 2)
	click := res.ClickLog.Clicks[1]
	assert.Equal(t, types.ClickLink, click.Kind)
	assert.False(t, click.Diagnostic)

	titles := map[string]bool{}
	for _, p := range res.Pages {
		titles[p.Title] = true
	}
	assert.True(t, titles["Certificates"])
	fieldByLabel(t, res.Fields, "Certificate Type")
	assertReconciled(t, res)
}

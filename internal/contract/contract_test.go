package contract

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/discovery"
	"github.com/lance13c/uimap/internal/graph"
	"github.com/lance13c/uimap/internal/types"
)

const settingsPage = `<html><head><title>Printer</title></head><body><main>
<h1>Network</h1>
<fieldset><legend>TCP/IP</legend>
  <label for="hostname">Host Name</label><input id="hostname" value="printer">
  <label for="ipmode">IP Mode</label>
  <select id="ipmode"><option value="dhcp" selected>DHCP</option><option value="static">Static</option></select>
</fieldset>
<button data-uimap-open="#adv">Advanced</button>
<div id="adv" role="dialog" aria-label="Advanced Network" hidden>
  <label for="mtu">MTU</label><input id="mtu" type="number" value="1500">
  <button data-uimap-close>Cancel</button>
</div>
</main></body></html>`

func mapped(t *testing.T) (*types.UiMap, *types.ClickLog) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Browser.SettleMS = 0
	cfg.Browser.ActionTimeoutMS = 200
	cfg.Discovery.ExploreVariants = false
	d := browser.NewStaticDriver(map[string]string{"http://dev/": settingsPage})
	s, err := discovery.NewSession(d, cfg, discovery.Options{Mode: "crawl"})
	require.NoError(t, err)
	res, err := discovery.NewCrawler(s, cfg).Run(context.Background(), "http://dev/")
	require.NoError(t, err)
	m, err := graph.NewBuilder(cfg.Classifier).Build(res)
	require.NoError(t, err)
	return m, res.ClickLog
}

func record(id, source, typ string, current any) FieldRecord {
	sel := types.Selector{Kind: types.SelectorCSS, Value: "#" + id, Stability: types.Stable, MatchCount: types.IntPtr(1)}
	r := FieldRecord{
		FieldID:       id,
		SourceFieldID: source,
		ContainerKey:  "page1",
		Label:         id,
		Type:          typ,
		Visible:       true,
		Enabled:       true,
		Control:       controlRef("#"+id, []types.Selector{sel}),
		Value:         ValueRecord{CurrentValue: current, ValueSource: string(types.SourceInput)},
		Options:       []types.Option{},
	}
	r.rescore()
	return r
}

func TestBuildFromCrawlReconciles(t *testing.T) {
	m, log := mapped(t)
	s, err := Build(m, log)
	require.NoError(t, err)

	require.Len(t, s.FieldRecords, len(m.Fields))
	assert.Len(t, s.Containers, len(m.Pages))

	kinds := map[string]string{}
	for _, r := range s.FieldRecords {
		kinds[r.Label] = r.Type
		assert.NotEmpty(t, r.SourceFieldID)
		assert.NotEmpty(t, r.Control.CanonicalControlID)
		assert.NotNil(t, s.Container(r.ContainerKey), r.FieldID)
	}
	assert.Equal(t, TypeTextbox, kinds["Host Name"])
	assert.Equal(t, TypeDropdownNative, kinds["IP Mode"])
	assert.Equal(t, TypeSpinbutton, kinds["MTU"])
	assert.Equal(t, TypeButtonDialog, kinds["Advanced"])

	var mtu *FieldRecord
	for i := range s.FieldRecords {
		if s.FieldRecords[i].Label == "MTU" {
			mtu = &s.FieldRecords[i]
		}
	}
	require.NotNil(t, mtu)
	assert.Equal(t, "Advanced Network", mtu.Context.ModalTitle)
	assert.Equal(t, "modal", mtu.Container.Kind)
}

func TestReconcileBothDirections(t *testing.T) {
	s := &CaptureSchema{FieldRecords: []FieldRecord{
		record("a", "k/a", TypeTextbox, "x"),
		record("b", "k/b", TypeTextbox, "y"),
	}}
	log := &types.ClickLog{}
	log.Append(types.ClickLogEntry{NewlyDiscoveredFieldIDs: []string{"k/a", "k/ghost"}})

	err := Reconcile(s, log)
	var rerr *ReconcileError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, []string{"k/ghost"}, rerr.MissingFromRecords)
	assert.Equal(t, []string{"b"}, rerr.MissingFromLog)
	assert.Contains(t, err.Error(), "k/ghost")

	log.Append(types.ClickLogEntry{NewlyDiscoveredFieldIDs: []string{"k/b"}})
	s.FieldRecords = append(s.FieldRecords, record("ghost", "k/ghost", TypeTextbox, "z"))
	assert.NoError(t, Reconcile(s, log))
	assert.NoError(t, Reconcile(s, nil))
}

func TestBuildFailsWhenGraphDropsAField(t *testing.T) {
	m, log := mapped(t)
	m.Fields = m.Fields[1:]
	_, err := Build(m, log)
	var rerr *ReconcileError
	require.ErrorAs(t, err, &rerr)
	assert.Len(t, rerr.MissingFromRecords, 1)
}

func TestQualityScoring(t *testing.T) {
	cases := []struct {
		typ     string
		options int
		current any
		source  types.ValueSource
		want    string
	}{
		{TypeDropdownARIA, 0, "Auto", types.SourceTriggerText, QualityUnknown},
		{TypeTextbox, 0, nil, types.SourceInput, QualityLow},
		{TypeTextbox, 0, "  ", types.SourceInput, QualityLow},
		{TypeDropdownNative, 2, "dhcp", types.SourceNativeSelect, QualityHigh},
		{TypeDropdownARIA, 2, "Auto", types.SourceOpenedOptions, QualityHigh},
		{TypeDropdownARIA, 2, "Auto", types.SourceTriggerText, QualityMedium},
		{TypeTextDisplay, 0, "3 days", types.SourceStaticText, QualityMedium},
		{TypeSwitch, 0, true, types.SourceCheckedState, QualityHigh},
	}
	for _, c := range cases {
		got, reason := Quality(c.typ, c.options, c.current, string(c.source))
		assert.Equal(t, c.want, got, "%s/%v/%s", c.typ, c.current, c.source)
		assert.NotEmpty(t, reason)
	}
}

func TestOverlayDefaultIsWriteOnce(t *testing.T) {
	s := &CaptureSchema{FieldRecords: []FieldRecord{
		record("a", "k/a", TypeTextbox, nil),
		record("b", "k/b", TypeTextbox, "old"),
	}}
	s.FieldRecords[1].Value.DefaultValue = "factory"

	n, err := s.ApplyOverlay([]OverlayValue{
		{FieldID: "a", CurrentValue: "first"},
		{SourceFieldID: "k/a", CurrentValue: "second"},
		{FieldID: "b", CurrentValue: "new"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	a := s.Record("a")
	assert.Equal(t, "second", a.Value.CurrentValue)
	assert.Equal(t, "first", a.Value.DefaultValue)
	assert.Equal(t, QualityHigh, a.Value.ValueQuality)

	b := s.Record("b")
	assert.Equal(t, "new", b.Value.CurrentValue)
	assert.Equal(t, "factory", b.Value.DefaultValue)

	_, err = s.ApplyOverlay([]OverlayValue{{FieldID: "nope", CurrentValue: 1}})
	assert.Error(t, err)
}

func TestVerifyFlagsIssues(t *testing.T) {
	ambiguous := record("dup", "k/dup", TypeTextbox, "v")
	ambiguous.Control.PrimarySelector.MatchCount = types.IntPtr(2)

	fragile := record("frag", "k/frag", TypeTextbox, "v")
	fragile.Control = controlRef("src:k/frag", []types.Selector{{Kind: types.SelectorCSS, Value: "div > input", Stability: types.Fragile}})

	emptyEnum := record("mode", "k/mode", TypeDropdownARIA, "Auto")
	hiddenEnum := record("hidden", "k/hidden", TypeRadioGroup, "a")
	hiddenEnum.Visible = false
	missing := record("blank", "k/blank", TypeTextbox, "")
	button := record("btn", "k/btn", TypeButtonDialog, nil)

	s := &CaptureSchema{
		Containers:   []ContainerRecord{{ContainerKey: "page1"}},
		FieldRecords: []FieldRecord{ambiguous, fragile, emptyEnum, hiddenEnum, missing, button},
	}
	r := Verify(s)

	assert.Equal(t, 6, r.TotalFields)
	assert.Equal(t, 3, r.CountsByType[TypeTextbox])
	require.Len(t, r.SelectorIssues, 1)
	assert.Equal(t, "dup", r.SelectorIssues[0].FieldID)
	assert.Equal(t, 2, *r.SelectorIssues[0].MatchCount)
	require.Len(t, r.FragileSelectors, 1)
	assert.Equal(t, "frag", r.FragileSelectors[0].FieldID)
	require.Len(t, r.EmptyOptions, 1)
	assert.Equal(t, "mode", r.EmptyOptions[0].FieldID)
	require.Len(t, r.MissingValues, 1)
	assert.Equal(t, "blank", r.MissingValues[0].FieldID)
	assert.Equal(t, "page1", r.MissingValues[0].ContainerKey)
	assert.False(t, r.Clean())
}

const legacyPayload = `{
  "containers": [
    {"containerKey": "net", "type": "page", "title": "Network", "url": "http://dev/#net",
     "navPath": [{"action": "goto", "url": "http://dev/#net"}],
     "actions": [{"kind": "commit", "label": "Apply", "selectors": {"primary": {"kind": "role", "role": "button", "name": "Apply"}}}]},
    {"containerKey": "adv", "type": "modal", "title": "Advanced", "parentKey": "net"}
  ],
  "settings": [
    {"containerKey": "net", "settingKey": "net.hostname", "type": "text", "label": "Host Name",
     "groupTitle": "TCP/IP", "currentValue": "printer",
     "selectors": {"primary": {"kind": "css", "value": "#hostname", "stability": "stable"},
                   "fallbacks": [{"kind": "label", "text": "Host Name", "stability": "stable"}]}},
    {"containerKey": "net", "settingKey": "net.mode", "type": "select", "label": "IP Mode",
     "currentValue": "dhcp", "valueSource": "native_select", "options": ["dhcp", {"value": "static", "label": "Static"}]},
    {"containerKey": "adv", "settingKey": "adv.mtu", "type": "number", "label": "MTU", "currentValue": 1500}
  ]
}`

func TestNormalizeLegacyPayload(t *testing.T) {
	shape, err := Sniff([]byte(legacyPayload))
	require.NoError(t, err)
	assert.Equal(t, ShapeLegacy, shape)

	s, err := Normalize([]byte(legacyPayload))
	require.NoError(t, err)
	require.Len(t, s.Containers, 2)
	require.Len(t, s.FieldRecords, 3)
	assert.Equal(t, "legacy", s.Source)

	net := s.Container("net")
	require.NotNil(t, net)
	require.Len(t, net.Actions, 1)
	assert.Equal(t, "Apply", net.Actions[0].Selector.Name)
	assert.Len(t, net.NavPath, 1)

	host := s.Record("net.hostname")
	require.NotNil(t, host)
	assert.Equal(t, "net.hostname", host.SourceFieldID)
	assert.Equal(t, TypeTextbox, host.Type)
	assert.Equal(t, "#hostname", host.Control.CanonicalControlID)
	assert.Len(t, host.Control.FallbackSelectors, 1)
	assert.True(t, host.Control.StableSelector)
	assert.Equal(t, "TCP/IP", host.Group.Title)

	mode := s.Record("net.mode")
	assert.Equal(t, TypeDropdownNative, mode.Type)
	assert.Equal(t, QualityHigh, mode.Value.ValueQuality)
	assert.Equal(t, []types.Option{{Value: "dhcp", Label: "dhcp"}, {Value: "static", Label: "Static"}}, mode.Options)

	mtu := s.Record("adv.mtu")
	assert.Equal(t, TypeSpinbutton, mtu.Type)
	assert.Equal(t, "Advanced", mtu.Context.ModalTitle)
	assert.EqualValues(t, 1500, mtu.Value.CurrentValue)
}

func TestNormalizeAcceptsMapAndSchema(t *testing.T) {
	m, _ := mapped(t)
	data, err := json.Marshal(m)
	require.NoError(t, err)
	fromMap, err := Normalize(data)
	require.NoError(t, err)
	assert.Equal(t, "ui_map", fromMap.Source)

	data, err = json.Marshal(fromMap)
	require.NoError(t, err)
	shape, err := Sniff(data)
	require.NoError(t, err)
	assert.Equal(t, ShapeSchema, shape)
	again, err := Normalize(data)
	require.NoError(t, err)
	assert.Len(t, again.FieldRecords, len(fromMap.FieldRecords))

	_, err = Normalize([]byte(`{"hello": 1}`))
	assert.Error(t, err)
	_, err = Normalize([]byte(`not json`))
	assert.Error(t, err)
}

func TestGenerateWritesArtifacts(t *testing.T) {
	m, log := mapped(t)
	dir := t.TempDir()
	a, err := Generate(m, log, dir)
	require.NoError(t, err)
	assert.Equal(t, len(m.Fields), a.Verify.TotalFields)

	for _, name := range []string{SchemaFile, VerifyFile, FormFile, NavigationFile, LayoutFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	raw, err := os.ReadFile(filepath.Join(dir, FormFile))
	require.NoError(t, err)
	var form FormView
	require.NoError(t, yaml.Unmarshal(raw, &form))
	require.NotEmpty(t, form.Containers)
	assert.Equal(t, "TCP/IP", form.Containers[0].Groups[0].Title)

	raw, err = os.ReadFile(filepath.Join(dir, NavigationFile))
	require.NoError(t, err)
	var nav NavigationView
	require.NoError(t, yaml.Unmarshal(raw, &nav))
	assert.Len(t, nav.Nodes, len(m.Pages))
	assert.Len(t, nav.Edges, len(m.Edges))
}

func TestGenerateMergesOverlayBeforeWriting(t *testing.T) {
	m, log := mapped(t)
	target := m.Fields[0].ID
	dir := t.TempDir()

	_, err := Generate(m, log, dir, OverlayValue{FieldID: "no-such-field", CurrentValue: "x"})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, SchemaFile))
	assert.NoFileExists(t, filepath.Join(dir, FormFile))
	assert.NoFileExists(t, filepath.Join(dir, NavigationFile))

	m, log = mapped(t)
	a, err := Generate(m, log, dir, OverlayValue{FieldID: target, CurrentValue: "from-overlay"})
	require.NoError(t, err)
	require.NotNil(t, a.Schema.Record(target))
	assert.Equal(t, "from-overlay", a.Schema.Record(target).Value.CurrentValue)

	raw, err := os.ReadFile(filepath.Join(dir, FormFile))
	require.NoError(t, err)
	var form FormView
	require.NoError(t, yaml.Unmarshal(raw, &form))
	var found bool
	for _, c := range form.Containers {
		for _, g := range c.Groups {
			for _, f := range g.Fields {
				if f.ID == target {
					found = true
					assert.Equal(t, "from-overlay", f.Value)
				}
			}
		}
	}
	assert.True(t, found)
	assert.FileExists(t, filepath.Join(dir, NavigationFile))
}

func TestWriteSchemaSkipsMapViews(t *testing.T) {
	m, log := mapped(t)
	s, err := Build(m, log)
	require.NoError(t, err)
	dir := t.TempDir()

	a, err := WriteSchema(s, dir)
	require.NoError(t, err)
	assert.Same(t, s, a.Schema)
	assert.FileExists(t, filepath.Join(dir, SchemaFile))
	assert.FileExists(t, filepath.Join(dir, FormFile))
	assert.NoFileExists(t, filepath.Join(dir, NavigationFile))
	assert.NoFileExists(t, filepath.Join(dir, LayoutFile))
}

func schemaJSON(t *testing.T, s *CaptureSchema) []byte {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return data
}

func TestCompareSameCaptureHasNoDrift(t *testing.T) {
	m, log := mapped(t)
	a, err := Build(m, log)
	require.NoError(t, err)
	m2, log2 := mapped(t)
	b, err := Build(m2, log2)
	require.NoError(t, err)

	d, err := Compare(schemaJSON(t, a), schemaJSON(t, b))
	require.NoError(t, err)
	assert.False(t, d.HasDrift(), "%+v", d)
}

func TestCompareDetectsDrift(t *testing.T) {
	radio := func(id string, order ...string) FieldRecord {
		r := record(id, "k/"+id, TypeRadioGroup, order[0])
		r.Page = "page1"
		for _, o := range order {
			r.Options = append(r.Options, types.Option{Value: o, Label: o})
		}
		return r
	}
	host := record("host", "k/host", TypeTextbox, "printer")
	host.Page = "page1"
	clock := record("clock", "k/clock", TypeTextDisplay, "12:30")
	clock.Label = "Device Time"
	clock.Page = "page1"

	a := &CaptureSchema{
		Containers:   []ContainerRecord{{ContainerKey: "page1"}, {ContainerKey: "gone"}},
		FieldRecords: []FieldRecord{host, radio("duplex", "Half", "Full"), clock, record("old", "k/old", TypeTextbox, "x")},
	}

	renamedHost := host
	renamedHost.FieldID = "host-2"
	clock2 := clock
	clock2.FieldID = "clock-2"
	mode := record("mode", "k/mode", TypeDropdownARIA, "Auto")
	b := &CaptureSchema{
		Containers:   []ContainerRecord{{ContainerKey: "page1"}, {ContainerKey: "new"}},
		FieldRecords: []FieldRecord{renamedHost, radio("duplex", "Full", "Half"), clock2, mode},
	}
	b.FieldRecords[1].Label = "Duplex Mode"

	d, err := Compare(schemaJSON(t, a), schemaJSON(t, b))
	require.NoError(t, err)
	assert.True(t, d.HasDrift())
	assert.Equal(t, []string{"new"}, d.Containers.Added)
	assert.Equal(t, []string{"gone"}, d.Containers.Removed)
	assert.ElementsMatch(t, []string{"host-2", "clock-2", "mode"}, d.Settings.Added)
	assert.ElementsMatch(t, []string{"host", "clock", "old"}, d.Settings.Removed)

	require.Len(t, d.Settings.LabelOrTypeChanged, 1)
	assert.Equal(t, "duplex", d.Settings.LabelOrTypeChanged[0].SettingKey)

	require.Len(t, d.FieldIDDrift, 1)
	assert.Equal(t, "host", d.FieldIDDrift[0].FirstFieldID)
	assert.Equal(t, "host-2", d.FieldIDDrift[0].SecondFieldID)

	assert.Empty(t, d.DropdownsMissingOptionsA)
	require.Len(t, d.DropdownsMissingOptionsB, 1)
	assert.Equal(t, "mode", d.DropdownsMissingOptionsB[0].FieldID)

	require.Len(t, d.RadioOrderingChanged, 1)
	assert.Equal(t, []string{"Half", "Full"}, d.RadioOrderingChanged[0].FirstOrder)
}

func TestCompareFilesWritesFlag(t *testing.T) {
	dir := t.TempDir()
	s := &CaptureSchema{Containers: []ContainerRecord{{ContainerKey: "p"}}, FieldRecords: []FieldRecord{record("a", "k/a", TypeTextbox, "v")}}
	pa := filepath.Join(dir, "a.json")
	pb := filepath.Join(dir, "b.json")
	require.NoError(t, types.WriteJSON(pa, s))
	require.NoError(t, types.WriteJSON(pb, s))

	r, err := CompareFiles(pa, pb, true)
	require.NoError(t, err)
	assert.True(t, r.UIChangedFlag)
	assert.False(t, r.DriftDetected)
	assert.Equal(t, pa, r.SchemaA)

	_, err = CompareFiles(pa, filepath.Join(dir, "missing.json"), false)
	assert.Error(t, err)
}

func TestWatcherDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "ui_map.json")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0644))

	w, err := NewWatcher([]string{target}, 30*time.Millisecond)
	require.NoError(t, err)

	var calls atomic.Int32
	w.OnChange(func(files []string) error {
		assert.Equal(t, []string{target}, files)
		calls.Add(1)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(target, []byte(`{"n":1}`), 0644))
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/classify"
	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/discovery"
	"github.com/lance13c/uimap/internal/types"
)

const homePage = `<html><head><title>Printer</title></head><body><main>
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
<a href="/wireless.html">Wireless</a>
</main></body></html>`

const wirelessPage = `<html><head><title>Printer</title></head><body><main>
<h1>Wireless</h1>
<label for="ssid">SSID</label><input id="ssid" value="office">
<label><input type="checkbox" id="wifi" role="switch" checked> Wi-Fi</label>
</main></body></html>`

func crawl(t *testing.T) *types.Discovery {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Browser.SettleMS = 0
	cfg.Browser.ActionTimeoutMS = 200
	cfg.Discovery.PollIntervalMS = 5
	cfg.Discovery.ExploreVariants = false
	d := browser.NewStaticDriver(map[string]string{
		"http://dev/":              homePage,
		"http://dev/wireless.html": wirelessPage,
	})
	s, err := discovery.NewSession(d, cfg, discovery.Options{Mode: "crawl"})
	require.NoError(t, err)
	res, err := discovery.NewCrawler(s, cfg).Run(context.Background(), "http://dev/")
	require.NoError(t, err)
	return res
}

func newBuilder() *Builder {
	return NewBuilder(config.DefaultConfig().Classifier)
}

func TestBuildIsDeterministicAcrossRuns(t *testing.T) {
	first, err := newBuilder().Build(crawl(t))
	require.NoError(t, err)
	second, err := newBuilder().Build(crawl(t))
	require.NoError(t, err)

	require.Equal(t, len(first.Nodes), len(second.Nodes))
	for i := range first.Nodes {
		assert.Equal(t, first.Nodes[i].ID, second.Nodes[i].ID)
	}
	require.Equal(t, len(first.Fields), len(second.Fields))
	for i := range first.Fields {
		assert.Equal(t, first.Fields[i].ID, second.Fields[i].ID)
	}
	assert.Len(t, first.Nodes, 3)
	assert.Equal(t, types.SchemaVersion, first.Meta.SchemaVersion)
}

func TestBuildRemapsIdentity(t *testing.T) {
	m, err := newBuilder().Build(crawl(t))
	require.NoError(t, err)

	nodeIDs := map[string]bool{}
	for _, n := range m.Nodes {
		assert.Len(t, n.ID, 12)
		nodeIDs[n.ID] = true
	}
	seen := map[string]bool{}
	for _, f := range m.Fields {
		assert.False(t, seen[f.ID], "duplicate field id %s", f.ID)
		seen[f.ID] = true
		assert.True(t, nodeIDs[f.PageID], "field %s points at unknown node %s", f.ID, f.PageID)
		assert.NotEmpty(t, f.SourceID)
		assert.NotEmpty(t, f.ControlID)
	}

	var host *types.FieldEntry
	for i := range m.Fields {
		if m.Fields[i].Label == "Host Name" {
			host = &m.Fields[i]
		}
	}
	require.NotNil(t, host)
	assert.Equal(t, "#hostname", host.ControlID)
	assert.True(t, strings.HasPrefix(host.ID, "network.host-name."), host.ID)

	var modal *types.PageEntry
	for i := range m.Pages {
		if m.Pages[i].Kind == types.KindModal {
			modal = &m.Pages[i]
		}
	}
	require.NotNil(t, modal)
	assert.True(t, nodeIDs[modal.ParentID])
	for _, g := range modal.Groups {
		for _, id := range g.FieldIDs {
			assert.True(t, seen[id])
		}
	}
}

func TestBuildEdgesFromClickLog(t *testing.T) {
	m, err := newBuilder().Build(crawl(t))
	require.NoError(t, err)

	counts := map[types.EdgeType]int{}
	keys := map[string]bool{}
	for _, e := range m.Edges {
		counts[e.EdgeType]++
		key := e.From + "|" + e.To + "|" + string(e.EdgeType) + "|" + e.Trigger.Label
		assert.False(t, keys[key], "duplicate edge %s", key)
		keys[key] = true
		assert.NotEqual(t, e.From, e.To)
	}
	assert.Equal(t, 1, counts[types.EdgeOpenModal])
	assert.Equal(t, 1, counts[types.EdgeCloseModal])
	assert.GreaterOrEqual(t, counts[types.EdgeNavigate], 1)
}

func TestEdgesFromCrawlOrder(t *testing.T) {
	sel := types.Selector{Kind: types.SelectorRole, Role: "tab", Name: "Wireless"}
	pages := []types.PageEntry{
		{ID: "a", Kind: types.KindPage, URL: "http://dev/", NavPath: []types.NavStep{{Action: types.NavGoto, URL: "http://dev/"}}},
		{ID: "b", Kind: types.KindPage, URL: "http://dev/", NavPath: []types.NavStep{
			{Action: types.NavGoto, URL: "http://dev/"},
			{Action: types.NavClick, Selector: &sel, Label: "Wireless", Kind: types.ClickTab},
		}},
		{ID: "c", Kind: types.KindModal, URL: "http://dev/", ParentID: "a"},
	}
	edges := edgesFromCrawl(pages)
	require.Len(t, edges, 2)
	assert.Equal(t, types.EdgeEntry{From: "a", To: "b", EdgeType: types.EdgeTabSwitch,
		Trigger: types.Trigger{Selector: &sel, Label: "Wireless", Kind: types.ClickTab}}, edges[0])
	assert.Equal(t, "a", edges[1].From)
	assert.Equal(t, types.EdgeOpenModal, edges[1].EdgeType)
}

func TestIDCollisionsGetSuffix(t *testing.T) {
	a := newIDAllocator()
	assert.Equal(t, "abc", a.take("abc"))
	assert.Equal(t, "abc-2", a.take("abc"))
	assert.Equal(t, "abc-3", a.take("abc"))
	assert.Equal(t, "abc-2-2", a.take("abc-2"))
}

func TestIdenticalFieldsInOneContainerStayDistinct(t *testing.T) {
	d := &types.Discovery{
		Pages: []types.PageEntry{{ID: "p", Kind: types.KindPage, Title: "Ports", URL: "http://dev/ports"}},
		Fields: []types.FieldEntry{
			{SourceID: "k/label:enabled", PageID: "p", Label: "Enabled", LabelQuality: types.LabelExplicit},
			{SourceID: "k/label:enabled~2", PageID: "p", Label: "Enabled", LabelQuality: types.LabelExplicit},
		},
	}
	m, err := newBuilder().Build(d)
	require.NoError(t, err)
	assert.NotEqual(t, m.Fields[0].ID, m.Fields[1].ID)
	assert.Equal(t, m.Fields[0].ID+"-2", m.Fields[1].ID)
}

func TestCanonicalControlIDOrder(t *testing.T) {
	f := &types.FieldEntry{
		SourceID: "src", Label: "Host", LabelQuality: types.LabelExplicit, DeclaredID: "net.host",
		Selectors: []types.Selector{
			{Kind: types.SelectorLabel, Text: "Host"},
			{Kind: types.SelectorCSS, Value: `input[name="host"]`, Stability: types.Fragile},
			{Kind: types.SelectorCSS, Value: "#host", Stability: types.Stable},
		},
	}
	assert.Equal(t, "#host", CanonicalControlID(f))

	f.Selectors[2].Stability = types.Fragile
	assert.Equal(t, `input[name="host"]`, CanonicalControlID(f))

	f.Selectors = nil
	assert.Equal(t, "declared:net.host", CanonicalControlID(f))
	f.DeclaredID = ""
	assert.Equal(t, "label:host", CanonicalControlID(f))
	f.LabelQuality = types.LabelMissing
	assert.Equal(t, "src:src", CanonicalControlID(f))
}

func TestBreadcrumbInference(t *testing.T) {
	b := Breadcrumbs{Blob: classify.DefaultBlobFilter(), Max: 3}
	sel := types.Selector{Kind: types.SelectorRole, Role: "link"}
	p := &types.PageEntry{Kind: types.KindPage, NavPath: []types.NavStep{
		{Action: types.NavGoto, URL: "http://dev/"},
		{Action: types.NavClick, Selector: &sel, Label: "Settings", Kind: types.ClickMenu},
		{Action: types.NavClick, Selector: &sel, Label: "settings", Kind: types.ClickLink},
		{Action: types.NavClick, Selector: &sel, Label: "Cancel", Kind: types.ClickButton},
		{Action: types.NavClick, Selector: &sel, Label: "Auto, 10 Mbps, 100 Mbps, 1000 Mbps, Half, Full", Kind: types.ClickButton},
		{Action: types.NavClick, Selector: &sel, Label: "Option", Kind: types.ClickOption},
		{Action: types.NavClick, Selector: &sel, Label: "Network", Kind: types.ClickLink},
	}, ActiveTab: "IPv4"}
	assert.Equal(t, []string{"Settings", "Network", "IPv4"}, b.For(p))

	backup := &types.PageEntry{Kind: types.KindModal, NavPath: []types.NavStep{
		{Action: types.NavClick, Selector: &sel, Label: "Back Up Settings", Kind: types.ClickMenu},
		{Action: types.NavClick, Selector: &sel, Label: "Back", Kind: types.ClickButton},
	}}
	assert.Equal(t, []string{"Back Up Settings"}, b.For(backup))

	p.ScreenTrail = []string{"Home", "Network", "Home"}
	assert.Equal(t, []string{"Home", "Network"}, b.For(p))

	b.Max = 1
	p.ScreenTrail = []string{"Home", "Setup", "Network"}
	assert.Equal(t, []string{"Network"}, b.For(p))
	assert.Equal(t, "Home › Setup", Trail([]string{"Home", "Setup"}))
}

func TestEdgeTypeClassification(t *testing.T) {
	assert.Equal(t, types.EdgeOpenModal, EdgeType(types.KindPage, types.KindModal, "u", "u", types.TransitionExpandSection))
	assert.Equal(t, types.EdgeCloseModal, EdgeType(types.KindModal, types.KindPage, "u", "u", types.TransitionCloseModal))
	assert.Equal(t, types.EdgeNavigate, EdgeType(types.KindPage, types.KindPage, "http://d/a", "http://d/#/b", types.TransitionExpandSection))
	assert.Equal(t, types.EdgeTabSwitch, EdgeType(types.KindPage, types.KindPage, "u", "u", types.TransitionTabSwitch))
	assert.Equal(t, types.EdgeExpandSection, EdgeType(types.KindPage, types.KindPage, "u", "u", types.TransitionExpandSection))
}

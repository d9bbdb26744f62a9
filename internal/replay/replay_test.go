package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/types"
)

// countingDriver answers Count from a table and records lookups
type countingDriver struct {
	browser.StaticDriver
	counts  map[string]int
	errs    map[string]error
	lookups []string
	loc     []string
}

func (d *countingDriver) Count(ctx context.Context, t browser.Target) (int, error) {
	key := t.Selector.String()
	d.lookups = append(d.lookups, key)
	if err, ok := d.errs[key]; ok {
		return 0, err
	}
	return d.counts[key], nil
}

func (d *countingDriver) Location(ctx context.Context) (string, error) {
	if len(d.loc) == 0 {
		return "", errors.New("no location")
	}
	l := d.loc[0]
	if len(d.loc) > 1 {
		d.loc = d.loc[1:]
	}
	return l, nil
}

func css(v string, prio int) types.Selector {
	return types.Selector{Kind: types.SelectorCSS, Value: v, Priority: types.IntPtr(prio)}
}

func TestResolverFollowsPriority(t *testing.T) {
	d := &countingDriver{counts: map[string]int{"css=#p2": 1}}
	r := NewResolver(d, 16)

	sels := []types.Selector{css("#p3", 3), css("#p1", 1), css("#p2", 2)}
	target, err := r.Resolve(context.Background(), "snmp", "page-1", "", sels)
	require.NoError(t, err)
	assert.Equal(t, "#p2", target.Selector.Value)
	assert.Equal(t, []string{"css=#p1", "css=#p2"}, d.lookups)
}

func TestResolverErrorNamesSettingAndPage(t *testing.T) {
	d := &countingDriver{counts: map[string]int{"css=#p3": 2}}
	r := NewResolver(d, 16)

	_, err := r.Resolve(context.Background(), "snmp", "page-1", "", []types.Selector{css("#p3", 3), css("#p1", 1), css("#p2", 2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snmp")
	assert.Contains(t, err.Error(), "page-1")
	assert.Equal(t, []string{"css=#p1", "css=#p2", "css=#p3"}, d.lookups)

	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.False(t, rerr.Transient)
	assert.False(t, browser.IsTransient(err))
}

func TestResolverTransientWhenOnlyTimeouts(t *testing.T) {
	d := &countingDriver{errs: map[string]error{"css=#a": browser.ErrTimeout}}
	r := NewResolver(d, 16)

	_, err := r.Resolve(context.Background(), "x", "p", "", []types.Selector{{Kind: types.SelectorCSS, Value: "#a"}})
	require.Error(t, err)
	assert.True(t, browser.IsTransient(err))
}

func TestResolverMissingSelectorsAreTerminal(t *testing.T) {
	d := &countingDriver{errs: map[string]error{"css=#a": browser.ErrNotFound, "css=#b": browser.ErrNotFound}}
	r := NewResolver(d, 16)

	_, err := r.Resolve(context.Background(), "x", "p", "", []types.Selector{css("#a", 1), css("#b", 2)})
	require.Error(t, err)
	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.False(t, rerr.Transient)
	assert.False(t, browser.IsTransient(err))
}

func TestResolverTimeoutAmongMissingIsTransient(t *testing.T) {
	d := &countingDriver{errs: map[string]error{"css=#a": browser.ErrNotFound, "css=#b": browser.ErrTimeout}}
	r := NewResolver(d, 16)

	_, err := r.Resolve(context.Background(), "x", "p", "", []types.Selector{css("#a", 1), css("#b", 2)})
	require.Error(t, err)
	assert.True(t, browser.IsTransient(err))
}

func TestResolverMemoTriesWinnerFirst(t *testing.T) {
	d := &countingDriver{counts: map[string]int{"css=#b": 1}}
	r := NewResolver(d, 16)
	sels := []types.Selector{{Kind: types.SelectorCSS, Value: "#a"}, {Kind: types.SelectorCSS, Value: "#b"}}

	_, err := r.Resolve(context.Background(), "x", "p", "", sels)
	require.NoError(t, err)
	d.lookups = nil
	_, err = r.Resolve(context.Background(), "x", "p", "", sels)
	require.NoError(t, err)
	assert.Equal(t, []string{"css=#b"}, d.lookups)
}

func TestSortByPriorityKeepsListOrderForAbsent(t *testing.T) {
	sels := []types.Selector{
		{Kind: types.SelectorCSS, Value: "a"},
		css("b", 2),
		{Kind: types.SelectorCSS, Value: "c"},
		css("d", 1),
		css("e", 2),
	}
	var got []string
	for _, s := range SortByPriority(sels) {
		got = append(got, s.Value)
	}
	assert.Equal(t, []string{"d", "b", "e", "a", "c"}, got)
}

func TestSameLocation(t *testing.T) {
	assert.True(t, SameLocation("http://dev/net", "http://dev/net/#/x"))
	assert.True(t, SameLocation("http://dev/#/net", "http://dev/#/net"))
	assert.False(t, SameLocation("http://dev/#/net", "http://dev/#/status"))
	assert.False(t, SameLocation("http://dev/#/net", "http://dev/"))
	assert.False(t, SameLocation("http://dev/a", "http://dev/b"))
	assert.True(t, SameLocation("http://DEV/a/", "http://dev/a"))
}

func fastTimeouts() browser.Timeouts {
	return browser.Timeouts{Read: 50 * time.Millisecond, Action: 30 * time.Millisecond}
}

func TestNavigatorWalksStepsAndConfirms(t *testing.T) {
	d := browser.NewStaticDriver(map[string]string{
		"http://dev/":           `<html><body><nav><a href="#/network">Network</a></nav></body></html>`,
		"http://dev/index.html": `<html></html>`,
	})
	nav := NewNavigator(d, NewResolver(d, 8), fastTimeouts(), time.Millisecond)

	page := &types.PageEntry{
		ID:  "network",
		URL: "http://dev/#/network",
		NavPath: []types.NavStep{
			{Action: types.NavGoto, URL: "http://dev/"},
			{Action: types.NavClick, Label: "Network", Kind: types.ClickLink,
				Selector: &types.Selector{Kind: types.SelectorRole, Role: "link", Name: "Network"}},
			{Action: types.NavClick, Label: "Cancel", Kind: types.ClickModalClose,
				Selector: &types.Selector{Kind: types.SelectorText, Text: "Cancel"}},
		},
	}
	require.NoError(t, nav.Navigate(context.Background(), page))
	assert.Equal(t, NavArrived, nav.State())
	assert.Equal(t, []string{"goto http://dev/", `click role=link[name="Network"]`}, d.Calls())
}

func TestNavigatorHashMismatchFails(t *testing.T) {
	d := browser.NewStaticDriver(map[string]string{"http://dev/": `<html><body></body></html>`})
	nav := NewNavigator(d, NewResolver(d, 8), fastTimeouts(), time.Millisecond)

	page := &types.PageEntry{
		ID:      "status",
		URL:     "http://dev/#/status",
		NavPath: []types.NavStep{{Action: types.NavGoto, URL: "http://dev/"}},
	}
	err := nav.Navigate(context.Background(), page)
	var nerr *NavigationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, 1, nerr.Step)
	assert.True(t, nerr.Transient)
	assert.Equal(t, NavFailed, nav.State())
}

func TestNavigatorMissingClickTargetIsTerminal(t *testing.T) {
	d := browser.NewStaticDriver(map[string]string{"http://dev/": `<html><body></body></html>`})
	nav := NewNavigator(d, NewResolver(d, 8), fastTimeouts(), time.Millisecond)

	page := &types.PageEntry{
		ID: "security",
		NavPath: []types.NavStep{
			{Action: types.NavGoto, URL: "http://dev/"},
			{Action: types.NavClick, Label: "Security", Kind: types.ClickMenu,
				Selector: &types.Selector{Kind: types.SelectorText, Text: "Security"}},
		},
	}
	err := nav.Navigate(context.Background(), page)
	var nerr *NavigationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, 1, nerr.Step)
	assert.Equal(t, "security", nerr.PageID)
	assert.Contains(t, err.Error(), "Security")
	assert.False(t, browser.IsTransient(err))
}

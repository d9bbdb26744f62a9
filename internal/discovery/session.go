package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/classify"
	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/logging"
	"github.com/lance13c/uimap/internal/replay"
	"github.com/lance13c/uimap/internal/types"
)

// Options tune a discovery session
type Options struct {
	Mode            string // "manual" or "crawl"
	Location        string
	ExploreVariants bool
	ScreenshotDir   string
}

// Session turns observed interactions into click-log entries and registry
// updates. Every scan that registers a field for the first time produces a
// click-log entry, so the log accounts for every discovered field.
type Session struct {
	driver   browser.PageDriver
	probe    *Probe
	reg      *Registry
	log      *types.ClickLog
	differ   *browser.HTMLDiffer
	resolver *replay.Resolver
	explorer *Explorer
	timeouts browser.Timeouts
	opts     Options
	current  *Scan
	baseURL  string
	now      func() time.Time
}

// NewSession creates a session over driver
func NewSession(driver browser.PageDriver, cfg *config.Config, opts Options) (*Session, error) {
	destructive, err := regexp.Compile(cfg.Discovery.DestructivePattern)
	if err != nil {
		return nil, &config.ValidationError{Field: "discovery.destructive_pattern", Message: err.Error()}
	}
	timeouts := browser.TimeoutsFrom(cfg.Browser)
	probe := NewProbe(cfg.Discovery)
	resolver := replay.NewResolver(driver, 1024)
	s := &Session{
		driver:   driver,
		probe:    probe,
		reg:      NewRegistry(),
		log:      &types.ClickLog{},
		differ:   browser.NewHTMLDiffer(),
		resolver: resolver,
		explorer: NewExplorer(driver, probe, resolver, destructive, cfg.Discovery.MaxVariantOptions, timeouts.Settle),
		timeouts: timeouts,
		opts:     opts,
		now:      time.Now,
	}
	return s, nil
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Registry exposes the run registry
func (s *Session) Registry() *Registry { return s.reg }

// ClickLog exposes the click log
func (s *Session) ClickLog() *types.ClickLog { return s.log }

// Current is the most recent scan
func (s *Session) Current() *Scan { return s.current }

// Resolver is shared with the crawler's navigator
func (s *Session) Resolver() *replay.Resolver { return s.resolver }

// Driver returns the page driver
func (s *Session) Driver() browser.PageDriver { return s.driver }

// Start loads the first page and logs it as a synthetic navigate entry
func (s *Session) Start(ctx context.Context, startURL string) (*types.ClickLogEntry, error) {
	s.baseURL = startURL
	s.log.Meta.BaseURL = startURL
	if err := s.driver.Goto(ctx, startURL); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", startURL, err)
	}
	if err := browser.WaitSettle(ctx, s.timeouts.Settle); err != nil {
		return nil, err
	}
	after, err := s.probe.Scan(ctx, s.driver)
	if err != nil {
		return nil, err
	}
	s.differ.HasChanged("scope", after.Snapshot.HTML)
	c := classify.Classified{Kind: types.ClickNavigate, Label: "initial load"}
	entry := s.record(ctx, c, nil, after, true)
	return entry, nil
}

// Observe records a click that already happened in the page
func (s *Session) Observe(ctx context.Context, c classify.Classified) (*types.ClickLogEntry, error) {
	after, err := s.rescan(ctx)
	if err != nil {
		return nil, err
	}
	return s.record(ctx, c, s.current, after, false), nil
}

// Click resolves and clicks a target, then records it
func (s *Session) Click(ctx context.Context, label string, kind types.ClickKind, sels []types.Selector) (*types.ClickLogEntry, error) {
	scope := ""
	pageID := ""
	if s.current != nil {
		scope = scopeFor(s.current)
		pageID = s.current.Scope.ID
	}
	target, err := s.resolver.Resolve(ctx, label, pageID, scope, sels)
	if err != nil {
		return nil, err
	}
	if err := s.driver.Click(ctx, target); err != nil {
		return nil, fmt.Errorf("click %q: %w", label, err)
	}
	if err := browser.WaitSettle(ctx, s.timeouts.Settle); err != nil {
		return nil, err
	}
	ordered := replay.SortByPriority(sels)
	return s.Observe(ctx, classify.Classified{
		Kind:  kind,
		Label: label,
		Raw:   classify.RawClick{Timestamp: s.now().UnixMilli(), Selectors: ordered},
	})
}

// Press sends a key and records it as an interaction of the given kind
func (s *Session) Press(ctx context.Context, key string, kind types.ClickKind) (*types.ClickLogEntry, error) {
	if err := s.driver.Press(ctx, key); err != nil {
		return nil, err
	}
	if err := browser.WaitSettle(ctx, s.timeouts.Settle); err != nil {
		return nil, err
	}
	return s.Observe(ctx, classify.Classified{Kind: kind, Label: key})
}

// Refresh rescans after a change that was not a click (navigation,
// mutation). It logs a synthetic entry only when the scope changed or new
// fields appeared.
func (s *Session) Refresh(ctx context.Context, reason string) (*types.ClickLogEntry, error) {
	after, err := s.rescan(ctx)
	if err != nil {
		return nil, err
	}
	before := s.current
	changed := before == nil || before.Scope.ID != after.Scope.ID
	if !changed {
		for _, f := range after.Fields {
			if !s.reg.Seen(f.SourceID) {
				changed = true
				break
			}
		}
	}
	if !changed {
		s.current = after
		s.reg.SwapVisible(after.Scope.ID, after.Keys())
		s.reg.Observe(after.Fields)
		return nil, nil
	}
	kind := types.ClickUnknown
	if reason == "navigation" || (before != nil && classify.URLChanged(before.Scope.URL, after.Scope.URL)) {
		kind = types.ClickNavigate
	}
	return s.record(ctx, classify.Classified{Kind: kind, Label: reason}, before, after, true), nil
}

func (s *Session) rescan(ctx context.Context) (*Scan, error) {
	snap, err := s.driver.Snapshot(ctx, s.probe.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}
	if s.current != nil && !s.differ.HasChanged("scope", snap.HTML) {
		return s.current, nil
	}
	return s.probe.Extract(snap)
}

func (s *Session) record(ctx context.Context, c classify.Classified, before, after *Scan, synthetic bool) *types.ClickLogEntry {
	entry := types.ClickLogEntry{
		Timestamp:               s.now(),
		TargetText:              c.Label,
		Kind:                    c.Kind,
		Selectors:               c.Raw.Selectors,
		URLAfter:                after.Scope.URL,
		NodeIDAfter:             after.Scope.ID,
		ScopeAfter:              after.Scope.Kind,
		NewFieldIDs:             []string{},
		NewlyDiscoveredFieldIDs: []string{},
		NoLongerVisibleFieldIDs: []string{},
		Collapsed:               c.Collapsed,
		Synthetic:               synthetic,
	}
	if before != nil {
		entry.URLBefore = before.Scope.URL
		entry.NodeIDBefore = before.Scope.ID
		entry.ScopeBefore = before.Scope.Kind
	}

	if c.Kind == types.ClickSystemAlert {
		entry.TransitionType = types.TransitionDismissAlert
		entry.Diagnostic = true
		s.current = after
		logging.Info("system alert dismissed%s", logging.KV("label", c.Label, "url", after.Scope.URL))
		return s.log.Append(entry)
	}

	entry.TransitionType = classify.InferTransition(classify.Observation{
		Kind:        c.Kind,
		ScopeBefore: entry.ScopeBefore,
		ScopeAfter:  entry.ScopeAfter,
		NodeBefore:  entry.NodeIDBefore,
		NodeAfter:   entry.NodeIDAfter,
		URLBefore:   entry.URLBefore,
		URLAfter:    entry.URLAfter,
	})

	// diffs are locked to one scope: the after set is only compared with
	// what this same scope showed last time
	prev := s.reg.SwapVisible(after.Scope.ID, after.Keys())
	for _, k := range after.Keys() {
		if !prev[k] {
			entry.NewFieldIDs = append(entry.NewFieldIDs, k)
		}
	}
	if before != nil && before.Scope.ID == after.Scope.ID {
		now := map[string]bool{}
		for _, k := range after.Keys() {
			now[k] = true
		}
		for _, k := range before.Keys() {
			if !now[k] {
				entry.NoLongerVisibleFieldIDs = append(entry.NoLongerVisibleFieldIDs, k)
			}
		}
	}
	if fresh := s.reg.Observe(after.Fields); len(fresh) > 0 {
		entry.NewlyDiscoveredFieldIDs = fresh
	}

	s.recordPage(ctx, c, before, after)
	classify.ApplyRevealPolicy(&entry)
	logged := s.log.Append(entry)
	s.current = after

	if s.opts.ExploreVariants && entry.TransitionType != types.TransitionCloseModal {
		s.exploreVariants(ctx, entry.NewlyDiscoveredFieldIDs)
	}
	return logged
}

func (s *Session) recordPage(ctx context.Context, c classify.Classified, before, after *Scan) {
	if _, known := s.reg.Page(after.Scope.ID); known {
		s.reg.RecordPage(types.PageEntry{ID: after.Scope.ID, Actions: after.Actions, ScreenTrail: after.ScreenTrail})
		return
	}
	page := types.PageEntry{
		ID:          after.Scope.ID,
		Kind:        after.Scope.Kind,
		Title:       after.Scope.Title,
		URL:         after.Scope.URL,
		ScreenTrail: after.ScreenTrail,
		NavPath:     s.pathTo(c, before, after),
		Actions:     after.Actions,
		ActiveTab:   after.Scope.ActiveTab,
		FrameURL:    after.Scope.FrameURL,
	}
	if before != nil && after.Scope.Kind.IsOverlay() && before.Scope.ID != after.Scope.ID {
		page.ParentID = before.Scope.ID
	}
	if s.opts.ScreenshotDir != "" {
		page.Snapshot = s.screenshot(ctx, page.ID)
		s.writeHTML(after, page.ID)
	}
	s.reg.RecordPage(page)
	logging.Debug("page discovered%s", logging.KV("page", page.ID, "kind", page.Kind, "title", page.Title, "steps", len(page.NavPath)))
}

// pathTo extends the navPath of the scope the click started from with the
// click itself; without a usable selector the page is reached by URL
func (s *Session) pathTo(c classify.Classified, before, after *Scan) []types.NavStep {
	gotoAfter := []types.NavStep{{Action: types.NavGoto, URL: after.Scope.URL}}
	if before == nil || len(c.Raw.Selectors) == 0 {
		return gotoAfter
	}
	switch c.Kind {
	case types.ClickSystemAlert, types.ClickModalClose, types.ClickNavigate, types.ClickUnknown:
		return gotoAfter
	}
	parent, ok := s.reg.Page(before.Scope.ID)
	if !ok {
		return gotoAfter
	}
	sels := c.Raw.Selectors
	first := sels[0]
	path := append([]types.NavStep(nil), parent.NavPath...)
	return append(path, types.NavStep{
		Action:   types.NavClick,
		Selector: &first,
		Fallback: append([]types.Selector(nil), sels[1:]...),
		Label:    c.Label,
		Kind:     c.Kind,
	})
}

func (s *Session) screenshot(ctx context.Context, id string) string {
	data, err := s.driver.Screenshot(ctx)
	if err != nil {
		if !errors.Is(err, browser.ErrUnsupported) {
			logging.Warn("screenshot failed%s", logging.KV("page", id, "err", err))
		}
		return ""
	}
	path := filepath.Join(s.opts.ScreenshotDir, id+".png")
	if err := os.MkdirAll(s.opts.ScreenshotDir, 0755); err != nil {
		logging.Warn("screenshot dir: %v", err)
		return ""
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logging.Warn("screenshot write: %v", err)
		return ""
	}
	return path
}

// DumpHTML writes the cleaned markup of the current scan next to the
// screenshots. It is a no-op without a screenshot directory.
func (s *Session) DumpHTML(name string) string {
	return s.writeHTML(s.current, name)
}

func (s *Session) writeHTML(scan *Scan, name string) string {
	if s.opts.ScreenshotDir == "" || scan == nil || scan.Snapshot == nil {
		return ""
	}
	clean, err := browser.CleanSnapshot(scan.Snapshot.HTML)
	if err != nil {
		logging.Warn("html dump failed%s", logging.KV("page", name, "err", err))
		return ""
	}
	path := filepath.Join(s.opts.ScreenshotDir, name+".html")
	if err := os.MkdirAll(s.opts.ScreenshotDir, 0755); err != nil {
		logging.Warn("screenshot dir: %v", err)
		return ""
	}
	if err := os.WriteFile(path, []byte(clean), 0644); err != nil {
		logging.Warn("html dump write: %v", err)
		return ""
	}
	return path
}

func (s *Session) exploreVariants(ctx context.Context, keys []string) {
	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		base := s.current
		f := base.Field(key)
		if f == nil || !s.explorer.Explorable(f) || !s.reg.MarkExplored(key) {
			continue
		}
		variants, restored, err := s.explorer.Explore(ctx, base, f)
		if err != nil {
			logging.Warn("variant exploration failed%s", logging.KV("page", base.Scope.ID, "field", key, "label", f.Label, "err", err))
		}
		var revealed []string
		for _, v := range variants {
			dep := types.Dependency{When: v.When, Reveals: v.Reveals, Hides: v.Hides}
			if len(dep.Reveals) > 0 || len(dep.Hides) > 0 {
				s.reg.AddDependency(key, dep)
			}
			fresh := s.reg.Observe(v.Scan.Fields)
			revealed = append(revealed, v.Reveals...)
			if len(v.Reveals) == 0 && len(fresh) == 0 {
				continue
			}
			kind := types.ClickOption
			if f.ControlType == types.ControlRadioGroup {
				kind = types.ClickRadioSelect
			}
			entry := types.ClickLogEntry{
				Timestamp:               s.now(),
				TargetText:              f.Label + " = " + v.Label,
				Kind:                    kind,
				Selectors:               f.Selectors,
				URLBefore:               base.Scope.URL,
				URLAfter:                v.Scan.Scope.URL,
				NodeIDBefore:            base.Scope.ID,
				NodeIDAfter:             v.Scan.Scope.ID,
				ScopeBefore:             base.Scope.Kind,
				ScopeAfter:              v.Scan.Scope.Kind,
				NewFieldIDs:             nonNil(v.Reveals),
				NewlyDiscoveredFieldIDs: nonNil(fresh),
				NoLongerVisibleFieldIDs: nonNil(v.Hides),
				TransitionType:          types.TransitionExpandSection,
				Synthetic:               true,
			}
			s.log.Append(entry)
		}
		if restored != nil {
			s.differ.HasChanged("scope", restored.Snapshot.HTML)
			s.reg.SwapVisible(restored.Scope.ID, restored.Keys())
			if fresh := s.reg.Observe(restored.Fields); len(fresh) > 0 {
				s.log.Append(types.ClickLogEntry{
					Timestamp: s.now(), TargetText: f.Label + " restored", Kind: types.ClickUnknown,
					URLBefore: base.Scope.URL, URLAfter: restored.Scope.URL,
					NodeIDBefore: base.Scope.ID, NodeIDAfter: restored.Scope.ID,
					ScopeBefore: base.Scope.Kind, ScopeAfter: restored.Scope.Kind,
					NewFieldIDs: fresh, NewlyDiscoveredFieldIDs: fresh, NoLongerVisibleFieldIDs: []string{},
					TransitionType: types.TransitionExpandSection, Synthetic: true,
				})
			}
			visible := map[string]bool{}
			for _, k := range restored.Keys() {
				visible[k] = true
			}
			var hidden []string
			for _, k := range revealed {
				if !visible[k] {
					hidden = append(hidden, k)
				}
			}
			s.reg.MarkHidden(hidden)
			s.current = restored
		}
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Result assembles the pre-canonical discovery output
func (s *Session) Result() *types.Discovery {
	s.log.Meta.GeneratedAt = s.now().UTC()
	return &types.Discovery{
		Meta: types.MapMeta{
			GeneratedAt:   s.now().UTC(),
			PrinterURL:    s.baseURL,
			SchemaVersion: types.SchemaVersion,
			Location:      s.opts.Location,
			Mode:          s.opts.Mode,
		},
		Pages:    s.reg.Pages(),
		Fields:   s.reg.Fields(),
		ClickLog: s.log,
	}
}

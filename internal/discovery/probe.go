package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/atom"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/types"
)

// ModalScope is the CSS root of the active overlay in an annotated DOM
const ModalScope = `[data-uimap-scope="modal"]`

var (
	commitLabel   = regexp.MustCompile(`(?i)^\s*(save|apply|ok|submit|update|confirm|yes)\b`)
	cancelLabel   = regexp.MustCompile(`(?i)^\s*(cancel|discard|no|back)\b`)
	closeLabel    = regexp.MustCompile(`(?i)^\s*(close|done|dismiss|x|×)\s*$`)
	modalTrigger  = regexp.MustCompile(`(?i)\b(advanced|details?|settings|configure|configuration|more options|properties|edit|setup)\b`)
	unsafeNavText = regexp.MustCompile(`(?i)\b(log ?out|sign ?out|log ?off)\b`)
)

const (
	triggerQuery    = `a[data-toggle=modal], a[data-bs-toggle=modal], a[data-uimap-open], a[aria-haspopup=dialog], a[href^="#"][role=button]`
	navQuery        = `a[href], [role=tab], [role=menuitem], [data-href]`
	activeTabQuery  = `[role=tab][aria-selected=true], .nav-tabs .active, .tabs .active, .tab.active, .tab.selected`
	breadcrumbQuery = `nav[aria-label*=readcrumb], [aria-label=breadcrumb], .breadcrumb, .breadcrumbs`
	drawerQuery     = `.drawer, .offcanvas, .sidebar-panel, [class*=drawer]`
)

// Scope identifies the container a scan was locked to
type Scope struct {
	ID           string // kind|url|modal title|active tab signature
	KeyPrefix    string // kind|url|modal title, shared by every tab of a page
	Kind         types.NodeKind
	URL          string
	Title        string
	ModalTitle   string
	ActiveTab    string
	FrameURL     string
	RootSelector string
}

// NavCandidate is a link, tab or menu item the crawler may follow
type NavCandidate struct {
	Label     string
	Kind      types.ClickKind
	Href      string
	Selectors []types.Selector
}

// Scan is one discovery pass over the active scope
type Scan struct {
	Snapshot    *browser.DOMSnapshot
	Doc         *goquery.Document
	Root        *goquery.Selection
	Scope       Scope
	Fields      []types.FieldEntry
	Actions     []types.ActionEntry
	Nav         []NavCandidate
	ScreenTrail []string
	HTMLHash    string
}

// Keys returns the discovery keys of every visible field in scan order
func (s *Scan) Keys() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f.SourceID)
	}
	return out
}

// Field returns the field with the given discovery key
func (s *Scan) Field(key string) *types.FieldEntry {
	for i := range s.Fields {
		if s.Fields[i].SourceID == key {
			return &s.Fields[i]
		}
	}
	return nil
}

// Probe extracts field candidates from an annotated DOM snapshot
type Probe struct {
	opts browser.SnapshotOptions
}

// NewProbe builds a probe from discovery config
func NewProbe(cfg config.DiscoveryConfig) *Probe {
	return &Probe{opts: browser.SnapshotOptions{MainSelector: cfg.MainSelector, ModalSelector: cfg.ModalSelector}}
}

// Scan snapshots the live page and extracts its active scope
func (p *Probe) Scan(ctx context.Context, d browser.PageDriver) (*Scan, error) {
	snap, err := d.Snapshot(ctx, p.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}
	return p.Extract(snap)
}

// Extract locks onto the modal root when one is marked, otherwise the main
// content root, and collects controls, actions and navigation candidates
func (p *Probe) Extract(snap *browser.DOMSnapshot) (*Scan, error) {
	doc, err := browser.ParseHTML(snap.HTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot of %s: %w", snap.URL, err)
	}
	scan := &Scan{Snapshot: snap, Doc: doc, HTMLHash: browser.HashHTML(snap.HTML)}
	scan.Root, scan.Scope = p.lockScope(doc, snap)
	scan.ScreenTrail = screenTrail(doc)

	x := &extractor{doc: doc, root: scan.Root, scope: scan.Scope, seen: map[string]int{}, groups: map[string]int{}}
	x.collect()
	scan.Fields = x.fields
	scan.Actions = x.actions
	scan.Nav = navCandidates(doc, scan.Root, scan.Scope)
	return scan, nil
}

func (p *Probe) lockScope(doc *goquery.Document, snap *browser.DOMSnapshot) (*goquery.Selection, Scope) {
	scope := Scope{
		Kind:     snap.ScopeKind,
		URL:      snap.URL,
		FrameURL: snap.FrameURL,
	}
	var root *goquery.Selection
	if scope.Kind.IsOverlay() {
		root = doc.Find(ModalScope).First()
		if root.Length() > 0 {
			scope.RootSelector = ModalScope
			scope.ModalTitle = snap.ModalTitle
			if scope.ModalTitle == "" {
				scope.ModalTitle = browser.DialogTitle(doc, root)
			}
			if root.Is(drawerQuery) {
				scope.Kind = types.KindDrawer
			}
		} else {
			scope.Kind = types.KindPage
		}
	}
	if scope.RootSelector == "" {
		root, scope.RootSelector = mainRoot(doc, p.opts.MainSelector)
	}

	if scope.Kind.IsOverlay() {
		scope.Title = scope.ModalTitle
		scope.ActiveTab = activeTab(root)
	} else {
		scope.Title = pageTitle(root, snap.Title)
		scope.ActiveTab = activeTab(doc.Selection)
	}
	scope.KeyPrefix = shortHash(string(scope.Kind), normalizeURL(scope.URL), scope.ModalTitle)
	scope.ID = ScopeSignature(scope.Kind, scope.URL, scope.ModalTitle, scope.ActiveTab)
	return root, scope
}

// ScopeSignature is the discovery-time page id
func ScopeSignature(kind types.NodeKind, rawURL, modalTitle, tab string) string {
	return string(kind) + "-" + shortHash(string(kind), normalizeURL(rawURL), modalTitle, tab)
}

func shortHash(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:10]
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

func mainRoot(doc *goquery.Document, selectors string) (*goquery.Selection, string) {
	for _, part := range strings.Split(selectors, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var hit *goquery.Selection
		doc.Find(part).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if !browser.IsHidden(s) {
				hit = s
				return false
			}
			return true
		})
		if hit != nil {
			return hit, part
		}
	}
	return doc.Find("body").First(), "body"
}

func pageTitle(root *goquery.Selection, docTitle string) string {
	for _, q := range []string{"h1", ".page-title", "h2"} {
		if t := usable(root.Find(q).First().Text()); t != "" {
			return t
		}
	}
	return browser.NormalizeText(docTitle)
}

func activeTab(root *goquery.Selection) string {
	var name string
	root.Find(activeTabQuery).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if browser.IsHidden(s) {
			return true
		}
		name = usable(browser.TextExcludingControls(s))
		return name == ""
	})
	return name
}

func screenTrail(doc *goquery.Document) []string {
	crumbs := doc.Find(breadcrumbQuery).First()
	if crumbs.Length() == 0 || browser.IsHidden(crumbs) {
		return nil
	}
	var out []string
	items := crumbs.Find("li")
	if items.Length() == 0 {
		items = crumbs.Find("a, span")
	}
	items.Each(func(_ int, s *goquery.Selection) {
		if t := usable(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	if len(out) == 0 {
		for _, part := range regexp.MustCompile(`\s*[>/»›]\s*`).Split(browser.NormalizeText(crumbs.Text()), -1) {
			if t := usable(part); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

type extractor struct {
	doc     *goquery.Document
	root    *goquery.Selection
	scope   Scope
	fields  []types.FieldEntry
	actions []types.ActionEntry
	seen    map[string]int
	groups  map[string]int
	radios  map[string]*radioGroup
	ordinal int

	radioOrder []*radioGroup
}

type radioGroup struct {
	index     int
	ordinal   int
	container *goquery.Selection
	name      string
	group     types.GroupRef
	radios    []*goquery.Selection
}

func (x *extractor) collect() {
	x.radios = map[string]*radioGroup{}

	x.root.Find(browser.ControlQuery + ", " + triggerQuery).Each(func(_ int, el *goquery.Selection) {
		if browser.IsHidden(el) {
			return
		}
		if el.ParentsFiltered("[role=combobox], [role=listbox], select").Length() > 0 {
			return
		}
		role := browser.ImplicitRole(el)
		switch {
		case role == "tab" || role == "menuitem" || role == "option" || role == "link":
			return
		case role == "radio":
			x.addRadio(el)
		case role == "button" || browser.Tag(el) == atom.A:
			x.addButton(el)
		default:
			x.addControl(el)
		}
	})

	for _, g := range x.radioOrder {
		x.finishRadio(g)
	}
}

func (x *extractor) group(el *goquery.Selection) types.GroupRef {
	title := GroupTitle(x.doc, x.root, el)
	key := GroupKey(title)
	order, ok := x.groups[key]
	if !ok {
		order = len(x.groups)
		x.groups[key] = order
	}
	return types.GroupRef{Key: key, Title: title, Order: order}
}

// key assigns a unique discovery key within the scan
func (x *extractor) key(anchor string) string {
	k := x.scope.KeyPrefix + "/" + anchor
	x.seen[k]++
	if n := x.seen[k]; n > 1 {
		k = fmt.Sprintf("%s~%d", k, n)
	}
	return k
}

func anchorFor(el *goquery.Selection, label string, kind string) string {
	if id := attrText(el, "id"); id != "" && !generatedID.MatchString(id) {
		return "id:" + id
	}
	if name := attrText(el, "name"); name != "" {
		return kind + ":" + name
	}
	if label != "" {
		return "label:" + types.Slug(label)
	}
	return "path:" + CSSPath(el)
}

func classifyControl(el *goquery.Selection) (types.FieldType, types.ControlType, types.ValueType) {
	role := browser.ImplicitRole(el)
	switch browser.Tag(el) {
	case atom.Select:
		return types.FieldSelect, types.ControlDropdown, types.ValueEnum
	case atom.Textarea:
		return types.FieldTextarea, types.ControlTextbox, types.ValueString
	case atom.Input:
		switch browser.InputType(el) {
		case "checkbox":
			if role == "switch" || strings.Contains(strings.ToLower(attrText(el, "class")), "switch") {
				return types.FieldCheckbox, types.ControlSwitch, types.ValueBoolean
			}
			return types.FieldCheckbox, types.ControlCheckbox, types.ValueBoolean
		case "number", "range":
			return types.FieldNumber, types.ControlSpinbutton, types.ValueNumber
		}
	}
	switch role {
	case "switch":
		return types.FieldCheckbox, types.ControlSwitch, types.ValueBoolean
	case "checkbox":
		return types.FieldCheckbox, types.ControlCheckbox, types.ValueBoolean
	case "combobox", "listbox":
		return types.FieldSelect, types.ControlDropdown, types.ValueEnum
	case "spinbutton", "slider":
		return types.FieldNumber, types.ControlSpinbutton, types.ValueNumber
	}
	return types.FieldText, types.ControlTextbox, types.ValueString
}

func (x *extractor) base(el *goquery.Selection, control types.ControlType) types.FieldEntry {
	x.ordinal++
	label, quality := ResolveLabel(x.doc, el, control, x.ordinal)
	return types.FieldEntry{
		PageID:       x.scope.ID,
		Label:        label,
		LabelQuality: quality,
		Selectors:    BuildSelectors(x.doc, el, label, quality),
		Group:        x.group(el),
		Visibility:   types.Visibility{Visible: true, Enabled: !browser.IsDisabled(el)},
		ModalTitle:   x.scope.ModalTitle,
		FrameURL:     x.scope.FrameURL,
		DeclaredID:   attrText(el, "data-field-id"),
		HTMLID:       attrText(el, "id"),
		HTMLName:     attrText(el, "name"),
	}
}

func (x *extractor) addControl(el *goquery.Selection) {
	ft, ct, vt := classifyControl(el)
	f := x.base(el, ct)
	f.Type, f.ControlType, f.ValueType = ft, ct, vt

	switch {
	case ct == types.ControlSwitch || ct == types.ControlCheckbox:
		f.CurrentValue = browser.StaticChecked(el)
		f.ValueSource = types.SourceCheckedState
	case ft == types.FieldNumber:
		f.CurrentValue = readNumber(el)
		f.ValueSource = types.SourceInput
	case browser.Tag(el) == atom.Select:
		f.CurrentValue, f.Options = readSelect(el)
		f.ValueSource = types.SourceNativeSelect
	case ct == types.ControlDropdown:
		f.CurrentValue, f.Options, f.ValueSource = readCombobox(x.doc, el)
	default:
		f.CurrentValue = value(el)
		f.ValueSource = types.SourceInput
	}
	f.Constraints = readConstraints(el, f.Options)
	if f.Constraints != nil && f.Constraints.ReadOnly && ct == types.ControlTextbox {
		f.ControlType = types.ControlTextDisplay
		f.ValueSource = types.SourceStaticText
	}
	f.SourceID = x.key(anchorFor(el, f.Label, "name"))
	x.fields = append(x.fields, f)
}

func (x *extractor) addButton(el *goquery.Selection) {
	label := cleanLabel(browser.AccessibleName(x.doc, el))
	sels := BuildSelectors(x.doc, el, label, types.LabelExplicit)
	switch {
	case label == "":
		return
	case closeLabel.MatchString(label) || attrText(el, "data-dismiss") == "modal" || attrText(el, "data-bs-dismiss") == "modal":
		x.actions = append(x.actions, types.ActionEntry{Kind: types.ActionClose, Label: label, Selectors: sels})
	case cancelLabel.MatchString(label):
		x.actions = append(x.actions, types.ActionEntry{Kind: types.ActionCancel, Label: label, Selectors: sels})
	case commitLabel.MatchString(label) || browser.InputType(el) == "submit":
		x.actions = append(x.actions, types.ActionEntry{Kind: types.ActionCommit, Label: label, Selectors: sels})
	default:
		ref := modalRef(el)
		if ref == "" && !modalTrigger.MatchString(label) {
			return
		}
		f := x.base(el, types.ControlButton)
		f.Type, f.ControlType, f.ValueType = types.FieldButton, types.ControlButton, types.ValueUnknown
		f.OpensModal = true
		f.ModalRef = ref
		f.SourceID = x.key(anchorFor(el, f.Label, "button"))
		x.fields = append(x.fields, f)
	}
}

func modalRef(el *goquery.Selection) string {
	for _, a := range []string{"data-uimap-open", "data-target", "data-bs-target"} {
		if v := attrText(el, a); v != "" {
			return strings.TrimPrefix(v, "#")
		}
	}
	if attrText(el, "aria-haspopup") == "dialog" {
		if v := attrText(el, "aria-controls"); v != "" {
			return v
		}
		return "dialog"
	}
	if href := attrText(el, "href"); strings.HasPrefix(href, "#") && len(href) > 1 && browser.ImplicitRole(el) == "button" {
		return strings.TrimPrefix(href, "#")
	}
	return ""
}

func (x *extractor) addRadio(el *goquery.Selection) {
	container := el.Closest("[role=radiogroup], fieldset")
	if container.Length() == 0 || !inside(x.root, container.Nodes[0]) {
		container = nil
	}
	name := attrText(el, "name")
	var key string
	switch {
	case name != "":
		key = "name:" + name
	case container != nil && container.Length() > 0:
		key = "node:" + CSSPath(container)
	default:
		key = "single:" + CSSPath(el)
	}
	g, ok := x.radios[key]
	if !ok {
		groupEl := el
		if container != nil && container.Length() > 0 {
			groupEl = container.Parent()
		}
		x.ordinal++
		// placeholder keeps the group at its first radio's position
		g = &radioGroup{index: len(x.fields), ordinal: x.ordinal, container: container, name: name, group: x.group(groupEl)}
		x.radios[key] = g
		x.radioOrder = append(x.radioOrder, g)
		x.fields = append(x.fields, types.FieldEntry{})
	}
	g.radios = append(g.radios, el)
}

func (x *extractor) finishRadio(g *radioGroup) {
	first := g.radios[0]
	container := g.container
	if container == nil || container.Length() == 0 {
		container = commonAncestor(g.radios)
	}
	label, quality := ResolveGroupLabel(x.doc, g.container, first, g.ordinal)
	f := types.FieldEntry{
		PageID:       x.scope.ID,
		Label:        label,
		LabelQuality: quality,
		Type:         types.FieldRadio,
		ControlType:  types.ControlRadioGroup,
		ValueType:    types.ValueEnum,
		Selectors:    BuildGroupSelectors(x.doc, container, label, quality),
		Group:        g.group,
		Visibility:   types.Visibility{Visible: true, Enabled: !browser.IsDisabled(first)},
		ModalTitle:   x.scope.ModalTitle,
		FrameURL:     x.scope.FrameURL,
		HTMLName:     g.name,
		DeclaredID:   attrText(container, "data-field-id"),
		ValueSource:  types.SourceCheckedState,
	}
	if g.container != nil {
		f.HTMLID = attrText(g.container, "id")
	}
	f.CurrentValue, f.Options = readRadioGroup(x.doc, g.radios)
	f.Constraints = readConstraints(first, f.Options)
	anchor := "radio:" + g.name
	if g.name == "" {
		anchor = anchorFor(container, label, "radio")
	}
	f.SourceID = x.key(anchor)
	x.fields[g.index] = f
}

func commonAncestor(els []*goquery.Selection) *goquery.Selection {
	cand := els[0].Parent()
	for cand.Length() > 0 {
		all := true
		for _, el := range els[1:] {
			if !inside(cand, el.Nodes[0]) {
				all = false
				break
			}
		}
		if all {
			return cand
		}
		cand = cand.Parent()
	}
	return els[0].Parent()
}

func navCandidates(doc *goquery.Document, root *goquery.Selection, scope Scope) []NavCandidate {
	base, _ := url.Parse(scope.URL)
	search := doc.Selection
	if scope.Kind.IsOverlay() {
		search = root
	}
	seen := map[string]bool{}
	var out []NavCandidate
	search.Find(navQuery).Each(func(_ int, el *goquery.Selection) {
		if browser.IsHidden(el) {
			return
		}
		label := cleanLabel(browser.AccessibleName(doc, el))
		if label == "" || len(label) > 60 || unsafeNavText.MatchString(label) {
			return
		}
		c := NavCandidate{Label: label, Href: attrText(el, "href")}
		switch browser.ImplicitRole(el) {
		case "tab":
			c.Kind = types.ClickTab
			if attrText(el, "aria-selected") == "true" {
				return
			}
		case "menuitem":
			c.Kind = types.ClickMenu
		default:
			c.Kind = types.ClickLink
			if c.Href == "" {
				c.Href = attrText(el, "data-href")
			}
			if !followable(base, c.Href) {
				return
			}
		}
		c.Selectors = BuildSelectors(doc, el, label, types.LabelExplicit)
		id := string(c.Kind) + "|" + label + "|" + c.Href
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, c)
	})
	return out
}

func followable(base *url.URL, href string) bool {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || href == "#" || strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return false
	}
	if base == nil || ref.Host == "" {
		return true
	}
	return strings.EqualFold(ref.Host, base.Host)
}

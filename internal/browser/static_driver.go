package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/lance13c/uimap/internal/types"
	"golang.org/x/net/html/atom"
)

// StaticDriver serves saved HTML pages and emulates the handful of
// behaviours device UIs rely on: links, checkbox and radio state, native
// selects, and markup conventions for overlays and dependent fields:
//
//	data-uimap-open="#id"    click shows #id
//	data-uimap-toggle="#id"  click toggles #id
//	data-uimap-close         click hides the enclosing dialog
//	data-uimap-shows="#a,#b" on an option or radio, shown while it is selected
//
// It backs offline mapping of saved pages and the package tests.
type StaticDriver struct {
	mu       sync.Mutex
	pages    map[string]string
	doc      *goquery.Document
	url      string
	modalSel string
	calls    []string
}

var _ PageDriver = (*StaticDriver)(nil)

// NewStaticDriver serves pages keyed by absolute URL
func NewStaticDriver(pages map[string]string) *StaticDriver {
	return &StaticDriver{pages: pages, modalSel: "[role=dialog], [role=alertdialog], dialog[open], .modal"}
}

// LoadFixtureDir maps every .html file under dir onto baseURL; index.html
// also answers for the bare base URL
func LoadFixtureDir(dir, baseURL string) (*StaticDriver, error) {
	pages := map[string]string{}
	base := strings.TrimRight(baseURL, "/")
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".html" {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)
		pages[base+"/"+rel] = string(data)
		if filepath.Base(rel) == "index.html" {
			pages[base+"/"+strings.TrimSuffix(rel, "index.html")] = string(data)
			if rel == "index.html" {
				pages[base] = string(data)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load fixtures from %s: %w", dir, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no .html fixtures in %s", dir)
	}
	return NewStaticDriver(pages), nil
}

// Calls returns the mutating calls made so far ("click <target>", ...)
func (d *StaticDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// URLs lists the served pages
func (d *StaticDriver) URLs() []string {
	var out []string
	for u := range d.pages {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (d *StaticDriver) record(format string, v ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, v...))
}

func (d *StaticDriver) lookup(raw string) (string, bool) {
	if src, ok := d.pages[raw]; ok {
		return src, true
	}
	noFrag := strings.SplitN(raw, "#", 2)[0]
	if src, ok := d.pages[noFrag]; ok {
		return src, true
	}
	src, ok := d.pages[strings.TrimRight(noFrag, "/")]
	return src, ok
}

func (d *StaticDriver) load(raw string) error {
	src, ok := d.lookup(raw)
	if !ok {
		return fmt.Errorf("%w: no fixture for %s", ErrNotFound, raw)
	}
	doc, err := ParseHTML(src)
	if err != nil {
		return fmt.Errorf("failed to parse fixture %s: %w", raw, err)
	}
	d.doc = doc
	d.url = raw
	return nil
}

func (d *StaticDriver) Goto(ctx context.Context, raw string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	d.record("goto %s", raw)
	return d.load(raw)
}

func (d *StaticDriver) Location(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *StaticDriver) Title(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return "", nil
	}
	return NormalizeText(d.doc.Find("title").First().Text()), nil
}

func (d *StaticDriver) find(t Target) (*goquery.Selection, error) {
	if d.doc == nil {
		return nil, fmt.Errorf("%w: no page loaded", ErrNotFound)
	}
	sel := Resolve(d.doc, t)
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, t)
	}
	return sel.First(), nil
}

func (d *StaticDriver) Count(ctx context.Context, t Target) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return 0, nil
	}
	return Resolve(d.doc, t).Length(), nil
}

func (d *StaticDriver) ReadAttribute(ctx context.Context, t Target, name string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.find(t)
	if err != nil {
		return "", false, err
	}
	v, ok := el.Attr(name)
	return v, ok, nil
}

func (d *StaticDriver) ReadText(ctx context.Context, t Target) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.find(t)
	if err != nil {
		return "", err
	}
	return NormalizeText(el.Text()), nil
}

func (d *StaticDriver) ReadValue(ctx context.Context, t Target) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.find(t)
	if err != nil {
		return "", err
	}
	return StaticValue(el), nil
}

// StaticValue reads a control's value from markup
func StaticValue(el *goquery.Selection) string {
	if v, ok := el.Attr("data-uimap-value"); ok {
		return v
	}
	switch Tag(el) {
	case atom.Input:
		v, _ := el.Attr("value")
		return v
	case atom.Textarea:
		return el.Text()
	case atom.Select:
		opt := el.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = el.Find("option").First()
		}
		if v, ok := opt.Attr("value"); ok {
			return v
		}
		return NormalizeText(opt.Text())
	}
	return NormalizeText(el.Text())
}

// StaticChecked reads checked state from markup
func StaticChecked(el *goquery.Selection) bool {
	if v, ok := el.Attr("data-uimap-checked"); ok {
		return v == "1"
	}
	if Tag(el) == atom.Input {
		_, ok := el.Attr("checked")
		return ok
	}
	return attr(el, "aria-checked") == "true" || attr(el, "aria-pressed") == "true"
}

func (d *StaticDriver) IsChecked(ctx context.Context, t Target) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.find(t)
	if err != nil {
		return false, err
	}
	return StaticChecked(el), nil
}

func (d *StaticDriver) IsVisible(ctx context.Context, t Target) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.find(t)
	if err != nil {
		return false, nil
	}
	return !IsHidden(el), nil
}

func (d *StaticDriver) WaitFor(ctx context.Context, t Target, timeout time.Duration) error {
	visible, err := d.IsVisible(ctx, t)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("%w: waiting for %s", ErrTimeout, t)
	}
	return nil
}

func (d *StaticDriver) Click(ctx context.Context, t Target) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	el, err := d.find(t)
	if err != nil {
		return err
	}
	if IsHidden(el) {
		return fmt.Errorf("%w: %s is not visible", ErrTimeout, t)
	}
	d.record("click %s", t)
	return d.activate(el)
}

func (d *StaticDriver) activate(el *goquery.Selection) error {
	if Tag(el) == atom.Label {
		var control *goquery.Selection
		if id := attr(el, "for"); id != "" {
			control = d.doc.Find(IDSelector(id)).First()
		}
		if control == nil || control.Length() == 0 {
			control = el.Find(ControlQuery).First()
		}
		if control.Length() > 0 {
			return d.activate(control)
		}
	}

	switch {
	case Tag(el) == atom.Input && InputType(el) == "checkbox":
		toggleAttr(el, "checked")
		d.applyReveals()
	case Tag(el) == atom.Input && InputType(el) == "radio":
		name := attr(el, "name")
		if name != "" {
			d.doc.Find(AttrSelector("input", "name", name)).RemoveAttr("checked")
		}
		el.SetAttr("checked", "checked")
		d.applyReveals()
	case ImplicitRole(el) == "switch" || ImplicitRole(el) == "checkbox":
		if attr(el, "aria-checked") == "true" {
			el.SetAttr("aria-checked", "false")
		} else {
			el.SetAttr("aria-checked", "true")
		}
	case ImplicitRole(el) == "option":
		d.pickCustomOption(el)
	case ImplicitRole(el) == "tab":
		el.Parent().Children().SetAttr("aria-selected", "false")
		el.SetAttr("aria-selected", "true")
		if panel := attr(el, "aria-controls"); panel != "" {
			d.doc.Find("[role=tabpanel]").SetAttr("hidden", "")
			d.doc.Find(IDSelector(panel)).RemoveAttr("hidden")
		}
	}

	if target := attr(el, "data-uimap-open"); target != "" {
		d.doc.Find(target).RemoveAttr("hidden")
		d.doc.Find(target).Filter("dialog").SetAttr("open", "")
	}
	if target := attr(el, "data-uimap-toggle"); target != "" {
		d.doc.Find(target).Each(func(_ int, s *goquery.Selection) { toggleAttr(s, "hidden") })
	}
	if _, ok := el.Attr("data-uimap-close"); ok {
		d.hideDialog(el.Closest(d.modalSel))
	}
	if href := attr(el, "href"); href != "" && Tag(el) == atom.A {
		return d.follow(href)
	}
	if href := attr(el, "data-href"); href != "" {
		return d.follow(href)
	}
	return nil
}

func toggleAttr(s *goquery.Selection, name string) {
	if _, ok := s.Attr(name); ok {
		s.RemoveAttr(name)
	} else {
		s.SetAttr(name, name)
	}
}

func (d *StaticDriver) hideDialog(dialog *goquery.Selection) {
	if dialog.Length() == 0 {
		return
	}
	dialog.SetAttr("hidden", "")
	dialog.Filter("dialog").RemoveAttr("open")
}

// pickCustomOption selects an ARIA option and mirrors its text onto the
// combobox that controls the listbox
func (d *StaticDriver) pickCustomOption(opt *goquery.Selection) {
	listbox := opt.Closest("[role=listbox]")
	listbox.Find("[role=option]").SetAttr("aria-selected", "false")
	opt.SetAttr("aria-selected", "true")
	if id := attr(listbox, "id"); id != "" {
		trigger := d.doc.Find(AttrSelector("*", "aria-controls", id)).First()
		if trigger.Length() > 0 {
			trigger.SetText(NormalizeText(opt.Text()))
			if v, ok := opt.Attr("data-value"); ok {
				trigger.SetAttr("data-uimap-value", v)
			}
		}
	}
}

func (d *StaticDriver) follow(href string) error {
	base, err := url.Parse(d.url)
	if err != nil {
		return err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return err
	}
	next := base.ResolveReference(ref).String()
	if strings.HasPrefix(href, "#") {
		if _, ok := d.pages[next]; !ok {
			d.url = next
			return nil
		}
	}
	return d.load(next)
}

func (d *StaticDriver) Fill(ctx context.Context, t Target, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.find(t)
	if err != nil {
		return err
	}
	if IsHidden(el) {
		return fmt.Errorf("%w: %s is not visible", ErrTimeout, t)
	}
	d.record("fill %s=%s", t, value)
	el.RemoveAttr("data-uimap-value")
	if Tag(el) == atom.Textarea {
		el.SetText(value)
	} else {
		el.SetAttr("value", value)
	}
	return nil
}

func (d *StaticDriver) SelectOption(ctx context.Context, t Target, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.find(t)
	if err != nil {
		return err
	}
	if Tag(el) != atom.Select {
		return fmt.Errorf("%w: %s is not a native select", ErrUnsupported, t)
	}
	var match *goquery.Selection
	el.Find("option").EachWithBreak(func(_ int, o *goquery.Selection) bool {
		v, ok := o.Attr("value")
		if !ok {
			v = NormalizeText(o.Text())
		}
		if v == value || strings.EqualFold(NormalizeText(o.Text()), value) {
			match = o
			return false
		}
		return true
	})
	if match == nil {
		return fmt.Errorf("%w: select %s option %q", ErrNotFound, t, value)
	}
	d.record("select %s=%s", t, value)
	el.RemoveAttr("data-uimap-value")
	el.Find("option").RemoveAttr("selected").RemoveAttr("data-uimap-selected")
	match.SetAttr("selected", "selected")
	d.applyReveals()
	return nil
}

// applyReveals re-evaluates every data-uimap-shows rule in the document
func (d *StaticDriver) applyReveals() {
	show := map[string]bool{}
	d.doc.Find("[data-uimap-shows]").Each(func(_ int, s *goquery.Selection) {
		active := false
		switch Tag(s) {
		case atom.Option:
			sel := s.Closest("select")
			chosen := sel.Find("option[selected]").First()
			if chosen.Length() == 0 {
				chosen = sel.Find("option").First()
			}
			active = len(chosen.Nodes) > 0 && chosen.Nodes[0] == s.Nodes[0]
		case atom.Input:
			active = StaticChecked(s)
		}
		for _, target := range strings.Split(attr(s, "data-uimap-shows"), ",") {
			target = strings.TrimSpace(target)
			if target == "" {
				continue
			}
			show[target] = show[target] || active
		}
	})
	for target, visible := range show {
		if visible {
			d.doc.Find(target).RemoveAttr("hidden")
		} else {
			d.doc.Find(target).SetAttr("hidden", "")
		}
	}
}

func (d *StaticDriver) Press(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("press %s", key)
	if !strings.EqualFold(key, "escape") || d.doc == nil {
		return nil
	}
	var top *goquery.Selection
	d.doc.Find(d.modalSel).Each(func(_ int, s *goquery.Selection) {
		if !IsHidden(s) {
			top = s
		}
	})
	if top != nil {
		d.hideDialog(top)
	}
	return nil
}

func (d *StaticDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, ErrUnsupported
}

func (d *StaticDriver) Evaluate(ctx context.Context, script string, out any) error {
	return ErrUnsupported
}

// Snapshot marks the topmost visible overlay as the active scope and
// renders the document
func (d *StaticDriver) Snapshot(ctx context.Context, opts SnapshotOptions) (*DOMSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil, fmt.Errorf("%w: no page loaded", ErrNotFound)
	}
	modalSel := opts.ModalSelector
	if modalSel == "" {
		modalSel = d.modalSel
	}
	d.doc.Find("[data-uimap-scope]").RemoveAttr("data-uimap-scope")

	var modal *goquery.Selection
	d.doc.Find(modalSel).Each(func(_ int, s *goquery.Selection) {
		if !IsHidden(s) {
			modal = s
		}
	})

	snap := &DOMSnapshot{
		URL:       d.url,
		Title:     NormalizeText(d.doc.Find("title").First().Text()),
		ScopeKind: types.KindPage,
		TakenAt:   time.Now(),
	}
	if modal != nil {
		modal.SetAttr("data-uimap-scope", "modal")
		snap.ScopeKind = types.KindModal
		snap.ModalTitle = DialogTitle(d.doc, modal)
	}
	src, err := goquery.OuterHtml(d.doc.Selection)
	if err != nil {
		return nil, err
	}
	snap.HTML = src
	return snap, nil
}

func (d *StaticDriver) Close() error { return nil }

package discovery

import (
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/atom"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/types"
)

// value reads the live value annotation, falling back to markup
func value(el *goquery.Selection) string {
	return browser.StaticValue(el)
}

func readNumber(el *goquery.Selection) any {
	raw := strings.TrimSpace(value(el))
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return f
}

func optionSelected(o *goquery.Selection) bool {
	if v, ok := o.Attr("data-uimap-selected"); ok {
		return v == "1"
	}
	_, ok := o.Attr("selected")
	return ok
}

// sortOptions dedupes by value and sorts by value
func sortOptions(opts []types.Option) []types.Option {
	seen := map[string]int{}
	var out []types.Option
	for _, o := range opts {
		if i, ok := seen[o.Value]; ok {
			out[i].Selected = out[i].Selected || o.Selected
			continue
		}
		seen[o.Value] = len(out)
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

func readSelect(el *goquery.Selection) (any, []types.Option) {
	var opts []types.Option
	var selected string
	hasSelected := false
	el.Find("option").Each(func(i int, o *goquery.Selection) {
		label := browser.NormalizeText(o.Text())
		v, ok := o.Attr("value")
		if !ok {
			v = label
		}
		sel := optionSelected(o)
		if sel && !hasSelected {
			selected, hasSelected = v, true
		}
		opts = append(opts, types.Option{Value: v, Label: label, Selected: sel})
	})

	var current any
	if v, ok := el.Attr("data-uimap-value"); ok {
		current = v
	} else if hasSelected {
		current = selected
	} else if len(opts) > 0 {
		current = opts[0].Value
	}
	if s, ok := current.(string); ok {
		for i := range opts {
			opts[i].Selected = opts[i].Value == s
		}
	}
	return current, sortOptions(opts)
}

// readCombobox reads an ARIA combobox through its listbox, then its
// active descendant, then its trigger text
func readCombobox(doc *goquery.Document, el *goquery.Selection) (any, []types.Option, types.ValueSource) {
	var listbox *goquery.Selection
	for _, a := range []string{"aria-controls", "aria-owns"} {
		for _, id := range strings.Fields(attrText(el, a)) {
			if lb := doc.Find(browser.IDSelector(id)).First(); lb.Length() > 0 {
				listbox = lb
				break
			}
		}
		if listbox != nil {
			break
		}
	}
	if listbox == nil && browser.ImplicitRole(el) == "listbox" {
		listbox = el
	}

	var opts []types.Option
	selected := -1
	if listbox != nil {
		listbox.Find("[role=option]").Each(func(_ int, o *goquery.Selection) {
			label := browser.NormalizeText(o.Text())
			v, ok := o.Attr("data-value")
			if !ok {
				v = label
			}
			opt := types.Option{Value: v, Label: label, Selected: attrText(o, "aria-selected") == "true"}
			opts = append(opts, opt)
			if opt.Selected && selected < 0 {
				selected = len(opts) - 1
			}
		})
	}
	if id := attrText(el, "aria-activedescendant"); id != "" {
		if active := doc.Find(browser.IDSelector(id)).First(); active.Length() > 0 {
			label := browser.NormalizeText(active.Text())
			v, ok := active.Attr("data-value")
			if !ok {
				v = label
			}
			for i := range opts {
				opts[i].Selected = opts[i].Value == v
			}
			return v, sortOptions(opts), types.SourceOpenedOptions
		}
	}
	if selected >= 0 {
		return opts[selected].Value, sortOptions(opts), types.SourceOpenedOptions
	}

	text := ""
	if v, ok := el.Attr("data-uimap-value"); ok {
		text = v
	} else if input := el.Find("input").First(); input.Length() > 0 {
		text = value(input)
	} else {
		text = browser.TextExcludingControls(el)
	}
	if text == "" {
		return nil, sortOptions(opts), types.SourceTriggerText
	}
	for i := range opts {
		opts[i].Selected = opts[i].Label == text || opts[i].Value == text
	}
	return text, sortOptions(opts), types.SourceTriggerText
}

// readRadioGroup returns the checked option and every option of the group
func readRadioGroup(doc *goquery.Document, radios []*goquery.Selection) (any, []types.Option) {
	var current any
	var opts []types.Option
	for _, r := range radios {
		label := cleanLabel(browser.AccessibleName(doc, r))
		v, ok := r.Attr("value")
		if !ok || v == "" || (browser.Tag(r) == atom.Input && v == "on") {
			v = label
		}
		if dv := attrText(r, "data-value"); dv != "" {
			v = dv
		}
		if label == "" {
			label = v
		}
		checked := browser.StaticChecked(r)
		if checked && current == nil {
			current = v
		}
		opts = append(opts, types.Option{Value: v, Label: label, Selected: checked})
	}
	return current, sortOptions(opts)
}

func parseFloatAttr(el *goquery.Selection, name string) *float64 {
	raw := attrText(el, name)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &f
}

func readConstraints(el *goquery.Selection, opts []types.Option) *types.Constraints {
	c := &types.Constraints{
		Min:     parseFloatAttr(el, "min"),
		Max:     parseFloatAttr(el, "max"),
		Step:    parseFloatAttr(el, "step"),
		Pattern: attrText(el, "pattern"),
	}
	if c.Min == nil {
		c.Min = parseFloatAttr(el, "aria-valuemin")
	}
	if c.Max == nil {
		c.Max = parseFloatAttr(el, "aria-valuemax")
	}
	if n, err := strconv.Atoi(attrText(el, "maxlength")); err == nil && n > 0 {
		c.MaxLen = &n
	}
	if _, ok := el.Attr("readonly"); ok || attrText(el, "aria-readonly") == "true" {
		c.ReadOnly = true
	}
	for _, o := range opts {
		c.Enum = append(c.Enum, o.Value)
	}
	if c.IsZero() {
		return nil
	}
	return c
}

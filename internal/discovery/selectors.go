package discovery

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/types"
)

// generatedID matches ids a framework minted at render time
var generatedID = regexp.MustCompile(`(\d{3,}|^ext-|^ember\d|^react-|^mui-|[0-9a-f]{8}-[0-9a-f]{4})`)

// BuildSelectors returns the selector candidates for el in priority order:
// label text, role+name, #id, [name], structural path
func BuildSelectors(doc *goquery.Document, el *goquery.Selection, label string, quality types.LabelQuality) []types.Selector {
	var out []types.Selector
	add := func(sel types.Selector, stability types.Stability) {
		for _, existing := range out {
			if existing.String() == sel.String() {
				return
			}
		}
		sel.Priority = types.IntPtr(len(out) + 1)
		sel.Stability = stability
		sel.MatchCount = types.IntPtr(browser.Match(doc, doc.Selection, sel).Length())
		out = append(out, sel)
	}

	if quality == types.LabelExplicit && label != "" {
		probe := types.Selector{Kind: types.SelectorLabel, Text: label}
		if hits := browser.Match(doc, doc.Selection, probe); hits.Length() > 0 && hits.Nodes[0] == el.Nodes[0] {
			add(probe, types.Stable)
		}
	}

	if role := browser.ImplicitRole(el); role != "" {
		if name := browser.AccessibleName(doc, el); name != "" && len(name) <= 80 {
			add(types.Selector{Kind: types.SelectorRole, Role: role, Name: name}, types.Stable)
		}
	}

	if id, ok := el.Attr("id"); ok && strings.TrimSpace(id) != "" {
		stability := types.Stable
		if generatedID.MatchString(id) {
			stability = types.Fragile
		}
		add(types.Selector{Kind: types.SelectorCSS, Value: browser.IDSelector(id)}, stability)
	}

	if name, ok := el.Attr("name"); ok && strings.TrimSpace(name) != "" {
		add(types.Selector{Kind: types.SelectorCSS, Value: browser.AttrSelector(el.Nodes[0].Data, "name", name)}, types.Fragile)
	}

	add(types.Selector{Kind: types.SelectorCSS, Value: CSSPath(el)}, types.Fragile)
	return out
}

// BuildGroupSelectors targets a radio group container
func BuildGroupSelectors(doc *goquery.Document, container *goquery.Selection, label string, quality types.LabelQuality) []types.Selector {
	if container == nil || container.Length() == 0 {
		return nil
	}
	return BuildSelectors(doc, container, label, quality)
}

// CSSPath builds a structural path that stops at the nearest id
func CSSPath(el *goquery.Selection) string {
	var parts []string
	for n := el.Nodes[0]; n != nil && n.Type == html.ElementNode; n = n.Parent {
		s := goquery.NewDocumentFromNode(n).Selection
		if id, ok := s.Attr("id"); ok && id != "" && !generatedID.MatchString(id) {
			parts = append(parts, browser.IDSelector(id))
			break
		}
		part := n.Data
		if n.Data == "html" || n.Data == "body" {
			parts = append(parts, part)
			if n.Data == "body" {
				break
			}
			continue
		}
		idx, same := 0, 0
		for sib := n.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
			if sib.Type == html.ElementNode && sib.Data == n.Data {
				same++
				if sib == n {
					idx = same
				}
			}
		}
		if same > 1 {
			part += ":nth-of-type(" + strconv.Itoa(idx) + ")"
		}
		parts = append(parts, part)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// HasStableSelector reports whether any selector survives firmware drift
func HasStableSelector(sels []types.Selector) bool {
	for _, s := range sels {
		if s.Stability == types.Stable {
			return true
		}
	}
	return false
}

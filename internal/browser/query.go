package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/lance13c/uimap/internal/types"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ControlQuery matches every element discovery treats as a control
const ControlQuery = "input, select, textarea, button, [role=switch], [role=checkbox], [role=combobox], " +
	"[role=radio], [role=spinbutton], [role=textbox], [role=button], [role=listbox], [role=slider]"

// ParseHTML parses a document for offline querying
func ParseHTML(src string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromNode(root), nil
}

// NormalizeText collapses whitespace
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func lowerText(s string) string {
	return strings.ToLower(NormalizeText(s))
}

// Tag returns the atom of the first node in s
func Tag(s *goquery.Selection) atom.Atom {
	if s == nil || len(s.Nodes) == 0 {
		return 0
	}
	return s.Nodes[0].DataAtom
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return v
}

// InputType returns the lower-cased type attribute of an input
func InputType(s *goquery.Selection) string {
	t := strings.ToLower(strings.TrimSpace(attr(s, "type")))
	if t == "" && Tag(s) == atom.Input {
		return "text"
	}
	return t
}

// ImplicitRole computes the ARIA role of an element, explicit role first
func ImplicitRole(s *goquery.Selection) string {
	if explicit := strings.Fields(attr(s, "role")); len(explicit) > 0 {
		return explicit[0]
	}
	switch Tag(s) {
	case atom.A:
		if _, ok := s.Attr("href"); ok {
			return "link"
		}
	case atom.Button:
		return "button"
	case atom.Select:
		if _, multi := s.Attr("multiple"); multi {
			return "listbox"
		}
		return "combobox"
	case atom.Option:
		return "option"
	case atom.Textarea:
		return "textbox"
	case atom.Dialog:
		return "dialog"
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return "heading"
	case atom.Input:
		switch InputType(s) {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "number":
			return "spinbutton"
		case "range":
			return "slider"
		case "hidden":
			return ""
		default:
			return "textbox"
		}
	}
	return ""
}

func isFormControl(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Input, atom.Select, atom.Textarea, atom.Button:
		return true
	}
	return false
}

// TextExcludingControls returns the text of s without the text of nested
// form controls (a wrapping label must not include its select's options)
func TextExcludingControls(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				b.WriteString(c.Data)
				b.WriteString(" ")
			case html.ElementNode:
				if !isFormControl(c) {
					walk(c)
				}
			}
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return NormalizeText(b.String())
}

// LabelledByText resolves aria-labelledby ids against the document
func LabelledByText(doc *goquery.Document, s *goquery.Selection) string {
	ids := strings.Fields(attr(s, "aria-labelledby"))
	if len(ids) == 0 {
		return ""
	}
	var parts []string
	for _, id := range ids {
		if t := NormalizeText(doc.Find("#" + cssEscape(id)).First().Text()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// ForLabelText returns the text of <label for=id>
func ForLabelText(doc *goquery.Document, s *goquery.Selection) string {
	id := attr(s, "id")
	if id == "" {
		return ""
	}
	label := doc.Find(`label[for="` + cssAttrEscape(id) + `"]`).First()
	if label.Length() == 0 {
		return ""
	}
	return TextExcludingControls(label)
}

// AncestorLabelText returns the text of a wrapping <label>
func AncestorLabelText(s *goquery.Selection) string {
	label := s.Closest("label")
	if label.Length() == 0 {
		return ""
	}
	return TextExcludingControls(label)
}

// AccessibleName approximates the accessible name used by role selectors
func AccessibleName(doc *goquery.Document, s *goquery.Selection) string {
	if v := NormalizeText(attr(s, "aria-label")); v != "" {
		return v
	}
	if v := LabelledByText(doc, s); v != "" {
		return v
	}
	switch Tag(s) {
	case atom.Input, atom.Select, atom.Textarea:
		if v := ForLabelText(doc, s); v != "" {
			return v
		}
		if v := AncestorLabelText(s); v != "" {
			return v
		}
		switch InputType(s) {
		case "button", "submit", "reset":
			return NormalizeText(attr(s, "value"))
		}
		if v := NormalizeText(attr(s, "title")); v != "" {
			return v
		}
		return NormalizeText(attr(s, "placeholder"))
	}
	if v := NormalizeText(s.Text()); v != "" {
		return v
	}
	return NormalizeText(attr(s, "title"))
}

// DialogTitle derives a modal's title
func DialogTitle(doc *goquery.Document, s *goquery.Selection) string {
	if v := NormalizeText(attr(s, "aria-label")); v != "" {
		return v
	}
	if v := LabelledByText(doc, s); v != "" {
		return v
	}
	heading := s.Find("h1, h2, h3, h4, .modal-title, .dialog-title, .ui-dialog-title").First()
	return NormalizeText(heading.Text())
}

// IsHidden reports whether s is hidden. Live annotations written by the
// browser drivers win over static markup checks.
func IsHidden(s *goquery.Selection) bool {
	if v, ok := s.Attr("data-uimap-visible"); ok {
		return v != "1"
	}
	if Tag(s) == atom.Input && InputType(s) == "hidden" {
		return true
	}
	for n := s.First(); n.Length() > 0; n = n.Parent() {
		node := n.Nodes[0]
		if node.Type != html.ElementNode {
			break
		}
		if _, ok := n.Attr("hidden"); ok {
			return true
		}
		if attr(n, "aria-hidden") == "true" {
			return true
		}
		if node.DataAtom == atom.Template {
			return true
		}
		style := strings.ReplaceAll(strings.ToLower(attr(n, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
		if node.DataAtom == atom.Dialog {
			if _, open := n.Attr("open"); !open {
				return true
			}
		}
	}
	return false
}

// IsDisabled reports whether s cannot be interacted with
func IsDisabled(s *goquery.Selection) bool {
	if v, ok := s.Attr("data-uimap-enabled"); ok {
		return v != "1"
	}
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if attr(s, "aria-disabled") == "true" {
		return true
	}
	return s.Closest("fieldset[disabled]").Length() > 0
}

// Resolve finds the elements t targets within doc, in document order
func Resolve(doc *goquery.Document, t Target) *goquery.Selection {
	root := doc.Selection
	if t.Scope != "" {
		root = doc.Find(t.Scope).First()
		if root.Length() == 0 {
			return root
		}
	}
	if t.Within != nil {
		within := Match(doc, root, *t.Within)
		if within.Length() == 0 {
			return within
		}
		root = within.First()
	}
	return Match(doc, root, t.Selector)
}

// Match applies one selector below root
func Match(doc *goquery.Document, root *goquery.Selection, sel types.Selector) *goquery.Selection {
	switch sel.Kind {
	case types.SelectorCSS:
		return root.Find(sel.Value)
	case types.SelectorLabel:
		return matchLabel(doc, root, sel.Text)
	case types.SelectorRole:
		want := lowerText(sel.Name)
		return root.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return ImplicitRole(s) == sel.Role && (want == "" || lowerText(AccessibleName(doc, s)) == want)
		})
	case types.SelectorText:
		want := lowerText(sel.Text)
		hits := root.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return lowerText(s.Text()) == want
		})
		return hits.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.Find("*").FilterFunction(func(_ int, d *goquery.Selection) bool {
				return lowerText(d.Text()) == want
			}).Length() == 0
		})
	}
	return root.Find("uimap-nothing")
}

// labelKey compares label text without case or a trailing ":" or "*"
func labelKey(s string) string {
	return strings.TrimRight(lowerText(s), ": *")
}

func matchLabel(doc *goquery.Document, root *goquery.Selection, text string) *goquery.Selection {
	want := labelKey(text)
	var nodes []*html.Node
	root.Find("label").Each(func(_ int, l *goquery.Selection) {
		if labelKey(TextExcludingControls(l)) != want {
			return
		}
		var control *goquery.Selection
		if id := attr(l, "for"); id != "" {
			control = doc.Find("#" + cssEscape(id)).First()
		}
		if control == nil || control.Length() == 0 {
			control = l.Find(ControlQuery).First()
		}
		if control.Length() > 0 && contains(root, control) {
			nodes = append(nodes, control.Nodes[0])
		}
	})
	root.Find("[aria-label], [aria-labelledby]").Each(func(_ int, s *goquery.Selection) {
		if labelKey(attr(s, "aria-label")) == want || labelKey(LabelledByText(doc, s)) == want {
			nodes = append(nodes, s.Nodes[0])
		}
	})
	if len(nodes) == 0 {
		return root.Find("uimap-nothing")
	}
	return root.Find("*").FilterNodes(nodes...)
}

func contains(root, s *goquery.Selection) bool {
	if len(root.Nodes) == 0 || len(s.Nodes) == 0 {
		return false
	}
	if root.Nodes[0].Type == html.DocumentNode {
		return true
	}
	for n := s.Nodes[0].Parent; n != nil; n = n.Parent {
		if n == root.Nodes[0] {
			return true
		}
	}
	return false
}

// cssEscape escapes an id for use after '#'
func cssEscape(id string) string {
	var b strings.Builder
	for i, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-', r > 127:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteString(`\3` + string(r) + ` `)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cssAttrEscape(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}

// IDSelector builds "#id" with escaping
func IDSelector(id string) string {
	return "#" + cssEscape(id)
}

// AttrSelector builds tag[name="value"] with escaping
func AttrSelector(tag, name, value string) string {
	return tag + "[" + name + `="` + cssAttrEscape(value) + `"]`
}

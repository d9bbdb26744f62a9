package discovery

import (
	"fmt"
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/atom"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/types"
)

// labelSource is one step of the label resolution chain
type labelSource struct {
	name    string
	quality types.LabelQuality
	read    func(doc *goquery.Document, s *goquery.Selection) string
}

var labelChain = []labelSource{
	{"aria-label", types.LabelExplicit, func(_ *goquery.Document, s *goquery.Selection) string {
		return attrText(s, "aria-label")
	}},
	{"aria-labelledby", types.LabelExplicit, browser.LabelledByText},
	{"label-for", types.LabelExplicit, browser.ForLabelText},
	{"native-label", types.LabelExplicit, nativeLabel},
	{"ancestor-label", types.LabelExplicit, func(_ *goquery.Document, s *goquery.Selection) string {
		return browser.AncestorLabelText(s)
	}},
	{"legend", types.LabelDerived, func(_ *goquery.Document, s *goquery.Selection) string {
		return legendText(s)
	}},
	{"placeholder", types.LabelDerived, func(_ *goquery.Document, s *goquery.Selection) string {
		return attrText(s, "placeholder")
	}},
	{"title", types.LabelDerived, func(_ *goquery.Document, s *goquery.Selection) string {
		return attrText(s, "title")
	}},
	{"row-header", types.LabelDerived, func(_ *goquery.Document, s *goquery.Selection) string {
		return rowHeader(s)
	}},
}

var trailingColon = regexp.MustCompile(`\s*[:：*]+\s*$`)

func attrText(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return browser.NormalizeText(v)
}

func cleanLabel(s string) string {
	return trailingColon.ReplaceAllString(browser.NormalizeText(s), "")
}

// nativeLabel is the text of a wrapping <label> whose first control is s
func nativeLabel(_ *goquery.Document, s *goquery.Selection) string {
	label := s.Closest("label")
	if label.Length() == 0 {
		return ""
	}
	first := label.Find(browser.ControlQuery).First()
	if first.Length() == 0 || first.Nodes[0] != s.Nodes[0] {
		return ""
	}
	return browser.TextExcludingControls(label)
}

func legendText(s *goquery.Selection) string {
	fs := s.Closest("fieldset")
	if fs.Length() == 0 {
		return ""
	}
	return browser.NormalizeText(fs.ChildrenFiltered("legend").First().Text())
}

// rowHeader reads the caption cell of table-laid-out forms:
// <tr><td>IP Address</td><td><input></td></tr>
func rowHeader(s *goquery.Selection) string {
	cell := s.Closest("td, dd")
	if cell.Length() == 0 {
		return ""
	}
	prev := cell.PrevAllFiltered("td, th, dt").First()
	if prev.Length() == 0 || prev.Find(browser.ControlQuery).Length() > 0 {
		return ""
	}
	return browser.TextExcludingControls(prev)
}

// ResolveLabel walks the label chain. A control without any label gets a
// synthetic placeholder with quality missing; it is never dropped.
func ResolveLabel(doc *goquery.Document, s *goquery.Selection, control types.ControlType, ordinal int) (string, types.LabelQuality) {
	if browser.Tag(s) == atom.Button || browser.ImplicitRole(s) == "button" {
		if v := cleanLabel(browser.AccessibleName(doc, s)); v != "" {
			return v, types.LabelExplicit
		}
	}
	for _, src := range labelChain {
		if v := cleanLabel(src.read(doc, s)); v != "" {
			return v, src.quality
		}
	}
	return fmt.Sprintf("Unlabeled %s %d", control, ordinal), types.LabelMissing
}

// ResolveGroupLabel labels a radio group from its container, then from the
// first radio's legend or row header
func ResolveGroupLabel(doc *goquery.Document, container, first *goquery.Selection, ordinal int) (string, types.LabelQuality) {
	if container != nil && container.Length() > 0 {
		if v := cleanLabel(attrText(container, "aria-label")); v != "" {
			return v, types.LabelExplicit
		}
		if v := cleanLabel(browser.LabelledByText(doc, container)); v != "" {
			return v, types.LabelExplicit
		}
		if browser.Tag(container) == atom.Fieldset {
			if v := cleanLabel(container.ChildrenFiltered("legend").First().Text()); v != "" {
				return v, types.LabelExplicit
			}
		}
	}
	if v := cleanLabel(legendText(first)); v != "" {
		return v, types.LabelDerived
	}
	if v := cleanLabel(rowHeader(first)); v != "" {
		return v, types.LabelDerived
	}
	if v := cleanLabel(attrText(first, "title")); v != "" {
		return v, types.LabelDerived
	}
	return fmt.Sprintf("Unlabeled %s %d", types.ControlRadioGroup, ordinal), types.LabelMissing
}

package discovery

import (
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/types"
)

// DefaultGroup holds controls with no recognisable section
const DefaultGroup = "General"

const (
	sectionQuery = "section, [role=region], [role=group], [role=tabpanel], .panel, .card, .section, .box, .group"
	headingQuery = "h1, h2, h3, h4, h5, h6, [role=heading], .panel-heading, .panel-title, .card-header, .section-title, caption"
)

// GroupTitle finds the section a control belongs to: the nearest
// fieldset legend, then the nearest landmark heading, then the nearest
// preceding heading, then DefaultGroup
func GroupTitle(doc *goquery.Document, root, el *goquery.Selection) string {
	if t := fieldsetTitle(root, el); t != "" {
		return t
	}
	if t := landmarkTitle(doc, root, el); t != "" {
		return t
	}
	if t := precedingHeading(root, el); t != "" {
		return t
	}
	return DefaultGroup
}

func usable(t string) string {
	t = cleanLabel(t)
	if len(t) > 80 {
		return ""
	}
	return t
}

func inside(root *goquery.Selection, n *html.Node) bool {
	if len(root.Nodes) == 0 {
		return false
	}
	r := root.Nodes[0]
	if r.Type == html.DocumentNode {
		return true
	}
	for p := n; p != nil; p = p.Parent {
		if p == r {
			return true
		}
	}
	return false
}

func fieldsetTitle(root, el *goquery.Selection) string {
	fs := el.Closest("fieldset")
	if fs.Length() == 0 || !inside(root, fs.Nodes[0]) {
		return ""
	}
	return usable(fs.ChildrenFiltered("legend").First().Text())
}

func landmarkTitle(doc *goquery.Document, root, el *goquery.Selection) string {
	for p := el.Parent(); p.Length() > 0 && inside(root, p.Nodes[0]); p = p.Parent() {
		if p.Nodes[0].Type != html.ElementNode || !p.Is(sectionQuery) {
			continue
		}
		if t := usable(attrText(p, "aria-label")); t != "" {
			return t
		}
		if t := usable(browser.LabelledByText(doc, p)); t != "" {
			return t
		}
		if t := usable(p.Find(headingQuery).First().Text()); t != "" {
			return t
		}
		if len(root.Nodes) > 0 && p.Nodes[0] == root.Nodes[0] {
			break
		}
	}
	return ""
}

func precedingHeading(root, el *goquery.Selection) string {
	for cur := el; cur.Length() > 0 && inside(root, cur.Nodes[0]); cur = cur.Parent() {
		if len(root.Nodes) > 0 && cur.Nodes[0] == root.Nodes[0] {
			break
		}
		var found string
		cur.PrevAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
			if sib.Is(headingQuery) {
				found = usable(sib.Text())
			} else if h := sib.Find(headingQuery).Last(); h.Length() > 0 {
				found = usable(h.Text())
			}
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// GroupKey is the stable key of a group title
func GroupKey(title string) string {
	if k := types.Slug(title); k != "" {
		return k
	}
	return types.Slug(DefaultGroup)
}

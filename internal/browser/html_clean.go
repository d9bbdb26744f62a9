package browser

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// keptAttrs survive CleanSnapshot besides aria-* and data-uimap-*
var keptAttrs = map[string]bool{
	"id": true, "class": true, "role": true, "name": true, "type": true,
	"value": true, "for": true, "href": true, "title": true, "placeholder": true,
	"checked": true, "selected": true, "disabled": true, "readonly": true,
	"hidden": true, "min": true, "max": true, "maxlength": true, "step": true,
}

// CleanSnapshot strips an annotated snapshot down to the markup discovery
// reads: no scripts, styles or comments, and only the attributes that
// selectors, labels and values are built from. Hidden elements are kept.
func CleanSnapshot(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	cleanNode(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("failed to render HTML: %w", err)
	}
	return buf.String(), nil
}

func cleanNode(n *html.Node) {
	var toRemove []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if dropNode(c) {
			toRemove = append(toRemove, c)
			continue
		}
		cleanNode(c)
	}
	for _, c := range toRemove {
		n.RemoveChild(c)
	}

	switch n.Type {
	case html.ElementNode:
		cleanAttributes(n)
	case html.TextNode:
		n.Data = collapseSpace(n.Data)
	}
}

func dropNode(n *html.Node) bool {
	switch n.Type {
	case html.CommentNode:
		return true
	case html.TextNode:
		return strings.TrimSpace(n.Data) == ""
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Link, atom.Meta, atom.Svg, atom.Img:
			return true
		}
	}
	return false
}

func cleanAttributes(n *html.Node) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if !keptAttrs[a.Key] && !strings.HasPrefix(a.Key, "aria-") && !strings.HasPrefix(a.Key, "data-uimap-") {
			continue
		}
		switch a.Key {
		case "class":
			if classes := strings.Fields(a.Val); len(classes) > 3 {
				a.Val = strings.Join(classes[:3], " ")
			}
		case "href":
			if strings.HasPrefix(a.Val, "data:") || strings.HasPrefix(a.Val, "javascript:") {
				a.Val = a.Val[:strings.Index(a.Val, ":")+1] + "..."
			} else if len(a.Val) > 100 {
				a.Val = a.Val[:100] + "..."
			}
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

// collapseSpace keeps one space at either edge so inline text stays apart
func collapseSpace(s string) string {
	out := strings.Join(strings.Fields(s), " ")
	if strings.TrimLeftFunc(s, unicode.IsSpace) != s {
		out = " " + out
	}
	if strings.TrimRightFunc(s, unicode.IsSpace) != s {
		out += " "
	}
	return out
}

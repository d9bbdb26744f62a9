package graph

import (
	"regexp"
	"strings"

	"github.com/lance13c/uimap/internal/classify"
	"github.com/lance13c/uimap/internal/types"
)

var chromeNoise = regexp.MustCompile(`(?i)^\s*(save|apply|ok|cancel|close|done|dismiss|back|submit|x|×)\s*$`)

// Breadcrumbs infers a node's trail: an on-screen breadcrumb wins, else
// the click labels of its navPath that look like UI chrome
type Breadcrumbs struct {
	Blob classify.BlobFilter
	Max  int
}

func (b Breadcrumbs) believable(kind types.ClickKind) bool {
	switch kind {
	case types.ClickTab, types.ClickMenu, types.ClickLink, types.ClickButton:
		return true
	}
	return false
}

func (b Breadcrumbs) usable(label string) bool {
	label = strings.TrimSpace(label)
	return label != "" && !chromeNoise.MatchString(label) && !b.Blob.IsBlob(label)
}

// For returns the breadcrumb of p
func (b Breadcrumbs) For(p *types.PageEntry) []string {
	var raw []string
	if len(p.ScreenTrail) > 0 {
		raw = p.ScreenTrail
	} else {
		for _, step := range p.NavPath {
			if step.Action == types.NavClick && b.believable(step.Kind) {
				raw = append(raw, step.Label)
			}
		}
		if p.ActiveTab != "" && !p.Kind.IsOverlay() {
			raw = append(raw, p.ActiveTab)
		}
	}

	seen := map[string]bool{}
	out := []string{}
	for _, label := range raw {
		label = strings.Join(strings.Fields(label), " ")
		key := strings.ToLower(label)
		if !b.usable(label) || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, label)
	}
	if b.Max > 0 && len(out) > b.Max {
		out = out[len(out)-b.Max:]
	}
	return out
}

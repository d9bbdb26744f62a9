package graph

import (
	"github.com/lance13c/uimap/internal/classify"
	"github.com/lance13c/uimap/internal/types"
)

type nodeIndex struct {
	byScope map[string]string
	byURL   map[string]string
	kind    map[string]types.NodeKind
}

func (ix *nodeIndex) resolve(scopeID, rawURL string) string {
	if id, ok := ix.byScope[scopeID]; ok && scopeID != "" {
		return id
	}
	if rawURL == "" {
		return ""
	}
	return ix.byURL[NormalizeURL(rawURL)]
}

// EdgeType classifies a transition from the node kinds and the URL delta
func EdgeType(from, to types.NodeKind, urlBefore, urlAfter string, t types.TransitionType) types.EdgeType {
	switch {
	case !from.IsOverlay() && to.IsOverlay():
		return types.EdgeOpenModal
	case from.IsOverlay() && !to.IsOverlay():
		return types.EdgeCloseModal
	case t == types.TransitionTabSwitch:
		return types.EdgeTabSwitch
	case from.IsOverlay() && to.IsOverlay():
		return types.EdgeOpenModal
	case classify.URLChanged(urlBefore, urlAfter), t == types.TransitionNavigate:
		return types.EdgeNavigate
	}
	return types.EdgeExpandSection
}

type edgeSet struct {
	seen  map[string]bool
	edges []types.EdgeEntry
}

func (s *edgeSet) add(e types.EdgeEntry) {
	if e.From == "" || e.To == "" || e.From == e.To {
		return
	}
	key := e.From + "|" + e.To + "|" + string(e.EdgeType) + "|" + e.Trigger.Label
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.edges = append(s.edges, e)
}

// edgesFromLog replays the click log entry by entry
func edgesFromLog(log *types.ClickLog, ix *nodeIndex) []types.EdgeEntry {
	set := &edgeSet{seen: map[string]bool{}}
	for _, c := range log.Clicks {
		if c.Diagnostic || c.TransitionType == types.TransitionDismissAlert {
			continue
		}
		from := ix.resolve(c.NodeIDBefore, c.URLBefore)
		to := ix.resolve(c.NodeIDAfter, c.URLAfter)
		if from == "" || to == "" {
			continue
		}
		e := types.EdgeEntry{
			From:     from,
			To:       to,
			EdgeType: EdgeType(ix.kind[from], ix.kind[to], c.URLBefore, c.URLAfter, c.TransitionType),
			Trigger:  types.Trigger{Label: c.TargetText, Kind: c.Kind},
		}
		if len(c.Selectors) > 0 {
			sel := c.Selectors[0]
			e.Trigger.Selector = &sel
		}
		set.add(e)
	}
	return set.edges
}

// edgesFromCrawl synthesizes edges from page order when no click log
// exists: each page is entered from its parent, or else from the page
// crawled before it, through its last navPath step
func edgesFromCrawl(pages []types.PageEntry) []types.EdgeEntry {
	set := &edgeSet{seen: map[string]bool{}}
	kinds := map[string]types.NodeKind{}
	urls := map[string]string{}
	for _, p := range pages {
		kinds[p.ID] = p.Kind
		urls[p.ID] = p.URL
	}
	for i := 1; i < len(pages); i++ {
		p := pages[i]
		from := p.ParentID
		if from == "" {
			from = pages[i-1].ID
		}
		e := types.EdgeEntry{From: from, To: p.ID}
		t := types.TransitionNavigate
		if n := len(p.NavPath); n > 0 {
			last := p.NavPath[n-1]
			e.Trigger = types.Trigger{Label: last.Label, Kind: last.Kind, Selector: last.Selector}
			if last.Action == types.NavGoto {
				e.Trigger.Label = last.URL
				e.Trigger.Kind = types.ClickNavigate
			}
			if last.Kind == types.ClickTab {
				t = types.TransitionTabSwitch
			}
		}
		e.EdgeType = EdgeType(kinds[from], p.Kind, urls[from], p.URL, t)
		set.add(e)
	}
	return set.edges
}

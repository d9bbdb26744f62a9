// Package graph canonicalizes a discovery result into the UiMap: content
// fingerprinted node ids, deterministic field ids, breadcrumbs and edges.
package graph

import (
	"errors"
	"strings"

	"github.com/lance13c/uimap/internal/classify"
	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/logging"
	"github.com/lance13c/uimap/internal/types"
)

// Builder turns a Discovery into a UiMap. It holds no state between
// builds; every id table lives inside one Build call.
type Builder struct {
	crumbs Breadcrumbs
}

// NewBuilder configures breadcrumb filtering from classifier config
func NewBuilder(cfg config.ClassifierConfig) *Builder {
	return &Builder{crumbs: Breadcrumbs{Blob: classify.NewBlobFilter(cfg.Blob), Max: cfg.BreadcrumbMax}}
}

// Build assigns canonical ids. Field SourceID keeps the discovery key so
// the capture contract can reconcile against the click log.
func (b *Builder) Build(d *types.Discovery) (*types.UiMap, error) {
	if d == nil {
		return nil, errors.New("graph: nothing to build")
	}

	fieldsByPage := map[string][]*types.FieldEntry{}
	fields := make([]types.FieldEntry, len(d.Fields))
	copy(fields, d.Fields)
	for i := range fields {
		fieldsByPage[fields[i].PageID] = append(fieldsByPage[fields[i].PageID], &fields[i])
	}

	pages := make([]types.PageEntry, len(d.Pages))
	copy(pages, d.Pages)
	nodes := make([]types.NodeEntry, 0, len(pages))
	ix := &nodeIndex{byScope: map[string]string{}, byURL: map[string]string{}, kind: map[string]types.NodeKind{}}
	nodeIDs := newIDAllocator()

	for i := range pages {
		p := &pages[i]
		p.Breadcrumb = b.crumbs.For(p)
		var groupTitles, labels []string
		for _, g := range p.Groups {
			groupTitles = append(groupTitles, g.Title)
		}
		for _, f := range fieldsByPage[p.ID] {
			labels = append(labels, f.Label)
		}
		fp := Fingerprint(p, p.Breadcrumb, groupTitles, labels)
		id := nodeIDs.take(NodeID(fp))
		ix.byScope[p.ID] = id
		ix.kind[id] = p.Kind
		// the first node seen at a URL answers URL fallbacks; pages win over overlays
		key := NormalizeURL(p.URL)
		if prev, ok := ix.byURL[key]; !ok || (ix.kind[prev].IsOverlay() && !p.Kind.IsOverlay()) {
			ix.byURL[key] = id
		}
		nodes = append(nodes, types.NodeEntry{
			ID:          id,
			Kind:        p.Kind,
			Title:       p.Title,
			URL:         p.URL,
			Breadcrumb:  p.Breadcrumb,
			Fingerprint: fp,
		})
	}

	fieldIDs := newIDAllocator()
	bySource := map[string]string{}
	for i := range fields {
		f := &fields[i]
		page := pageByID(pages, f.PageID)
		key := FieldKey{ControlID: CanonicalControlID(f), FrameURL: f.FrameURL, GroupTitle: f.Group.Title}
		if page != nil {
			key.Breadcrumb = page.Breadcrumb
			key.ContainerTitle = page.Title
			if page.Kind.IsOverlay() {
				key.ModalTitle = f.ModalTitle
			}
		}
		f.ControlID = key.ControlID
		f.ID = fieldIDs.take(FieldID(key, f.Label))
		bySource[f.SourceID] = f.ID
	}

	for i := range fields {
		f := &fields[i]
		if id, ok := ix.byScope[f.PageID]; ok {
			f.PageID = id
		}
		for j := range f.Dependencies {
			f.Dependencies[j].Reveals = remap(f.Dependencies[j].Reveals, bySource)
			f.Dependencies[j].Hides = remap(f.Dependencies[j].Hides, bySource)
		}
	}

	for i := range pages {
		p := &pages[i]
		p.ID = ix.byScope[p.ID]
		if p.ParentID != "" {
			p.ParentID = ix.byScope[p.ParentID]
		}
		groups := make([]types.GroupEntry, len(p.Groups))
		for j, g := range p.Groups {
			g.FieldIDs = remap(g.FieldIDs, bySource)
			groups[j] = g
		}
		p.Groups = groups
		nodes[i].FieldIDs = []string{}
		for _, g := range groups {
			nodes[i].FieldIDs = append(nodes[i].FieldIDs, g.FieldIDs...)
		}
	}

	var edges []types.EdgeEntry
	if d.ClickLog != nil && len(d.ClickLog.Clicks) > 1 {
		edges = edgesFromLog(d.ClickLog, ix)
	} else {
		edges = edgesFromCrawl(pages)
	}

	meta := d.Meta
	meta.SchemaVersion = types.SchemaVersion
	m := &types.UiMap{Meta: meta, Pages: pages, Fields: fields, Nodes: nodes, Edges: edges}
	logging.Info("graph built%s", logging.KV("nodes", len(nodes), "fields", len(fields), "edges", len(edges)))
	return m, nil
}

func pageByID(pages []types.PageEntry, id string) *types.PageEntry {
	for i := range pages {
		if pages[i].ID == id {
			return &pages[i]
		}
	}
	return nil
}

func remap(ids []string, table map[string]string) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if v, ok := table[id]; ok {
			out = append(out, v)
		} else {
			out = append(out, id)
		}
	}
	return out
}

// SourceIndex maps discovery keys to canonical field ids
func SourceIndex(m *types.UiMap) map[string]string {
	out := make(map[string]string, len(m.Fields))
	for _, f := range m.Fields {
		if f.SourceID != "" {
			out[f.SourceID] = f.ID
		}
	}
	return out
}

// Trail renders a breadcrumb for display
func Trail(crumbs []string) string {
	return strings.Join(crumbs, " › ")
}

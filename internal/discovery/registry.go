package discovery

import (
	"sort"
	"sync"

	"github.com/lance13c/uimap/internal/types"
)

// Registry owns the mutable state of one discovery run: the seen-key set,
// write-once defaults, the last visible key set per scope and the page
// records. It is created by the entry point of a run and never shared
// between runs.
type Registry struct {
	mu       sync.Mutex
	index    map[string]int
	fields   []types.FieldEntry
	defaults map[string]any
	visible  map[string]map[string]bool
	pageIdx  map[string]int
	pages    []types.PageEntry
	explored map[string]bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		index:    map[string]int{},
		defaults: map[string]any{},
		visible:  map[string]map[string]bool{},
		pageIdx:  map[string]int{},
		explored: map[string]bool{},
	}
}

// Observe merges the fields of a scan and returns the keys seen for the
// first time in this run. The first observed value becomes the default
// and is never replaced.
func (r *Registry) Observe(fields []types.FieldEntry) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fresh []string
	for _, f := range fields {
		i, ok := r.index[f.SourceID]
		if !ok {
			r.defaults[f.SourceID] = f.CurrentValue
			f.DefaultValue = f.CurrentValue
			r.index[f.SourceID] = len(r.fields)
			r.fields = append(r.fields, f)
			fresh = append(fresh, f.SourceID)
			continue
		}
		cur := &r.fields[i]
		cur.CurrentValue = f.CurrentValue
		cur.ValueSource = f.ValueSource
		cur.Visibility = f.Visibility
		cur.Selectors = f.Selectors
		if len(f.Options) > 0 {
			cur.Options = f.Options
		}
		if f.Constraints != nil {
			cur.Constraints = f.Constraints
		}
		if rank(f.LabelQuality) > rank(cur.LabelQuality) {
			cur.Label, cur.LabelQuality = f.Label, f.LabelQuality
		}
		cur.DefaultValue = r.defaults[f.SourceID]
	}
	return fresh
}

func rank(q types.LabelQuality) int {
	switch q {
	case types.LabelExplicit:
		return 2
	case types.LabelDerived:
		return 1
	}
	return 0
}

// Default returns the write-once default of a key
func (r *Registry) Default(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.defaults[key]
	return v, ok
}

// Seen reports whether a key was registered in this run
func (r *Registry) Seen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[key]
	return ok
}

// SwapVisible stores the visible key set of a scope and returns the
// previous one (nil when the scope was never scanned)
func (r *Registry) SwapVisible(scopeID string, keys []string) map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.visible[scopeID]
	next := make(map[string]bool, len(keys))
	for _, k := range keys {
		next[k] = true
	}
	r.visible[scopeID] = next
	return prev
}

// MarkHidden records that keys are registered but currently not visible
func (r *Registry) MarkHidden(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		if i, ok := r.index[k]; ok {
			r.fields[i].Visibility.Visible = false
		}
	}
}

// AddDependency attaches a variant dependency to the controlling field,
// one entry per value
func (r *Registry) AddDependency(key string, dep types.Dependency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[key]
	if !ok {
		return
	}
	f := &r.fields[i]
	for j := range f.Dependencies {
		if f.Dependencies[j].When == dep.When {
			f.Dependencies[j] = dep
			return
		}
	}
	f.Dependencies = append(f.Dependencies, dep)
}

// MarkExplored reports whether key still needed variant exploration and
// marks it done
func (r *Registry) MarkExplored(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.explored[key] {
		return false
	}
	r.explored[key] = true
	return true
}

// RecordPage registers a page on first sighting. Later sightings only
// add actions, a snapshot or a screen trail; the first navPath stays.
func (r *Registry) RecordPage(p types.PageEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.pageIdx[p.ID]
	if !ok {
		r.pageIdx[p.ID] = len(r.pages)
		r.pages = append(r.pages, p)
		return true
	}
	cur := &r.pages[i]
	for _, a := range p.Actions {
		if !hasAction(cur.Actions, a) {
			cur.Actions = append(cur.Actions, a)
		}
	}
	if cur.Snapshot == "" {
		cur.Snapshot = p.Snapshot
	}
	if len(cur.ScreenTrail) == 0 {
		cur.ScreenTrail = p.ScreenTrail
	}
	return false
}

func hasAction(list []types.ActionEntry, a types.ActionEntry) bool {
	for _, x := range list {
		if x.Kind == a.Kind && x.Label == a.Label {
			return true
		}
	}
	return false
}

// Page returns a copy of a page record
func (r *Registry) Page(id string) (types.PageEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.pageIdx[id]
	if !ok {
		return types.PageEntry{}, false
	}
	return r.pages[i], true
}

// Counts returns the number of pages and fields registered
func (r *Registry) Counts() (pages, fields int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages), len(r.fields)
}

// Fields returns the registered fields in first-sighting order
func (r *Registry) Fields() []types.FieldEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.FieldEntry(nil), r.fields...)
}

// Pages returns the page records with their field groups filled in
func (r *Registry) Pages() []types.PageEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]types.PageEntry(nil), r.pages...)
	for i := range out {
		type acc struct {
			entry types.GroupEntry
			first int
		}
		groups := map[string]*acc{}
		for fi, f := range r.fields {
			if f.PageID != out[i].ID {
				continue
			}
			g, ok := groups[f.Group.Key]
			if !ok {
				g = &acc{entry: types.GroupEntry{Key: f.Group.Key, Title: f.Group.Title, Order: f.Group.Order}, first: fi}
				groups[f.Group.Key] = g
			}
			g.entry.FieldIDs = append(g.entry.FieldIDs, f.SourceID)
		}
		list := make([]*acc, 0, len(groups))
		for _, g := range groups {
			list = append(list, g)
		}
		sort.Slice(list, func(a, b int) bool {
			if list[a].entry.Order != list[b].entry.Order {
				return list[a].entry.Order < list[b].entry.Order
			}
			return list[a].first < list[b].first
		})
		out[i].Groups = nil
		for n, g := range list {
			g.entry.Order = n
			out[i].Groups = append(out[i].Groups, g.entry)
		}
	}
	return out
}

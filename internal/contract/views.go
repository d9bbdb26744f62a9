package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lance13c/uimap/internal/types"
)

// Artifact file names under the output directory
const (
	SchemaFile     = "ui_schema.json"
	VerifyFile     = "verify_report.json"
	FormFile       = "ui_form.yaml"
	NavigationFile = "navigation.yaml"
	LayoutFile     = "layout.yaml"
)

// FormView is a human-readable form per container. Generated, never edited.
type FormView struct {
	SchemaVersion string          `yaml:"schema_version"`
	Containers    []FormContainer `yaml:"containers"`
}

type FormContainer struct {
	Key        string      `yaml:"key"`
	Title      string      `yaml:"title"`
	Kind       string      `yaml:"kind"`
	Breadcrumb []string    `yaml:"breadcrumb,omitempty,flow"`
	Groups     []FormGroup `yaml:"groups"`
}

type FormGroup struct {
	Title  string      `yaml:"title"`
	Fields []FormField `yaml:"fields"`
}

type FormField struct {
	ID      string   `yaml:"id"`
	Label   string   `yaml:"label"`
	Type    string   `yaml:"type"`
	Value   any      `yaml:"value"`
	Quality string   `yaml:"quality"`
	Options []string `yaml:"options,omitempty,flow"`
}

// Form projects a schema into its form view
func Form(s *CaptureSchema) *FormView {
	v := &FormView{SchemaVersion: s.SchemaVersion}
	byContainer := map[string][]*FieldRecord{}
	for i := range s.FieldRecords {
		r := &s.FieldRecords[i]
		byContainer[r.ContainerKey] = append(byContainer[r.ContainerKey], r)
	}
	for _, c := range s.Containers {
		fc := FormContainer{Key: c.ContainerKey, Title: c.Title, Kind: c.Type, Breadcrumb: c.Breadcrumb}
		records := byContainer[c.ContainerKey]
		sort.SliceStable(records, func(i, j int) bool { return records[i].Group.Order < records[j].Group.Order })
		index := map[string]int{}
		for _, r := range records {
			title := r.Group.Title
			if title == "" {
				title = "General"
			}
			gi, ok := index[title]
			if !ok {
				gi = len(fc.Groups)
				index[title] = gi
				fc.Groups = append(fc.Groups, FormGroup{Title: title})
			}
			ff := FormField{
				ID:      r.FieldID,
				Label:   r.Label,
				Type:    r.Type,
				Value:   r.Value.CurrentValue,
				Quality: r.Value.ValueQuality,
			}
			for _, o := range r.Options {
				ff.Options = append(ff.Options, firstNonEmpty(o.Label, o.Value))
			}
			fc.Groups[gi].Fields = append(fc.Groups[gi].Fields, ff)
		}
		v.Containers = append(v.Containers, fc)
	}
	return v
}

// NavigationView lists nodes with their routes and transitions
type NavigationView struct {
	Nodes []NavNode `yaml:"nodes"`
	Edges []NavEdge `yaml:"edges"`
}

type NavNode struct {
	ID      string          `yaml:"id"`
	Kind    string          `yaml:"kind"`
	Title   string          `yaml:"title"`
	URL     string          `yaml:"url"`
	Parent  string          `yaml:"parent,omitempty"`
	NavPath []types.NavStep `yaml:"nav_path,omitempty"`
}

type NavEdge struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Type    string `yaml:"type"`
	Trigger string `yaml:"trigger,omitempty"`
}

// Navigation projects the map graph
func Navigation(m *types.UiMap) *NavigationView {
	v := &NavigationView{Nodes: []NavNode{}, Edges: []NavEdge{}}
	for _, p := range m.Pages {
		v.Nodes = append(v.Nodes, NavNode{
			ID:      p.ID,
			Kind:    string(p.Kind),
			Title:   p.Title,
			URL:     p.URL,
			Parent:  p.ParentID,
			NavPath: p.NavPath,
		})
	}
	for _, e := range m.Edges {
		v.Edges = append(v.Edges, NavEdge{From: e.From, To: e.To, Type: string(e.EdgeType), Trigger: e.Trigger.Label})
	}
	return v
}

// LayoutView nests groups and field ids under each node
type LayoutView struct {
	Pages []LayoutPage `yaml:"pages"`
}

type LayoutPage struct {
	ID     string        `yaml:"id"`
	Title  string        `yaml:"title"`
	Groups []LayoutGroup `yaml:"groups"`
}

type LayoutGroup struct {
	Key    string   `yaml:"key"`
	Title  string   `yaml:"title"`
	Fields []string `yaml:"fields"`
}

// Layout projects the map's grouping
func Layout(m *types.UiMap) *LayoutView {
	v := &LayoutView{Pages: []LayoutPage{}}
	for _, p := range m.Pages {
		lp := LayoutPage{ID: p.ID, Title: p.Title, Groups: []LayoutGroup{}}
		for _, g := range p.Groups {
			lp.Groups = append(lp.Groups, LayoutGroup{Key: g.Key, Title: g.Title, Fields: g.FieldIDs})
		}
		v.Pages = append(v.Pages, lp)
	}
	return v
}

// WriteYAML encodes v with two-space indentation
func WriteYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	fmt.Fprintln(f, "# generated by uimap; edits are overwritten")
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return enc.Close()
}

// Artifacts is everything one contract run produces
type Artifacts struct {
	Schema *CaptureSchema
	Verify *VerifyReport
}

// Generate builds the schema, merges overlay, verifies it and writes every
// artifact to dir. Nothing is written when the overlay does not fit.
func Generate(m *types.UiMap, log *types.ClickLog, dir string, overlay ...OverlayValue) (*Artifacts, error) {
	s, err := Build(m, log)
	if err != nil {
		return nil, err
	}
	if len(overlay) > 0 {
		if _, err := s.ApplyOverlay(overlay); err != nil {
			return nil, err
		}
	}
	a, err := WriteSchema(s, dir)
	if err != nil {
		return nil, err
	}
	views := map[string]any{
		NavigationFile: Navigation(m),
		LayoutFile:     Layout(m),
	}
	for name, v := range views {
		if err := WriteYAML(filepath.Join(dir, name), v); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// WriteSchema verifies s and writes the schema, the verify report and the
// form view. The map-only views are left alone.
func WriteSchema(s *CaptureSchema, dir string) (*Artifacts, error) {
	a := &Artifacts{Schema: s, Verify: Verify(s)}
	if err := types.WriteJSON(filepath.Join(dir, SchemaFile), s); err != nil {
		return nil, err
	}
	if err := types.WriteJSON(filepath.Join(dir, VerifyFile), a.Verify); err != nil {
		return nil, err
	}
	if err := WriteYAML(filepath.Join(dir, FormFile), Form(s)); err != nil {
		return nil, err
	}
	return a, nil
}

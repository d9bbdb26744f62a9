package apply

import (
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lance13c/uimap/internal/types"
)

// PlanMeta identifies who the values are for
type PlanMeta struct {
	AccountNumber string `json:"accountNumber,omitempty"`
	Variation     string `json:"variation,omitempty"`
	Source        string `json:"source,omitempty"`
}

// Setting is one settingId → value instruction
type Setting struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// Plan is the resolved apply input
type Plan struct {
	Meta     PlanMeta  `json:"meta"`
	Settings []Setting `json:"settings"`
}

// LoadPlan reads a plan file
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	p, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	return p, nil
}

// ParsePlan accepts {meta, settings[{id, value}]}, {"values": {...}} or a
// flat id → value object. Object key order is kept.
func ParsePlan(data []byte) (*Plan, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("plan is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("plan must be a JSON object")
	}
	p := &Plan{Meta: PlanMeta{
		AccountNumber: root.Get("meta.accountNumber").String(),
		Variation:     root.Get("meta.variation").String(),
		Source:        root.Get("meta.source").String(),
	}}

	switch settings := root.Get("settings"); {
	case settings.IsArray():
		var err error
		settings.ForEach(func(_, s gjson.Result) bool {
			id := strings.TrimSpace(s.Get("id").String())
			if id == "" {
				err = fmt.Errorf("setting without id: %s", s.Raw)
				return false
			}
			p.Settings = append(p.Settings, Setting{ID: id, Value: s.Get("value").Value()})
			return true
		})
		if err != nil {
			return nil, err
		}
	case root.Get("values").IsObject():
		p.Settings = flatSettings(root.Get("values"))
	default:
		p.Settings = flatSettings(root)
	}

	seen := map[string]bool{}
	for _, s := range p.Settings {
		if seen[s.ID] {
			return nil, fmt.Errorf("setting %s appears more than once", s.ID)
		}
		seen[s.ID] = true
	}
	return p, nil
}

func flatSettings(obj gjson.Result) []Setting {
	var out []Setting
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == "meta" {
			return true
		}
		out = append(out, Setting{ID: k.String(), Value: v.Value()})
		return true
	})
	return out
}

// Step is one setting bound to its field
type Step struct {
	Setting Setting
	Field   *types.FieldEntry
}

// PageGroup is the work for one page: navigate once, apply, commit
type PageGroup struct {
	Page  *types.PageEntry
	Steps []Step
}

// Prepare gates the schema version and binds every setting to a field.
// Groups follow map page order; steps keep plan order. Nothing here
// touches the driver.
func Prepare(m *types.UiMap, p *Plan) ([]PageGroup, error) {
	if err := CheckSchema(m); err != nil {
		return nil, err
	}
	byID := make(map[string]*types.FieldEntry, len(m.Fields))
	bySource := make(map[string]*types.FieldEntry, len(m.Fields))
	for i := range m.Fields {
		f := &m.Fields[i]
		byID[f.ID] = f
		if f.SourceID != "" {
			bySource[f.SourceID] = f
		}
	}

	steps := map[string][]Step{}
	for _, s := range p.Settings {
		f, ok := byID[s.ID]
		if !ok {
			f, ok = bySource[s.ID]
		}
		if !ok {
			return nil, &InputError{SettingID: s.ID, Value: s.Value, Reason: "no such field in map"}
		}
		if m.Page(f.PageID) == nil {
			return nil, &InputError{SettingID: s.ID, PageID: f.PageID, Value: s.Value, Reason: "field points at unknown page"}
		}
		steps[f.PageID] = append(steps[f.PageID], Step{Setting: s, Field: f})
	}

	var groups []PageGroup
	for i := range m.Pages {
		page := &m.Pages[i]
		if s, ok := steps[page.ID]; ok {
			groups = append(groups, PageGroup{Page: page, Steps: s})
		}
	}
	return groups, nil
}

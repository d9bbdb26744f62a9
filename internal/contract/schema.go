// Package contract builds the capture schema external consumers depend on,
// its verify report, the reconciliation guard against the click log and
// the human-readable YAML views.
package contract

import (
	"fmt"
	"strings"
	"time"

	"github.com/lance13c/uimap/internal/types"
)

// Schema record types. Dropdowns are split by how their value is read
// because the replay strategies differ.
const (
	TypeTextbox        = "textbox"
	TypeSpinbutton     = "spinbutton"
	TypeCheckbox       = "checkbox"
	TypeSwitch         = "switch"
	TypeRadioGroup     = "radio_group"
	TypeDropdownNative = "dropdown_native"
	TypeDropdownARIA   = "dropdown_aria"
	TypeButtonDialog   = "button_dialog"
	TypeTextDisplay    = "text_display"
)

// Value quality levels
const (
	QualityHigh    = "high"
	QualityMedium  = "medium"
	QualityLow     = "low"
	QualityUnknown = "unknown"
)

// CaptureSchema is the exported contract (ui_schema.json)
type CaptureSchema struct {
	SchemaVersion string            `json:"schema_version"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Source        string            `json:"source"`
	PrinterURL    string            `json:"printer_url,omitempty"`
	Containers    []ContainerRecord `json:"containers"`
	FieldRecords  []FieldRecord     `json:"fieldRecords"`
}

// ContainerRecord is one page, modal, drawer or frame
type ContainerRecord struct {
	ContainerKey string          `json:"containerKey"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	URL          string          `json:"url"`
	Breadcrumb   []string        `json:"breadcrumb"`
	NavPath      []types.NavStep `json:"navPath"`
	Actions      []ActionRecord  `json:"actions"`
	ParentKey    string          `json:"parentKey,omitempty"`
}

// ActionRecord is a commit, cancel or close control of a container
type ActionRecord struct {
	Kind      string           `json:"kind"`
	Label     string           `json:"label"`
	Selector  *types.Selector  `json:"selector,omitempty"`
	Fallbacks []types.Selector `json:"fallbacks,omitempty"`
}

// FieldRecord is one setting as consumers see it
type FieldRecord struct {
	FieldID       string             `json:"field_id"`
	SourceFieldID string             `json:"source_field_id"`
	ContainerKey  string             `json:"containerKey"`
	Page          string             `json:"page"`
	Label         string             `json:"label"`
	LabelQuality  types.LabelQuality `json:"label_quality"`
	Type          string             `json:"type"`
	ValueType     types.ValueType    `json:"value_type"`
	Breadcrumb    []string           `json:"breadcrumb"`
	Container     ContainerRef       `json:"container"`
	Group         GroupRef           `json:"group"`
	Control       ControlRef         `json:"control"`
	Context       ContextRef         `json:"context"`
	Value         ValueRecord        `json:"value"`
	Options       []types.Option     `json:"options"`
	Constraints   *types.Constraints `json:"constraints,omitempty"`
	Visible       bool               `json:"visible"`
	Enabled       bool               `json:"enabled"`
	Dependencies  []types.Dependency `json:"dependencies,omitempty"`
	OpensModal    bool               `json:"opens_modal,omitempty"`
	ModalRef      string             `json:"modal_ref,omitempty"`
}

type ContainerRef struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

type GroupRef struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

type ControlRef struct {
	CanonicalControlID string           `json:"canonical_control_id"`
	PrimarySelector    *types.Selector  `json:"primary_selector,omitempty"`
	FallbackSelectors  []types.Selector `json:"fallback_selectors"`
	StableSelector     bool             `json:"stable_selector"`
}

type ContextRef struct {
	FrameURL   string `json:"frame_url,omitempty"`
	ModalTitle string `json:"modal_title,omitempty"`
}

// ValueRecord carries the observed value and how far it can be trusted
type ValueRecord struct {
	CurrentValue  any    `json:"current_value"`
	DefaultValue  any    `json:"default_value"`
	ValueSource   string `json:"value_source,omitempty"`
	ValueQuality  string `json:"value_quality"`
	QualityReason string `json:"quality_reason"`
}

// Record returns the record with the given field id
func (s *CaptureSchema) Record(fieldID string) *FieldRecord {
	for i := range s.FieldRecords {
		if s.FieldRecords[i].FieldID == fieldID {
			return &s.FieldRecords[i]
		}
	}
	return nil
}

// Container returns the container with the given key
func (s *CaptureSchema) Container(key string) *ContainerRecord {
	for i := range s.Containers {
		if s.Containers[i].ContainerKey == key {
			return &s.Containers[i]
		}
	}
	return nil
}

// SchemaType maps a field onto its record type
func SchemaType(f *types.FieldEntry) string {
	switch f.ControlType {
	case types.ControlSwitch:
		return TypeSwitch
	case types.ControlCheckbox:
		return TypeCheckbox
	case types.ControlRadioGroup:
		return TypeRadioGroup
	case types.ControlDropdown:
		if f.ValueSource == types.SourceNativeSelect {
			return TypeDropdownNative
		}
		return TypeDropdownARIA
	case types.ControlSpinbutton:
		return TypeSpinbutton
	case types.ControlButton:
		return TypeButtonDialog
	case types.ControlTextDisplay:
		return TypeTextDisplay
	}
	switch f.Type {
	case types.FieldSelect:
		return TypeDropdownNative
	case types.FieldRadio:
		return TypeRadioGroup
	case types.FieldCheckbox:
		return TypeCheckbox
	case types.FieldNumber:
		return TypeSpinbutton
	case types.FieldButton:
		return TypeButtonDialog
	}
	return TypeTextbox
}

// IsEnumType reports whether records of type t pick from options
func IsEnumType(t string) bool {
	return t == TypeRadioGroup || t == TypeDropdownNative || t == TypeDropdownARIA
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// Quality scores the current value of a record
func Quality(recordType string, options int, current any, source string) (string, string) {
	switch {
	case IsEnumType(recordType) && options == 0:
		return QualityUnknown, "enum-like control has no options"
	case isEmpty(current):
		return QualityLow, "current value is empty"
	}
	switch types.ValueSource(source) {
	case types.SourceNativeSelect:
		return QualityHigh, "read from native select"
	case types.SourceOpenedOptions:
		return QualityHigh, "read from opened options"
	case types.SourceTriggerText:
		return QualityMedium, "read from trigger text"
	case types.SourceStaticText:
		return QualityMedium, "read from static text"
	}
	return QualityHigh, "read from control state"
}

func (r *FieldRecord) rescore() {
	r.Value.ValueQuality, r.Value.QualityReason = Quality(r.Type, len(r.Options), r.Value.CurrentValue, r.Value.ValueSource)
}

// FromMap builds the schema from a canonical map
func FromMap(m *types.UiMap) *CaptureSchema {
	s := &CaptureSchema{
		SchemaVersion: m.Meta.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Source:        "ui_map",
		PrinterURL:    m.Meta.PrinterURL,
		Containers:    []ContainerRecord{},
		FieldRecords:  []FieldRecord{},
	}
	pages := map[string]*types.PageEntry{}
	for i := range m.Pages {
		p := &m.Pages[i]
		pages[p.ID] = p
		c := ContainerRecord{
			ContainerKey: p.ID,
			Type:         string(p.Kind),
			Title:        p.Title,
			URL:          p.URL,
			Breadcrumb:   nonNilStrings(p.Breadcrumb),
			NavPath:      p.NavPath,
			Actions:      []ActionRecord{},
			ParentKey:    p.ParentID,
		}
		if c.NavPath == nil {
			c.NavPath = []types.NavStep{}
		}
		for _, a := range p.Actions {
			ar := ActionRecord{Kind: string(a.Kind), Label: a.Label}
			if len(a.Selectors) > 0 {
				first := a.Selectors[0]
				ar.Selector = &first
				ar.Fallbacks = a.Selectors[1:]
			}
			c.Actions = append(c.Actions, ar)
		}
		s.Containers = append(s.Containers, c)
	}

	for i := range m.Fields {
		f := &m.Fields[i]
		r := FieldRecord{
			FieldID:       f.ID,
			SourceFieldID: f.SourceID,
			ContainerKey:  f.PageID,
			Page:          f.PageID,
			Label:         f.Label,
			LabelQuality:  f.LabelQuality,
			Type:          SchemaType(f),
			ValueType:     f.ValueType,
			Breadcrumb:    []string{},
			Group:         GroupRef{Key: f.Group.Key, Title: f.Group.Title, Order: f.Group.Order},
			Context:       ContextRef{FrameURL: f.FrameURL},
			Value: ValueRecord{
				CurrentValue: f.CurrentValue,
				DefaultValue: f.DefaultValue,
				ValueSource:  string(f.ValueSource),
			},
			Options:      nonNilOptions(f.Options),
			Constraints:  f.Constraints,
			Visible:      f.Visibility.Visible,
			Enabled:      f.Visibility.Enabled,
			Dependencies: f.Dependencies,
			OpensModal:   f.OpensModal,
			ModalRef:     f.ModalRef,
		}
		r.Control = controlRef(f.ControlID, f.Selectors)
		if p, ok := pages[f.PageID]; ok {
			r.Breadcrumb = nonNilStrings(p.Breadcrumb)
			r.Container = ContainerRef{Key: p.ID, Title: p.Title, Kind: string(p.Kind)}
			if p.Kind.IsOverlay() {
				r.Context.ModalTitle = firstNonEmpty(f.ModalTitle, p.Title)
			}
		}
		r.rescore()
		s.FieldRecords = append(s.FieldRecords, r)
	}
	return s
}

func controlRef(canonical string, sels []types.Selector) ControlRef {
	c := ControlRef{CanonicalControlID: canonical, FallbackSelectors: []types.Selector{}}
	if len(sels) > 0 {
		first := sels[0]
		c.PrimarySelector = &first
		c.FallbackSelectors = append(c.FallbackSelectors, sels[1:]...)
	}
	for _, s := range sels {
		if s.Stability != types.Fragile {
			c.StableSelector = true
		}
	}
	return c
}

// Selectors returns the primary selector followed by the fallbacks
func (c ControlRef) Selectors() []types.Selector {
	var out []types.Selector
	if c.PrimarySelector != nil {
		out = append(out, *c.PrimarySelector)
	}
	return append(out, c.FallbackSelectors...)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilOptions(o []types.Option) []types.Option {
	if o == nil {
		return []types.Option{}
	}
	return o
}

// OverlayValue is a fresher in-session read of one field
type OverlayValue struct {
	FieldID       string `json:"field_id,omitempty"`
	SourceFieldID string `json:"source_field_id,omitempty"`
	CurrentValue  any    `json:"current_value"`
	ValueSource   string `json:"value_source,omitempty"`
}

// ApplyOverlay merges snapshot reads into the schema. The current value is
// last-write-wins; the default value is only filled while it is still null.
// It returns the number of records touched.
func (s *CaptureSchema) ApplyOverlay(overlay []OverlayValue) (int, error) {
	byID := map[string]int{}
	bySource := map[string]int{}
	for i, r := range s.FieldRecords {
		byID[r.FieldID] = i
		if r.SourceFieldID != "" {
			bySource[r.SourceFieldID] = i
		}
	}
	touched := 0
	for _, o := range overlay {
		i, ok := byID[o.FieldID]
		if !ok {
			i, ok = bySource[o.SourceFieldID]
		}
		if !ok {
			return touched, fmt.Errorf("overlay names unknown field %q", firstNonEmpty(o.FieldID, o.SourceFieldID))
		}
		r := &s.FieldRecords[i]
		r.Value.CurrentValue = o.CurrentValue
		if o.ValueSource != "" {
			r.Value.ValueSource = o.ValueSource
		}
		if r.Value.DefaultValue == nil {
			r.Value.DefaultValue = o.CurrentValue
		}
		r.rescore()
		touched++
	}
	return touched, nil
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}

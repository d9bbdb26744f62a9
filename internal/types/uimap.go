package types

import "time"

// Schema versions understood by the replay runner. A map written with any
// other version is rejected before planning.
const (
	SchemaVersion = "2.1"
)

var SupportedSchemaVersions = []string{"2.0", "2.1"}

// IsSupportedSchema reports whether a map with the given version can be replayed
func IsSupportedSchema(version string) bool {
	for _, v := range SupportedSchemaVersions {
		if v == version {
			return true
		}
	}
	return false
}

// SelectorKind tags the variant of a Selector
type SelectorKind string

const (
	SelectorRole  SelectorKind = "role"
	SelectorLabel SelectorKind = "label"
	SelectorCSS   SelectorKind = "css"
	SelectorText  SelectorKind = "text"
)

// Stability hints how likely a selector is to survive firmware drift
type Stability string

const (
	Stable  Stability = "stable"
	Fragile Stability = "fragile"
)

// Selector targets one control. Lower priority is tried first; a nil
// priority falls back to list order.
type Selector struct {
	Kind       SelectorKind `json:"kind" yaml:"kind"`
	Role       string       `json:"role,omitempty" yaml:"role,omitempty"`
	Name       string       `json:"name,omitempty" yaml:"name,omitempty"`
	Text       string       `json:"text,omitempty" yaml:"text,omitempty"`
	Value      string       `json:"value,omitempty" yaml:"value,omitempty"`
	Priority   *int         `json:"priority,omitempty" yaml:"priority,omitempty"`
	Stability  Stability    `json:"stability,omitempty" yaml:"stability,omitempty"`
	MatchCount *int         `json:"matchCount,omitempty" yaml:"matchCount,omitempty"`
}

// String renders the selector for logs and error messages
func (s Selector) String() string {
	switch s.Kind {
	case SelectorRole:
		if s.Name == "" {
			return "role=" + s.Role
		}
		return "role=" + s.Role + "[name=\"" + s.Name + "\"]"
	case SelectorLabel:
		return "label=" + s.Text
	case SelectorText:
		return "text=" + s.Text
	default:
		return "css=" + s.Value
	}
}

// IntPtr is a small helper for optional numeric fields
func IntPtr(v int) *int { return &v }

// FieldType is the coarse control type
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldCheckbox FieldType = "checkbox"
	FieldRadio    FieldType = "radio"
	FieldSelect   FieldType = "select"
	FieldTextarea FieldType = "textarea"
	FieldButton   FieldType = "button"
)

// ControlType refines FieldType with how the control behaves
type ControlType string

const (
	ControlSwitch      ControlType = "switch"
	ControlCheckbox    ControlType = "checkbox"
	ControlDropdown    ControlType = "dropdown"
	ControlRadioGroup  ControlType = "radio_group"
	ControlSpinbutton  ControlType = "spinbutton"
	ControlTextbox     ControlType = "textbox"
	ControlButton      ControlType = "button"
	ControlTextDisplay ControlType = "text_display"
)

// ValueType is the type of a field's value
type ValueType string

const (
	ValueString  ValueType = "string"
	ValueNumber  ValueType = "number"
	ValueBoolean ValueType = "boolean"
	ValueEnum    ValueType = "enum"
	ValueUnknown ValueType = "unknown"
)

// LabelQuality records how a label was obtained
type LabelQuality string

const (
	LabelExplicit LabelQuality = "explicit"
	LabelDerived  LabelQuality = "derived"
	LabelMissing  LabelQuality = "missing"
)

// ValueSource records where a current value was read from
type ValueSource string

const (
	SourceInput         ValueSource = "input"
	SourceCheckedState  ValueSource = "checked_state"
	SourceNativeSelect  ValueSource = "native_select"
	SourceOpenedOptions ValueSource = "opened_options"
	SourceTriggerText   ValueSource = "trigger_text"
	SourceStaticText    ValueSource = "static_text"
)

type Option struct {
	Value    string `json:"value" yaml:"value"`
	Label    string `json:"label" yaml:"label"`
	Selected bool   `json:"selected,omitempty" yaml:"selected,omitempty"`
}

type Constraints struct {
	Min      *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Step     *float64 `json:"step,omitempty" yaml:"step,omitempty"`
	Pattern  string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Enum     []string `json:"enum,omitempty" yaml:"enum,omitempty"`
	ReadOnly bool     `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
	MaxLen   *int     `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
}

// IsZero reports whether no constraint is set
func (c *Constraints) IsZero() bool {
	return c == nil || (c.Min == nil && c.Max == nil && c.Step == nil && c.Pattern == "" &&
		len(c.Enum) == 0 && !c.ReadOnly && c.MaxLen == nil)
}

type GroupRef struct {
	Key   string `json:"key" yaml:"key"`
	Title string `json:"title" yaml:"title"`
	Order int    `json:"order" yaml:"order"`
}

type Visibility struct {
	Visible bool `json:"visible" yaml:"visible"`
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Dependency records which fields appear or disappear when the controlling
// field takes the value When.
type Dependency struct {
	When    string   `json:"when" yaml:"when"`
	Reveals []string `json:"reveals,omitempty" yaml:"reveals,omitempty"`
	Hides   []string `json:"hides,omitempty" yaml:"hides,omitempty"`
}

// FieldEntry is one discovered control. During discovery ID is empty and
// SourceID holds the run-local discovery key; the graph builder assigns ID.
type FieldEntry struct {
	ID           string       `json:"id"`
	SourceID     string       `json:"sourceId"`
	PageID       string       `json:"pageId"`
	Label        string       `json:"label"`
	LabelQuality LabelQuality `json:"labelQuality"`
	Type         FieldType    `json:"type"`
	ControlType  ControlType  `json:"controlType"`
	ValueType    ValueType    `json:"valueType"`
	Selectors    []Selector   `json:"selectors"`
	Constraints  *Constraints `json:"constraints,omitempty"`
	Options      []Option     `json:"options,omitempty"`
	CurrentValue any          `json:"currentValue"`
	DefaultValue any          `json:"defaultValue"`
	ValueSource  ValueSource  `json:"valueSource,omitempty"`
	Group        GroupRef     `json:"group"`
	Visibility   Visibility   `json:"visibility"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	OpensModal   bool         `json:"opensModal,omitempty"`
	ModalRef     string       `json:"modalRef,omitempty"`
	ModalTitle   string       `json:"modalTitle,omitempty"`
	FrameURL     string       `json:"frameUrl,omitempty"`
	ControlID    string       `json:"canonicalControlId,omitempty"`
	DeclaredID   string       `json:"declaredId,omitempty"`
	HTMLID       string       `json:"htmlId,omitempty"`
	HTMLName     string       `json:"htmlName,omitempty"`
}

// IsEnumLike reports whether the field picks from a fixed option set
func (f *FieldEntry) IsEnumLike() bool {
	switch f.ControlType {
	case ControlDropdown, ControlRadioGroup:
		return true
	}
	return f.Type == FieldSelect || f.Type == FieldRadio
}

// NodeKind is the kind of an observed container
type NodeKind string

const (
	KindPage   NodeKind = "page"
	KindModal  NodeKind = "modal"
	KindDrawer NodeKind = "drawer"
	KindIframe NodeKind = "iframe"
)

// IsOverlay reports whether the kind sits on top of a page
func (k NodeKind) IsOverlay() bool {
	return k == KindModal || k == KindDrawer
}

// NavAction is a navPath step verb
type NavAction string

const (
	NavGoto  NavAction = "goto"
	NavClick NavAction = "click"
)

type NavStep struct {
	Action   NavAction  `json:"action" yaml:"action"`
	URL      string     `json:"url,omitempty" yaml:"url,omitempty"`
	Selector *Selector  `json:"selector,omitempty" yaml:"selector,omitempty"`
	Label    string     `json:"label,omitempty" yaml:"label,omitempty"`
	Kind     ClickKind  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Fallback []Selector `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// ActionKind classifies a page-level button
type ActionKind string

const (
	ActionCommit ActionKind = "commit"
	ActionCancel ActionKind = "cancel"
	ActionClose  ActionKind = "close"
)

type ActionEntry struct {
	Kind      ActionKind `json:"kind"`
	Label     string     `json:"label"`
	Selectors []Selector `json:"selectors"`
}

type GroupEntry struct {
	Key      string   `json:"key"`
	Title    string   `json:"title"`
	Order    int      `json:"order"`
	FieldIDs []string `json:"fieldIds"`
}

// PageEntry is one observed container. During discovery ID is the scope
// signature; the graph builder replaces it with the content fingerprint.
type PageEntry struct {
	ID          string        `json:"id"`
	Kind        NodeKind      `json:"kind"`
	Title       string        `json:"title"`
	URL         string        `json:"url"`
	Breadcrumb  []string      `json:"breadcrumb"`
	ScreenTrail []string      `json:"screenTrail,omitempty"`
	NavPath     []NavStep     `json:"navPath"`
	Groups      []GroupEntry  `json:"groups"`
	Actions     []ActionEntry `json:"actions,omitempty"`
	Snapshot    string        `json:"snapshot,omitempty"`
	ActiveTab   string        `json:"activeTab,omitempty"`
	FrameURL    string        `json:"frameUrl,omitempty"`
	ParentID    string        `json:"parentId,omitempty"`
}

// NodeEntry is the graph view of a PageEntry
type NodeEntry struct {
	ID          string   `json:"id"`
	Kind        NodeKind `json:"kind"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Breadcrumb  []string `json:"breadcrumb"`
	Fingerprint string   `json:"fingerprint"`
	FieldIDs    []string `json:"fieldIds"`
}

// EdgeType is the kind of a graph transition
type EdgeType string

const (
	EdgeNavigate      EdgeType = "navigate"
	EdgeOpenModal     EdgeType = "open_modal"
	EdgeCloseModal    EdgeType = "close_modal"
	EdgeTabSwitch     EdgeType = "tab_switch"
	EdgeExpandSection EdgeType = "expand_section"
)

type Trigger struct {
	Selector *Selector `json:"selector,omitempty"`
	Label    string    `json:"label"`
	Kind     ClickKind `json:"kind"`
}

type EdgeEntry struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	EdgeType EdgeType `json:"edgeType"`
	Trigger  Trigger  `json:"trigger"`
}

type MapMeta struct {
	GeneratedAt   time.Time `json:"generatedAt"`
	PrinterURL    string    `json:"printerUrl"`
	SchemaVersion string    `json:"schemaVersion"`
	Location      string    `json:"location,omitempty"`
	Mode          string    `json:"mode,omitempty"`
}

// UiMap is the canonical knowledge graph consumed by the apply runner
type UiMap struct {
	Meta   MapMeta      `json:"meta"`
	Pages  []PageEntry  `json:"pages"`
	Fields []FieldEntry `json:"fields"`
	Nodes  []NodeEntry  `json:"nodes,omitempty"`
	Edges  []EdgeEntry  `json:"edges,omitempty"`
}

// Page returns the page with the given id
func (m *UiMap) Page(id string) *PageEntry {
	for i := range m.Pages {
		if m.Pages[i].ID == id {
			return &m.Pages[i]
		}
	}
	return nil
}

// Field returns the field with the given id
func (m *UiMap) Field(id string) *FieldEntry {
	for i := range m.Fields {
		if m.Fields[i].ID == id {
			return &m.Fields[i]
		}
	}
	return nil
}

// Discovery is the raw, pre-canonical output of a crawl or capture session
type Discovery struct {
	Meta     MapMeta      `json:"meta"`
	Pages    []PageEntry  `json:"pages"`
	Fields   []FieldEntry `json:"fields"`
	ClickLog *ClickLog    `json:"-"`
}

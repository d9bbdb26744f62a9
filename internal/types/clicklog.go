package types

import "time"

// ClickKind is the semantic kind assigned to a raw interaction
type ClickKind string

const (
	ClickSystemAlert     ClickKind = "system_alert"
	ClickTab             ClickKind = "tab"
	ClickMenu            ClickKind = "menu"
	ClickLink            ClickKind = "link"
	ClickRadioSelect     ClickKind = "radio_select"
	ClickDropdownTrigger ClickKind = "dropdown_trigger"
	ClickOption          ClickKind = "option"
	ClickModalOpen       ClickKind = "modal_open"
	ClickModalClose      ClickKind = "modal_close"
	ClickToggle          ClickKind = "toggle"
	ClickInput           ClickKind = "input"
	ClickButton          ClickKind = "button"
	ClickNavigate        ClickKind = "navigate"
	ClickUnknown         ClickKind = "unknown"
)

// TransitionType is what a click did to the UI
type TransitionType string

const (
	TransitionNavigate      TransitionType = "navigate"
	TransitionOpenModal     TransitionType = "open_modal"
	TransitionCloseModal    TransitionType = "close_modal"
	TransitionTabSwitch     TransitionType = "tab_switch"
	TransitionDismissAlert  TransitionType = "dismiss_alert"
	TransitionExpandSection TransitionType = "expand_section"
)

// ClickLogEntry is one classified interaction and its observed effect.
// Field ids here are discovery keys, which become source_field_id in the
// capture schema.
type ClickLogEntry struct {
	Index                   int            `json:"index"`
	Timestamp               time.Time      `json:"timestamp"`
	TargetText              string         `json:"targetText"`
	Kind                    ClickKind      `json:"kind"`
	Selectors               []Selector     `json:"selectors,omitempty"`
	URLBefore               string         `json:"urlBefore"`
	URLAfter                string         `json:"urlAfter"`
	NodeIDBefore            string         `json:"nodeIdBefore,omitempty"`
	NodeIDAfter             string         `json:"nodeIdAfter,omitempty"`
	ScopeBefore             NodeKind       `json:"scopeBefore,omitempty"`
	ScopeAfter              NodeKind       `json:"scopeAfter,omitempty"`
	NewFieldIDs             []string       `json:"newFieldIds"`
	NewlyDiscoveredFieldIDs []string       `json:"newlyDiscoveredFieldIds"`
	NoLongerVisibleFieldIDs []string       `json:"noLongerVisibleFieldIds"`
	TransitionType          TransitionType `json:"transitionType"`
	Diagnostic              bool           `json:"diagnostic,omitempty"`
	Collapsed               int            `json:"collapsed,omitempty"`
	Synthetic               bool           `json:"synthetic,omitempty"`
}

type ClickLogMeta struct {
	GeneratedAt time.Time `json:"generatedAt"`
	BaseURL     string    `json:"baseUrl"`
	RunPath     string    `json:"runPath"`
	ClickCount  int       `json:"clickCount"`
}

// ClickLog is append-only; new optional fields may be added over time
type ClickLog struct {
	Meta   ClickLogMeta    `json:"meta"`
	Clicks []ClickLogEntry `json:"clicks"`
}

// Append adds an entry, assigning its index
func (l *ClickLog) Append(e ClickLogEntry) *ClickLogEntry {
	e.Index = len(l.Clicks)
	l.Clicks = append(l.Clicks, e)
	l.Meta.ClickCount = len(l.Clicks)
	return &l.Clicks[len(l.Clicks)-1]
}

// Last returns the most recent entry or nil
func (l *ClickLog) Last() *ClickLogEntry {
	if l == nil || len(l.Clicks) == 0 {
		return nil
	}
	return &l.Clicks[len(l.Clicks)-1]
}

// DiscoveredIDs returns every id listed in any newlyDiscoveredFieldIds
func (l *ClickLog) DiscoveredIDs() map[string]int {
	out := make(map[string]int)
	if l == nil {
		return out
	}
	for _, c := range l.Clicks {
		for _, id := range c.NewlyDiscoveredFieldIDs {
			if _, ok := out[id]; !ok {
				out[id] = c.Index
			}
		}
	}
	return out
}

package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lance13c/uimap/internal/types"
)

// Payload shapes accepted by Normalize
const (
	ShapeSchema = "schema"
	ShapeMap    = "map"
	ShapeLegacy = "legacy"
)

// Sniff reports which payload shape data holds
func Sniff(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("payload is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	switch {
	case root.Get("fieldRecords").IsArray():
		return ShapeSchema, nil
	case root.Get("pages").IsArray() && root.Get("fields").IsArray():
		return ShapeMap, nil
	case root.Get("settings").IsArray() && root.Get("containers").IsArray():
		return ShapeLegacy, nil
	}
	return "", fmt.Errorf("unrecognized payload: expected fieldRecords, pages+fields or containers+settings")
}

// Normalize turns any accepted payload into a CaptureSchema
func Normalize(data []byte) (*CaptureSchema, error) {
	shape, err := Sniff(data)
	if err != nil {
		return nil, err
	}
	switch shape {
	case ShapeSchema:
		var s CaptureSchema
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode schema: %w", err)
		}
		for i := range s.FieldRecords {
			if s.FieldRecords[i].Value.ValueQuality == "" {
				s.FieldRecords[i].rescore()
			}
		}
		return &s, nil
	case ShapeMap:
		var m types.UiMap
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode map: %w", err)
		}
		return FromMap(&m), nil
	default:
		return FromLegacy(data)
	}
}

var legacyTypes = map[string]string{
	"text":     TypeTextbox,
	"textarea": TypeTextbox,
	"input":    TypeTextbox,
	"number":   TypeSpinbutton,
	"toggle":   TypeSwitch,
	"radio":    TypeRadioGroup,
	"select":   TypeDropdownNative,
	"dropdown": TypeDropdownARIA,
	"combobox": TypeDropdownARIA,
	"button":   TypeButtonDialog,
	"static":   TypeTextDisplay,
}

func legacyType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if mapped, ok := legacyTypes[t]; ok {
		return mapped
	}
	if t == "" {
		return TypeTextbox
	}
	return t
}

// FromLegacy normalizes a container-shaped payload
func FromLegacy(data []byte) (*CaptureSchema, error) {
	root := gjson.ParseBytes(data)
	s := &CaptureSchema{
		SchemaVersion: firstNonEmpty(root.Get("schemaVersion").String(), root.Get("meta.schemaVersion").String(), types.SchemaVersion),
		GeneratedAt:   time.Now().UTC(),
		Source:        "legacy",
		PrinterURL:    firstNonEmpty(root.Get("printerUrl").String(), root.Get("meta.printerUrl").String()),
		Containers:    []ContainerRecord{},
		FieldRecords:  []FieldRecord{},
	}

	titles := map[string]ContainerRecord{}
	var cerr error
	root.Get("containers").ForEach(func(_, c gjson.Result) bool {
		key := c.Get("containerKey").String()
		if key == "" {
			cerr = fmt.Errorf("legacy container without containerKey")
			return false
		}
		rec := ContainerRecord{
			ContainerKey: key,
			Type:         firstNonEmpty(c.Get("type").String(), string(types.KindPage)),
			Title:        c.Get("title").String(),
			URL:          c.Get("url").String(),
			Breadcrumb:   stringArray(c.Get("breadcrumb")),
			NavPath:      []types.NavStep{},
			Actions:      []ActionRecord{},
			ParentKey:    c.Get("parentKey").String(),
		}
		if nav := c.Get("navPath"); nav.IsArray() {
			if err := json.Unmarshal([]byte(nav.Raw), &rec.NavPath); err != nil {
				cerr = fmt.Errorf("container %s: bad navPath: %w", key, err)
				return false
			}
		}
		c.Get("actions").ForEach(func(_, a gjson.Result) bool {
			ar := ActionRecord{Kind: a.Get("kind").String(), Label: a.Get("label").String()}
			sels := legacySelectors(a)
			if len(sels) > 0 {
				ar.Selector = &sels[0]
				ar.Fallbacks = sels[1:]
			}
			rec.Actions = append(rec.Actions, ar)
			return true
		})
		titles[key] = rec
		s.Containers = append(s.Containers, rec)
		return true
	})
	if cerr != nil {
		return nil, cerr
	}

	seen := map[string]bool{}
	var ferr error
	root.Get("settings").ForEach(func(_, st gjson.Result) bool {
		key := st.Get("settingKey").String()
		if key == "" {
			ferr = fmt.Errorf("legacy setting without settingKey")
			return false
		}
		if seen[key] {
			ferr = fmt.Errorf("duplicate settingKey %q", key)
			return false
		}
		seen[key] = true
		containerKey := st.Get("containerKey").String()
		c := titles[containerKey]
		recordType := legacyType(st.Get("type").String())
		label := st.Get("label").String()
		r := FieldRecord{
			FieldID:       key,
			SourceFieldID: key,
			ContainerKey:  containerKey,
			Page:          containerKey,
			Label:         label,
			LabelQuality:  types.LabelExplicit,
			Type:          recordType,
			ValueType:     legacyValueType(recordType),
			Breadcrumb:    nonNilStrings(c.Breadcrumb),
			Container:     ContainerRef{Key: containerKey, Title: c.Title, Kind: c.Type},
			Group:         GroupRef{Key: types.Slug(st.Get("groupTitle").String()), Title: st.Get("groupTitle").String()},
			Value: ValueRecord{
				CurrentValue: st.Get("currentValue").Value(),
				DefaultValue: st.Get("defaultValue").Value(),
				ValueSource:  st.Get("valueSource").String(),
			},
			Options: legacyOptions(st.Get("options")),
			Visible: !st.Get("visible").Exists() || st.Get("visible").Bool(),
			Enabled: !st.Get("enabled").Exists() || st.Get("enabled").Bool(),
		}
		if label == "" {
			r.LabelQuality = types.LabelMissing
		}
		if types.NodeKind(c.Type).IsOverlay() {
			r.Context.ModalTitle = c.Title
		}
		r.Context.FrameURL = st.Get("frameUrl").String()
		sels := legacySelectors(st)
		r.Control = controlRef(legacyControlID(st, sels), sels)
		r.rescore()
		s.FieldRecords = append(s.FieldRecords, r)
		return true
	})
	if ferr != nil {
		return nil, ferr
	}
	return s, nil
}

func legacyValueType(t string) types.ValueType {
	switch t {
	case TypeCheckbox, TypeSwitch:
		return types.ValueBoolean
	case TypeSpinbutton:
		return types.ValueNumber
	case TypeRadioGroup, TypeDropdownNative, TypeDropdownARIA:
		return types.ValueEnum
	case TypeButtonDialog:
		return types.ValueUnknown
	}
	return types.ValueString
}

func legacyControlID(st gjson.Result, sels []types.Selector) string {
	if id := st.Get("canonicalControlId").String(); id != "" {
		return id
	}
	for _, s := range sels {
		if s.Kind == types.SelectorCSS && strings.HasPrefix(s.Value, "#") {
			return s.Value
		}
	}
	return "key:" + st.Get("settingKey").String()
}

// legacySelectors reads selectors{primary, fallbacks} or a flat selectors[]
func legacySelectors(r gjson.Result) []types.Selector {
	var out []types.Selector
	add := func(v gjson.Result) {
		if !v.IsObject() {
			if v.String() != "" {
				out = append(out, types.Selector{Kind: types.SelectorCSS, Value: v.String(), Stability: types.Fragile})
			}
			return
		}
		var s types.Selector
		if err := json.Unmarshal([]byte(v.Raw), &s); err == nil && s.Kind != "" {
			out = append(out, s)
		}
	}
	sels := r.Get("selectors")
	if sels.IsArray() {
		sels.ForEach(func(_, v gjson.Result) bool { add(v); return true })
		return out
	}
	if p := sels.Get("primary"); p.Exists() {
		add(p)
	}
	sels.Get("fallbacks").ForEach(func(_, v gjson.Result) bool { add(v); return true })
	return out
}

// legacyOptions accepts plain strings or {value,label} objects
func legacyOptions(r gjson.Result) []types.Option {
	out := []types.Option{}
	r.ForEach(func(_, o gjson.Result) bool {
		if o.IsObject() {
			v := o.Get("value").String()
			l := o.Get("label").String()
			out = append(out, types.Option{Value: firstNonEmpty(v, l), Label: firstNonEmpty(l, v), Selected: o.Get("selected").Bool()})
			return true
		}
		out = append(out, types.Option{Value: o.String(), Label: o.String()})
		return true
	})
	return out
}

func stringArray(r gjson.Result) []string {
	out := []string{}
	r.ForEach(func(_, v gjson.Result) bool {
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

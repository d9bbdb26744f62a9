package contract

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"
)

// StabilityReport compares two captures (stability_report.json)
type StabilityReport struct {
	GeneratedAt   time.Time     `json:"generatedAt"`
	SchemaA       string        `json:"schemaA"`
	SchemaB       string        `json:"schemaB"`
	UIChangedFlag bool          `json:"uiChangedFlag"`
	DriftDetected bool          `json:"driftDetected"`
	Diff          StabilityDiff `json:"diff"`
}

type StabilityDiff struct {
	Containers               AddedRemoved   `json:"containers"`
	Settings                 SettingsDiff   `json:"settings"`
	FieldIDDrift             []IDDrift      `json:"fieldIdDrift"`
	DropdownsMissingOptionsA []MissingOpts  `json:"dropdownsMissingOptionsA"`
	DropdownsMissingOptionsB []MissingOpts  `json:"dropdownsMissingOptionsB"`
	RadioOrderingChanged     []OrderChanged `json:"radioOrderingChangedWithoutLabelChange"`
}

type AddedRemoved struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

type SettingsDiff struct {
	Added              []string        `json:"added"`
	Removed            []string        `json:"removed"`
	LabelOrTypeChanged []LabelTypeDiff `json:"labelOrTypeChanged"`
}

type LabelType struct {
	Label string `json:"label"`
	Type  string `json:"type"`
}

type LabelTypeDiff struct {
	SettingKey string    `json:"settingKey"`
	First      LabelType `json:"first"`
	Second     LabelType `json:"second"`
}

type IDDrift struct {
	Signature     string `json:"signature"`
	FirstFieldID  string `json:"firstFieldId"`
	SecondFieldID string `json:"secondFieldId"`
}

type MissingOpts struct {
	FieldID string `json:"fieldId"`
	Label   string `json:"label"`
	Reason  string `json:"reason"`
}

type OrderChanged struct {
	Signature   string   `json:"signature"`
	FirstOrder  []string `json:"firstOrder"`
	SecondOrder []string `json:"secondOrder"`
}

// HasDrift reports whether any section of the diff is non-empty
func (d *StabilityDiff) HasDrift() bool {
	return len(d.Containers.Added) > 0 || len(d.Containers.Removed) > 0 ||
		len(d.Settings.Added) > 0 || len(d.Settings.Removed) > 0 ||
		len(d.Settings.LabelOrTypeChanged) > 0 || len(d.FieldIDDrift) > 0 ||
		len(d.DropdownsMissingOptionsA) > 0 || len(d.DropdownsMissingOptionsB) > 0 ||
		len(d.RadioOrderingChanged) > 0
}

// CompareFiles loads two schema files and compares them
func CompareFiles(pathA, pathB string, uiChanged bool) (*StabilityReport, error) {
	a, err := os.ReadFile(pathA)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", pathA, err)
	}
	b, err := os.ReadFile(pathB)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", pathB, err)
	}
	diff, err := Compare(a, b)
	if err != nil {
		return nil, err
	}
	return &StabilityReport{
		GeneratedAt:   time.Now().UTC().Truncate(time.Second),
		SchemaA:       pathA,
		SchemaB:       pathB,
		UIChangedFlag: uiChanged,
		DriftDetected: diff.HasDrift(),
		Diff:          *diff,
	}, nil
}

// Compare diffs two schema payloads. Both the fieldRecords shape and the
// legacy settings shape are accepted.
func Compare(a, b []byte) (*StabilityDiff, error) {
	for _, data := range [][]byte{a, b} {
		if !gjson.ValidBytes(data) {
			return nil, fmt.Errorf("schema is not valid JSON")
		}
	}
	ra, rb := gjson.ParseBytes(a), gjson.ParseBytes(b)
	sa, sb := settingsOf(ra), settingsOf(rb)

	d := &StabilityDiff{
		Containers: AddedRemoved{Added: []string{}, Removed: []string{}},
		Settings:   SettingsDiff{Added: []string{}, Removed: []string{}, LabelOrTypeChanged: []LabelTypeDiff{}},
	}
	ca, cb := containerKeys(ra), containerKeys(rb)
	d.Containers.Added = minus(cb, ca)
	d.Containers.Removed = minus(ca, cb)

	ia, ib := byID(sa), byID(sb)
	d.Settings.Added = minus(keys(ib), keys(ia))
	d.Settings.Removed = minus(keys(ia), keys(ib))
	for _, id := range intersect(keys(ia), keys(ib)) {
		first := LabelType{Label: settingLabel(ia[id]), Type: ia[id].Get("type").String()}
		second := LabelType{Label: settingLabel(ib[id]), Type: ib[id].Get("type").String()}
		if first != second {
			d.Settings.LabelOrTypeChanged = append(d.Settings.LabelOrTypeChanged, LabelTypeDiff{SettingKey: id, First: first, Second: second})
		}
	}

	d.FieldIDDrift = []IDDrift{}
	siga, sigb := signatureIndex(sa), signatureIndex(sb)
	for _, sig := range intersect(keys(siga), keys(sigb)) {
		if siga[sig] != sigb[sig] {
			d.FieldIDDrift = append(d.FieldIDDrift, IDDrift{Signature: sig, FirstFieldID: siga[sig], SecondFieldID: sigb[sig]})
		}
	}

	d.DropdownsMissingOptionsA = dropdownsMissingOptions(sa)
	d.DropdownsMissingOptionsB = dropdownsMissingOptions(sb)

	d.RadioOrderingChanged = []OrderChanged{}
	oa, ob := radioOrder(sa), radioOrder(sb)
	for _, sig := range intersect(keys(oa), keys(ob)) {
		first, second := oa[sig], ob[sig]
		if slices.Equal(first, second) {
			continue
		}
		if slices.Equal(sorted(first), sorted(second)) {
			d.RadioOrderingChanged = append(d.RadioOrderingChanged, OrderChanged{Signature: sig, FirstOrder: first, SecondOrder: second})
		}
	}
	return d, nil
}

func settingsOf(root gjson.Result) []gjson.Result {
	if r := root.Get("fieldRecords"); r.IsArray() && len(r.Array()) > 0 {
		return r.Array()
	}
	return root.Get("settings").Array()
}

func containerKeys(root gjson.Result) map[string]struct{} {
	out := map[string]struct{}{}
	for _, c := range root.Get("containers").Array() {
		out[c.Get("containerKey").String()] = struct{}{}
	}
	return out
}

func settingID(s gjson.Result) string {
	return firstNonEmpty(s.Get("field_id").String(), s.Get("settingKey").String())
}

func settingLabel(s gjson.Result) string {
	if l := s.Get("label"); l.Exists() {
		return l.String()
	}
	return s.Get("control.primary_selector.name").String()
}

func byID(list []gjson.Result) map[string]gjson.Result {
	out := map[string]gjson.Result{}
	for _, s := range list {
		if id := settingID(s); id != "" {
			out[id] = s
		}
	}
	return out
}

// settingSignature is the structural identity a field id should be a pure
// function of
func settingSignature(s gjson.Result) string {
	if s.Get("field_id").Exists() {
		var crumbs []string
		for _, c := range s.Get("breadcrumb").Array() {
			crumbs = append(crumbs, c.String())
		}
		return strings.Join([]string{
			s.Get("page").String(),
			strings.Join(crumbs, "|"),
			s.Get("container.title").String(),
			s.Get("group.title").String(),
			s.Get("control.canonical_control_id").String(),
			s.Get("context.frame_url").String(),
			s.Get("context.modal_title").String(),
			s.Get("type").String(),
		}, "|")
	}
	return strings.Join([]string{
		s.Get("containerKey").String(),
		s.Get("groupTitle").String(),
		settingLabel(s),
		s.Get("type").String(),
	}, "|")
}

// isTimestampField skips clocks and uptime counters whose ids legitimately
// move between captures
func isTimestampField(s gjson.Result) bool {
	label := strings.ToLower(settingLabel(s))
	if strings.Contains(label, "time") || strings.Contains(label, "date") {
		return true
	}
	value := s.Get("value.current_value").String()
	if !s.Get("value").IsObject() {
		value = s.Get("currentValue").String()
	}
	if value == "" || !strings.ContainsAny(value, "/:") {
		return false
	}
	return strings.IndexFunc(value, unicode.IsDigit) >= 0
}

func signatureIndex(list []gjson.Result) map[string]string {
	out := map[string]string{}
	for _, s := range list {
		id := settingID(s)
		if id == "" || isTimestampField(s) {
			continue
		}
		out[settingSignature(s)] = id
	}
	return out
}

func dropdownsMissingOptions(list []gjson.Result) []MissingOpts {
	out := []MissingOpts{}
	for _, s := range list {
		t := s.Get("type").String()
		if t != TypeDropdownNative && t != TypeDropdownARIA {
			continue
		}
		if len(s.Get("options").Array()) == 0 {
			out = append(out, MissingOpts{FieldID: settingID(s), Label: settingLabel(s), Reason: "dropdown has empty options[]"})
		}
	}
	return out
}

func radioOrder(list []gjson.Result) map[string][]string {
	out := map[string][]string{}
	for _, s := range list {
		if s.Get("type").String() != TypeRadioGroup {
			continue
		}
		labels := []string{}
		for _, o := range s.Get("options").Array() {
			labels = append(labels, firstNonEmpty(o.Get("label").String(), o.Get("value").String()))
		}
		out[settingSignature(s)] = labels
	}
	return out
}

func keys[V any](m map[string]V) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func minus(a, b map[string]struct{}) []string {
	out := []string{}
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func intersect(a, b map[string]struct{}) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sorted(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}

package apply

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/discovery"
	"github.com/lance13c/uimap/internal/types"
)

// Outcome is what a successful attempt did
type Outcome string

const (
	Applied   Outcome = "applied"
	Unchanged Outcome = "unchanged"
)

// strategy applies one value to a resolved control
type strategy func(ctx context.Context, d browser.PageDriver, s Step, t browser.Target) (Outcome, error)

// strategyFor picks the application strategy of a field
func strategyFor(f *types.FieldEntry) (strategy, bool) {
	switch f.ControlType {
	case types.ControlSwitch, types.ControlCheckbox:
		return applyToggle, true
	case types.ControlRadioGroup:
		return applyRadio, true
	case types.ControlDropdown:
		if f.ValueSource == types.SourceNativeSelect {
			return applyNativeSelect, true
		}
		return applyCustomSelect, true
	case types.ControlSpinbutton:
		return applyNumber, true
	case types.ControlTextbox:
		return applyText, true
	case types.ControlButton, types.ControlTextDisplay:
		return nil, false
	}
	switch f.Type {
	case types.FieldCheckbox:
		return applyToggle, true
	case types.FieldRadio:
		return applyRadio, true
	case types.FieldSelect:
		return applyNativeSelect, true
	case types.FieldNumber:
		return applyNumber, true
	case types.FieldText, types.FieldTextarea:
		return applyText, true
	}
	return nil, false
}

// Writable reports whether apply can set the field at all
func Writable(f *types.FieldEntry) bool {
	if f.Constraints != nil && f.Constraints.ReadOnly {
		return false
	}
	_, ok := strategyFor(f)
	return ok
}

func inputErr(s Step, reason string) error {
	return &InputError{SettingID: s.Setting.ID, PageID: s.Field.PageID, Value: s.Setting.Value, Reason: reason}
}

// ParseSwitch accepts JSON booleans and on/off in any case
func ParseSwitch(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "on":
			return true, nil
		case "off":
			return false, nil
		}
	}
	return false, fmt.Errorf("expected on/off or a boolean, got %v", v)
}

func applyToggle(ctx context.Context, d browser.PageDriver, s Step, t browser.Target) (Outcome, error) {
	want, err := ParseSwitch(s.Setting.Value)
	if err != nil {
		return "", inputErr(s, err.Error())
	}
	checked, err := d.IsChecked(ctx, t)
	if err != nil {
		return "", err
	}
	if checked == want {
		return Unchanged, nil
	}
	if err := d.Click(ctx, t); err != nil {
		return "", err
	}
	if now, err := d.IsChecked(ctx, t); err == nil && now != want {
		return "", fmt.Errorf("%w: %s is still %v", errNotApplied, s.Setting.ID, now)
	}
	return Applied, nil
}

// stringValue renders scalar JSON values; objects and arrays are refused
func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case json.Number:
		return x.String(), true
	}
	return "", false
}

func applyText(ctx context.Context, d browser.PageDriver, s Step, t browser.Target) (Outcome, error) {
	want, ok := stringValue(s.Setting.Value)
	if !ok {
		return "", inputErr(s, "value must be a scalar")
	}
	if c := s.Field.Constraints; c != nil && c.MaxLen != nil && len([]rune(want)) > *c.MaxLen {
		return "", inputErr(s, fmt.Sprintf("longer than %d characters", *c.MaxLen))
	}
	return fill(ctx, d, s, t, want, func(cur string) bool { return cur == want })
}

func applyNumber(ctx context.Context, d browser.PageDriver, s Step, t browser.Target) (Outcome, error) {
	raw, ok := stringValue(s.Setting.Value)
	if !ok {
		return "", inputErr(s, "value must be a number")
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", inputErr(s, "not a number")
	}
	if c := s.Field.Constraints; c != nil {
		if c.Min != nil && n < *c.Min {
			return "", inputErr(s, fmt.Sprintf("below minimum %v", *c.Min))
		}
		if c.Max != nil && n > *c.Max {
			return "", inputErr(s, fmt.Sprintf("above maximum %v", *c.Max))
		}
	}
	want := strconv.FormatFloat(n, 'f', -1, 64)
	return fill(ctx, d, s, t, want, func(cur string) bool {
		got, err := strconv.ParseFloat(strings.TrimSpace(cur), 64)
		return err == nil && got == n
	})
}

func fill(ctx context.Context, d browser.PageDriver, s Step, t browser.Target, want string, same func(string) bool) (Outcome, error) {
	cur, err := d.ReadValue(ctx, t)
	if err != nil {
		return "", err
	}
	if same(cur) {
		return Unchanged, nil
	}
	if err := d.Fill(ctx, t, want); err != nil {
		return "", err
	}
	if cur, err := d.ReadValue(ctx, t); err == nil && !same(cur) {
		return "", fmt.Errorf("%w: %s reads %q", errNotApplied, s.Setting.ID, cur)
	}
	return Applied, nil
}

// resolveOption matches the target against option values, then labels
func resolveOption(s Step) (types.Option, error) {
	want, ok := stringValue(s.Setting.Value)
	if !ok {
		return types.Option{}, inputErr(s, "value must be a scalar")
	}
	want = strings.TrimSpace(want)
	opts := s.Field.Options
	if len(opts) == 0 {
		return types.Option{Value: want, Label: want}, nil
	}
	for _, o := range opts {
		if o.Value == want {
			return o, nil
		}
	}
	for _, o := range opts {
		if strings.EqualFold(strings.TrimSpace(o.Label), want) {
			return o, nil
		}
	}
	labels := make([]string, 0, len(opts))
	for _, o := range opts {
		labels = append(labels, o.Label)
	}
	return types.Option{}, inputErr(s, fmt.Sprintf("not one of %s", strings.Join(labels, ", ")))
}

func optionTarget(t browser.Target, label string) browser.Target {
	return browser.Target{Scope: t.Scope, Selector: types.Selector{Kind: types.SelectorRole, Role: "option", Name: label}}
}

// clickOption opens a custom dropdown and picks the option by its text
func clickOption(ctx context.Context, d browser.PageDriver, t browser.Target, label string) error {
	if err := d.Click(ctx, t); err != nil {
		return err
	}
	opt := optionTarget(t, label)
	n, err := d.Count(ctx, opt)
	if err != nil {
		return err
	}
	if n == 0 {
		if err := d.Press(ctx, "Escape"); err != nil {
			return err
		}
		return fmt.Errorf("%w: option %q", browser.ErrNotFound, label)
	}
	return d.Click(ctx, opt)
}

func applyNativeSelect(ctx context.Context, d browser.PageDriver, s Step, t browser.Target) (Outcome, error) {
	opt, err := resolveOption(s)
	if err != nil {
		return "", err
	}
	if cur, err := d.ReadValue(ctx, t); err == nil && cur == opt.Value {
		return Unchanged, nil
	}
	if err := d.SelectOption(ctx, t, opt.Value); err != nil {
		if browser.IsTransient(err) || ctx.Err() != nil {
			return "", err
		}
		if ferr := clickOption(ctx, d, t, opt.Label); ferr != nil {
			return "", fmt.Errorf("select %q: %v; option click: %w", opt.Value, err, ferr)
		}
	}
	return Applied, nil
}

func applyCustomSelect(ctx context.Context, d browser.PageDriver, s Step, t browser.Target) (Outcome, error) {
	opt, err := resolveOption(s)
	if err != nil {
		return "", err
	}
	if cur, err := d.ReadValue(ctx, t); err == nil {
		cur = browser.NormalizeText(cur)
		if cur == opt.Value || strings.EqualFold(cur, opt.Label) {
			return Unchanged, nil
		}
	}
	if err := clickOption(ctx, d, t, opt.Label); err != nil {
		return "", err
	}
	return Applied, nil
}

// radioTarget finds the option by role and label on the page first, then
// inside the group's own selectors
func radioTarget(ctx context.Context, d browser.PageDriver, s Step, group browser.Target, opt types.Option) (browser.Target, error) {
	candidates := []browser.Target{
		{Scope: group.Scope, Selector: types.Selector{Kind: types.SelectorRole, Role: "radio", Name: opt.Label}},
	}
	for _, sel := range s.Field.Selectors {
		within := sel
		candidates = append(candidates,
			browser.Target{Scope: group.Scope, Within: &within, Selector: types.Selector{Kind: types.SelectorRole, Role: "radio", Name: opt.Label}},
			browser.Target{Scope: group.Scope, Within: &within, Selector: types.Selector{Kind: types.SelectorCSS, Value: browser.AttrSelector(`input[type="radio"]`, "value", opt.Value)}},
		)
	}
	var last error
	for i, c := range candidates {
		n, err := d.Count(ctx, c)
		if err != nil {
			last = err
			continue
		}
		// the page-wide lookup must be unambiguous; scoped ones take the first
		if n == 1 || (i > 0 && n > 1) {
			return c, nil
		}
	}
	if last != nil && browser.IsTransient(last) {
		return browser.Target{}, last
	}
	return browser.Target{}, fmt.Errorf("%w: radio option %q of setting %s on page %s", browser.ErrNotFound, opt.Label, s.Setting.ID, s.Field.PageID)
}

func applyRadio(ctx context.Context, d browser.PageDriver, s Step, t browser.Target) (Outcome, error) {
	opt, err := resolveOption(s)
	if err != nil {
		return "", err
	}
	rt, err := radioTarget(ctx, d, s, t, opt)
	if err != nil {
		return "", err
	}
	if checked, err := d.IsChecked(ctx, rt); err == nil && checked {
		return Unchanged, nil
	}
	if err := d.Click(ctx, rt); err != nil {
		return "", err
	}
	return Applied, nil
}

// scopeFor returns the CSS root fields of page are resolved in
func scopeFor(page *types.PageEntry) string {
	if page.Kind.IsOverlay() {
		return discovery.ModalScope
	}
	return ""
}

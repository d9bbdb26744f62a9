package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/logging"
	"github.com/lance13c/uimap/internal/replay"
	"github.com/lance13c/uimap/internal/types"
)

// Variant is the scope as observed with the controlling field set to When
type Variant struct {
	When    string
	Label   string
	Scan    *Scan
	Reveals []string
	Hides   []string
}

// Explorer exercises select and radio options to find dependent fields.
// It is the one part of discovery that mutates the UI, and it restores
// the original selection on every exit path.
type Explorer struct {
	driver      browser.PageDriver
	probe       *Probe
	resolver    *replay.Resolver
	destructive *regexp.Regexp
	maxOptions  int
	settle      time.Duration
}

// NewExplorer creates an explorer
func NewExplorer(d browser.PageDriver, p *Probe, r *replay.Resolver, destructive *regexp.Regexp, maxOptions int, settle time.Duration) *Explorer {
	return &Explorer{driver: d, probe: p, resolver: r, destructive: destructive, maxOptions: maxOptions, settle: settle}
}

// Explorable reports whether a field can be safely exercised
func (e *Explorer) Explorable(f *types.FieldEntry) bool {
	if f.ControlType != types.ControlDropdown && f.ControlType != types.ControlRadioGroup {
		return false
	}
	if !f.Visibility.Visible || !f.Visibility.Enabled || len(f.Options) < 2 {
		return false
	}
	return e.destructive == nil || !e.destructive.MatchString(f.Label)
}

func (e *Explorer) safe(o types.Option) bool {
	return e.destructive == nil || (!e.destructive.MatchString(o.Label) && !e.destructive.MatchString(o.Value))
}

func scopeFor(s *Scan) string {
	if s.Scope.Kind.IsOverlay() {
		return ModalScope
	}
	return ""
}

// Explore selects every option of f in turn, diffs the visible key set of
// the scope against base, and restores the original value before
// returning. restored is the scan taken after restoring.
func (e *Explorer) Explore(ctx context.Context, base *Scan, f *types.FieldEntry) (variants []Variant, restored *Scan, err error) {
	restored = base
	if !e.Explorable(f) {
		return nil, base, nil
	}
	target, err := e.resolver.Resolve(ctx, f.SourceID, base.Scope.ID, scopeFor(base), f.Selectors)
	if err != nil {
		return nil, base, fmt.Errorf("variant exploration of %q: %w", f.Label, err)
	}
	original := ""
	if f.CurrentValue != nil {
		original = fmt.Sprint(f.CurrentValue)
	}
	originalLabel := optionLabel(f, original)

	baseline := map[string]bool{}
	for _, k := range base.Keys() {
		baseline[k] = true
	}

	defer func() {
		scan, rerr := e.restore(ctx, base, target, f, original, originalLabel)
		if rerr != nil {
			logging.Warn("variant restore failed%s", logging.KV("field", f.SourceID, "label", f.Label, "err", rerr))
			err = errors.Join(err, rerr)
			return
		}
		restored = scan
	}()

	tried := 0
	for _, opt := range f.Options {
		if tried >= e.maxOptions {
			break
		}
		if opt.Value == original || !e.safe(opt) {
			continue
		}
		tried++
		if cerr := e.choose(ctx, base, target, f, opt.Value, opt.Label); cerr != nil {
			logging.Debug("variant skipped%s", logging.KV("field", f.SourceID, "when", opt.Value, "err", cerr))
			if ctx.Err() != nil {
				return variants, restored, ctx.Err()
			}
			continue
		}
		if serr := browser.WaitSettle(ctx, e.settle); serr != nil {
			return variants, restored, serr
		}
		scan, serr := e.probe.Scan(ctx, e.driver)
		if serr != nil {
			return variants, restored, serr
		}
		if scan.Scope.ID != base.Scope.ID {
			logging.Debug("variant left its scope%s", logging.KV("field", f.SourceID, "when", opt.Value, "scope", scan.Scope.ID))
			break
		}
		v := Variant{When: opt.Value, Label: opt.Label, Scan: scan}
		after := map[string]bool{}
		for _, k := range scan.Keys() {
			after[k] = true
			if !baseline[k] {
				v.Reveals = append(v.Reveals, k)
			}
		}
		for _, k := range base.Keys() {
			if !after[k] && k != f.SourceID {
				v.Hides = append(v.Hides, k)
			}
		}
		variants = append(variants, v)
	}
	return variants, restored, nil
}

func optionLabel(f *types.FieldEntry, v string) string {
	for _, o := range f.Options {
		if o.Value == v {
			return o.Label
		}
	}
	return v
}

// choose sets the field to one option value through the control's own
// interaction model
func (e *Explorer) choose(ctx context.Context, base *Scan, target browser.Target, f *types.FieldEntry, value, label string) error {
	switch {
	case f.ControlType == types.ControlRadioGroup:
		return ClickRadioOption(ctx, e.driver, target, f, value, label)
	case f.ValueSource == types.SourceNativeSelect:
		return e.driver.SelectOption(ctx, target, value)
	default:
		if err := e.driver.Click(ctx, target); err != nil {
			return err
		}
		opt := browser.Target{Scope: target.Scope, Selector: types.Selector{Kind: types.SelectorRole, Role: "option", Name: label}}
		return e.driver.Click(ctx, opt)
	}
}

// ClickRadioOption checks one option of a radio group: by role and label
// inside the group, then by value inside the group, then by name and value
func ClickRadioOption(ctx context.Context, d browser.PageDriver, group browser.Target, f *types.FieldEntry, value, label string) error {
	within := group.Selector
	candidates := []browser.Target{
		{Scope: group.Scope, Within: &within, Selector: types.Selector{Kind: types.SelectorRole, Role: "radio", Name: label}},
		{Scope: group.Scope, Within: &within, Selector: types.Selector{Kind: types.SelectorCSS, Value: browser.AttrSelector(`input[type="radio"]`, "value", value)}},
	}
	if f.HTMLName != "" {
		candidates = append(candidates, browser.Target{Scope: group.Scope, Selector: types.Selector{
			Kind: types.SelectorCSS, Value: browser.AttrSelector(`input[type="radio"]`, "name", f.HTMLName) +
				browser.AttrSelector("", "value", value),
		}})
	}
	var last error
	for _, t := range candidates {
		n, err := d.Count(ctx, t)
		if err != nil {
			last = err
			continue
		}
		if n == 0 {
			continue
		}
		return d.Click(ctx, t)
	}
	if last == nil {
		last = fmt.Errorf("%w: radio option %q of %s", browser.ErrNotFound, label, f.Label)
	}
	return last
}

func (e *Explorer) restore(ctx context.Context, base *Scan, target browser.Target, f *types.FieldEntry, original, label string) (*Scan, error) {
	if ctx.Err() != nil {
		// a cancelled run still restores; bound it on its own
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if loc, err := e.driver.Location(ctx); err == nil && !replay.SameLocation(base.Scope.URL, loc) {
		if err := e.driver.Goto(ctx, base.Scope.URL); err != nil {
			return nil, fmt.Errorf("return to %s: %w", base.Scope.URL, err)
		}
	}
	if original == "" && f.ControlType == types.ControlRadioGroup {
		logging.Warn("radio group had no selection; cannot clear it%s", logging.KV("field", f.SourceID))
	} else if err := e.choose(ctx, base, target, f, original, label); err != nil {
		return nil, fmt.Errorf("restore %q to %q: %w", f.Label, original, err)
	}
	if err := browser.WaitSettle(ctx, e.settle); err != nil {
		return nil, err
	}
	return e.probe.Scan(ctx, e.driver)
}

// Package apply replays stored values into a device UI through its map:
// navigate to each page, set each control with a strategy for its type,
// commit, and audit every attempt.
package apply

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/logging"
	"github.com/lance13c/uimap/internal/replay"
	"github.com/lance13c/uimap/internal/types"
)

// Result is what a run did
type Result struct {
	RunID      string
	Status     RunStatus
	Counts     Counts
	SavedPages []string
	Items      []ItemRecord
}

// Runner applies plans against one driver. It is not safe for concurrent
// use; a run owns the page.
type Runner struct {
	driver    browser.PageDriver
	resolver  *replay.Resolver
	navigator *replay.Navigator
	audit     AuditSession
	timeouts  browser.Timeouts
	snapshot  browser.SnapshotOptions

	maxAttempts int
	backoff     time.Duration
	commit      *regexp.Regexp

	// MapPath is recorded on the run for the audit trail
	MapPath string
	now     func() time.Time
}

// NewRunner creates a runner writing its trail to audit
func NewRunner(driver browser.PageDriver, cfg *config.Config, audit AuditSession) (*Runner, error) {
	commit, err := regexp.Compile(cfg.Apply.CommitPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid commit pattern: %w", err)
	}
	timeouts := browser.TimeoutsFrom(cfg.Browser)
	resolver := replay.NewResolver(driver, 0)
	attempts := cfg.Apply.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Runner{
		driver:      driver,
		resolver:    resolver,
		navigator:   replay.NewNavigator(driver, resolver, timeouts, time.Duration(cfg.Discovery.PollIntervalMS)*time.Millisecond),
		audit:       audit,
		timeouts:    timeouts,
		snapshot:    browser.SnapshotOptions{MainSelector: cfg.Discovery.MainSelector, ModalSelector: cfg.Discovery.ModalSelector},
		maxAttempts: attempts,
		backoff:     time.Duration(cfg.Apply.RetryBackoffMS) * time.Millisecond,
		commit:      commit,
		now:         time.Now,
	}, nil
}

// run is the mutable state of one Run call
type run struct {
	id        string
	result    *Result
	succeeded bool
	aborted   bool
}

// Run applies p to the UI described by m. Schema and plan problems are
// returned before the driver is touched. Once started, the run always
// finishes its audit; the returned error is set only for failed runs.
func (r *Runner) Run(ctx context.Context, m *types.UiMap, p *Plan) (*Result, error) {
	groups, err := Prepare(m, p)
	if err != nil {
		return nil, err
	}

	st := &run{id: uuid.NewString(), result: &Result{SavedPages: []string{}}}
	st.result.RunID = st.id
	if err := r.audit.Start(ctx, RunInfo{
		RunID:         st.id,
		MapPath:       r.MapPath,
		SchemaVersion: m.Meta.SchemaVersion,
		Meta:          p.Meta,
		StartedAt:     r.now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("failed to start run audit: %w", err)
	}
	logging.Info("apply run started%s", logging.KV("run", st.id, "pages", len(groups), "settings", len(p.Settings)))

	for _, g := range groups {
		if st.aborted || ctx.Err() != nil {
			r.skipAll(ctx, st, g.Steps, "not attempted: run aborted")
			continue
		}
		r.applyPage(ctx, st, g)
	}

	st.result.Status = Aggregate(st.result.Items)
	summary := RunSummary{
		RunID:      st.id,
		Status:     st.result.Status,
		Counts:     st.result.Counts,
		SavedPages: st.result.SavedPages,
		FinishedAt: r.now().UTC(),
	}
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.audit.Finish(finishCtx, summary); err != nil {
		logging.Error("failed to finish run audit: %v%s", err, logging.KV("run", st.id))
	}
	logging.Info("apply run finished%s", logging.KV("run", st.id, "status", st.result.Status,
		"applied", st.result.Counts.Applied, "unchanged", st.result.Counts.Unchanged, "failed", st.result.Counts.Failed))

	if st.result.Status == RunFailed {
		return st.result, fmt.Errorf("apply run %s failed: %s", st.id, firstError(st.result.Items))
	}
	return st.result, ctx.Err()
}

// Aggregate derives the run status from its final item records. Skipped
// items count neither way.
func Aggregate(items []ItemRecord) RunStatus {
	final := map[string]ItemStatus{}
	var order []string
	for _, it := range items {
		if _, ok := final[it.SettingID]; !ok {
			order = append(order, it.SettingID)
		}
		final[it.SettingID] = it.Status
	}
	ok, bad := 0, 0
	for _, id := range order {
		switch final[id] {
		case ItemOK:
			ok++
		case ItemError:
			bad++
		}
	}
	switch {
	case bad == 0:
		return RunCompleted
	case ok > 0:
		return RunPartial
	default:
		return RunFailed
	}
}

func firstError(items []ItemRecord) string {
	for _, it := range items {
		if it.Status == ItemError {
			return it.Message
		}
	}
	return "no item succeeded"
}

func (r *Runner) applyPage(ctx context.Context, st *run, g PageGroup) {
	page := g.Page
	if tries, err := r.withRetry(ctx, func() error { return r.navigator.Navigate(ctx, page) }); err != nil {
		logging.Warn("navigation failed: %v%s", err, logging.KV("page", page.ID))
		for i, s := range g.Steps {
			if st.aborted {
				r.skipAll(ctx, st, g.Steps[i:], "not attempted: run aborted")
				return
			}
			r.record(ctx, st, s, tries, ItemError, "", err)
			st.result.Counts.Failed++
			st.aborted = !st.succeeded
		}
		return
	}
	scope := scopeFor(page)
	if scope != "" {
		// marks the active overlay so scoped lookups land inside it
		if _, err := r.driver.Snapshot(ctx, r.snapshot); err != nil {
			logging.Debug("overlay snapshot failed: %v%s", err, logging.KV("page", page.ID))
		}
	}

	changed := 0
	for i, s := range g.Steps {
		if st.aborted || ctx.Err() != nil {
			r.skipAll(ctx, st, g.Steps[i:], "not attempted: run aborted")
			break
		}
		if !Writable(s.Field) {
			r.record(ctx, st, s, 0, ItemSkipped, "", errors.New("field is not writable"))
			st.result.Counts.Skipped++
			continue
		}
		outcome, ok := r.applyStep(ctx, st, s, scope)
		switch {
		case !ok:
			st.result.Counts.Failed++
			st.aborted = !st.succeeded
		case outcome == Applied:
			st.succeeded = true
			st.result.Counts.Applied++
			changed++
		default:
			st.succeeded = true
			st.result.Counts.Unchanged++
		}
	}

	if changed > 0 {
		if r.commitPage(ctx, page, scope) {
			st.result.SavedPages = append(st.result.SavedPages, page.ID)
		}
	}
	if page.Kind.IsOverlay() {
		r.closeOverlay(ctx, page, scope)
	}
}

// applyStep runs attempts for one setting, recording each
func (r *Runner) applyStep(ctx context.Context, st *run, s Step, scope string) (Outcome, bool) {
	apply, _ := strategyFor(s.Field)
	for attempt := 1; ; attempt++ {
		outcome, err := r.attempt(ctx, s, scope, apply)
		if err == nil {
			r.record(ctx, st, s, attempt, ItemOK, outcome, nil)
			return outcome, true
		}
		class := Classify(err)
		r.record(ctx, st, s, attempt, ItemError, "", err)
		if class == Terminal || attempt >= r.maxAttempts || ctx.Err() != nil {
			logging.Warn("setting failed%s", logging.KV("setting", s.Setting.ID, "page", s.Field.PageID,
				"attempt", attempt, "class", class, "error", err))
			return "", false
		}
		r.resolver.Forget(s.Setting.ID, s.Field.PageID)
		if err := browser.WaitSettle(ctx, r.backoff*time.Duration(attempt)); err != nil {
			return "", false
		}
	}
}

func (r *Runner) attempt(ctx context.Context, s Step, scope string, apply strategy) (Outcome, error) {
	t, err := r.resolver.Resolve(ctx, s.Setting.ID, s.Field.PageID, scope, s.Field.Selectors)
	if err != nil {
		var rerr *replay.ResolutionError
		// radio options can still be found by their own labels
		if !errors.As(err, &rerr) || !isRadio(s.Field) {
			return "", err
		}
		t = browser.Target{Scope: scope}
	}
	return apply(ctx, r.driver, s, t)
}

func isRadio(f *types.FieldEntry) bool {
	return f.ControlType == types.ControlRadioGroup || f.Type == types.FieldRadio
}

// withRetry runs fn up to maxAttempts times while it fails transiently and
// reports how many attempts were made
func (r *Runner) withRetry(ctx context.Context, fn func() error) (int, error) {
	var err error
	attempt := 1
	for ; attempt <= r.maxAttempts; attempt++ {
		if err = fn(); err == nil || Classify(err) == Terminal {
			return attempt, err
		}
		if attempt < r.maxAttempts {
			if werr := browser.WaitSettle(ctx, r.backoff*time.Duration(attempt)); werr != nil {
				return attempt, err
			}
		}
	}
	return attempt - 1, err
}

func (r *Runner) record(ctx context.Context, st *run, s Step, attempt int, status ItemStatus, outcome Outcome, err error) {
	item := ItemRecord{
		RunID:     st.id,
		SettingID: s.Setting.ID,
		PageID:    s.Field.PageID,
		Attempt:   attempt,
		Status:    status,
		Outcome:   outcome,
		Value:     s.Setting.Value,
		At:        r.now().UTC(),
	}
	if err != nil {
		item.Message = err.Error()
		if status == ItemError {
			item.Class = string(Classify(err))
		}
	}
	st.result.Items = append(st.result.Items, item)
	if aerr := r.audit.RecordItem(ctx, item); aerr != nil {
		logging.Error("failed to record run item: %v%s", aerr, logging.KV("run", st.id, "setting", s.Setting.ID))
	}
}

func (r *Runner) skipAll(ctx context.Context, st *run, steps []Step, reason string) {
	for _, s := range steps {
		r.record(ctx, st, s, 0, ItemSkipped, "", errors.New(reason))
		st.result.Counts.Skipped++
	}
}

// ChooseCommit picks the commit action of a page, preferring labels that
// match pattern. Nil means the page has none.
func ChooseCommit(actions []types.ActionEntry, pattern *regexp.Regexp) *types.ActionEntry {
	var fallback *types.ActionEntry
	for i := range actions {
		a := &actions[i]
		if a.Kind != types.ActionCommit {
			continue
		}
		if pattern != nil && pattern.MatchString(a.Label) {
			return a
		}
		if fallback == nil {
			fallback = a
		}
	}
	return fallback
}

// commitPage clicks the page's commit action. Pages without one stay
// uncommitted.
func (r *Runner) commitPage(ctx context.Context, page *types.PageEntry, scope string) bool {
	action := ChooseCommit(page.Actions, r.commit)
	if action == nil {
		logging.Debug("no commit action, leaving page uncommitted%s", logging.KV("page", page.ID))
		return false
	}
	_, err := r.withRetry(ctx, func() error {
		t, err := r.resolveAction(ctx, page, scope, action)
		if err != nil {
			return err
		}
		if err := r.driver.Click(ctx, t); err != nil {
			return err
		}
		return browser.WaitSettle(ctx, r.timeouts.Settle)
	})
	if err != nil {
		logging.Error("commit failed: %v%s", err, logging.KV("page", page.ID, "label", action.Label))
		return false
	}
	logging.Info("page committed%s", logging.KV("page", page.ID, "label", action.Label))
	return true
}

func (r *Runner) resolveAction(ctx context.Context, page *types.PageEntry, scope string, a *types.ActionEntry) (browser.Target, error) {
	id := "action:" + string(a.Kind) + ":" + a.Label
	t, err := r.resolver.Resolve(ctx, id, page.ID, scope, a.Selectors)
	if err != nil && scope != "" {
		return r.resolver.Resolve(ctx, id, page.ID, "", a.Selectors)
	}
	return t, err
}

// closeOverlay dismisses a modal through its cancel or close action, then
// Escape. Failures are only logged.
func (r *Runner) closeOverlay(ctx context.Context, page *types.PageEntry, scope string) {
	if open, err := r.driver.IsVisible(ctx, browser.CSS(scope)); err == nil && !open {
		return
	}
	for i := range page.Actions {
		a := &page.Actions[i]
		if a.Kind != types.ActionCancel && a.Kind != types.ActionClose {
			continue
		}
		t, err := r.resolveAction(ctx, page, scope, a)
		if err != nil {
			continue
		}
		if err := r.driver.Click(ctx, t); err == nil {
			return
		}
	}
	if err := r.driver.Press(ctx, "Escape"); err != nil {
		logging.Warn("could not close overlay: %v%s", err, logging.KV("page", page.ID))
	}
}

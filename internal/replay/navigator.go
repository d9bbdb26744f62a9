package replay

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/logging"
	"github.com/lance13c/uimap/internal/types"
)

// NavState is the navigator's position in the step machine
type NavState string

const (
	NavIdle       NavState = "idle"
	NavStepping   NavState = "stepping"
	NavConfirming NavState = "confirming"
	NavArrived    NavState = "arrived"
	NavFailed     NavState = "failed"
)

// NavigationError names the step and destination page of a failed
// navigation. Step equals len(navPath) when arrival confirmation failed.
type NavigationError struct {
	PageID    string
	Step      int
	Reason    string
	Transient bool
	Err       error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to page %s failed at step %d: %s", e.PageID, e.Step, e.Reason)
}

func (e *NavigationError) Unwrap() error {
	if e.Transient && e.Err == nil {
		return browser.ErrTimeout
	}
	return e.Err
}

// Navigator executes a page's navPath and confirms arrival
type Navigator struct {
	driver   browser.PageDriver
	resolver *Resolver
	timeouts browser.Timeouts
	poll     time.Duration
	state    NavState
}

// NewNavigator creates a navigator sharing resolver with its caller
func NewNavigator(driver browser.PageDriver, resolver *Resolver, timeouts browser.Timeouts, poll time.Duration) *Navigator {
	if poll <= 0 {
		poll = 150 * time.Millisecond
	}
	return &Navigator{driver: driver, resolver: resolver, timeouts: timeouts, poll: poll, state: NavIdle}
}

// State returns the state after the last Navigate call
func (n *Navigator) State() NavState {
	return n.state
}

// Navigate walks page.NavPath from its root. Modal-close steps are skipped;
// they restore state and never lead anywhere new.
func (n *Navigator) Navigate(ctx context.Context, page *types.PageEntry) error {
	n.state = NavStepping
	for i, step := range page.NavPath {
		if err := ctx.Err(); err != nil {
			n.state = NavFailed
			return err
		}
		if err := n.step(ctx, page, i, step); err != nil {
			n.state = NavFailed
			return err
		}
	}

	n.state = NavConfirming
	if err := n.confirm(ctx, page); err != nil {
		n.state = NavFailed
		return err
	}
	n.state = NavArrived
	return nil
}

func (n *Navigator) step(ctx context.Context, page *types.PageEntry, i int, step types.NavStep) error {
	switch step.Action {
	case types.NavGoto:
		logging.Debug("nav goto%s", logging.KV("page", page.ID, "step", i, "url", step.URL))
		if err := n.driver.Goto(ctx, step.URL); err != nil {
			return &NavigationError{PageID: page.ID, Step: i, Reason: "goto " + step.URL + ": " + err.Error(),
				Transient: browser.IsTransient(err), Err: err}
		}
	case types.NavClick:
		if step.Kind == types.ClickModalClose || step.Kind == types.ClickSystemAlert {
			return nil
		}
		var sels []types.Selector
		if step.Selector != nil {
			sels = append(sels, *step.Selector)
		}
		sels = append(sels, step.Fallback...)
		target, err := n.resolver.Resolve(ctx, fmt.Sprintf("nav:%d", i), page.ID, "", sels)
		if err != nil {
			return &NavigationError{PageID: page.ID, Step: i,
				Reason: fmt.Sprintf("click target %q not found", step.Label), Err: err}
		}
		logging.Debug("nav click%s", logging.KV("page", page.ID, "step", i, "label", step.Label))
		if err := n.driver.Click(ctx, target); err != nil {
			return &NavigationError{PageID: page.ID, Step: i, Reason: fmt.Sprintf("click %q: %v", step.Label, err),
				Transient: browser.IsTransient(err), Err: err}
		}
	default:
		return &NavigationError{PageID: page.ID, Step: i, Reason: fmt.Sprintf("unknown action %q", step.Action)}
	}
	return browser.WaitSettle(ctx, n.timeouts.Settle)
}

func (n *Navigator) confirm(ctx context.Context, page *types.PageEntry) error {
	if page.URL == "" {
		return nil
	}
	deadline := time.Now().Add(n.timeouts.Action)
	var last string
	for {
		loc, err := n.driver.Location(ctx)
		if err == nil {
			last = loc
			if SameLocation(page.URL, loc) {
				return nil
			}
		}
		if time.Now().After(deadline) {
			break
		}
		if err := browser.WaitSettle(ctx, n.poll); err != nil {
			return err
		}
	}
	return &NavigationError{PageID: page.ID, Step: len(page.NavPath), Transient: true,
		Reason: fmt.Sprintf("arrived at %s, expected %s", last, page.URL)}
}

// SameLocation compares an expected URL with the actual one. The fragment
// only counts when the expected URL has one.
func SameLocation(expected, actual string) bool {
	e, err1 := url.Parse(strings.TrimSpace(expected))
	a, err2 := url.Parse(strings.TrimSpace(actual))
	if err1 != nil || err2 != nil {
		return strings.TrimRight(expected, "/") == strings.TrimRight(actual, "/")
	}
	if !strings.EqualFold(e.Host, a.Host) || e.Scheme != a.Scheme {
		return false
	}
	if strings.TrimRight(e.Path, "/") != strings.TrimRight(a.Path, "/") {
		return false
	}
	if e.RawQuery != "" && e.RawQuery != a.RawQuery {
		return false
	}
	if e.Fragment != "" {
		return strings.TrimRight(e.Fragment, "/") == strings.TrimRight(a.Fragment, "/")
	}
	return true
}

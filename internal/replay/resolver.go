package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lance13c/uimap/internal/browser"
	"github.com/lance13c/uimap/internal/logging"
	"github.com/lance13c/uimap/internal/types"
)

// ResolutionError reports that no selector of a field matched exactly one
// element. Transient is set when at least one attempt hit a timing error
// and none produced a count or a hard driver error. Selectors that are
// simply absent make the failure terminal.
type ResolutionError struct {
	SettingID string
	PageID    string
	Tried     []string
	Transient bool
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not resolve setting %s on page %s (tried %s)",
		e.SettingID, e.PageID, strings.Join(e.Tried, "; "))
}

// Unwrap lets callers match transient failures with browser.IsTransient
func (e *ResolutionError) Unwrap() error {
	if e.Transient {
		return browser.ErrTimeout
	}
	return nil
}

// SortByPriority orders selectors by explicit priority, lowest first.
// Selectors without a priority follow in list order; ties keep list order.
func SortByPriority(sels []types.Selector) []types.Selector {
	out := append([]types.Selector(nil), sels...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority, out[j].Priority
		switch {
		case pi != nil && pj != nil:
			return *pi < *pj
		case pi != nil:
			return true
		default:
			return false
		}
	})
	return out
}

// Resolver turns a selector set into a single live target
type Resolver struct {
	driver browser.PageDriver
	memo   *lru.Cache[string, string]
}

// NewResolver creates a resolver remembering up to size winning selectors
func NewResolver(driver browser.PageDriver, size int) *Resolver {
	if size <= 0 {
		size = 512
	}
	memo, err := lru.New[string, string](size)
	if err != nil {
		logging.Warn("selector memo disabled: %v", err)
	}
	return &Resolver{driver: driver, memo: memo}
}

// Resolve tries sels in priority order inside scope and returns the first
// target with exactly one match
func (r *Resolver) Resolve(ctx context.Context, settingID, pageID, scope string, sels []types.Selector) (browser.Target, error) {
	ordered := SortByPriority(sels)
	key := pageID + "|" + settingID

	if r.memo != nil {
		if won, ok := r.memo.Get(key); ok {
			for i, s := range ordered {
				if s.String() == won && i > 0 {
					ordered = append([]types.Selector{s}, append(ordered[:i:i], ordered[i+1:]...)...)
					break
				}
			}
		}
	}

	rerr := &ResolutionError{SettingID: settingID, PageID: pageID}
	timedOut, definite := false, false
	for _, sel := range ordered {
		t := browser.Target{Scope: scope, Selector: sel}
		n, err := r.driver.Count(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return browser.Target{}, ctx.Err()
			}
			switch {
			case browser.IsTransient(err):
				timedOut = true
			case !errors.Is(err, browser.ErrNotFound):
				definite = true
			}
			rerr.Tried = append(rerr.Tried, fmt.Sprintf("%s: %v", sel, err))
			continue
		}
		definite = true
		if n == 1 {
			if r.memo != nil {
				r.memo.Add(key, sel.String())
			}
			return t, nil
		}
		rerr.Tried = append(rerr.Tried, fmt.Sprintf("%s: %d matches", sel, n))
	}
	rerr.Transient = timedOut && !definite
	if len(ordered) == 0 {
		rerr.Tried = append(rerr.Tried, "no selectors")
	}
	logging.Debug("selector resolution failed%s", logging.KV("setting", settingID, "page", pageID, "tried", len(rerr.Tried)))
	return browser.Target{}, rerr
}

// Forget drops the memo for one field
func (r *Resolver) Forget(settingID, pageID string) {
	if r.memo != nil {
		r.memo.Remove(pageID + "|" + settingID)
	}
}

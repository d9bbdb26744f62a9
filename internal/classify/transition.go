package classify

import (
	"net/url"
	"strings"

	"github.com/lance13c/uimap/internal/types"
)

// Observation is the before/after state around one click
type Observation struct {
	Kind        types.ClickKind
	ScopeBefore types.NodeKind
	ScopeAfter  types.NodeKind
	NodeBefore  string
	NodeAfter   string
	URLBefore   string
	URLAfter    string
}

// InferTransition types a click by scope change first, then URL change,
// then the classified kind
func InferTransition(o Observation) types.TransitionType {
	if o.Kind == types.ClickSystemAlert {
		return types.TransitionDismissAlert
	}

	before, after := o.ScopeBefore.IsOverlay(), o.ScopeAfter.IsOverlay()
	switch {
	case !before && after:
		return types.TransitionOpenModal
	case before && !after && o.ScopeAfter != "":
		return types.TransitionCloseModal
	case before && after && o.NodeBefore != o.NodeAfter && o.NodeAfter != "":
		if o.Kind == types.ClickModalClose {
			return types.TransitionCloseModal
		}
		return types.TransitionOpenModal
	}

	if URLChanged(o.URLBefore, o.URLAfter) {
		return types.TransitionNavigate
	}

	switch o.Kind {
	case types.ClickTab:
		return types.TransitionTabSwitch
	case types.ClickModalClose:
		return types.TransitionCloseModal
	case types.ClickMenu, types.ClickLink, types.ClickNavigate:
		return types.TransitionNavigate
	}
	return types.TransitionExpandSection
}

// URLChanged compares two URLs including the fragment, ignoring a
// trailing slash on the path
func URLChanged(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return normalizeURL(a) != normalizeURL(b)
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// RevealsAllowed reports whether a transition may credit field reveals
func RevealsAllowed(t types.TransitionType) bool {
	switch t {
	case types.TransitionOpenModal, types.TransitionNavigate,
		types.TransitionTabSwitch, types.TransitionExpandSection:
		return true
	}
	return false
}

// ApplyRevealPolicy clears newFieldIds on entries whose transition may not
// credit reveals. newlyDiscoveredFieldIds is first-sighting bookkeeping and
// stays untouched.
func ApplyRevealPolicy(e *types.ClickLogEntry) {
	if !RevealsAllowed(e.TransitionType) {
		e.NewFieldIDs = []string{}
	}
}

package classify

import (
	"regexp"
	"strings"

	"github.com/lance13c/uimap/internal/types"
)

// RawClick is one interaction as reported by the page recorder or
// synthesized by the crawler
type RawClick struct {
	Timestamp int64 // unix milliseconds
	Tag       string
	Role      string
	Type      string
	ID        string
	Name      string
	Text      string
	Label     string
	AriaLabel string
	ForType   string // for <label>: type of the associated control
	ForText   string // for <label>: accessible name of the associated control
	Href      string
	CSS       string
	Subtree   string
	InModal   bool
	URL       string
	Selectors []types.Selector
}

// DisplayText is the best human label for the click target
func (c RawClick) DisplayText() string {
	for _, s := range []string{c.AriaLabel, c.Label, c.Text, c.ForText} {
		if s = strings.Join(strings.Fields(s), " "); s != "" {
			return s
		}
	}
	return ""
}

// Predicate matches a raw click
type Predicate func(c RawClick) bool

// Rule maps a predicate to a classification. Rules are evaluated in order
// and the first match wins.
type Rule struct {
	Name  string
	Kind  types.ClickKind
	Match Predicate
}

var (
	closeLabel = regexp.MustCompile(`(?i)^\s*(cancel|close|done|ok)\s*$`)
	openLabel  = regexp.MustCompile(`(?i)\b(advanced|details?|settings|configure|configuration|more options|properties|edit|setup)\b`)
)

func roleIs(roles ...string) Predicate {
	return func(c RawClick) bool {
		r := strings.ToLower(c.Role)
		for _, want := range roles {
			if r == want {
				return true
			}
		}
		return false
	}
}

func tagIs(tags ...string) Predicate {
	return func(c RawClick) bool {
		t := strings.ToLower(c.Tag)
		for _, want := range tags {
			if t == want {
				return true
			}
		}
		return false
	}
}

func labelMatches(re *regexp.Regexp) Predicate {
	return func(c RawClick) bool {
		return re.MatchString(c.DisplayText())
	}
}

func labelFor(types ...string) Predicate {
	return func(c RawClick) bool {
		if !strings.EqualFold(c.Tag, "label") {
			return false
		}
		for _, t := range types {
			if strings.EqualFold(c.ForType, t) {
				return true
			}
		}
		return false
	}
}

func inputTypeIs(kinds ...string) Predicate {
	return func(c RawClick) bool {
		if !strings.EqualFold(c.Tag, "input") {
			return false
		}
		for _, k := range kinds {
			if strings.EqualFold(c.Type, k) {
				return true
			}
		}
		return false
	}
}

func anyOf(ps ...Predicate) Predicate {
	return func(c RawClick) bool {
		for _, p := range ps {
			if p(c) {
				return true
			}
		}
		return false
	}
}

func allOf(ps ...Predicate) Predicate {
	return func(c RawClick) bool {
		for _, p := range ps {
			if !p(c) {
				return false
			}
		}
		return true
	}
}

// navigatingLink is a link whose href actually goes somewhere
func navigatingLink(c RawClick) bool {
	if !roleIs("link")(c) {
		return false
	}
	href := strings.TrimSpace(strings.ToLower(c.Href))
	if strings.EqualFold(c.Tag, "a") {
		return href != "" && href != "#" && !strings.HasPrefix(href, "javascript:")
	}
	return true
}

var buttonLike = anyOf(roleIs("button", "link"), tagIs("button", "a"), inputTypeIs("button", "submit"))

// DefaultRules is the ordered rule table applied after system-alert
// detection: explicit roles, then label patterns, then tag fallbacks
func DefaultRules() []Rule {
	return []Rule{
		{Name: "role-tab", Kind: types.ClickTab, Match: roleIs("tab")},
		{Name: "role-menuitem", Kind: types.ClickMenu, Match: roleIs("menuitem", "menuitemradio", "menuitemcheckbox")},
		{Name: "role-link", Kind: types.ClickLink, Match: navigatingLink},
		{Name: "role-radio", Kind: types.ClickRadioSelect, Match: anyOf(roleIs("radio"), labelFor("radio"))},
		{Name: "role-combobox", Kind: types.ClickDropdownTrigger, Match: roleIs("combobox", "listbox")},
		{Name: "role-option", Kind: types.ClickOption, Match: roleIs("option")},
		{Name: "label-close", Kind: types.ClickModalClose, Match: allOf(buttonLike, labelMatches(closeLabel))},
		{Name: "label-modal-open", Kind: types.ClickModalOpen, Match: allOf(buttonLike, labelMatches(openLabel))},
		{Name: "toggle", Kind: types.ClickToggle, Match: anyOf(roleIs("switch", "checkbox"), labelFor("checkbox"))},
		{Name: "button", Kind: types.ClickButton, Match: buttonLike},
		{Name: "input", Kind: types.ClickInput, Match: anyOf(tagIs("input", "textarea", "select"), roleIs("textbox", "spinbutton", "slider"), tagIs("label"))},
	}
}

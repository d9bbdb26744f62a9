package classify

import (
	"strings"

	"github.com/lance13c/uimap/internal/types"
)

// Classified is a raw click with its semantic kind
type Classified struct {
	Raw       RawClick
	Kind      types.ClickKind
	Rule      string
	Label     string
	Collapsed int
}

var separators = strings.NewReplacer("-", " ", "_", " ")

// Classifier applies system-alert detection and then the rule table
type Classifier struct {
	rules       []Rule
	alertTokens []string
}

// NewClassifier builds a classifier; nil rules selects DefaultRules
func NewClassifier(rules []Rule, alertTokens []string) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	tokens := make([]string, 0, len(alertTokens))
	for _, t := range alertTokens {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tokens = append(tokens, t)
		}
	}
	return &Classifier{rules: rules, alertTokens: tokens}
}

// alertIDs are the element ids browsers give the controls of their
// certificate interstitial
var alertIDs = map[string]bool{
	"details-button":  true,
	"proceed-link":    true,
	"final-paragraph": true,
}

// IsSystemAlert reports whether the click targets a browser security
// interstitial. Only interstitial markers count: the chrome-error URL, the
// interstitial control ids, a security-warning container and the configured
// warning phrases in the label. Device pages about certificates stay
// ordinary clicks.
func (c *Classifier) IsSystemAlert(raw RawClick) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw.URL)), "chrome-error://") {
		return true
	}
	if alertIDs[strings.ToLower(raw.ID)] {
		return true
	}
	css := strings.ToLower(raw.CSS)
	if strings.Contains(css, "security-warning") || strings.Contains(css, "#details-button") || strings.Contains(css, "#proceed-link") {
		return true
	}
	label := separators.Replace(strings.ToLower(raw.DisplayText()))
	for _, t := range c.alertTokens {
		if strings.Contains(label, t) {
			return true
		}
	}
	return false
}

// Classify assigns a kind to one click
func (c *Classifier) Classify(raw RawClick) Classified {
	out := Classified{Raw: raw, Label: raw.DisplayText(), Kind: types.ClickUnknown, Rule: "fallback"}
	if c.IsSystemAlert(raw) {
		out.Kind = types.ClickSystemAlert
		out.Rule = "system-alert"
		return out
	}
	for _, r := range c.rules {
		if r.Match(raw) {
			out.Kind = r.Kind
			out.Rule = r.Name
			return out
		}
	}
	return out
}

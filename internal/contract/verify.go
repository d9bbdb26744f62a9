package contract

import (
	"sort"
	"time"
)

// Issue points at one record that needs attention
type Issue struct {
	FieldID      string `json:"field_id"`
	ContainerKey string `json:"containerKey"`
	Label        string `json:"label"`
	Reason       string `json:"reason"`
	Selector     string `json:"selector,omitempty"`
	MatchCount   *int   `json:"matchCount,omitempty"`
}

// VerifyReport summarizes how trustworthy a schema is (verify_report.json)
type VerifyReport struct {
	GeneratedAt      time.Time      `json:"generatedAt"`
	TotalFields      int            `json:"totalFields"`
	TotalContainers  int            `json:"totalContainers"`
	CountsByType     map[string]int `json:"countsByType"`
	CountsByQuality  map[string]int `json:"countsByQuality"`
	SelectorIssues   []Issue        `json:"selectorIssues"`
	EmptyOptions     []Issue        `json:"emptyOptions"`
	MissingValues    []Issue        `json:"missingValues"`
	FragileSelectors []Issue        `json:"fragileSelectors"`
}

// Clean reports whether nothing was flagged
func (r *VerifyReport) Clean() bool {
	return len(r.SelectorIssues) == 0 && len(r.EmptyOptions) == 0 &&
		len(r.MissingValues) == 0 && len(r.FragileSelectors) == 0
}

// Verify builds the report for s
func Verify(s *CaptureSchema) *VerifyReport {
	r := &VerifyReport{
		GeneratedAt:      time.Now().UTC(),
		TotalFields:      len(s.FieldRecords),
		TotalContainers:  len(s.Containers),
		CountsByType:     map[string]int{},
		CountsByQuality:  map[string]int{},
		SelectorIssues:   []Issue{},
		EmptyOptions:     []Issue{},
		MissingValues:    []Issue{},
		FragileSelectors: []Issue{},
	}
	for i := range s.FieldRecords {
		f := &s.FieldRecords[i]
		r.CountsByType[f.Type]++
		r.CountsByQuality[f.Value.ValueQuality]++
		base := Issue{FieldID: f.FieldID, ContainerKey: f.ContainerKey, Label: f.Label}

		sels := f.Control.Selectors()
		for _, sel := range sels {
			if sel.MatchCount != nil && *sel.MatchCount != 1 {
				is := base
				is.Reason = "selector does not resolve to exactly one element"
				is.Selector = sel.String()
				is.MatchCount = sel.MatchCount
				r.SelectorIssues = append(r.SelectorIssues, is)
			}
		}
		if len(sels) == 0 {
			is := base
			is.Reason = "no selectors recorded"
			r.SelectorIssues = append(r.SelectorIssues, is)
		} else if !f.Control.StableSelector {
			is := base
			is.Reason = "only fragile selectors"
			is.Selector = sels[0].String()
			r.FragileSelectors = append(r.FragileSelectors, is)
		}

		if IsEnumType(f.Type) && f.Visible && f.Enabled && len(f.Options) == 0 {
			is := base
			is.Reason = "enum-like control has empty options"
			r.EmptyOptions = append(r.EmptyOptions, is)
		}
		if f.Type != TypeButtonDialog && isEmpty(f.Value.CurrentValue) {
			is := base
			is.Reason = "current value missing"
			r.MissingValues = append(r.MissingValues, is)
		}
	}
	for _, list := range [][]Issue{r.SelectorIssues, r.EmptyOptions, r.MissingValues, r.FragileSelectors} {
		sortIssues(list)
	}
	return r
}

func sortIssues(list []Issue) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].ContainerKey != list[j].ContainerKey {
			return list[i].ContainerKey < list[j].ContainerKey
		}
		return list[i].FieldID < list[j].FieldID
	})
}

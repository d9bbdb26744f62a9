package contract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lance13c/uimap/internal/types"
)

// ReconcileError means the schema and the click log disagree about which
// fields were discovered. It is fatal: the graph builder dropped or
// invented state somewhere.
type ReconcileError struct {
	// click-log ids with no record carrying them as source_field_id
	MissingFromRecords []string
	// records whose source_field_id never appears in the click log
	MissingFromLog []string
}

func (e *ReconcileError) Error() string {
	var parts []string
	if n := len(e.MissingFromRecords); n > 0 {
		parts = append(parts, fmt.Sprintf("%d click-log field(s) missing from records: %s", n, preview(e.MissingFromRecords)))
	}
	if n := len(e.MissingFromLog); n > 0 {
		parts = append(parts, fmt.Sprintf("%d record(s) never discovered in click log: %s", n, preview(e.MissingFromLog)))
	}
	return "contract reconciliation failed: " + strings.Join(parts, "; ")
}

func preview(ids []string) string {
	const max = 8
	if len(ids) <= max {
		return strings.Join(ids, ", ")
	}
	return strings.Join(ids[:max], ", ") + fmt.Sprintf(" (+%d more)", len(ids)-max)
}

// Reconcile checks both directions between s and log. A nil log is a
// no-op because crawls without observation have nothing to compare.
func Reconcile(s *CaptureSchema, log *types.ClickLog) error {
	if log == nil {
		return nil
	}
	discovered := log.DiscoveredIDs()
	sources := make(map[string]bool, len(s.FieldRecords))
	for _, r := range s.FieldRecords {
		sources[r.SourceFieldID] = true
	}

	e := &ReconcileError{}
	for id := range discovered {
		if !sources[id] {
			e.MissingFromRecords = append(e.MissingFromRecords, id)
		}
	}
	for _, r := range s.FieldRecords {
		if _, ok := discovered[r.SourceFieldID]; !ok {
			e.MissingFromLog = append(e.MissingFromLog, r.FieldID)
		}
	}
	if len(e.MissingFromRecords) == 0 && len(e.MissingFromLog) == 0 {
		return nil
	}
	sort.Strings(e.MissingFromRecords)
	sort.Strings(e.MissingFromLog)
	return e
}

// Build converts a map into a schema and runs the reconciliation guard
func Build(m *types.UiMap, log *types.ClickLog) (*CaptureSchema, error) {
	s := FromMap(m)
	if err := Reconcile(s, log); err != nil {
		return nil, err
	}
	return s, nil
}

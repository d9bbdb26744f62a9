package apply

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lance13c/uimap/internal/types"
)

// RunStatus is the lifecycle of one apply run
type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// ItemStatus is the result of one attempt
type ItemStatus string

const (
	ItemOK      ItemStatus = "ok"
	ItemError   ItemStatus = "error"
	ItemSkipped ItemStatus = "skipped"
)

// RunInfo opens a run
type RunInfo struct {
	RunID         string    `json:"runId"`
	MapPath       string    `json:"mapPath,omitempty"`
	SchemaVersion string    `json:"schemaVersion"`
	Meta          PlanMeta  `json:"meta"`
	StartedAt     time.Time `json:"startedAt"`
}

// ItemRecord is one attempt at one setting; retries produce one record each
type ItemRecord struct {
	RunID     string     `json:"runId"`
	SettingID string     `json:"settingId"`
	PageID    string     `json:"pageId"`
	Attempt   int        `json:"attempt"`
	Status    ItemStatus `json:"status"`
	Outcome   Outcome    `json:"outcome,omitempty"`
	Class     string     `json:"class,omitempty"`
	Message   string     `json:"message,omitempty"`
	Value     any        `json:"value,omitempty"`
	At        time.Time  `json:"at"`
}

// Counts tallies final per-setting outcomes
type Counts struct {
	Applied   int `json:"applied"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// RunSummary closes a run
type RunSummary struct {
	RunID      string    `json:"runId"`
	Status     RunStatus `json:"status"`
	Counts     Counts    `json:"counts"`
	SavedPages []string  `json:"savedPages"`
	FinishedAt time.Time `json:"finishedAt"`
}

// AuditSession persists a run: Start once, RecordItem per attempt, Finish
// exactly once.
type AuditSession interface {
	Start(ctx context.Context, run RunInfo) error
	RecordItem(ctx context.Context, item ItemRecord) error
	Finish(ctx context.Context, summary RunSummary) error
}

// MultiAudit fans calls out to several sessions, returning the joined
// errors of those that failed
type MultiAudit []AuditSession

func (m MultiAudit) Start(ctx context.Context, run RunInfo) error {
	var errs []error
	for _, a := range m {
		errs = append(errs, a.Start(ctx, run))
	}
	return errors.Join(errs...)
}

func (m MultiAudit) RecordItem(ctx context.Context, item ItemRecord) error {
	var errs []error
	for _, a := range m {
		errs = append(errs, a.RecordItem(ctx, item))
	}
	return errors.Join(errs...)
}

func (m MultiAudit) Finish(ctx context.Context, summary RunSummary) error {
	var errs []error
	for _, a := range m {
		errs = append(errs, a.Finish(ctx, summary))
	}
	return errors.Join(errs...)
}

// Report is apply_report.json
type Report struct {
	RunInfo
	Status     RunStatus    `json:"status"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	Counts     Counts       `json:"counts"`
	SavedPages []string     `json:"savedPages"`
	Items      []ItemRecord `json:"items"`
}

// ReportAudit collects a run in memory and writes it as JSON on Finish
type ReportAudit struct {
	path string

	mu     sync.Mutex
	report Report
	done   bool
}

// NewReportAudit writes to path when the run finishes
func NewReportAudit(path string) *ReportAudit {
	return &ReportAudit{path: path}
}

func (r *ReportAudit) Start(ctx context.Context, run RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report = Report{RunInfo: run, Status: RunStarted, SavedPages: []string{}, Items: []ItemRecord{}}
	r.done = false
	return nil
}

func (r *ReportAudit) RecordItem(ctx context.Context, item ItemRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Items = append(r.report.Items, item)
	return nil
}

func (r *ReportAudit) Finish(ctx context.Context, summary RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return errors.New("apply report already finished")
	}
	r.done = true
	r.report.Status = summary.Status
	r.report.Counts = summary.Counts
	r.report.SavedPages = append([]string{}, summary.SavedPages...)
	finished := summary.FinishedAt
	r.report.FinishedAt = &finished
	if r.path == "" {
		return nil
	}
	return types.WriteJSON(r.path, r.report)
}

// Report returns a copy of what has been collected
func (r *ReportAudit) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.report
	out.Items = append([]ItemRecord(nil), r.report.Items...)
	return out
}

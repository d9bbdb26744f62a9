package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lance13c/uimap/internal/apply"
)

// RunRow is one apply run with its item tallies
type RunRow struct {
	ID            string
	MapPath       string
	SchemaVersion string
	AccountNumber string
	Status        apply.RunStatus
	Counts        apply.Counts
	SavedPages    []string
	StartedAt     time.Time
	FinishedAt    *time.Time
	Items         int
	ItemErrors    int
}

var _ apply.AuditSession = (*Store)(nil)

// Start opens a run row in status started
func (s *Store) Start(ctx context.Context, run apply.RunInfo) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO apply_runs (id, map_path, schema_version, account_number, variation, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.MapPath, run.SchemaVersion, run.Meta.AccountNumber, run.Meta.Variation, string(apply.RunStarted), run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", run.RunID, err)
	}
	return nil
}

// RecordItem appends one attempt to an open run
func (s *Store) RecordItem(ctx context.Context, item apply.ItemRecord) error {
	value, err := json.Marshal(item.Value)
	if err != nil {
		return fmt.Errorf("failed to encode value of %s: %w", item.SettingID, err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO apply_run_items (run_id, setting_id, page_id, attempt, status, outcome, class, message, value, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.RunID, item.SettingID, item.PageID, item.Attempt, string(item.Status), string(item.Outcome),
		item.Class, item.Message, string(value), item.At)
	if err != nil {
		return fmt.Errorf("failed to record item %s of run %s: %w", item.SettingID, item.RunID, err)
	}
	return nil
}

// Finish closes a started run. A run finishes exactly once; finishing an
// unknown or already closed run is an error.
func (s *Store) Finish(ctx context.Context, summary apply.RunSummary) error {
	saved, err := json.Marshal(summary.SavedPages)
	if err != nil {
		return err
	}
	res, err := s.conn.ExecContext(ctx, `
		UPDATE apply_runs
		SET status = ?, applied = ?, unchanged = ?, skipped = ?, failed = ?, saved_pages = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, string(summary.Status), summary.Counts.Applied, summary.Counts.Unchanged, summary.Counts.Skipped,
		summary.Counts.Failed, string(saved), summary.FinishedAt, summary.RunID, string(apply.RunStarted))
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", summary.RunID, err)
	}
	if affected(res) == 0 {
		return fmt.Errorf("run %s is not open", summary.RunID)
	}
	return nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRow, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT r.id, COALESCE(r.map_path, ''), r.schema_version, COALESCE(r.account_number, ''), r.status,
		       r.applied, r.unchanged, r.skipped, r.failed, r.saved_pages, r.started_at, r.finished_at,
		       COUNT(i.id), COALESCE(SUM(CASE WHEN i.status = 'error' THEN 1 ELSE 0 END), 0)
		FROM apply_runs r
		LEFT JOIN apply_run_items i ON i.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var (
			run      RunRow
			status   string
			saved    sql.NullString
			finished sql.NullTime
		)
		err := rows.Scan(
			&run.ID,
			&run.MapPath,
			&run.SchemaVersion,
			&run.AccountNumber,
			&status,
			&run.Counts.Applied,
			&run.Counts.Unchanged,
			&run.Counts.Skipped,
			&run.Counts.Failed,
			&saved,
			&run.StartedAt,
			&finished,
			&run.Items,
			&run.ItemErrors,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = apply.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		if saved.Valid && saved.String != "" {
			if err := json.Unmarshal([]byte(saved.String), &run.SavedPages); err != nil {
				return nil, fmt.Errorf("failed to decode saved pages of %s: %w", run.ID, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunItems returns the attempts of one run in the order they were recorded
func (s *Store) RunItems(ctx context.Context, runID string) ([]apply.ItemRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT run_id, setting_id, COALESCE(page_id, ''), attempt, status, COALESCE(outcome, ''),
		       COALESCE(class, ''), COALESCE(message, ''), value, at
		FROM apply_run_items
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run items: %w", err)
	}
	defer rows.Close()

	var items []apply.ItemRecord
	for rows.Next() {
		var (
			it              apply.ItemRecord
			status, outcome string
			value           sql.NullString
		)
		if err := rows.Scan(&it.RunID, &it.SettingID, &it.PageID, &it.Attempt, &status, &outcome,
			&it.Class, &it.Message, &value, &it.At); err != nil {
			return nil, fmt.Errorf("failed to scan run item: %w", err)
		}
		it.Status = apply.ItemStatus(status)
		it.Outcome = apply.Outcome(outcome)
		if value.Valid {
			_ = json.Unmarshal([]byte(value.String), &it.Value)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/lance13c/uimap/internal/types"
)

// ImportStats counts what an import changed per table
type ImportStats struct {
	MapID     string
	Pages     Changes
	Fields    Changes
	MapChange bool
}

// Changes splits rows into written and untouched
type Changes struct {
	Written   int
	Unchanged int
}

// MapID derives the store key of a map from its device URL
func MapID(m *types.UiMap) string {
	if id := types.Slug(m.Meta.PrinterURL); id != "" {
		return id
	}
	return "default"
}

func hashOf(v any) (string, []byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), data, nil
}

// ImportMap upserts the map, its pages and its fields by id. Rows whose
// content hash did not change are left alone, so re-importing the same
// map writes nothing.
func (s *Store) ImportMap(ctx context.Context, m *types.UiMap) (*ImportStats, error) {
	stats := &ImportStats{MapID: MapID(m)}
	mapHash, _, err := hashOf(m)
	if err != nil {
		return nil, fmt.Errorf("failed to hash map: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO maps (id, printer_url, schema_version, generated_at, content_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			printer_url = excluded.printer_url,
			schema_version = excluded.schema_version,
			generated_at = excluded.generated_at,
			content_hash = excluded.content_hash,
			imported_at = CURRENT_TIMESTAMP
		WHERE maps.content_hash != excluded.content_hash
	`, stats.MapID, m.Meta.PrinterURL, m.Meta.SchemaVersion, m.Meta.GeneratedAt, mapHash)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert map: %w", err)
	}
	stats.MapChange = affected(res) > 0

	pageStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pages (map_id, id, kind, title, url, parent_id, doc, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(map_id, id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			url = excluded.url,
			parent_id = excluded.parent_id,
			doc = excluded.doc,
			content_hash = excluded.content_hash
		WHERE pages.content_hash != excluded.content_hash
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer pageStmt.Close()

	for _, p := range m.Pages {
		hash, doc, err := hashOf(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode page %s: %w", p.ID, err)
		}
		res, err := pageStmt.ExecContext(ctx, stats.MapID, p.ID, string(p.Kind), p.Title, p.URL, nullable(p.ParentID), string(doc), hash)
		if err != nil {
			return nil, fmt.Errorf("failed to save page %s: %w", p.ID, err)
		}
		stats.Pages.add(affected(res))
	}

	fieldStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fields (map_id, id, page_id, source_id, label, control_type, doc, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(map_id, id) DO UPDATE SET
			page_id = excluded.page_id,
			source_id = excluded.source_id,
			label = excluded.label,
			control_type = excluded.control_type,
			doc = excluded.doc,
			content_hash = excluded.content_hash
		WHERE fields.content_hash != excluded.content_hash
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer fieldStmt.Close()

	for _, f := range m.Fields {
		hash, doc, err := hashOf(f)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %s: %w", f.ID, err)
		}
		res, err := fieldStmt.ExecContext(ctx, stats.MapID, f.ID, f.PageID, nullable(f.SourceID), f.Label, string(f.ControlType), string(doc), hash)
		if err != nil {
			return nil, fmt.Errorf("failed to save field %s: %w", f.ID, err)
		}
		stats.Fields.add(affected(res))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return stats, nil
}

func (c *Changes) add(n int64) {
	if n > 0 {
		c.Written++
	} else {
		c.Unchanged++
	}
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetField loads one stored field by its map and field id
func (s *Store) GetField(ctx context.Context, mapID, fieldID string) (*types.FieldEntry, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx, `SELECT doc FROM fields WHERE map_id = ? AND id = ?`, mapID, fieldID).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("field %s not found in map %s", fieldID, mapID)
		}
		return nil, fmt.Errorf("failed to get field: %w", err)
	}
	var f types.FieldEntry
	if err := json.Unmarshal([]byte(doc), &f); err != nil {
		return nil, fmt.Errorf("failed to decode field %s: %w", fieldID, err)
	}
	return &f, nil
}

// GetStatistics returns row counts per table
func (s *Store) GetStatistics(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)
	for _, table := range []string{"maps", "pages", "fields", "apply_runs", "apply_run_items"} {
		var n int
		if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, err
		}
		stats[table] = n
	}
	return stats, nil
}

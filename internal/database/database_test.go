package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/uimap/internal/apply"
	"github.com/lance13c/uimap/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "uimap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleMap() *types.UiMap {
	return &types.UiMap{
		Meta: types.MapMeta{SchemaVersion: types.SchemaVersion, PrinterURL: "http://10.0.0.5/"},
		Pages: []types.PageEntry{
			{ID: "network", Kind: types.KindPage, Title: "Network", URL: "http://10.0.0.5/#network"},
			{ID: "network.advanced", Kind: types.KindModal, Title: "Advanced", ParentID: "network"},
		},
		Fields: []types.FieldEntry{
			{ID: "network.host-name.a1", SourceID: "host", PageID: "network", Label: "Host Name", ControlType: types.ControlTextbox},
			{ID: "network.advanced.ttl.b2", PageID: "network.advanced", Label: "TTL", ControlType: types.ControlSpinbutton},
		},
	}
}

func TestImportMapIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	m := sampleMap()

	first, err := s.ImportMap(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, "http-10-0-0-5", first.MapID)
	assert.True(t, first.MapChange)
	assert.Equal(t, Changes{Written: 2}, first.Pages)
	assert.Equal(t, Changes{Written: 2}, first.Fields)

	again, err := s.ImportMap(ctx, m)
	require.NoError(t, err)
	assert.False(t, again.MapChange)
	assert.Equal(t, Changes{Unchanged: 2}, again.Pages)
	assert.Equal(t, Changes{Unchanged: 2}, again.Fields)

	m.Fields[0].Label = "Hostname"
	changed, err := s.ImportMap(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, Changes{Written: 1, Unchanged: 1}, changed.Fields)
	assert.Equal(t, Changes{Unchanged: 2}, changed.Pages)

	f, err := s.GetField(ctx, first.MapID, "network.host-name.a1")
	require.NoError(t, err)
	assert.Equal(t, "Hostname", f.Label)
	assert.Equal(t, "host", f.SourceID)

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["maps"])
	assert.Equal(t, 2, stats["pages"])
	assert.Equal(t, 2, stats["fields"])

	_, err = s.GetField(ctx, first.MapID, "nope")
	assert.Error(t, err)
}

func TestRunAuditLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Start(ctx, apply.RunInfo{
		RunID: "run-1", MapPath: "dist/ui_map.json", SchemaVersion: types.SchemaVersion,
		Meta: apply.PlanMeta{AccountNumber: "A-7"}, StartedAt: start,
	}))
	require.NoError(t, s.RecordItem(ctx, apply.ItemRecord{RunID: "run-1", SettingID: "host", PageID: "network",
		Attempt: 1, Status: apply.ItemError, Class: "transient", Message: "timeout", Value: "lab", At: start}))
	require.NoError(t, s.RecordItem(ctx, apply.ItemRecord{RunID: "run-1", SettingID: "host", PageID: "network",
		Attempt: 2, Status: apply.ItemOK, Outcome: apply.Applied, Value: "lab", At: start.Add(time.Second)}))
	require.NoError(t, s.RecordItem(ctx, apply.ItemRecord{RunID: "run-1", SettingID: "mtu", PageID: "network",
		Attempt: 1, Status: apply.ItemOK, Outcome: apply.Unchanged, Value: 1500.0, At: start.Add(2 * time.Second)}))

	summary := apply.RunSummary{RunID: "run-1", Status: apply.RunCompleted,
		Counts: apply.Counts{Applied: 1, Unchanged: 1}, SavedPages: []string{"network"}, FinishedAt: start.Add(time.Minute)}
	require.NoError(t, s.Finish(ctx, summary))
	assert.Error(t, s.Finish(ctx, summary), "a run finishes once")
	assert.Error(t, s.Finish(ctx, apply.RunSummary{RunID: "ghost", Status: apply.RunFailed}))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, apply.RunCompleted, run.Status)
	assert.Equal(t, "A-7", run.AccountNumber)
	assert.Equal(t, 3, run.Items)
	assert.Equal(t, 1, run.ItemErrors)
	assert.Equal(t, []string{"network"}, run.SavedPages)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.FinishedAt.Equal(start.Add(time.Minute)))

	items, err := s.RunItems(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 2, items[1].Attempt)
	assert.Equal(t, apply.Applied, items[1].Outcome)
	assert.Equal(t, "lab", items[0].Value)
	assert.Equal(t, 1500.0, items[2].Value)
}

func TestItemsNeedAnOpenRun(t *testing.T) {
	s := openStore(t)
	err := s.RecordItem(context.Background(), apply.ItemRecord{RunID: "missing", SettingID: "x", Attempt: 1,
		Status: apply.ItemOK, At: time.Now()})
	assert.Error(t, err)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.Start(ctx, apply.RunInfo{RunID: id, SchemaVersion: "2.1", StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "mid", runs[1].ID)
	assert.Equal(t, apply.RunStarted, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Zero(t, runs[0].Items)
}

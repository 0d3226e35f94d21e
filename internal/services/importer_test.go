package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/store"
)

func (e env) dropUnit(t *testing.T, name string, unit models.ImportUnit) {
	t.Helper()
	raw, err := json.Marshal(unit)
	require.NoError(t, err)
	require.NoError(t, e.blobs.Write(context.Background(), "Processed/"+name, raw))
}

func (e env) unitExists(t *testing.T, name string) bool {
	t.Helper()
	ok, err := e.blobs.Exists(context.Background(), "Processed/"+name)
	require.NoError(t, err)
	return ok
}

func Test_UnitKey(t *testing.T) {
	im := NewImporter(nil, nil, "Processed", "Data", quietLogger)
	cases := []struct {
		unit models.ImportUnit
		want string
	}{
		{models.ImportUnit{FileName: "Data/manifest_0.pdf"}, "Data/manifest_0.pdf"},
		{models.ImportUnit{FileName: "manifest_0.pdf"}, "Data/manifest_0.pdf"},
		{models.ImportUnit{FileName: "manifest_0.pdf", DocumentName: "other.pdf", PageIndex: 9}, "Data/manifest_0.pdf"},
		{models.ImportUnit{DocumentName: "manifest.pdf", PageIndex: 2}, "Data/manifest_2.pdf"},
	}
	for _, c := range cases {
		got, err := im.UnitKey(c.unit)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := im.UnitKey(models.ImportUnit{})
	assert.Error(t, err)
}

func Test_ImportAll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedPending(t, "Data/manifest_0.pdf", "Data/manifest_1.pdf", "Data/done_0.pdf")

	failed := e.get(t, "Data/manifest_1.pdf")
	failed.Status = models.StatusFailed
	failed.LastError = "model timeout"
	require.NoError(t, e.store.CompareAndSet(ctx, failed.Key, models.StatusPending, failed))

	done := e.get(t, "Data/done_0.pdf")
	done.Status = models.StatusProcessed
	done.Words = []string{"original"}
	require.NoError(t, e.store.CompareAndSet(ctx, done.Key, models.StatusPending, done))

	e.dropUnit(t, "a.json", models.ImportUnit{FileName: "Data/manifest_0.pdf", Words: []string{"Bill", "of", "Lading"}})
	e.dropUnit(t, "b.json", models.ImportUnit{DocumentName: "manifest.pdf", PageIndex: 1, Words: []string{"Total"}})
	e.dropUnit(t, "c.json", models.ImportUnit{DocumentName: "ghost.pdf", Words: []string{"boo"}})
	e.dropUnit(t, "d.json", models.ImportUnit{FileName: "Data/done_0.pdf", Words: []string{"overwrite"}})
	require.NoError(t, e.blobs.Write(ctx, "Processed/e.json", []byte("{not json")))
	require.NoError(t, e.blobs.Write(ctx, "Processed/readme.txt", []byte("ignored")))

	progress := &progressLog{}
	summary, err := NewImporter(e.blobs, e.store, "Processed", "Data", quietLogger).ImportAll(ctx, progress.report)
	require.NoError(t, err)
	assert.Equal(t, ImportSummary{Total: 5, Imported: 2, Mismatched: 2, Failed: 1}, summary)
	assert.Equal(t, [2]int{5, 5}, progress.last())

	rec := e.get(t, "Data/manifest_0.pdf")
	assert.Equal(t, models.StatusProcessed, rec.Status)
	assert.Equal(t, []string{"Bill", "of", "Lading"}, rec.Words)

	rec = e.get(t, "Data/manifest_1.pdf")
	assert.Equal(t, models.StatusProcessed, rec.Status)
	assert.Empty(t, rec.LastError)

	assert.Equal(t, []string{"original"}, e.get(t, "Data/done_0.pdf").Words)

	assert.False(t, e.unitExists(t, "a.json"))
	assert.False(t, e.unitExists(t, "b.json"))
	assert.True(t, e.unitExists(t, "c.json"))
	assert.True(t, e.unitExists(t, "d.json"))
	assert.True(t, e.unitExists(t, "e.json"))
}

func Test_ImportAll_IntoLegacyTable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	legacy := `file_name,page_number,file_path,file_type,notes,upload_time,words,OCR_attempted
manifest.pdf,0,s3://ocr-database-s3/Data/manifest_0.pdf,Shipping,,2024-03-01 12:30:00,[],False
`
	require.NoError(t, e.blobs.Write(ctx, "doc_df.csv", []byte(legacy)))
	table := store.NewTable(e.blobs, "doc_df.csv", quietLogger)
	e.dropUnit(t, "u.json", models.ImportUnit{FileName: "Data/manifest_0.pdf", Words: []string{"Bill", "of", "Lading"}})

	summary, err := NewImporter(e.blobs, table, "Processed", "Data", quietLogger).ImportAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, ImportSummary{Total: 1, Imported: 1}, summary)

	rec, err := table.Get(ctx, "Data/manifest_0.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, rec.Status)
	assert.Equal(t, []string{"Bill", "of", "Lading"}, rec.Words)
}

func Test_ImportAll_Empty(t *testing.T) {
	e := newEnv(t)
	progress := &progressLog{}
	summary, err := NewImporter(e.blobs, e.store, "Processed", "Data", quietLogger).ImportAll(context.Background(), progress.report)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Equal(t, [][2]int{{0, 0}}, progress.calls)
}

func Test_Watcher_RunsAfterChanges(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Processed")
	var runs atomic.Int32
	w := NewWatcher(dir, 50*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, quietLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Watch(ctx))

	for _, name := range []string{"a.json", "b.json", "c.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	before := runs.Load()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d.json"), []byte("{}"), 0o644))
	assert.Eventually(t, func() bool { return runs.Load() > before }, 2*time.Second, 10*time.Millisecond)
}

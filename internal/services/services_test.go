package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pagesearch/internal/blob"
	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/store"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type env struct {
	blobs *blob.Local
	store store.Store
}

func newEnv(t *testing.T) env {
	t.Helper()
	blobs, err := blob.NewLocal(filepath.Join(t.TempDir(), "bucket"))
	require.NoError(t, err)
	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "pages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return env{blobs: blobs, store: st}
}

// seedPending writes a blob and a Pending record for each key.
func (e env) seedPending(t *testing.T, keys ...string) {
	t.Helper()
	ctx := context.Background()
	for i, key := range keys {
		require.NoError(t, e.blobs.Write(ctx, key, []byte("content of "+key)))
		_, err := e.store.Upsert(ctx, models.PageRecord{
			Key:          key,
			DocumentName: filepath.Base(key),
			PageIndex:    i,
			Category:     models.CategoryOther,
			IngestedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Status:       models.StatusPending,
		})
		require.NoError(t, err)
	}
}

func (e env) get(t *testing.T, key string) models.PageRecord {
	t.Helper()
	rec, err := e.store.Get(context.Background(), key)
	require.NoError(t, err)
	return rec
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
	args := m.Called(string(data), kind)
	words, _ := args.Get(0).([]string)
	return words, args.Error(1)
}

type progressLog struct {
	mu    sync.Mutex
	calls [][2]int
}

func (p *progressLog) report(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [2]int{done, total})
}

func (p *progressLog) last() [2]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return [2]int{-1, -1}
	}
	return p.calls[len(p.calls)-1]
}

// minimalPDF builds a valid PDF with one short text line per page.
func minimalPDF(pages int) []byte {
	var (
		buf     bytes.Buffer
		offsets []int
	)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for i := 0; i < pages; i++ {
		content := fmt.Sprintf("BT /F1 12 Tf 20 100 Td (page %d) Tj ET", i+1)
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Contents %d 0 R "+
			"/Resources << /Font << /F1 << /Type /Font /Subtype /Type1 /BaseFont /Helvetica >> >> >> >>", 4+2*i))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

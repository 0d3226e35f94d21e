package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pagesearch/internal/models"
)

type fakeSource struct {
	recs []models.PageRecord
	err  error
}

func (s *fakeSource) ListByStatus(ctx context.Context, status models.Status) ([]models.PageRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.PageRecord
	for _, r := range s.recs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func page(key string, words ...string) models.PageRecord {
	return models.PageRecord{
		Key:      key,
		Category: models.CategoryShipping,
		Status:   models.StatusProcessed,
		Words:    words,
	}
}

func keys(hits []models.SearchHit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Key)
	}
	return out
}

func Test_Search_RanksCloserPageFirst(t *testing.T) {
	src := &fakeSource{recs: []models.PageRecord{
		page("Data/fruit_1.pdf", "orange", "grape"),
		page("Data/fruit_0.pdf", "apple", "banana"),
	}}
	e := NewEngine(src, 0, 0, nil)

	hits, err := e.Search(context.Background(), Query{Text: "appel"})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, []string{"Data/fruit_0.pdf", "Data/fruit_1.pdf"}, keys(hits))
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "fruit_0.pdf", hits[0].FileName)

	require.NotEmpty(t, hits[0].Matches)
	assert.Equal(t, "apple", hits[0].Matches[0].Word)
	assert.GreaterOrEqual(t, hits[0].Matches[0].Score, 80)
}

func Test_Search_TopDocumentsLargerThanCorpus(t *testing.T) {
	src := &fakeSource{recs: []models.PageRecord{
		page("Data/a_0.pdf", "zebra"),
		page("Data/b_0.pdf", "invoice", "total"),
		page("Data/c_0.pdf", "invoice"),
	}}
	hits, err := NewEngine(src, 0, 0, nil).Search(context.Background(), Query{Text: "invoice", TopDocuments: 5})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"Data/b_0.pdf", "Data/c_0.pdf", "Data/a_0.pdf"}, keys(hits))
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func Test_Search_TruncatesAndKeepsTiesInStoreOrder(t *testing.T) {
	var recs []models.PageRecord
	for i := 0; i < 8; i++ {
		recs = append(recs, page(fmt.Sprintf("Data/doc_%d.pdf", i), "manifest"))
	}
	hits, err := NewEngine(&fakeSource{recs: recs}, 3, 0, nil).Search(context.Background(), Query{Text: "manifest"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Data/doc_0.pdf", "Data/doc_1.pdf", "Data/doc_2.pdf"}, keys(hits))
}

func Test_Search_WordMatchesLimitedAndOrdered(t *testing.T) {
	src := &fakeSource{recs: []models.PageRecord{
		page("Data/a_0.pdf", "cargo", "Cargo", "car", "manifest", "cart", "carton", "carbon"),
	}}
	hits, err := NewEngine(src, 0, 0, nil).Search(context.Background(), Query{Text: "CARGO", TopWords: 3})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	m := hits[0].Matches
	require.Len(t, m, 3)
	assert.Equal(t, models.WordMatch{Word: "cargo", Score: 100}, m[0])
	assert.Equal(t, models.WordMatch{Word: "Cargo", Score: 100}, m[1], "ties keep first occurrence order")
	assert.GreaterOrEqual(t, m[1].Score, m[2].Score)
}

func Test_Search_PageWithoutWordsRanksLast(t *testing.T) {
	src := &fakeSource{recs: []models.PageRecord{
		page("Data/blank_0.pdf"),
		page("Data/x_0.pdf", "unrelated", "text"),
	}}
	hits, err := NewEngine(src, 0, 0, nil).Search(context.Background(), Query{Text: "anything"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Data/blank_0.pdf", hits[1].Key)
	assert.Zero(t, hits[1].Score)
	assert.Empty(t, hits[1].Matches)
}

func Test_Search_OnlyProcessedPages(t *testing.T) {
	pending := page("Data/p_0.pdf")
	pending.Status = models.StatusPending
	src := &fakeSource{recs: []models.PageRecord{pending, page("Data/q_0.pdf", "hello")}}

	hits, err := NewEngine(src, 0, 0, nil).Search(context.Background(), Query{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Data/q_0.pdf"}, keys(hits))
}

func Test_Search_EmptyQuery(t *testing.T) {
	src := &fakeSource{err: errors.New("should not be called")}
	e := NewEngine(src, 0, 0, nil)
	for _, q := range []string{"", "   ", "?!"} {
		hits, err := e.Search(context.Background(), Query{Text: q})
		require.NoError(t, err)
		assert.Empty(t, hits)
	}
}

func Test_Search_EmptyCorpus(t *testing.T) {
	hits, err := NewEngine(&fakeSource{}, 0, 0, nil).Search(context.Background(), Query{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func Test_Search_StoreError(t *testing.T) {
	src := &fakeSource{err: models.ErrStoreUnavailable}
	_, err := NewEngine(src, 0, 0, nil).Search(context.Background(), Query{Text: "x"})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

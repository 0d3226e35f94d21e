package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pagesearch/internal/extract"
	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/store"
)

func Test_Run_OneFailureDoesNotStopTheBatch(t *testing.T) {
	e := newEnv(t)
	e.seedPending(t, "Data/a_0.pdf", "Data/a_1.pdf", "Data/a_2.pdf")

	ex := &mockExtractor{}
	ex.On("Extract", "content of Data/a_0.pdf", models.KindPDF).Return([]string{"Bill", "of", "Lading"}, nil)
	ex.On("Extract", "content of Data/a_1.pdf", models.KindPDF).Return(nil, extract.Failed("unreadable scan"))
	ex.On("Extract", "content of Data/a_2.pdf", models.KindPDF).Return([]string{"Total"}, nil)

	progress := &progressLog{}
	summary, err := NewProcessor(e.blobs, e.store, ex, 1, quietLogger).Run(context.Background(), progress.report)
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress.calls)

	assert.Equal(t, []string{"Bill", "of", "Lading"}, e.get(t, "Data/a_0.pdf").Words)
	assert.Equal(t, models.StatusProcessed, e.get(t, "Data/a_2.pdf").Status)

	failed := e.get(t, "Data/a_1.pdf")
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Contains(t, failed.LastError, "unreadable scan")
	assert.Empty(t, failed.Words)
	ex.AssertExpectations(t)
}

func Test_Run_NothingPending(t *testing.T) {
	e := newEnv(t)
	ex := &mockExtractor{}
	progress := &progressLog{}

	summary, err := NewProcessor(e.blobs, e.store, ex, 1, quietLogger).Run(context.Background(), progress.report)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Equal(t, [][2]int{{0, 0}}, progress.calls)
	ex.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func Test_Run_MissingBlobFailsThePage(t *testing.T) {
	e := newEnv(t)
	e.seedPending(t, "Data/a_0.pdf")
	require.NoError(t, e.blobs.Delete(context.Background(), "Data/a_0.pdf"))

	summary, err := NewProcessor(e.blobs, e.store, &mockExtractor{}, 1, quietLogger).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	rec := e.get(t, "Data/a_0.pdf")
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Contains(t, rec.LastError, models.ErrBlobUnavailable.Error())
}

func Test_Run_LosingARaceLeavesTheWinnerAlone(t *testing.T) {
	e := newEnv(t)
	e.seedPending(t, "Data/a_0.pdf")

	// Another writer finishes the page while this run is extracting it.
	racer := extract.Func(func(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
		rec := e.get(t, "Data/a_0.pdf")
		rec.Status = models.StatusProcessed
		rec.Words = []string{"winner"}
		require.NoError(t, e.store.CompareAndSet(ctx, rec.Key, models.StatusPending, rec))
		return []string{"loser"}, nil
	})

	summary, err := NewProcessor(e.blobs, e.store, racer, 1, quietLogger).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Summary{RunID: summary.RunID, Total: 1, Skipped: 1}, summary)

	rec := e.get(t, "Data/a_0.pdf")
	assert.Equal(t, models.StatusProcessed, rec.Status)
	assert.Equal(t, []string{"winner"}, rec.Words)
}

func Test_Run_ParallelWorkers(t *testing.T) {
	e := newEnv(t)
	var keys []string
	for i := 0; i < 20; i++ {
		keys = append(keys, fmt.Sprintf("Data/doc_%d.pdf", i))
	}
	e.seedPending(t, keys...)

	ex := extract.Func(func(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
		return []string{string(data)}, nil
	})
	progress := &progressLog{}
	summary, err := NewProcessor(e.blobs, e.store, ex, 4, quietLogger).Run(context.Background(), progress.report)
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Succeeded)
	assert.Equal(t, [2]int{20, 20}, progress.last())
	assert.Len(t, progress.calls, 20)

	for _, k := range keys {
		assert.Equal(t, []string{"content of " + k}, e.get(t, k).Words)
	}
}

func Test_Run_CancellationFinishesInFlightPage(t *testing.T) {
	e := newEnv(t)
	e.seedPending(t, "Data/a_0.pdf", "Data/a_1.pdf", "Data/a_2.pdf")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ex := extract.Func(func(_ context.Context, data []byte, kind models.ContentKind) ([]string, error) {
		cancel()
		return []string{"done"}, nil
	})

	summary, err := NewProcessor(e.blobs, e.store, ex, 1, quietLogger).Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Succeeded)

	assert.Equal(t, models.StatusProcessed, e.get(t, "Data/a_0.pdf").Status)
	assert.Equal(t, models.StatusPending, e.get(t, "Data/a_1.pdf").Status)
	assert.Equal(t, models.StatusPending, e.get(t, "Data/a_2.pdf").Status)
}

type unavailableStore struct {
	store.Store
	failList bool
	failCAS  bool
}

func (s *unavailableStore) ListByStatus(ctx context.Context, status models.Status) ([]models.PageRecord, error) {
	if s.failList {
		return nil, fmt.Errorf("%w: connection refused", models.ErrStoreUnavailable)
	}
	return s.Store.ListByStatus(ctx, status)
}

func (s *unavailableStore) CompareAndSet(ctx context.Context, key string, expected models.Status, rec models.PageRecord) error {
	if s.failCAS {
		return fmt.Errorf("%w: connection reset", models.ErrStoreUnavailable)
	}
	return s.Store.CompareAndSet(ctx, key, expected, rec)
}

func Test_Run_StoreUnavailableIsFatal(t *testing.T) {
	e := newEnv(t)
	e.seedPending(t, "Data/a_0.pdf", "Data/a_1.pdf")
	ex := extract.Func(func(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
		return []string{"w"}, nil
	})

	_, err := NewProcessor(e.blobs, &unavailableStore{Store: e.store, failList: true}, ex, 1, quietLogger).Run(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	summary, err := NewProcessor(e.blobs, &unavailableStore{Store: e.store, failCAS: true}, ex, 1, quietLogger).Run(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Zero(t, summary.Succeeded)
	assert.Equal(t, models.StatusPending, e.get(t, "Data/a_0.pdf").Status)
}

func Test_RetryFailed(t *testing.T) {
	e := newEnv(t)
	e.seedPending(t, "Data/a_0.pdf", "Data/a_1.pdf")
	fail := extract.Func(func(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
		return nil, errors.New("model timeout")
	})
	p := NewProcessor(e.blobs, e.store, fail, 1, quietLogger)

	summary, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Failed)

	n, err := p.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, k := range []string{"Data/a_0.pdf", "Data/a_1.pdf"} {
		rec := e.get(t, k)
		assert.Equal(t, models.StatusPending, rec.Status)
		assert.Empty(t, rec.LastError)
	}

	n, err = p.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

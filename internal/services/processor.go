package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/pagesearch/internal/blob"
	"github.com/Lllllllleong/pagesearch/internal/extract"
	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/store"
)

type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
	// Skipped counts pages another writer finished first, and pages left
	// Pending because the run was cancelled mid-extraction.
	Skipped int
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeSkipped
)

// Processor drives Pending pages to Processed or Failed.
type Processor struct {
	blobs     blob.Store
	store     store.Store
	extractor extract.Extractor
	workers   int
	logger    *slog.Logger
}

func NewProcessor(blobs blob.Store, st store.Store, extractor extract.Extractor, workers int, logger *slog.Logger) *Processor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{blobs: blobs, store: st, extractor: extractor, workers: workers, logger: logger}
}

// Run processes a snapshot of the Pending pages. One page failing never
// stops the batch; the run fails only when the store becomes unavailable.
// After ctx is cancelled no new page is started, and pages already in flight
// still commit their outcome.
func (p *Processor) Run(ctx context.Context, progress Progress) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}
	logCtx := p.logger.With("runId", summary.RunID)

	pending, err := p.store.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		logCtx.Error("Failed to snapshot pending pages.", "error", err)
		return summary, fmt.Errorf("failed to snapshot pending pages: %w", err)
	}
	summary.Total = len(pending)
	if summary.Total == 0 {
		logCtx.Info("No pending pages. Nothing to do.")
		progress.report(0, 0)
		return summary, nil
	}
	logCtx.Info("Starting processing run.", "pending", summary.Total, "workers", p.workers)

	var (
		mu        sync.Mutex
		completed int
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workers)

	for _, rec := range pending {
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			result, err := p.processOne(gctx, logCtx, rec)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case outcomeSucceeded:
				summary.Succeeded++
			case outcomeFailed:
				summary.Failed++
			case outcomeSkipped:
				summary.Skipped++
			}
			completed++
			progress.report(completed, summary.Total)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		logCtx.Error("Processing run aborted.", "error", err, "completed", completed)
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		logCtx.Warn("Processing run cancelled.", "completed", completed, "total", summary.Total)
		return summary, err
	}
	logCtx.Info("Processing run complete.",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

// processOne returns a non-nil error only when the run must stop.
func (p *Processor) processOne(ctx context.Context, logCtx *slog.Logger, rec models.PageRecord) (outcome, error) {
	logCtx = logCtx.With("key", rec.Key)
	// Commits finish even if the run is cancelled while this page is in flight.
	commitCtx := context.WithoutCancel(ctx)

	words, err := p.extract(ctx, rec)
	if err != nil && ctx.Err() != nil {
		logCtx.Info("Extraction interrupted by cancellation. Page stays pending.")
		return outcomeSkipped, nil
	}
	if err == nil {
		done := rec
		done.Status = models.StatusProcessed
		done.Words = words
		done.LastError = ""
		err = p.store.CompareAndSet(commitCtx, rec.Key, models.StatusPending, done)
		if err == nil {
			logCtx.Debug("Page processed.", "words", len(words))
			return outcomeSucceeded, nil
		}
		if errors.Is(err, models.ErrStoreUnavailable) {
			return outcomeFailed, fmt.Errorf("failed to commit %s: %w", rec.Key, err)
		}
	}

	return p.markFailed(commitCtx, logCtx, rec, err)
}

func (p *Processor) extract(ctx context.Context, rec models.PageRecord) ([]string, error) {
	data, err := p.blobs.Read(ctx, rec.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to read page blob: %w", err)
	}
	words, err := p.extractor.Extract(ctx, data, models.KindFromName(rec.Key))
	if err != nil {
		return nil, fmt.Errorf("failed to extract words: %w", err)
	}
	return words, nil
}

func (p *Processor) markFailed(ctx context.Context, logCtx *slog.Logger, rec models.PageRecord, cause error) (outcome, error) {
	logCtx.Warn("Page failed.", "error", cause)

	failed := rec
	failed.Status = models.StatusFailed
	failed.Words = nil
	failed.LastError = cause.Error()

	err := p.store.CompareAndSet(ctx, rec.Key, models.StatusPending, failed)
	switch {
	case err == nil:
		return outcomeFailed, nil
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrNotFound):
		// Someone else already moved the page on; their outcome stands.
		logCtx.Info("Page was finished by another writer. Leaving it untouched.", "error", err)
		return outcomeSkipped, nil
	default:
		return outcomeFailed, fmt.Errorf("failed to record failure of %s: %w", rec.Key, err)
	}
}

// RetryFailed moves every Failed page back to Pending and returns how many
// were moved.
func (p *Processor) RetryFailed(ctx context.Context) (int, error) {
	failed, err := p.store.ListByStatus(ctx, models.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to list failed pages: %w", err)
	}

	retried := 0
	for _, rec := range failed {
		if err := ctx.Err(); err != nil {
			return retried, err
		}
		next := rec
		next.Status = models.StatusPending
		next.LastError = ""
		err := p.store.CompareAndSet(ctx, rec.Key, models.StatusFailed, next)
		switch {
		case err == nil:
			retried++
		case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrNotFound):
			p.logger.Info("Failed page changed concurrently. Not retrying it.", "key", rec.Key)
		default:
			return retried, fmt.Errorf("failed to reset %s: %w", rec.Key, err)
		}
	}
	p.logger.Info("Failed pages reset to pending.", "count", retried)
	return retried, nil
}

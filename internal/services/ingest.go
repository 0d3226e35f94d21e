package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/pagesearch/internal/blob"
	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/store"
)

// Progress receives (done, total) after every unit.
type Progress func(done, total int)

func (p Progress) report(done, total int) {
	if p != nil {
		p(done, total)
	}
}

// Notifier hands newly ingested pages to whatever processes them next.
type Notifier interface {
	Notify(ctx context.Context, documentName string, keys []string) error
}

type IngestRequest struct {
	FileName string
	Data     []byte
	Category models.Category
	Notes    string
	// Kind may be empty, in which case it is derived from FileName.
	Kind models.ContentKind
	// Replace supersedes pages that already exist instead of rejecting them.
	Replace bool
}

type UnitResult struct {
	Key       string
	PageIndex int
	Replaced  bool
	Err       error
}

type IngestResult struct {
	RunID        string
	DocumentName string
	Units        []UnitResult
}

// Keys returns the keys of every unit that was committed.
func (r IngestResult) Keys() []string {
	var keys []string
	for _, u := range r.Units {
		if u.Err == nil {
			keys = append(keys, u.Key)
		}
	}
	return keys
}

func (r IngestResult) Failed() int {
	n := 0
	for _, u := range r.Units {
		if u.Err != nil {
			n++
		}
	}
	return n
}

type Ingestor struct {
	blobs    blob.Store
	store    store.Store
	splitter PageSplitter
	prefix   string
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

func NewIngestor(blobs blob.Store, st store.Store, splitter PageSplitter, pagesPrefix string, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		blobs:    blobs,
		store:    st,
		splitter: splitter,
		prefix:   pagesPrefix,
		now:      time.Now,
		logger:   logger,
	}
}

// WithNotifier makes the ingestor notify n after every run that committed at
// least one page.
func (i *Ingestor) WithNotifier(n Notifier) *Ingestor {
	i.notifier = n
	return i
}

// Ingest splits the document into units and commits them one at a time:
// blob first, then a Pending record. A failed unit is reported in the result
// and does not roll back earlier ones. Cancellation is honoured between
// units. The returned error is non-nil only when the document could not be
// prepared, the store became unavailable or ctx was cancelled; the result
// still describes every unit that was attempted.
func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest, progress Progress) (IngestResult, error) {
	result := IngestResult{RunID: uuid.NewString(), DocumentName: path.Base(strings.ReplaceAll(req.FileName, "\\", "/"))}
	logCtx := i.logger.With("runId", result.RunID, "document", result.DocumentName)

	units, err := i.prepare(ctx, req)
	if err != nil {
		logCtx.Error("Failed to prepare document.", "error", err)
		return result, err
	}
	logCtx.Info("Ingesting document.", "units", len(units), "category", req.Category)

	ingestedAt := i.now().UTC()
	for idx, data := range units {
		if err := ctx.Err(); err != nil {
			logCtx.Warn("Ingestion cancelled.", "committed", len(result.Keys()), "remaining", len(units)-idx)
			return result, err
		}

		rec := models.PageRecord{
			Key:          models.PageKey(i.prefix, result.DocumentName, idx),
			DocumentName: result.DocumentName,
			PageIndex:    idx,
			Category:     req.Category,
			Notes:        req.Notes,
			IngestedAt:   ingestedAt,
			Status:       models.StatusPending,
		}
		unit := i.commit(ctx, logCtx, rec, data, req.Replace)
		result.Units = append(result.Units, unit)
		progress.report(idx+1, len(units))

		if errors.Is(unit.Err, models.ErrStoreUnavailable) {
			return result, unit.Err
		}
	}

	if err := i.notify(ctx, logCtx, result); err != nil {
		return result, err
	}
	logCtx.Info("Ingestion complete.", "committed", len(result.Keys()), "failed", result.Failed())
	return result, nil
}

func (i *Ingestor) prepare(ctx context.Context, req IngestRequest) ([][]byte, error) {
	if strings.TrimSpace(req.FileName) == "" {
		return nil, errors.New("file name is required")
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%s is empty", req.FileName)
	}
	if _, err := models.ParseCategory(string(req.Category)); err != nil {
		return nil, err
	}
	kind, err := models.ParseContentKind(string(req.Kind), req.FileName)
	if err != nil {
		return nil, err
	}

	if kind != models.KindPDF {
		return [][]byte{req.Data}, nil
	}
	if i.splitter == nil {
		return nil, errors.New("no page splitter configured for multi-page documents")
	}
	pages, err := i.splitter.Split(ctx, req.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", req.FileName, err)
	}
	return pages, nil
}

func (i *Ingestor) commit(ctx context.Context, logCtx *slog.Logger, rec models.PageRecord, data []byte, replace bool) UnitResult {
	unit := UnitResult{Key: rec.Key, PageIndex: rec.PageIndex}
	logCtx = logCtx.With("key", rec.Key)

	_, err := i.store.Get(ctx, rec.Key)
	switch {
	case err == nil && !replace:
		unit.Err = fmt.Errorf("%w: %s", models.ErrAlreadyExists, rec.Key)
		logCtx.Warn("Page already ingested. Skipping.")
		return unit
	case err != nil && !errors.Is(err, models.ErrNotFound):
		unit.Err = fmt.Errorf("failed to check for existing page: %w", err)
		logCtx.Error("Failed to check for existing page.", "error", err)
		return unit
	}

	if replace {
		if err := i.blobs.Write(ctx, rec.Key, data); err != nil {
			unit.Err = fmt.Errorf("failed to write page blob: %w", err)
			logCtx.Error("Failed to write page blob.", "error", err)
			return unit
		}
		prior, err := i.store.Upsert(ctx, rec)
		if err != nil {
			unit.Err = fmt.Errorf("failed to record page: %w", err)
			logCtx.Error("Failed to record page.", "error", err)
			return unit
		}
		unit.Replaced = prior != nil
		logCtx.Debug("Page committed.", "replaced", unit.Replaced)
		return unit
	}

	// Another ingest of the same page may have passed the check above. The
	// blob is written only if absent and the record only created if absent,
	// so exactly one of them commits and the other leaves no trace.
	reserved, err := i.writeNewBlob(ctx, rec.Key, data)
	if err != nil {
		unit.Err = err
		logCtx.Warn("Failed to write page blob.", "error", err)
		return unit
	}
	if err := i.store.Create(ctx, rec); err != nil {
		if reserved {
			if derr := i.blobs.Delete(context.WithoutCancel(ctx), rec.Key); derr != nil {
				logCtx.Error("Failed to remove blob of rejected page.", "error", derr)
			}
		}
		unit.Err = fmt.Errorf("failed to record page: %w", err)
		logCtx.Warn("Failed to record page.", "error", err)
		return unit
	}
	logCtx.Debug("Page committed.", "replaced", false)
	return unit
}

// writeNewBlob writes data only where no blob exists yet, when the blob store
// supports conditional writes. It reports whether this call created the blob.
func (i *Ingestor) writeNewBlob(ctx context.Context, key string, data []byte) (bool, error) {
	v, ok := i.blobs.(blob.Versioned)
	if !ok {
		if err := i.blobs.Write(ctx, key, data); err != nil {
			return false, fmt.Errorf("failed to write page blob: %w", err)
		}
		return false, nil
	}
	err := v.WriteIfVersion(ctx, key, data, 0)
	if errors.Is(err, models.ErrConflict) {
		return false, fmt.Errorf("%w: blob %s is already present", models.ErrAlreadyExists, key)
	}
	if err != nil {
		return false, fmt.Errorf("failed to write page blob: %w", err)
	}
	return true, nil
}

func (i *Ingestor) notify(ctx context.Context, logCtx *slog.Logger, result IngestResult) error {
	keys := result.Keys()
	if i.notifier == nil || len(keys) == 0 {
		return nil
	}
	if err := i.notifier.Notify(ctx, result.DocumentName, keys); err != nil {
		logCtx.Error("Pages committed but hand-off failed.", "error", err)
		return fmt.Errorf("failed to notify for %s: %w", result.DocumentName, err)
	}
	logCtx.Info("Hand-off complete.", "pages", len(keys))
	return nil
}

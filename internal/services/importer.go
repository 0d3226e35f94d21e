package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/Lllllllleong/pagesearch/internal/blob"
	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/store"
)

type ImportSummary struct {
	Total      int
	Imported   int
	Mismatched int
	Failed     int
}

// Importer merges externally computed word lists into the store. Each unit
// is a JSON object under the import prefix; consumed units are deleted and
// anything that cannot be applied stays in place for a later attempt.
type Importer struct {
	blobs        blob.Store
	store        store.Store
	importPrefix string
	pagesPrefix  string
	logger       *slog.Logger
}

func NewImporter(blobs blob.Store, st store.Store, importPrefix, pagesPrefix string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		blobs:        blobs,
		store:        st,
		importPrefix: importPrefix,
		pagesPrefix:  pagesPrefix,
		logger:       logger,
	}
}

// UnitKey rebuilds the page key an import unit refers to. A file name with a
// directory is taken as the key itself; a bare file name is placed under the
// pages prefix; otherwise the key is derived from the document name and page
// index.
func (im *Importer) UnitKey(u models.ImportUnit) (string, error) {
	name := strings.ReplaceAll(strings.TrimSpace(u.FileName), "\\", "/")
	switch {
	case strings.Contains(name, "/"):
		return strings.TrimPrefix(name, "/"), nil
	case name != "":
		return path.Join(im.pagesPrefix, name), nil
	case strings.TrimSpace(u.DocumentName) != "":
		return models.PageKey(im.pagesPrefix, u.DocumentName, u.PageIndex), nil
	}
	return "", errors.New("import unit names neither a file nor a document")
}

func (im *Importer) ImportAll(ctx context.Context, progress Progress) (ImportSummary, error) {
	var summary ImportSummary
	paths, err := im.blobs.List(ctx, im.importPrefix)
	if err != nil {
		return summary, fmt.Errorf("failed to list import units: %w", err)
	}

	var units []string
	for _, p := range paths {
		if strings.EqualFold(path.Ext(p), ".json") {
			units = append(units, p)
		}
	}
	summary.Total = len(units)
	if summary.Total == 0 {
		progress.report(0, 0)
		return summary, nil
	}
	im.logger.Info("Importing external results.", "units", summary.Total)

	for i, unitPath := range units {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		err := im.importOne(ctx, unitPath)
		switch {
		case err == nil:
			summary.Imported++
		case errors.Is(err, models.ErrImportMismatch):
			summary.Mismatched++
			im.logger.Warn("Import unit has no matching page. Leaving it in place.", "unit", unitPath, "error", err)
		case errors.Is(err, models.ErrStoreUnavailable):
			return summary, err
		default:
			summary.Failed++
			im.logger.Error("Failed to import unit.", "unit", unitPath, "error", err)
		}
		progress.report(i+1, summary.Total)
	}

	im.logger.Info("Import complete.",
		"imported", summary.Imported,
		"mismatched", summary.Mismatched,
		"failed", summary.Failed,
	)
	return summary, nil
}

func (im *Importer) importOne(ctx context.Context, unitPath string) error {
	data, err := im.blobs.Read(ctx, unitPath)
	if err != nil {
		return err
	}
	var unit models.ImportUnit
	if err := json.Unmarshal(data, &unit); err != nil {
		return fmt.Errorf("malformed import unit: %w", err)
	}
	key, err := im.UnitKey(unit)
	if err != nil {
		return err
	}

	rec, err := im.store.Get(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: no page %s", models.ErrImportMismatch, key)
	}
	if err != nil {
		return err
	}
	if rec.Status == models.StatusProcessed {
		return fmt.Errorf("%w: page %s is already processed", models.ErrImportMismatch, key)
	}

	next := rec
	next.Status = models.StatusProcessed
	next.Words = unit.Words
	next.LastError = ""
	if err := im.store.CompareAndSet(ctx, key, rec.Status, next); err != nil {
		return err
	}

	if err := im.blobs.Delete(ctx, unitPath); err != nil {
		// The page is already processed, so a leftover unit is reported as a
		// mismatch next time and never applied twice.
		im.logger.Warn("Imported unit could not be removed.", "unit", unitPath, "error", err)
	}
	im.logger.Debug("Unit imported.", "unit", unitPath, "key", key, "words", len(unit.Words))
	return nil
}

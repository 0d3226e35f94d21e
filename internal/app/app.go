// Package app assembles the configured storage, extraction and workflow
// clients into one handle that entry points open once and close on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Lllllllleong/pagesearch/internal/blob"
	"github.com/Lllllllleong/pagesearch/internal/config"
	"github.com/Lllllllleong/pagesearch/internal/extract"
	"github.com/Lllllllleong/pagesearch/internal/gcp"
	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/search"
	"github.com/Lllllllleong/pagesearch/internal/services"
	"github.com/Lllllllleong/pagesearch/internal/store"
)

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Blobs     blob.Store
	Store     store.Store
	Extractor *extract.Router
	// Notifier is nil unless a workflow is configured.
	Notifier services.Notifier

	closers []io.Closer
}

// NewLogger returns the JSON logger every entry point installs as default.
func NewLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
}

// Open connects everything cfg selects. On error, anything already opened is
// closed again.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	medium, err := a.openBlobs(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.openStore(ctx, medium); err != nil {
		return nil, err
	}
	if err := a.openExtractors(ctx); err != nil {
		return nil, err
	}
	if cfg.Workflow.ID != "" {
		trigger, err := gcp.NewWorkflowTrigger(ctx, cfg.ProjectID, cfg.Workflow.Location, cfg.Workflow.ID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, trigger)
		a.Notifier = trigger
	}

	logger.Info("Application initialized.",
		"blobDriver", cfg.Blob.Driver,
		"storeDriver", cfg.Store.Driver,
		"vertex", cfg.VertexEnabled(),
		"tesseract", cfg.Tesseract.Enabled,
		"workflowId", cfg.Workflow.ID,
	)
	return a, nil
}

// openBlobs sets a.Blobs and returns the same store as a versioned medium for
// the flat table.
func (a *App) openBlobs(ctx context.Context) (blob.Versioned, error) {
	switch a.Config.Blob.Driver {
	case config.BlobGCS:
		client, err := gcp.NewStorageClient(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		g := blob.NewGCS(client, a.Config.Blob.Bucket)
		a.Blobs = g
		return g, nil
	case config.BlobLocal:
		l, err := blob.NewLocal(a.Config.Blob.Root)
		if err != nil {
			return nil, err
		}
		a.Blobs = l
		return l, nil
	}
	return nil, fmt.Errorf("unknown blob driver %q", a.Config.Blob.Driver)
}

func (a *App) openStore(ctx context.Context, medium blob.Versioned) error {
	switch a.Config.Store.Driver {
	case config.StoreFirestore:
		client, err := gcp.NewFirestoreClient(ctx, a.Config.ProjectID)
		if err != nil {
			return err
		}
		a.Store = store.NewFirestore(client, a.Config.Store.Collection)
	case config.StoreSQLite:
		s, err := store.OpenSQLite(ctx, a.Config.Store.SQLitePath)
		if err != nil {
			return err
		}
		a.Store = s
	case config.StoreTable:
		a.Store = store.NewTable(medium, a.Config.Store.TablePath, a.Logger)
	default:
		return fmt.Errorf("unknown store driver %q", a.Config.Store.Driver)
	}
	a.closers = append(a.closers, a.Store)
	return nil
}

func (a *App) openExtractors(ctx context.Context) error {
	a.Extractor = extract.NewRouter().Handle(models.KindDocument, extract.NewDocconv())

	if a.Config.VertexEnabled() {
		vc, err := gcp.NewVertexClient(ctx, a.Config.ProjectID, a.Config.Vertex.Region, a.Config.Vertex.Model)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, vc)
		v := extract.NewVertex(vc, a.Logger)
		a.Extractor.Handle(models.KindPDF, v).Handle(models.KindImage, v)
	}
	if a.Config.Tesseract.Enabled {
		ocr, err := newTesseract(a.Config.Tesseract.Languages)
		if err != nil {
			return err
		}
		a.Extractor.Handle(models.KindImage, ocr)
	}
	return nil
}

func (a *App) Ingestor() *services.Ingestor {
	ing := services.NewIngestor(a.Blobs, a.Store, services.NewPDFSplitter(a.Logger), a.Config.PagesPrefix, a.Logger)
	if a.Notifier != nil {
		ing.WithNotifier(a.Notifier)
	}
	return ing
}

func (a *App) Processor(workers int) *services.Processor {
	if workers < 1 {
		workers = a.Config.Workers
	}
	return services.NewProcessor(a.Blobs, a.Store, a.Extractor, workers, a.Logger)
}

func (a *App) Importer() *services.Importer {
	return services.NewImporter(a.Blobs, a.Store, a.Config.ImportPrefix, a.Config.PagesPrefix, a.Logger)
}

// ImportWatcher watches the local import directory. It needs the local blob
// driver.
func (a *App) ImportWatcher() (*services.Watcher, error) {
	local, ok := a.Blobs.(*blob.Local)
	if !ok {
		return nil, errors.New("watching imports needs the local blob driver")
	}
	im := a.Importer()
	run := func(ctx context.Context) error {
		_, err := im.ImportAll(ctx, nil)
		return err
	}
	debounce := time.Duration(a.Config.ImportDebounce) * time.Millisecond
	return services.NewWatcher(local.Dir(a.Config.ImportPrefix), debounce, run, a.Logger), nil
}

func (a *App) PageFetcher() *services.PageFetcher {
	return services.NewPageFetcher(a.Blobs, a.Config.PagesPrefix)
}

func (a *App) SearchEngine() *search.Engine {
	return search.NewEngine(a.Store, a.Config.TopDocuments, a.Config.TopWords, a.Logger)
}

// Close releases clients in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// FromEnv loads the config file named by CONFIG_FILE, if any, with env
// overrides, installs the JSON logger as the default and opens the app.
func FromEnv(ctx context.Context) (*App, error) {
	cfg, err := config.Load(config.GetEnv("CONFIG_FILE", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := NewLogger(cfg)
	slog.SetDefault(logger)
	return Open(ctx, cfg, logger)
}

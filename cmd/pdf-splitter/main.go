package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/pagesearch/internal/app"
	"github.com/Lllllllleong/pagesearch/internal/blob"
	"github.com/Lllllllleong/pagesearch/internal/gcp"
	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/services"
)

var (
	appInstance   *app.App
	uploadsClient *storage.Client
	once          sync.Once
	initErr       error
)

func init() {
	functions.CloudEvent("SplitAndIngest", splitAndIngest)
}

// main is required by the Go Functions Framework.
func main() {}

func setup() {
	ctx := context.Background()
	appInstance, initErr = app.FromEnv(ctx)
	if initErr != nil {
		return
	}
	uploadsClient, initErr = gcp.NewStorageClient(ctx)
}

// splitAndIngest turns an uploaded document into Pending pages. Category and
// notes come from the object's custom metadata.
func splitAndIngest(ctx context.Context, e cloudevents.Event) error {
	once.Do(setup)
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	logCtx := slog.With("gcsBucket", gcsEvent.Bucket, "gcsObject", gcsEvent.Name)

	cfg := appInstance.Config
	for _, prefix := range []string{cfg.PagesPrefix, cfg.ImportPrefix} {
		if strings.HasPrefix(gcsEvent.Name, prefix+"/") {
			logCtx.Debug("Object is managed by the pipeline. Ignoring.")
			return nil
		}
	}
	if gcsEvent.Name == cfg.Store.TablePath {
		return nil
	}

	category := models.CategoryOther
	if raw := gcsEvent.Metadata["category"]; raw != "" {
		c, err := models.ParseCategory(raw)
		if err != nil {
			logCtx.Error("Upload has an unknown category. Skipping.", "error", err)
			return nil
		}
		category = c
	}

	data, err := blob.NewGCS(uploadsClient, gcsEvent.Bucket).Read(ctx, gcsEvent.Name)
	if err != nil {
		logCtx.Error("Failed to download upload", "error", err)
		return err
	}

	res, err := appInstance.Ingestor().Ingest(ctx, services.IngestRequest{
		FileName: gcsEvent.Name,
		Data:     data,
		Category: category,
		Notes:    gcsEvent.Metadata["notes"],
		Kind:     models.ContentKind(gcsEvent.Metadata["kind"]),
		Replace:  gcsEvent.Metadata["replace"] == "true",
	}, nil)
	if err != nil {
		return err
	}
	logCtx.Info("Upload ingested.", "runId", res.RunID, "pages", len(res.Keys()), "failed", res.Failed())
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/pagesearch/internal/app"
	"github.com/Lllllllleong/pagesearch/internal/models"
)

var (
	appInstance *app.App
	once        sync.Once
	initErr     error
)

func init() {
	functions.HTTP("HandleImportResults", handleImportResults)
}

func main() {}

// handleImportResults merges every pending import unit into the store.
func handleImportResults(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		appInstance, initErr = app.FromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	summary, err := appInstance.Importer().ImportAll(r.Context(), nil)
	if err != nil {
		slog.Error("Import failed", "error", err)
		http.Error(w, "Internal Server Error: import failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(models.ImportResponse{
		Status:     "success",
		Total:      summary.Total,
		Imported:   summary.Imported,
		Mismatched: summary.Mismatched,
		Failed:     summary.Failed,
	})
	if err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

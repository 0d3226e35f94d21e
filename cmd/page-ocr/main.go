package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/pagesearch/internal/app"
	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/services"
)

var (
	appInstance *app.App
	once        sync.Once
	initErr     error
)

func init() {
	functions.HTTP("HandleProcessPages", handleProcessPages)
}

// main is required by the Go Functions Framework.
func main() {}

// handleProcessPages runs one processing pass over every Pending page.
func handleProcessPages(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		appInstance, initErr = app.FromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	logCtx := slog.With("executionId", req.ExecutionID)

	processor := appInstance.Processor(0)
	res := models.ProcessResponse{Status: "success"}
	if req.RetryFailed {
		n, err := processor.RetryFailed(r.Context())
		if err != nil {
			logCtx.Error("Failed to reset failed pages", "error", err)
			http.Error(w, "Internal Server Error: retry failed", http.StatusInternalServerError)
			return
		}
		res.Retried = n
	}

	summary, err := processor.Run(r.Context(), nil)
	if err != nil {
		logCtx.Error("Processing run failed", "error", err, "runId", summary.RunID)
	}
	writeRunResult(w, res, summary, err)
}

// writeRunResult always reports the counts, so an aborted run still shows how
// far it got.
func writeRunResult(w http.ResponseWriter, res models.ProcessResponse, summary services.Summary, runErr error) {
	res.RunID = summary.RunID
	res.Total = summary.Total
	res.Succeeded = summary.Succeeded
	res.Failed = summary.Failed
	res.Skipped = summary.Skipped

	w.Header().Set("Content-Type", "application/json")
	if runErr != nil {
		res.Status = "aborted"
		w.WriteHeader(http.StatusInternalServerError)
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "runId", res.RunID)
	}
}

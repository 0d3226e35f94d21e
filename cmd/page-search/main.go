package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/pagesearch/internal/app"
	"github.com/Lllllllleong/pagesearch/internal/models"
	"github.com/Lllllllleong/pagesearch/internal/search"
	"github.com/Lllllllleong/pagesearch/internal/services"
)

var (
	engine  *search.Engine
	pages   *services.PageFetcher
	once    sync.Once
	initErr error
)

func init() {
	functions.HTTP("HandleSearchPages", handleSearchPages)
}

// main is required by the Go Functions Framework.
func main() {}

func handleSearchPages(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		var a *app.App
		a, initErr = app.FromEnv(context.Background())
		if initErr == nil {
			engine = a.SearchEngine()
			pages = a.PageFetcher()
		}
	})
	if initErr != nil {
		slog.Error("Critical: initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	if name := r.URL.Query().Get("file"); r.Method == http.MethodGet && name != "" {
		servePage(w, r, name)
		return
	}

	var req models.SearchRequest
	if r.Method == http.MethodGet {
		req.Query = r.URL.Query().Get("q")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	hits, err := engine.Search(r.Context(), search.Query{
		Text:         req.Query,
		TopDocuments: req.TopDocuments,
		TopWords:     req.TopWords,
	})
	if err != nil {
		slog.Error("Search failed", "error", err, "query", req.Query)
		http.Error(w, "Internal Server Error: search failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(models.SearchResponse{Query: req.Query, Results: hits}); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// servePage writes the stored page behind a file name from a search result.
func servePage(w http.ResponseWriter, r *http.Request, name string) {
	if _, err := pages.Key(name); err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	data, err := pages.Fetch(r.Context(), name)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "File "+name+" not found.", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Page fetch failed", "error", err, "file", name)
		http.Error(w, "Internal Server Error: page fetch failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write page", "error", err, "file", name)
	}
}

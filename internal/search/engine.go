// Package search ranks processed pages against a free-text query in two
// stages: pages by token-set partial ratio, then words within each page by
// plain ratio.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Lllllllleong/pagesearch/internal/fuzzy"
	"github.com/Lllllllleong/pagesearch/internal/models"
)

const (
	DefaultTopDocuments = 5
	DefaultTopWords     = 5
)

// Source is the part of the metadata store the engine reads.
type Source interface {
	ListByStatus(ctx context.Context, status models.Status) ([]models.PageRecord, error)
}

type Query struct {
	Text         string
	TopDocuments int
	TopWords     int
}

type Engine struct {
	source       Source
	topDocuments int
	topWords     int
	logger       *slog.Logger
}

// NewEngine builds an engine whose zero-valued query limits fall back to
// topDocuments and topWords (or the package defaults when those are zero).
func NewEngine(source Source, topDocuments, topWords int, logger *slog.Logger) *Engine {
	if topDocuments <= 0 {
		topDocuments = DefaultTopDocuments
	}
	if topWords <= 0 {
		topWords = DefaultTopWords
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{source: source, topDocuments: topDocuments, topWords: topWords, logger: logger}
}

type scored struct {
	rec   models.PageRecord
	score int
}

// Search returns at most TopDocuments pages, best first. Each hit carries up
// to TopWords of its words, best first. Ties keep store order.
func (e *Engine) Search(ctx context.Context, q Query) ([]models.SearchHit, error) {
	text := strings.TrimSpace(q.Text)
	if fuzzy.Process(text) == "" {
		return []models.SearchHit{}, nil
	}
	topDocs, topWords := q.TopDocuments, q.TopWords
	if topDocs <= 0 {
		topDocs = e.topDocuments
	}
	if topWords <= 0 {
		topWords = e.topWords
	}

	recs, err := e.source.ListByStatus(ctx, models.StatusProcessed)
	if err != nil {
		return nil, fmt.Errorf("failed to load processed pages: %w", err)
	}

	ranked := make([]scored, 0, len(recs))
	for _, r := range recs {
		s := 0
		if len(r.Words) > 0 {
			s = fuzzy.TokenSetPartialRatio(strings.Join(r.Words, " "), text)
		}
		ranked = append(ranked, scored{rec: r, score: s})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > topDocs {
		ranked = ranked[:topDocs]
	}

	processed := fuzzy.Process(text)
	hits := make([]models.SearchHit, 0, len(ranked))
	for _, s := range ranked {
		hits = append(hits, models.SearchHit{
			FileName: s.rec.DisplayName(),
			Key:      s.rec.Key,
			Category: s.rec.Category,
			Notes:    s.rec.Notes,
			Score:    s.score,
			Matches:  bestWords(processed, s.rec.Words, topWords),
		})
	}

	e.logger.Debug("Search complete.", "query", text, "candidates", len(recs), "results", len(hits))
	return hits, nil
}

func bestWords(processedQuery string, words []string, k int) []models.WordMatch {
	matches := make([]models.WordMatch, 0, len(words))
	for _, w := range words {
		matches = append(matches, models.WordMatch{Word: w, Score: fuzzy.Ratio(processedQuery, fuzzy.Process(w))})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

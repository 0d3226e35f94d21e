// Package extract turns page bytes into the ordered words printed on them.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/Lllllllleong/pagesearch/internal/models"
)

// Extractor returns the words of one page in reading order. Duplicates are
// kept. Failures wrap models.ErrExtractionFailed.
type Extractor interface {
	Extract(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error)
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error)

func (f Func) Extract(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
	return f(ctx, data, kind)
}

// Router dispatches each page to the extractor registered for its kind.
type Router struct {
	routes map[models.ContentKind]Extractor
}

func NewRouter() *Router {
	return &Router{routes: make(map[models.ContentKind]Extractor)}
}

// Handle registers e for kind, replacing any earlier registration.
func (r *Router) Handle(kind models.ContentKind, e Extractor) *Router {
	r.routes[kind] = e
	return r
}

// Handles reports whether an extractor is registered for kind.
func (r *Router) Handles(kind models.ContentKind) bool {
	_, ok := r.routes[kind]
	return ok
}

func (r *Router) Extract(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
	e, ok := r.routes[kind]
	if !ok {
		return nil, Failed("no extractor for %s content", kind)
	}
	return e.Extract(ctx, data, kind)
}

// Failed builds an error that matches models.ErrExtractionFailed.
func Failed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrExtractionFailed, fmt.Sprintf(format, args...))
}

// Words splits free text into whitespace-separated tokens, nil when empty.
func Words(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

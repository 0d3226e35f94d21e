// Package tesseract reads standalone page images with the Tesseract OCR
// engine. It needs cgo and the tesseract libraries at build time.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/Lllllllleong/pagesearch/internal/models"
)

type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

func New(languages ...string) *Engine {
	return &Engine{languages: languages, clientFactory: gosseract.NewClient}
}

func (e *Engine) Extract(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: set image: %v", models.ErrExtractionFailed, err)
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return nil, fmt.Errorf("%w: set languages: %v", models.ErrExtractionFailed, err)
		}
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("%w: recognize words: %v", models.ErrExtractionFailed, err)
	}

	// Boxes come back in the engine's reading order.
	var words []string
	for _, b := range boxes {
		if w := strings.TrimSpace(b.Word); w != "" {
			words = append(words, w)
		}
	}
	return words, nil
}

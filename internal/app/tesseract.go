//go:build cgo

package app

import (
	"github.com/Lllllllleong/pagesearch/internal/extract"
	"github.com/Lllllllleong/pagesearch/internal/extract/tesseract"
)

func newTesseract(languages []string) (extract.Extractor, error) {
	return tesseract.New(languages...), nil
}

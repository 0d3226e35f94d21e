//go:build !cgo

package app

import (
	"errors"

	"github.com/Lllllllleong/pagesearch/internal/extract"
)

func newTesseract(languages []string) (extract.Extractor, error) {
	return nil, errors.New("tesseract OCR needs a cgo build")
}

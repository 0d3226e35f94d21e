package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"code.sajari.com/docconv/v2"

	"github.com/Lllllllleong/pagesearch/internal/models"
)

// Docconv extracts the body text of office and markup documents.
type Docconv struct{}

func NewDocconv() *Docconv { return &Docconv{} }

func (d *Docconv) Extract(ctx context.Context, data []byte, kind models.ContentKind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mimeType := SniffDocument(data)
	if mimeType == "text/plain" {
		return Words(string(data)), nil
	}

	res, err := docconv.Convert(bytes.NewReader(data), mimeType, true)
	if err != nil {
		return nil, fmt.Errorf("%w: convert %s: %v", models.ErrExtractionFailed, mimeType, err)
	}
	return Words(res.Body), nil
}

// SniffDocument guesses the document MIME type from its content. Zip-based
// office formats are told apart by their member names.
func SniffDocument(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("{\\rtf")):
		return "application/rtf"
	case bytes.HasPrefix(data, []byte("\xD0\xCF\x11\xE0")):
		return "application/msword"
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return sniffZip(data)
	}
	detected := strings.SplitN(http.DetectContentType(data), ";", 2)[0]
	switch detected {
	case "text/html", "text/xml", "application/pdf":
		return detected
	}
	return "text/plain"
}

func sniffZip(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "application/zip"
	}
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		case strings.HasPrefix(f.Name, "ppt/"):
			return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
		case f.Name == "content.xml":
			return "application/vnd.oasis.opendocument.text"
		}
	}
	return "application/zip"
}

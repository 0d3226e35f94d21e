package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/Lllllllleong/pagesearch/internal/blob"
	"github.com/Lllllllleong/pagesearch/internal/models"
)

// PageFetcher hands back stored page blobs by the file name search results
// show.
type PageFetcher struct {
	blobs  blob.Store
	prefix string
}

func NewPageFetcher(blobs blob.Store, pagesPrefix string) *PageFetcher {
	return &PageFetcher{blobs: blobs, prefix: pagesPrefix}
}

// Key maps a display file name such as "invoice_2.pdf" to its page key.
func (f *PageFetcher) Key(fileName string) (string, error) {
	name := strings.TrimSpace(fileName)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid page file name %q", fileName)
	}
	return path.Join(f.prefix, name), nil
}

// Fetch returns the page blob, or models.ErrNotFound when no page has that
// file name.
func (f *PageFetcher) Fetch(ctx context.Context, fileName string) ([]byte, error) {
	key, err := f.Key(fileName)
	if err != nil {
		return nil, err
	}
	data, err := f.blobs.Read(ctx, key)
	if errors.Is(err, models.ErrBlobUnavailable) {
		return nil, fmt.Errorf("%w: file %s", models.ErrNotFound, fileName)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

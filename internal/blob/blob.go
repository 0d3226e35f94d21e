// Package blob is the page object store: whole-object reads and writes
// addressed by hierarchical "/" paths.
package blob

import (
	"context"
	"strings"
)

type Store interface {
	Exists(ctx context.Context, path string) (bool, error)
	Write(ctx context.Context, path string, data []byte) error
	// Read returns models.ErrBlobUnavailable when the object is missing.
	Read(ctx context.Context, path string) ([]byte, error)
	// List returns every object path below the directory prefix, sorted.
	// "Processed" lists "Processed/a.json" but not "ProcessedOld/a.json".
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
}

// Versioned is implemented by stores that can make a write conditional on
// the object not having changed since it was read.
type Versioned interface {
	// ReadVersion returns version 0 and no data when the object does not exist.
	ReadVersion(ctx context.Context, path string) ([]byte, int64, error)
	// WriteIfVersion writes only if the current version still equals version
	// (0 meaning "must not exist"), otherwise it returns models.ErrConflict.
	WriteIfVersion(ctx context.Context, path string, data []byte, version int64) error
}

// dirPrefix turns a directory prefix into the string every path below it
// starts with. The empty prefix covers the whole store.
func dirPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pagesearch/internal/gcp"
	"github.com/Lllllllleong/pagesearch/internal/models"
	"google.golang.org/api/iterator"
)

// GCS stores objects in a single Cloud Storage bucket.
type GCS struct {
	bucket     *storage.BucketHandle
	name       string
	maxRetries int
	backoff    time.Duration
}

func NewGCS(client *storage.Client, bucket string) *GCS {
	return &GCS{
		bucket:     client.Bucket(bucket),
		name:       bucket,
		maxRetries: 4,
		backoff:    time.Second,
	}
}

// URI returns the gs:// URI of an object in this bucket.
func (g *GCS) URI(path string) string {
	return fmt.Sprintf("gs://%s/%s", g.name, path)
}

func (g *GCS) Exists(ctx context.Context, path string) (bool, error) {
	_, err := g.bucket.Object(path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", g.URI(path), err)
	}
	return true, nil
}

// Write retries with exponential backoff; page uploads are idempotent.
func (g *GCS) Write(ctx context.Context, path string, data []byte) error {
	backoff := g.backoff
	var lastErr error

	for i := 0; i < g.maxRetries; i++ {
		err := g.write(ctx, g.bucket.Object(path), data)
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", path,
			"attempt", i+1,
			"maxRetries", g.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", path, lastErr)
}

func (g *GCS) write(ctx context.Context, obj *storage.ObjectHandle, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	w := obj.NewWriter(writeCtx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

func (g *GCS) Read(ctx context.Context, path string) ([]byte, error) {
	data, _, err := g.read(ctx, path)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrBlobUnavailable, g.URI(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBlobUnavailable, err)
	}
	return data, nil
}

func (g *GCS) read(ctx context.Context, path string) ([]byte, int64, error) {
	r, err := g.bucket.Object(path).NewReader(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", g.URI(path), err)
	}
	return data, r.Attrs.Generation, nil
}

func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: dirPrefix(prefix)})

	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", g.name, prefix, err)
		}
		names = append(names, attrs.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (g *GCS) Delete(ctx context.Context, path string) error {
	err := g.bucket.Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", g.URI(path), err)
	}
	return nil
}

// ReadVersion uses the object generation as the version.
func (g *GCS) ReadVersion(ctx context.Context, path string) ([]byte, int64, error) {
	data, gen, err := g.read(ctx, path)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return data, gen, nil
}

func (g *GCS) WriteIfVersion(ctx context.Context, path string, data []byte, version int64) error {
	cond := storage.Conditions{GenerationMatch: version}
	if version == 0 {
		cond = storage.Conditions{DoesNotExist: true}
	}

	err := g.write(ctx, g.bucket.Object(path).If(cond), data)
	if gcp.IsPreconditionFailed(err) {
		return fmt.Errorf("%w: %s changed since generation %d", models.ErrConflict, g.URI(path), version)
	}
	return err
}

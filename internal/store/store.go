// Package store is the durable metadata table of page records.
//
// Every implementation is linearizable per record: CompareAndSet checks the
// stored status and writes in one atomic step, so two writers racing on the
// same key cannot both win, and writers on different keys never clobber each
// other. No implementation exposes whole-table read-modify-write to callers.
package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/Lllllllleong/pagesearch/internal/models"
)

type Store interface {
	// Upsert inserts rec or replaces the record with the same key, returning
	// the replaced record or nil for a fresh insert.
	Upsert(ctx context.Context, rec models.PageRecord) (*models.PageRecord, error)
	// Create inserts rec only if its key is unused; otherwise it returns
	// models.ErrAlreadyExists and leaves the existing record untouched.
	Create(ctx context.Context, rec models.PageRecord) error
	Get(ctx context.Context, key string) (models.PageRecord, error)
	// ListAll returns a snapshot in insertion order.
	ListAll(ctx context.Context) ([]models.PageRecord, error)
	ListByStatus(ctx context.Context, status models.Status) ([]models.PageRecord, error)
	// CompareAndSet replaces the record at key only while its status still
	// equals expected; otherwise it returns models.ErrConflict and leaves the
	// record untouched.
	CompareAndSet(ctx context.Context, key string, expected models.Status, rec models.PageRecord) error
	Close() error
}

func checkRecord(rec models.PageRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	return nil
}

func checkCAS(key string, rec models.PageRecord) error {
	if rec.Key != key {
		return fmt.Errorf("compare-and-set on %s with record for %s", key, rec.Key)
	}
	return checkRecord(rec)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrStoreUnavailable, op, err)
}

// normalize gives every backend the same empty-words representation.
func normalize(rec models.PageRecord) models.PageRecord {
	if len(rec.Words) == 0 {
		rec.Words = nil
	} else {
		rec.Words = slices.Clone(rec.Words)
	}
	rec.IngestedAt = rec.IngestedAt.UTC()
	return rec
}

func filterStatus(recs []models.PageRecord, status models.Status) []models.PageRecord {
	out := make([]models.PageRecord, 0, len(recs))
	for _, r := range recs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/pagesearch/internal/models"
)

// Firestore keeps one document per page. Writes run inside transactions, so
// Firestore's own optimistic concurrency provides per-record linearizability.
type Firestore struct {
	client     *firestore.Client
	collection string
}

func NewFirestore(client *firestore.Client, collection string) *Firestore {
	return &Firestore{client: client, collection: collection}
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

// Page keys contain "/" which Firestore document IDs may not.
func docID(key string) string {
	return url.PathEscape(key)
}

func (f *Firestore) ref(key string) *firestore.DocumentRef {
	return f.client.Collection(f.collection).Doc(docID(key))
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (models.PageRecord, error) {
	var rec models.PageRecord
	if err := snap.DataTo(&rec); err != nil {
		return models.PageRecord{}, fmt.Errorf("decode %s: %w", snap.Ref.ID, err)
	}
	return normalize(rec), nil
}

func (f *Firestore) Upsert(ctx context.Context, rec models.PageRecord) (*models.PageRecord, error) {
	if err := checkRecord(rec); err != nil {
		return nil, err
	}
	rec = normalize(rec)
	ref := f.ref(rec.Key)

	var prior *models.PageRecord
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		prior = nil
		snap, err := tx.Get(ref)
		switch {
		case isNotFound(err):
		case err != nil:
			return err
		default:
			old, err := decodeSnapshot(snap)
			if err != nil {
				return err
			}
			prior = &old
		}
		return tx.Set(ref, rec)
	})
	if err != nil {
		return nil, unavailable("upsert", err)
	}
	return prior, nil
}

// Create relies on DocumentRef.Create failing when the document exists.
func (f *Firestore) Create(ctx context.Context, rec models.PageRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	_, err := f.ref(rec.Key).Create(ctx, normalize(rec))
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: %s", models.ErrAlreadyExists, rec.Key)
	}
	if err != nil {
		return unavailable("create", err)
	}
	return nil
}

func (f *Firestore) Get(ctx context.Context, key string) (models.PageRecord, error) {
	snap, err := f.ref(key).Get(ctx)
	if isNotFound(err) {
		return models.PageRecord{}, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	if err != nil {
		return models.PageRecord{}, unavailable("get", err)
	}
	return decodeSnapshot(snap)
}

func (f *Firestore) ListAll(ctx context.Context) ([]models.PageRecord, error) {
	return f.list(ctx, f.client.Collection(f.collection).Query)
}

func (f *Firestore) ListByStatus(ctx context.Context, st models.Status) ([]models.PageRecord, error) {
	return f.list(ctx, f.client.Collection(f.collection).Where("status", "==", string(st)))
}

// list orders by document create time, which an upsert of an existing
// document does not change.
func (f *Firestore) list(ctx context.Context, q firestore.Query) ([]models.PageRecord, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, unavailable("list", err)
	}
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].CreateTime.Before(snaps[j].CreateTime)
	})

	recs := make([]models.PageRecord, 0, len(snaps))
	for _, snap := range snaps {
		rec, err := decodeSnapshot(snap)
		if err != nil {
			return nil, unavailable("list", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (f *Firestore) CompareAndSet(ctx context.Context, key string, expected models.Status, rec models.PageRecord) error {
	if err := checkCAS(key, rec); err != nil {
		return err
	}
	rec = normalize(rec)
	ref := f.ref(key)

	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", models.ErrNotFound, key)
		}
		if err != nil {
			return err
		}
		current, err := snap.DataAt("status")
		if err != nil {
			return err
		}
		if got, _ := current.(string); models.Status(got) != expected {
			return fmt.Errorf("%w: %s is %v, expected %s", models.ErrConflict, key, current, expected)
		}
		return tx.Set(ref, rec)
	})
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrConflict) {
		return err
	}
	if err != nil {
		return unavailable("compare-and-set", err)
	}
	return nil
}

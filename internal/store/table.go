package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/pagesearch/internal/blob"
	"github.com/Lllllllleong/pagesearch/internal/models"
)

var tableHeader = []string{
	"key", "document_name", "page_index", "category", "notes",
	"ingested_at", "words", "status", "last_error",
}

// Legacy column names from tables written before the tri-state status.
var legacyColumns = map[string]string{
	"file_path":     "key",
	"file_name":     "document_name",
	"page_number":   "page_index",
	"file_type":     "category",
	"upload_time":   "ingested_at",
	"OCR_attempted": "status",
}

const legacyTimeLayout = "2006-01-02 15:04:05"

// Table persists the page table as one CSV object. Each mutation reloads the
// object, applies the change and writes it back only if the object version is
// unchanged; a lost race is retried against the fresh table, so concurrent
// writers in any process never overwrite each other's rows.
type Table struct {
	medium     blob.Versioned
	path       string
	mu         sync.Mutex
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

func NewTable(medium blob.Versioned, path string, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		medium:     medium,
		path:       path,
		maxRetries: 20,
		backoff:    10 * time.Millisecond,
		logger:     logger.With("table", path),
	}
}

func (t *Table) Close() error { return nil }

func (t *Table) load(ctx context.Context) ([]models.PageRecord, int64, error) {
	data, version, err := t.medium.ReadVersion(ctx, t.path)
	if err != nil {
		return nil, 0, unavailable("read table", err)
	}
	recs, err := decodeTable(data)
	if err != nil {
		return nil, 0, unavailable("decode table", err)
	}
	return recs, version, nil
}

// mutate runs fn against a fresh copy of the table until the write-back wins.
// Errors returned by fn abort without writing.
func (t *Table) mutate(ctx context.Context, fn func([]models.PageRecord) ([]models.PageRecord, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	backoff := t.backoff
	for attempt := 1; ; attempt++ {
		recs, version, err := t.load(ctx)
		if err != nil {
			return err
		}
		next, err := fn(recs)
		if err != nil {
			return err
		}
		data, err := encodeTable(next)
		if err != nil {
			return err
		}

		err = t.medium.WriteIfVersion(ctx, t.path, data, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return unavailable("write table", err)
		}
		if attempt >= t.maxRetries {
			return unavailable("write table", fmt.Errorf("gave up after %d concurrent modifications: %w", attempt, err))
		}

		t.logger.Debug("Table changed underneath us, retrying.", "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, time.Second)
		}
	}
}

func indexOf(recs []models.PageRecord, key string) int {
	for i := range recs {
		if recs[i].Key == key {
			return i
		}
	}
	return -1
}

func (t *Table) Upsert(ctx context.Context, rec models.PageRecord) (*models.PageRecord, error) {
	if err := checkRecord(rec); err != nil {
		return nil, err
	}
	rec = normalize(rec)

	var prior *models.PageRecord
	err := t.mutate(ctx, func(recs []models.PageRecord) ([]models.PageRecord, error) {
		prior = nil
		if i := indexOf(recs, rec.Key); i >= 0 {
			old := recs[i]
			prior = &old
			recs[i] = rec
			return recs, nil
		}
		return append(recs, rec), nil
	})
	if err != nil {
		return nil, err
	}
	return prior, nil
}

func (t *Table) Create(ctx context.Context, rec models.PageRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	rec = normalize(rec)

	return t.mutate(ctx, func(recs []models.PageRecord) ([]models.PageRecord, error) {
		if indexOf(recs, rec.Key) >= 0 {
			return nil, fmt.Errorf("%w: %s", models.ErrAlreadyExists, rec.Key)
		}
		return append(recs, rec), nil
	})
}

func (t *Table) CompareAndSet(ctx context.Context, key string, expected models.Status, rec models.PageRecord) error {
	if err := checkCAS(key, rec); err != nil {
		return err
	}
	rec = normalize(rec)

	return t.mutate(ctx, func(recs []models.PageRecord) ([]models.PageRecord, error) {
		i := indexOf(recs, key)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, key)
		}
		if recs[i].Status != expected {
			return nil, fmt.Errorf("%w: %s is %s, expected %s", models.ErrConflict, key, recs[i].Status, expected)
		}
		recs[i] = rec
		return recs, nil
	})
}

func (t *Table) Get(ctx context.Context, key string) (models.PageRecord, error) {
	recs, _, err := t.load(ctx)
	if err != nil {
		return models.PageRecord{}, err
	}
	if i := indexOf(recs, key); i >= 0 {
		return recs[i], nil
	}
	return models.PageRecord{}, fmt.Errorf("%w: %s", models.ErrNotFound, key)
}

func (t *Table) ListAll(ctx context.Context) ([]models.PageRecord, error) {
	recs, _, err := t.load(ctx)
	return recs, err
}

func (t *Table) ListByStatus(ctx context.Context, status models.Status) ([]models.PageRecord, error) {
	recs, _, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	return filterStatus(recs, status), nil
}

func encodeTable(recs []models.PageRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(tableHeader); err != nil {
		return nil, err
	}
	for _, r := range recs {
		words := r.Words
		if words == nil {
			words = []string{}
		}
		raw, err := json.Marshal(words)
		if err != nil {
			return nil, fmt.Errorf("marshal words for %s: %w", r.Key, err)
		}
		row := []string{
			r.Key,
			r.DocumentName,
			strconv.Itoa(r.PageIndex),
			string(r.Category),
			r.Notes,
			r.IngestedAt.UTC().Format(time.RFC3339Nano),
			string(raw),
			string(r.Status),
			r.LastError,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeTable(data []byte) ([]models.PageRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if canonical, ok := legacyColumns[name]; ok {
			name = canonical
		}
		if _, seen := cols[name]; !seen {
			cols[name] = i
		}
	}
	if _, ok := cols["key"]; !ok {
		return nil, errors.New("table has no key column")
	}

	var recs []models.PageRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := decodeRow(cols, row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// objectPath strips the "<scheme>://<bucket>/" head legacy tables stored
// their page paths with, leaving the path inside the bucket.
func objectPath(key string) string {
	i := strings.Index(key, "://")
	if i <= 0 {
		return key
	}
	rest := key[i+len("://"):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return rest[j+1:]
	}
	return key
}

func decodeRow(cols map[string]int, row []string) (models.PageRecord, error) {
	field := func(name string) string {
		if i, ok := cols[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	rec := models.PageRecord{
		Key:          objectPath(field("key")),
		DocumentName: field("document_name"),
		Notes:        field("notes"),
		LastError:    field("last_error"),
	}

	var err error
	if s := field("page_index"); s != "" {
		if rec.PageIndex, err = strconv.Atoi(s); err != nil {
			return rec, fmt.Errorf("bad page_index %q: %w", s, err)
		}
	}
	if s := field("category"); s != "" {
		if rec.Category, err = models.ParseCategory(s); err != nil {
			return rec, err
		}
	}
	if rec.Status, err = models.ParseStatus(field("status")); err != nil {
		return rec, err
	}
	if s := field("ingested_at"); s != "" {
		if rec.IngestedAt, err = time.Parse(time.RFC3339Nano, s); err != nil {
			if rec.IngestedAt, err = time.Parse(legacyTimeLayout, s); err != nil {
				return rec, fmt.Errorf("bad ingested_at %q", s)
			}
		}
	}
	if s := field("words"); s != "" {
		if err := json.Unmarshal([]byte(s), &rec.Words); err != nil {
			return rec, fmt.Errorf("bad words for %s: %w", rec.Key, err)
		}
	}
	return normalize(rec), nil
}

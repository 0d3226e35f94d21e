package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Lllllllleong/pagesearch/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// SQLite keeps the page table in a local database file. Writers from other
// processes are serialized by SQLite's own locking (WAL + busy timeout);
// writers in this process share one connection.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

const selectColumns = `key, document_name, page_index, category, notes, ingested_at, words, status, last_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.PageRecord, error) {
	var (
		rec        models.PageRecord
		category   string
		status     string
		ingestedAt string
		words      string
	)
	err := row.Scan(&rec.Key, &rec.DocumentName, &rec.PageIndex, &category, &rec.Notes, &ingestedAt, &words, &status, &rec.LastError)
	if err != nil {
		return models.PageRecord{}, err
	}
	rec.Category = models.Category(category)
	rec.Status = models.Status(status)
	if rec.IngestedAt, err = time.Parse(time.RFC3339Nano, ingestedAt); err != nil {
		return models.PageRecord{}, fmt.Errorf("page %s: bad ingested_at %q: %w", rec.Key, ingestedAt, err)
	}
	if err := json.Unmarshal([]byte(words), &rec.Words); err != nil {
		return models.PageRecord{}, fmt.Errorf("page %s: bad words column: %w", rec.Key, err)
	}
	return normalize(rec), nil
}

func recordArgs(rec models.PageRecord) ([]any, error) {
	words := rec.Words
	if words == nil {
		words = []string{}
	}
	raw, err := json.Marshal(words)
	if err != nil {
		return nil, fmt.Errorf("marshal words: %w", err)
	}
	return []any{
		rec.DocumentName,
		rec.PageIndex,
		string(rec.Category),
		rec.Notes,
		rec.IngestedAt.UTC().Format(time.RFC3339Nano),
		string(raw),
		string(rec.Status),
		rec.LastError,
	}, nil
}

func (s *SQLite) Upsert(ctx context.Context, rec models.PageRecord) (*models.PageRecord, error) {
	if err := checkRecord(rec); err != nil {
		return nil, err
	}
	args, err := recordArgs(rec)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin tx", err)
	}
	defer tx.Rollback()

	var prior *models.PageRecord
	old, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM pages WHERE key = ?`, rec.Key))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, unavailable("query prior", err)
	default:
		prior = &old
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pages (
			key, document_name, page_index, category, notes,
			ingested_at, words, status, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			document_name = excluded.document_name,
			page_index = excluded.page_index,
			category = excluded.category,
			notes = excluded.notes,
			ingested_at = excluded.ingested_at,
			words = excluded.words,
			status = excluded.status,
			last_error = excluded.last_error,
			version = pages.version + 1
	`, append([]any{rec.Key}, args...)...)
	if err != nil {
		return nil, unavailable("upsert", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit", err)
	}
	return prior, nil
}

func (s *SQLite) Create(ctx context.Context, rec models.PageRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (
			key, document_name, page_index, category, notes,
			ingested_at, words, status, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, append([]any{rec.Key}, args...)...)
	if err != nil {
		return unavailable("create", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("create", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrAlreadyExists, rec.Key)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (models.PageRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM pages WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return models.PageRecord{}, fmt.Errorf("%w: %s", models.ErrNotFound, key)
	}
	if err != nil {
		return models.PageRecord{}, unavailable("get", err)
	}
	return rec, nil
}

func (s *SQLite) ListAll(ctx context.Context) ([]models.PageRecord, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM pages ORDER BY seq`)
}

func (s *SQLite) ListByStatus(ctx context.Context, status models.Status) ([]models.PageRecord, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM pages WHERE status = ? ORDER BY seq`, string(status))
}

func (s *SQLite) list(ctx context.Context, query string, args ...any) ([]models.PageRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	var recs []models.PageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("scan", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return recs, nil
}

func (s *SQLite) CompareAndSet(ctx context.Context, key string, expected models.Status, rec models.PageRecord) error {
	if err := checkCAS(key, rec); err != nil {
		return err
	}
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE pages SET
			document_name = ?, page_index = ?, category = ?, notes = ?,
			ingested_at = ?, words = ?, status = ?, last_error = ?,
			version = version + 1
		WHERE key = ? AND status = ?
	`, append(args, key, string(expected))...)
	if err != nil {
		return unavailable("compare-and-set", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("compare-and-set", err)
	}

	if n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM pages WHERE key = ?`, key).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", models.ErrNotFound, key)
		}
		if err != nil {
			return unavailable("compare-and-set", err)
		}
		return fmt.Errorf("%w: %s is %s, expected %s", models.ErrConflict, key, current, expected)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Status is the extraction lifecycle of a page.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusProcessed Status = "Processed"
	StatusFailed    Status = "Failed"
)

// ParseStatus accepts the three status names and the legacy boolean
// OCR_attempted flag, where false means Pending and true means Processed.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "false", "":
		return StatusPending, nil
	case "processed", "true":
		return StatusProcessed, nil
	case "failed":
		return StatusFailed, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// CanTransition reports whether a record may move from s to next.
// Processed is terminal; Failed may only be retried back to Pending.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessed || next == StatusFailed
	case StatusFailed:
		return next == StatusPending
	}
	return false
}

// Category is the user-assigned classification given at ingestion.
type Category string

const (
	CategoryShipping           Category = "Shipping"
	CategoryExperimentMetadata Category = "ExperimentMetadata"
	CategoryOther              Category = "Other"
)

// ParseCategory is case-insensitive and also accepts the spaced
// "Experiment Metadata" label written by older uploads.
func ParseCategory(s string) (Category, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	switch norm {
	case "shipping":
		return CategoryShipping, nil
	case "experimentmetadata":
		return CategoryExperimentMetadata, nil
	case "other":
		return CategoryOther, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// ContentKind tells the extraction engine what the page bytes are.
type ContentKind string

const (
	KindPDF      ContentKind = "pdf"
	KindImage    ContentKind = "image"
	KindDocument ContentKind = "document"
)

// KindFromName derives the content kind from a file or key extension.
func KindFromName(name string) ContentKind {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp":
		return KindImage
	}
	return KindDocument
}

// ParseContentKind validates a declared kind. An empty string falls back to
// the extension of fileName.
func ParseContentKind(s, fileName string) (ContentKind, error) {
	switch ContentKind(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return KindFromName(fileName), nil
	case KindPDF:
		return KindPDF, nil
	case KindImage:
		return KindImage, nil
	case KindDocument:
		return KindDocument, nil
	}
	return "", fmt.Errorf("unknown content kind %q", s)
}

// PageRecord is one page (or single-unit document) tracked by the metadata store.
type PageRecord struct {
	Key          string    `firestore:"key" json:"key"`
	DocumentName string    `firestore:"documentName" json:"document_name"`
	PageIndex    int       `firestore:"pageIndex" json:"page_index"`
	Category     Category  `firestore:"category" json:"category"`
	Notes        string    `firestore:"notes,omitempty" json:"notes,omitempty"`
	IngestedAt   time.Time `firestore:"ingestedAt" json:"ingested_at"`
	Words        []string  `firestore:"words" json:"words"`
	Status       Status    `firestore:"status" json:"status"`
	LastError    string    `firestore:"lastError,omitempty" json:"last_error,omitempty"`
}

// OCRAttempted is the legacy boolean projection of Status.
func (r PageRecord) OCRAttempted() bool {
	return r.Status != StatusPending
}

// DisplayName is the key with its storage prefix stripped.
func (r PageRecord) DisplayName() string {
	return path.Base(r.Key)
}

// Validate checks the record-level invariants.
func (r PageRecord) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("page record: key is required")
	}
	if r.PageIndex < 0 {
		return fmt.Errorf("page record %s: negative page index %d", r.Key, r.PageIndex)
	}
	if len(r.Words) > 0 && r.Status != StatusProcessed {
		return fmt.Errorf("page record %s: words present with status %s", r.Key, r.Status)
	}
	if r.LastError != "" && r.Status != StatusFailed {
		return fmt.Errorf("page record %s: last error present with status %s", r.Key, r.Status)
	}
	return nil
}

// PageKey builds the storage key for page i of a document: the legacy
// "<prefix>/<stem>_<i><ext>" layout.
func PageKey(prefix, documentName string, pageIndex int) string {
	base := path.Base(strings.ReplaceAll(documentName, "\\", "/"))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = base
	}
	name := fmt.Sprintf("%s_%d%s", stem, pageIndex, ext)
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

package models

import "errors"

var (
	// ErrNotFound: the key is absent on an operation that requires it.
	ErrNotFound = errors.New("not found")
	// ErrConflict: optimistic concurrency lost, the stored state moved on.
	ErrConflict = errors.New("conflict")
	// ErrStoreUnavailable: the durable medium behind the metadata store is unreachable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrExtractionFailed: engine error or unsupported content kind.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrBlobUnavailable: a blob referenced by a record is missing or unreadable.
	ErrBlobUnavailable = errors.New("blob unavailable")
	// ErrImportMismatch: an import unit names no importable record.
	ErrImportMismatch = errors.New("import mismatch")
	// ErrAlreadyExists: ingestion would collide with an existing key.
	ErrAlreadyExists = errors.New("already exists")
)

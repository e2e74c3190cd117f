package ingest

import (
	"errors"
	"fmt"
)

// Sentinel errors recognized across the pipeline.
var (
	// ErrAccountNotFound means the requested account email has no row.
	// Unknown accounts are a hard failure, never silently defaulted.
	ErrAccountNotFound = errors.New("storage account not found")

	// ErrQuotaExceeded means the destination account is at or over its cap.
	// The orchestrator halts traversal without attempting further chapters.
	ErrQuotaExceeded = errors.New("storage account at capacity")

	// ErrDuplicateBook means a book row with the same source URL already
	// exists. It is recovered locally by switching to the existing-book
	// path and never surfaces to the caller.
	ErrDuplicateBook = errors.New("book already exists for source url")

	// ErrBookNotFound means no book row matches the source URL.
	ErrBookNotFound = errors.New("book not found")
)

// FetchError wraps a failed page fetch (network, timeout, or non-2xx).
// It is localized to one page; retry policy belongs to the caller.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError reports that a page's markup did not match the adapter's
// expected shape. Non-retryable for that page.
type ExtractionError struct {
	Source SourceType
	Field  string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s from %s page: %v", e.Field, e.Source, e.Err)
	}
	return fmt.Sprintf("extract %s from %s page: element missing", e.Field, e.Source)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// MirrorError means at least one image in a chapter's set failed to
// transfer. The mirror rolls back partial uploads before returning it.
type MirrorError struct {
	Folder string
	Err    error
}

func (e *MirrorError) Error() string {
	return fmt.Sprintf("mirror into %s: %v", e.Folder, e.Err)
}

func (e *MirrorError) Unwrap() error { return e.Err }

// ChapterError tags any per-chapter failure with the chapter number so the
// caller can resume from the last committed chapter.
type ChapterError struct {
	Number int
	Err    error
}

func (e *ChapterError) Error() string {
	return fmt.Sprintf("chapter %d: %v", e.Number, e.Err)
}

func (e *ChapterError) Unwrap() error { return e.Err }

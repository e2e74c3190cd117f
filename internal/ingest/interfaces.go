package ingest

import (
	"context"
	"time"
)

// Fetcher performs a single page GET against a source site. referer may be
// empty, in which case implementations fall back to the URL's own origin.
type Fetcher interface {
	Fetch(ctx context.Context, url string, referer string) (Page, error)
}

// Adapter extracts structured fields from an already-fetched page.
// One implementation exists per supported source site; no I/O happens here.
type Adapter interface {
	Source() SourceType
	ExtractBook(page Page) (BookFields, error)
	ExtractChapter(page Page) (ChapterFields, error)
}

// ObjectStore writes and deletes image objects on a storage backend.
// Account credentials are passed per call because backends like the image
// CDN authenticate per destination account.
type ObjectStore interface {
	Upload(ctx context.Context, account StorageAccount, key string, contentType string, data []byte) (UploadResult, error)
	DeletePrefix(ctx context.Context, account StorageAccount, prefix string) error
}

// Mirror moves an ordered list of source images into owned storage.
// The returned keys align index-for-index with urls. A failure on any single
// image fails the whole call after partial uploads are rolled back.
type Mirror interface {
	Mirror(ctx context.Context, urls []string, baseReferer string, account StorageAccount, folder string) ([]string, int64, error)
}

// BookStore persists book rows.
type BookStore interface {
	// CreateBook inserts a new book and returns it with its assigned ID.
	// A source-URL collision returns ErrDuplicateBook.
	CreateBook(ctx context.Context, book Book) (Book, error)
	// BookBySourceURL loads a book with its derived chapter count, or
	// ErrBookNotFound.
	BookBySourceURL(ctx context.Context, sourceURL string) (Book, error)
	// UpdateBookAssets sets the mirrored thumbnail key, author, and tag set
	// after the thumbnail transfer completes.
	UpdateBookAssets(ctx context.Context, bookID int64, thumbnailKey string, author string, tagIDs []int) error
	// TouchBook bumps updated_at so catalog recency ordering sees new content.
	TouchBook(ctx context.Context, bookID int64) error
}

// ChapterStore persists chapter rows.
type ChapterStore interface {
	// CreateChapters inserts a batch in one statement, preserving order.
	CreateChapters(ctx context.Context, chapters []Chapter) error
	// LastChapter returns the highest-numbered chapter for the book, or
	// nil when the book has none.
	LastChapter(ctx context.Context, bookID int64) (*Chapter, error)
}

// AccountStore reads and updates the storage-account ledger rows.
type AccountStore interface {
	// AccountByEmail resolves an account by exact email match, or
	// ErrAccountNotFound.
	AccountByEmail(ctx context.Context, email string) (StorageAccount, error)
	// AddBytesUsed atomically increments the account's consumed bytes.
	AddBytesUsed(ctx context.Context, name string, delta int64) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

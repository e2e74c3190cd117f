// Package ingest defines core types shared across the mirroring pipeline.
package ingest

import "time"

// SourceType identifies which site adapter parses a fetched page.
type SourceType string

// Supported source sites.
const (
	SourceLXHentai SourceType = "lxhentai"
	SourceHentaiVN SourceType = "hentaivn"
)

// Valid reports whether the source type names a supported adapter.
func (s SourceType) Valid() bool {
	switch s {
	case SourceLXHentai, SourceHentaiVN:
		return true
	}
	return false
}

// BookStatus mirrors the status column on books.
type BookStatus int

// Book status values persisted in the catalog.
const (
	StatusOngoing   BookStatus = 1
	StatusCompleted BookStatus = 2
	StatusDropped   BookStatus = 3
)

// Book is the persisted record for one mirrored title. SourceURL is the
// idempotency key: re-ingesting the same URL resumes the existing row.
type Book struct {
	ID             int64      `json:"id"`
	SourceURL      string     `json:"source_url"`
	Title          string     `json:"title"`
	AltTitle       string     `json:"alt_title,omitempty"`
	Slug           string     `json:"slug"`
	Description    string     `json:"description,omitempty"`
	Status         BookStatus `json:"status"`
	Author         string     `json:"author,omitempty"`
	TagIDs         []int      `json:"tag_ids,omitempty"`
	ThumbnailKey   string     `json:"thumbnail_key,omitempty"`
	AccountName    string     `json:"account_name,omitempty"`
	NextChapterURL string     `json:"next_chapter_url,omitempty"`
	ChapterCount   int        `json:"chapter_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Chapter is one mirrored chapter. Numbers are contiguous from 1 per book;
// ImageKeys preserves the source page order. NextURL empty means the source
// chain ended at this chapter.
type Chapter struct {
	BookID      int64     `json:"book_id"`
	Number      int       `json:"chapter_number"`
	Title       string    `json:"title,omitempty"`
	ImageKeys   []string  `json:"image_keys"`
	NextURL     string    `json:"next_url,omitempty"`
	AccountName string    `json:"account_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// StorageAccount is one destination account on the object-storage backend.
// BytesUsed only moves up through Ledger commits.
type StorageAccount struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	APIKey    string `json:"-"`
	APISecret string `json:"-"`
	BytesUsed int64  `json:"bytes_used"`
	CapBytes  int64  `json:"cap_bytes"`
}

// Page is the raw result of fetching one source-site URL.
type Page struct {
	URL        string
	FinalURL   string
	Origin     string
	StatusCode int
	Body       []byte
}

// BookFields is what a site adapter extracts from a book's landing page.
// NextChapterURL is absolute; empty means the site exposed no chapter link.
type BookFields struct {
	Title          string
	AltTitle       string
	Description    string
	Author         string
	Status         BookStatus
	ThumbnailURL   string
	TagIDs         []int
	NextChapterURL string
}

// ChapterFields is what a site adapter extracts from one chapter page.
// ImageURLs is order-significant. NextURL empty means end of chain.
type ChapterFields struct {
	Title     string
	ImageURLs []string
	NextURL   string
}

// UploadResult reports where an object landed and how large it was.
type UploadResult struct {
	Key   string
	Bytes int64
}

// HaltReason explains why a traversal stopped before the requested take.
type HaltReason string

// Halt reasons reported in ingest results.
const (
	HaltNone          HaltReason = ""
	HaltEndOfChain    HaltReason = "end_of_chain"
	HaltQuotaExceeded HaltReason = "quota_exceeded"
	HaltError         HaltReason = "error"
)

// Request is the single inbound trigger of the pipeline.
type Request struct {
	Source       SourceType `json:"source_type"`
	BookURL      string     `json:"book_url"`
	Take         int        `json:"take"`
	AccountEmail string     `json:"account_email"`
}

// Result summarizes one ingest invocation: which book was resolved (created
// or reused), how many chapters were committed, and why traversal stopped.
// ChaptersAdded of zero with HaltNone means the book existed and take was 0.
type Result struct {
	RunID         string     `json:"run_id"`
	Book          Book       `json:"book"`
	BookCreated   bool       `json:"book_created"`
	ChaptersAdded int        `json:"chapters_added"`
	FirstChapter  int        `json:"first_chapter,omitempty"`
	LastChapter   int        `json:"last_chapter,omitempty"`
	BytesWritten  int64      `json:"bytes_written"`
	Completed     bool       `json:"completed"`
	Halt          HaltReason `json:"halt_reason,omitempty"`
	Elapsed       float64    `json:"elapsed_seconds"`
}

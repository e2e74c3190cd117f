// Package store provides the Postgres-backed persistence gateway for books,
// chapters, and storage-account ledger rows.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hxlab/bookmirror/internal/ingest"
)

const uniqueViolationCode = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// db is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements the BookStore, ChapterStore, and AccountStore
// interfaces against one connection pool.
type Postgres struct {
	db    db
	close func()
	ping  func(ctx context.Context) error
}

// New connects a pool and returns the store.
func New(ctx context.Context, cfg Config) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: pool, close: pool.Close, ping: pool.Ping}, nil
}

// NewWithDB constructs a store from an existing pool (primarily for testing).
func NewWithDB(d db) *Postgres {
	return &Postgres{
		db:    d,
		close: func() {},
		ping:  func(context.Context) error { return nil },
	}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	s.close()
}

// Ping checks database connectivity, backing the readiness probe.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// # Books

// CreateBook inserts a new book row. A concurrent insert for the same
// source URL surfaces as ErrDuplicateBook so the caller can continue on the
// existing-book path.
func (s *Postgres) CreateBook(ctx context.Context, book ingest.Book) (ingest.Book, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO books (source_url, title, alt_title, slug, description, status, account_name, next_chapter_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING id, created_at, updated_at`,
		book.SourceURL,
		book.Title,
		book.AltTitle,
		book.Slug,
		book.Description,
		int(book.Status),
		book.AccountName,
		book.NextChapterURL,
	)
	if err := row.Scan(&book.ID, &book.CreatedAt, &book.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ingest.Book{}, fmt.Errorf("insert book %q: %w", book.SourceURL, ingest.ErrDuplicateBook)
		}
		return ingest.Book{}, fmt.Errorf("insert book %q: %w", book.SourceURL, err)
	}
	return book, nil
}

// BookBySourceURL loads a book with its derived chapter count.
func (s *Postgres) BookBySourceURL(ctx context.Context, sourceURL string) (ingest.Book, error) {
	row := s.db.QueryRow(ctx, `
		SELECT b.id, b.source_url, b.title, b.alt_title, b.slug, b.description, b.status,
		       b.author, b.tag_ids, b.thumbnail_key, b.account_name,
		       COALESCE(b.next_chapter_url, ''),
		       (SELECT COUNT(*) FROM chapters c WHERE c.book_id = b.id),
		       b.created_at, b.updated_at
		FROM books b
		WHERE b.source_url = $1`,
		sourceURL,
	)
	var book ingest.Book
	var status int
	var tagIDs []int32
	if err := row.Scan(
		&book.ID, &book.SourceURL, &book.Title, &book.AltTitle, &book.Slug,
		&book.Description, &status, &book.Author, &tagIDs, &book.ThumbnailKey,
		&book.AccountName, &book.NextChapterURL, &book.ChapterCount,
		&book.CreatedAt, &book.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.Book{}, fmt.Errorf("book %q: %w", sourceURL, ingest.ErrBookNotFound)
		}
		return ingest.Book{}, fmt.Errorf("select book %q: %w", sourceURL, err)
	}
	book.Status = ingest.BookStatus(status)
	book.TagIDs = toInts(tagIDs)
	return book, nil
}

// UpdateBookAssets records the mirrored thumbnail key, the author, and the
// mapped tag set once the thumbnail transfer completed.
func (s *Postgres) UpdateBookAssets(ctx context.Context, bookID int64, thumbnailKey string, author string, tagIDs []int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE books
		SET thumbnail_key = $2, author = $3, tag_ids = $4, updated_at = NOW()
		WHERE id = $1`,
		bookID, thumbnailKey, author, toInt32s(tagIDs),
	)
	if err != nil {
		return fmt.Errorf("update book %d assets: %w", bookID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update book %d assets: %w", bookID, ingest.ErrBookNotFound)
	}
	return nil
}

// TouchBook bumps updated_at so recency ordering reflects new chapters.
func (s *Postgres) TouchBook(ctx context.Context, bookID int64) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE books SET updated_at = NOW() WHERE id = $1`, bookID); err != nil {
		return fmt.Errorf("touch book %d: %w", bookID, err)
	}
	return nil
}

// # Chapters

// CreateChapters inserts the batch in one multi-row statement. Image keys
// serialize as a JSON array because their order is significant.
func (s *Postgres) CreateChapters(ctx context.Context, chapters []ingest.Chapter) error {
	if len(chapters) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO chapters (book_id, chapter_number, title, image_keys, next_url, account_name) VALUES `)
	args := make([]any, 0, len(chapters)*6)
	for i, ch := range chapters {
		keys, err := json.Marshal(ch.ImageKeys)
		if err != nil {
			return fmt.Errorf("marshal image keys for chapter %d: %w", ch.Number, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, NULLIF($%d, ''), $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, ch.BookID, ch.Number, ch.Title, keys, ch.NextURL, ch.AccountName)
	}
	if _, err := s.db.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert %d chapters: %w", len(chapters), err)
	}
	return nil
}

// LastChapter returns the highest-numbered chapter of the book, or nil when
// the book has no chapters yet.
func (s *Postgres) LastChapter(ctx context.Context, bookID int64) (*ingest.Chapter, error) {
	row := s.db.QueryRow(ctx, `
		SELECT book_id, chapter_number, title, image_keys, COALESCE(next_url, ''), account_name, created_at
		FROM chapters
		WHERE book_id = $1
		ORDER BY chapter_number DESC
		LIMIT 1`,
		bookID,
	)
	var ch ingest.Chapter
	var keys []byte
	if err := row.Scan(&ch.BookID, &ch.Number, &ch.Title, &keys, &ch.NextURL, &ch.AccountName, &ch.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select last chapter of book %d: %w", bookID, err)
	}
	if err := json.Unmarshal(keys, &ch.ImageKeys); err != nil {
		return nil, fmt.Errorf("unmarshal image keys of chapter %d: %w", ch.Number, err)
	}
	return &ch, nil
}

// # Storage accounts

// AccountByEmail resolves the ledger row by exact email match.
func (s *Postgres) AccountByEmail(ctx context.Context, email string) (ingest.StorageAccount, error) {
	row := s.db.QueryRow(ctx, `
		SELECT name, email, api_key, api_secret, bytes_used, cap_bytes
		FROM storage_accounts
		WHERE email = $1`,
		email,
	)
	var account ingest.StorageAccount
	if err := row.Scan(&account.Name, &account.Email, &account.APIKey,
		&account.APISecret, &account.BytesUsed, &account.CapBytes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.StorageAccount{}, fmt.Errorf("account %q: %w", email, ingest.ErrAccountNotFound)
		}
		return ingest.StorageAccount{}, fmt.Errorf("select account %q: %w", email, err)
	}
	return account, nil
}

// AddBytesUsed performs the ledger increment as one atomic UPDATE rather
// than read-modify-write, so concurrent crawls sharing an account stay
// race-safe.
func (s *Postgres) AddBytesUsed(ctx context.Context, name string, delta int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE storage_accounts
		SET bytes_used = bytes_used + $2
		WHERE name = $1`,
		name, delta,
	)
	if err != nil {
		return fmt.Errorf("increment account %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("increment account %q: %w", name, ingest.ErrAccountNotFound)
	}
	return nil
}

func toInts(in []int32) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

func toInt32s(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

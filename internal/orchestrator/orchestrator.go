// Package orchestrator drives a full ingest run: resolve the book, walk the
// chapter chain, mirror every image set, and persist chapters in batches.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hxlab/bookmirror/internal/ingest"
	"github.com/hxlab/bookmirror/internal/metrics"
	"github.com/hxlab/bookmirror/pkg/slug"
)

// flushThreshold is the number of buffered chapters that forces a database
// flush mid-run. Small batches keep a late failure from discarding more than
// one sibling chapter's work.
const flushThreshold = 2

// AdapterSet resolves the site adapter for a source type.
type AdapterSet interface {
	For(t ingest.SourceType) (ingest.Adapter, error)
}

// Ledger covers account resolution and the storage quota bookkeeping the
// run performs before and after each mirror transfer.
type Ledger interface {
	Resolve(ctx context.Context, email string) (ingest.StorageAccount, error)
	CheckCapacity(account ingest.StorageAccount) error
	Commit(ctx context.Context, accountName string, delta int64) error
}

// Config controls run behavior that is not dependency wiring.
type Config struct {
	// KeyPrefix is the top folder for all mirrored objects, e.g. "books".
	KeyPrefix string
	// Topic receives the completion event of each successful run.
	Topic string
}

// Orchestrator executes ingest requests. All collaborators are injected;
// the orchestrator itself holds no mutable state between runs.
type Orchestrator struct {
	fetcher  ingest.Fetcher
	adapters AdapterSet
	thumbs   ingest.Mirror
	images   ingest.Mirror
	books    ingest.BookStore
	chapters ingest.ChapterStore
	ledger   Ledger
	events   ingest.Publisher
	clock    ingest.Clock
	ids      ingest.IDGenerator
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Orchestrator.
func New(
	fetcher ingest.Fetcher,
	adapters AdapterSet,
	thumbs ingest.Mirror,
	images ingest.Mirror,
	books ingest.BookStore,
	chapters ingest.ChapterStore,
	ledger Ledger,
	events ingest.Publisher,
	clock ingest.Clock,
	ids ingest.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "books"
	}
	return &Orchestrator{
		fetcher:  fetcher,
		adapters: adapters,
		thumbs:   thumbs,
		images:   images,
		books:    books,
		chapters: chapters,
		ledger:   ledger,
		events:   events,
		clock:    clock,
		ids:      ids,
		cfg:      cfg,
		logger:   logger,
	}
}

// Ingest resolves the requested book and appends up to req.Take chapters to
// it. Chapters persisted before a mid-run stop are kept; the returned Result
// reports exactly how far the run got and why it stopped. A mid-run quota
// stop returns the partial Result together with an error wrapping
// ingest.ErrQuotaExceeded so callers can tell it apart from plain failures.
func (o *Orchestrator) Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	start := o.clock.Now()

	runID, err := o.ids.NewID()
	if err != nil {
		return ingest.Result{}, fmt.Errorf("generate run id: %w", err)
	}
	result := ingest.Result{RunID: runID}

	if err := validate(req); err != nil {
		return result, err
	}
	adapter, err := o.adapters.For(req.Source)
	if err != nil {
		return result, err
	}

	logger := o.logger.With(
		zap.String("run_id", runID),
		zap.String("source", string(req.Source)),
		zap.String("book_url", req.BookURL),
	)

	account, err := o.ledger.Resolve(ctx, req.AccountEmail)
	if err != nil {
		return result, err
	}
	if err := o.ledger.CheckCapacity(account); err != nil {
		result.Halt = ingest.HaltQuotaExceeded
		return result, err
	}

	book, created, thumbBytes, err := o.resolveBook(ctx, adapter, req.BookURL, &account, logger)
	if err != nil {
		return result, err
	}
	result.Book = book
	result.BookCreated = created
	result.BytesWritten = thumbBytes

	logger = logger.With(zap.Int64("book_id", book.ID))
	logger.Info("book resolved",
		zap.Bool("created", created),
		zap.Int("existing_chapters", book.ChapterCount),
	)

	traverseErr := o.traverse(ctx, adapter, book, &account, req.Take, &result, logger)

	if result.ChaptersAdded > 0 {
		if err := o.books.TouchBook(ctx, book.ID); err != nil {
			logger.Warn("touch book failed", zap.Error(err))
		}
		result.Book.ChapterCount = book.ChapterCount + result.ChaptersAdded
	}
	result.Completed = result.ChaptersAdded == req.Take
	result.Elapsed = o.clock.Now().Sub(start).Seconds()
	metrics.ObserveIngestRun(string(req.Source), string(result.Halt))

	if traverseErr == nil {
		o.publish(ctx, result, logger)
	}

	logger.Info("ingest finished",
		zap.Int("chapters_added", result.ChaptersAdded),
		zap.Int64("bytes_written", result.BytesWritten),
		zap.String("halt", string(result.Halt)),
		zap.Bool("completed", result.Completed),
		zap.Error(traverseErr),
	)
	return result, traverseErr
}

func validate(req ingest.Request) error {
	if !req.Source.Valid() {
		return fmt.Errorf("unknown source type %q", req.Source)
	}
	if !strings.HasPrefix(req.BookURL, "http://") && !strings.HasPrefix(req.BookURL, "https://") {
		return fmt.Errorf("book url %q is not absolute", req.BookURL)
	}
	if req.Take < 0 {
		return fmt.Errorf("take must not be negative, got %d", req.Take)
	}
	if strings.TrimSpace(req.AccountEmail) == "" {
		return fmt.Errorf("account email is required")
	}
	return nil
}

// resolveBook returns the existing book for the URL or creates it, mirroring
// the cover image on the create path. A unique-violation race with a
// concurrent run falls through to the existing-book path.
func (o *Orchestrator) resolveBook(
	ctx context.Context,
	adapter ingest.Adapter,
	bookURL string,
	account *ingest.StorageAccount,
	logger *zap.Logger,
) (ingest.Book, bool, int64, error) {
	book, err := o.books.BookBySourceURL(ctx, bookURL)
	if err == nil {
		return book, false, 0, nil
	}
	if !errors.Is(err, ingest.ErrBookNotFound) {
		return ingest.Book{}, false, 0, err
	}

	page, err := o.fetcher.Fetch(ctx, bookURL, "")
	if err != nil {
		metrics.ObservePageFetch(string(adapter.Source()), "error")
		return ingest.Book{}, false, 0, err
	}
	metrics.ObservePageFetch(string(adapter.Source()), "ok")
	fields, err := adapter.ExtractBook(page)
	if err != nil {
		return ingest.Book{}, false, 0, err
	}

	book, err = o.books.CreateBook(ctx, ingest.Book{
		SourceURL:      bookURL,
		Title:          fields.Title,
		AltTitle:       fields.AltTitle,
		Slug:           slug.From(fields.Title),
		Description:    fields.Description,
		Status:         fields.Status,
		AccountName:    account.Name,
		NextChapterURL: fields.NextChapterURL,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrDuplicateBook) {
			logger.Info("lost create race, reusing existing book")
			book, err = o.books.BookBySourceURL(ctx, bookURL)
			if err != nil {
				return ingest.Book{}, false, 0, err
			}
			return book, false, 0, nil
		}
		return ingest.Book{}, false, 0, err
	}

	keys, bytes, err := o.thumbs.Mirror(ctx,
		[]string{fields.ThumbnailURL}, bookURL, *account, o.bookFolder(book.ID))
	if err != nil {
		return ingest.Book{}, false, 0, fmt.Errorf("mirror thumbnail: %w", err)
	}
	if err := o.ledger.Commit(ctx, account.Name, bytes); err != nil {
		return ingest.Book{}, false, 0, err
	}
	account.BytesUsed += bytes

	if err := o.books.UpdateBookAssets(ctx, book.ID, keys[0], fields.Author, fields.TagIDs); err != nil {
		return ingest.Book{}, false, 0, err
	}
	book.ThumbnailKey = keys[0]
	book.Author = fields.Author
	book.TagIDs = fields.TagIDs
	return book, true, bytes, nil
}

// traverse walks the chapter chain from the book's cursor, mirroring and
// buffering chapters, flushing the buffer every flushThreshold chapters and
// once more at the end. Whatever was flushed stays committed regardless of
// how the walk ends.
func (o *Orchestrator) traverse(
	ctx context.Context,
	adapter ingest.Adapter,
	book ingest.Book,
	account *ingest.StorageAccount,
	take int,
	result *ingest.Result,
	logger *zap.Logger,
) error {
	cursor, err := o.cursor(ctx, book)
	if err != nil {
		return err
	}
	if take == 0 {
		return nil
	}
	if cursor == "" {
		result.Halt = ingest.HaltEndOfChain
		return nil
	}

	var batch []ingest.Chapter
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := o.chapters.CreateChapters(ctx, batch); err != nil {
			metrics.ObserveChapters(string(adapter.Source()), "failed", len(batch))
			return fmt.Errorf("flush %d chapters: %w", len(batch), err)
		}
		metrics.ObserveChapters(string(adapter.Source()), "committed", len(batch))
		if result.FirstChapter == 0 {
			result.FirstChapter = batch[0].Number
		}
		result.LastChapter = batch[len(batch)-1].Number
		result.ChaptersAdded += len(batch)
		batch = batch[:0]
		return nil
	}

	target := book.ChapterCount + take
	for number := book.ChapterCount + 1; number <= target; number++ {
		if err := o.ledger.CheckCapacity(*account); err != nil {
			result.Halt = ingest.HaltQuotaExceeded
			if flushErr := flush(); flushErr != nil {
				return flushErr
			}
			return err
		}

		fields, bytes, chErr := o.mirrorChapter(ctx, adapter, book, *account, cursor, number)
		if chErr != nil {
			result.Halt = ingest.HaltError
			if flushErr := flush(); flushErr != nil {
				logger.Error("flush after chapter failure also failed", zap.Error(flushErr))
			}
			return chErr
		}

		if err := o.ledger.Commit(ctx, account.Name, bytes); err != nil {
			result.Halt = ingest.HaltError
			if flushErr := flush(); flushErr != nil {
				logger.Error("flush after ledger failure also failed", zap.Error(flushErr))
			}
			return &ingest.ChapterError{Number: number, Err: err}
		}
		account.BytesUsed += bytes
		result.BytesWritten += bytes

		batch = append(batch, ingest.Chapter{
			BookID:      book.ID,
			Number:      number,
			Title:       fields.Title,
			ImageKeys:   fields.mirroredKeys,
			NextURL:     fields.NextURL,
			AccountName: account.Name,
		})
		logger.Debug("chapter mirrored",
			zap.Int("chapter", number),
			zap.Int("images", len(fields.mirroredKeys)),
			zap.Int64("bytes", bytes),
		)

		if len(batch) >= flushThreshold || number == target {
			if err := flush(); err != nil {
				return err
			}
		}

		cursor = fields.NextURL
		if cursor == "" {
			if number < target {
				result.Halt = ingest.HaltEndOfChain
			}
			return flush()
		}
	}
	return flush()
}

// cursor picks where traversal resumes: after the last stored chapter when
// the book already has chapters, otherwise at the book's first chapter link.
func (o *Orchestrator) cursor(ctx context.Context, book ingest.Book) (string, error) {
	if book.ChapterCount == 0 {
		return book.NextChapterURL, nil
	}
	last, err := o.chapters.LastChapter(ctx, book.ID)
	if err != nil {
		return "", err
	}
	if last == nil {
		return book.NextChapterURL, nil
	}
	return last.NextURL, nil
}

// chapterFields carries a chapter's extracted fields plus the owned storage
// keys its images were mirrored to.
type chapterFields struct {
	Title        string
	NextURL      string
	mirroredKeys []string
}

func (o *Orchestrator) mirrorChapter(
	ctx context.Context,
	adapter ingest.Adapter,
	book ingest.Book,
	account ingest.StorageAccount,
	pageURL string,
	number int,
) (chapterFields, int64, error) {
	page, err := o.fetcher.Fetch(ctx, pageURL, book.SourceURL)
	if err != nil {
		metrics.ObservePageFetch(string(adapter.Source()), "error")
		return chapterFields{}, 0, &ingest.ChapterError{Number: number, Err: err}
	}
	metrics.ObservePageFetch(string(adapter.Source()), "ok")
	extracted, err := adapter.ExtractChapter(page)
	if err != nil {
		return chapterFields{}, 0, &ingest.ChapterError{Number: number, Err: err}
	}

	folder := o.bookFolder(book.ID) + "/chapters/" + strconv.Itoa(number)
	keys, bytes, err := o.images.Mirror(ctx, extracted.ImageURLs, pageURL, account, folder)
	if err != nil {
		return chapterFields{}, 0, &ingest.ChapterError{Number: number, Err: err}
	}
	metrics.ObserveMirroredImages(string(adapter.Source()), len(keys), bytes)

	title := extracted.Title
	if title == "" {
		title = "Chapter " + strconv.Itoa(number)
	}
	return chapterFields{
		Title:        title,
		NextURL:      extracted.NextURL,
		mirroredKeys: keys,
	}, bytes, nil
}

func (o *Orchestrator) bookFolder(bookID int64) string {
	return o.cfg.KeyPrefix + "/" + strconv.FormatInt(bookID, 10)
}

func (o *Orchestrator) publish(ctx context.Context, result ingest.Result, logger *zap.Logger) {
	if o.events == nil || o.cfg.Topic == "" {
		return
	}
	if _, err := o.events.Publish(ctx, o.cfg.Topic, result); err != nil {
		// Event delivery is advisory; the catalog is already consistent.
		logger.Warn("publish completion event failed", zap.Error(err))
	}
}

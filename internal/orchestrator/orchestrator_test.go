package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hxlab/bookmirror/internal/ingest"
)

const (
	bookURL     = "https://lxhentai.com/truyen/thu-nghiem"
	accountName = "acct-a"
)

func chapterURL(n int) string {
	return bookURL + "/chuong-" + strconv.Itoa(n)
}

type fakeFetcher struct {
	pages map[string]ingest.Page
	fails map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url, referer string) (ingest.Page, error) {
	if err, ok := f.fails[url]; ok {
		return ingest.Page{}, err
	}
	page, ok := f.pages[url]
	if !ok {
		return ingest.Page{}, &ingest.FetchError{URL: url, StatusCode: 404, Err: errors.New("no such page")}
	}
	page.URL = url
	return page, nil
}

type fakeAdapter struct {
	book     ingest.BookFields
	bookErr  error
	chapters map[string]ingest.ChapterFields
}

func (f *fakeAdapter) Source() ingest.SourceType { return ingest.SourceType("lxhentai") }

func (f *fakeAdapter) ExtractBook(ingest.Page) (ingest.BookFields, error) {
	return f.book, f.bookErr
}

func (f *fakeAdapter) ExtractChapter(page ingest.Page) (ingest.ChapterFields, error) {
	fields, ok := f.chapters[page.URL]
	if !ok {
		return ingest.ChapterFields{}, &ingest.ExtractionError{Source: f.Source(), Field: "images", Err: errors.New("unscripted page")}
	}
	return fields, nil
}

type fakeAdapterSet struct{ adapter ingest.Adapter }

func (f fakeAdapterSet) For(t ingest.SourceType) (ingest.Adapter, error) {
	if t != f.adapter.Source() {
		return nil, fmt.Errorf("no adapter for source %q", t)
	}
	return f.adapter, nil
}

// fakeMirror yields bytesPerImage per URL and keys under the destination
// folder. folders records every destination in call order.
type fakeMirror struct {
	bytesPerImage int64
	folders       []string
	failFolder    string
}

func (f *fakeMirror) Mirror(_ context.Context, urls []string, _ string, _ ingest.StorageAccount, folder string) ([]string, int64, error) {
	f.folders = append(f.folders, folder)
	if folder == f.failFolder {
		return nil, 0, &ingest.MirrorError{Folder: folder, Err: errors.New("download failed")}
	}
	keys := make([]string, len(urls))
	for i := range urls {
		keys[i] = fmt.Sprintf("%s/%d.jpg", folder, i)
	}
	return keys, int64(len(urls)) * f.bytesPerImage, nil
}

type assetUpdate struct {
	bookID       int64
	thumbnailKey string
	author       string
	tagIDs       []int
}

type fakeBooks struct {
	existing     *ingest.Book
	nextID       int64
	created      []ingest.Book
	assetUpdates []assetUpdate
	touched      []int64
	raceOnCreate bool
}

func (f *fakeBooks) CreateBook(_ context.Context, book ingest.Book) (ingest.Book, error) {
	if f.raceOnCreate {
		f.raceOnCreate = false
		f.existing = &ingest.Book{ID: 7, SourceURL: book.SourceURL, Title: book.Title, AccountName: book.AccountName, NextChapterURL: book.NextChapterURL}
		return ingest.Book{}, fmt.Errorf("insert book: %w", ingest.ErrDuplicateBook)
	}
	book.ID = f.nextID
	f.created = append(f.created, book)
	f.existing = &book
	return book, nil
}

func (f *fakeBooks) BookBySourceURL(_ context.Context, sourceURL string) (ingest.Book, error) {
	if f.existing == nil || f.existing.SourceURL != sourceURL {
		return ingest.Book{}, fmt.Errorf("book %q: %w", sourceURL, ingest.ErrBookNotFound)
	}
	return *f.existing, nil
}

func (f *fakeBooks) UpdateBookAssets(_ context.Context, bookID int64, thumbnailKey, author string, tagIDs []int) error {
	f.assetUpdates = append(f.assetUpdates, assetUpdate{bookID, thumbnailKey, author, tagIDs})
	return nil
}

func (f *fakeBooks) TouchBook(_ context.Context, bookID int64) error {
	f.touched = append(f.touched, bookID)
	return nil
}

type fakeChapters struct {
	last    *ingest.Chapter
	batches [][]ingest.Chapter
}

func (f *fakeChapters) CreateChapters(_ context.Context, chapters []ingest.Chapter) error {
	batch := make([]ingest.Chapter, len(chapters))
	copy(batch, chapters)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeChapters) LastChapter(_ context.Context, _ int64) (*ingest.Chapter, error) {
	return f.last, nil
}

type fakeLedger struct {
	account  ingest.StorageAccount
	commits  []int64
	resolves int
}

func (f *fakeLedger) Resolve(_ context.Context, email string) (ingest.StorageAccount, error) {
	f.resolves++
	if email != f.account.Email {
		return ingest.StorageAccount{}, fmt.Errorf("account %q: %w", email, ingest.ErrAccountNotFound)
	}
	return f.account, nil
}

func (f *fakeLedger) CheckCapacity(account ingest.StorageAccount) error {
	if account.BytesUsed >= account.CapBytes {
		return fmt.Errorf("account %q is full: %w", account.Name, ingest.ErrQuotaExceeded)
	}
	return nil
}

func (f *fakeLedger) Commit(_ context.Context, _ string, delta int64) error {
	f.commits = append(f.commits, delta)
	return nil
}

type publishedEvent struct {
	topic   string
	payload any
}

type fakePublisher struct{ events []publishedEvent }

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	f.events = append(f.events, publishedEvent{topic, payload})
	return "msg-1", nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

// harness bundles every fake wired into one orchestrator.
type harness struct {
	fetcher   *fakeFetcher
	adapter   *fakeAdapter
	thumbs    *fakeMirror
	images    *fakeMirror
	books     *fakeBooks
	chapters  *fakeChapters
	ledger    *fakeLedger
	publisher *fakePublisher
	orch      *Orchestrator
}

// newHarness scripts a fresh book whose chain has chainLen chapters of two
// images each, ten bytes per image.
func newHarness(chainLen int) *harness {
	pages := map[string]ingest.Page{bookURL: {Body: []byte("book")}}
	chapters := make(map[string]ingest.ChapterFields, chainLen)
	for n := 1; n <= chainLen; n++ {
		pages[chapterURL(n)] = ingest.Page{Body: []byte("chapter")}
		next := ""
		if n < chainLen {
			next = chapterURL(n + 1)
		}
		chapters[chapterURL(n)] = ingest.ChapterFields{
			Title:     "Chuong " + strconv.Itoa(n),
			ImageURLs: []string{"https://img.lxhentai.com/a.jpg", "https://img.lxhentai.com/b.jpg"},
			NextURL:   next,
		}
	}

	h := &harness{
		fetcher: &fakeFetcher{pages: pages},
		adapter: &fakeAdapter{
			book: ingest.BookFields{
				Title:          "Thử Nghiệm",
				Author:         "Tác Giả",
				Status:         ingest.StatusOngoing,
				ThumbnailURL:   "https://img.lxhentai.com/cover.jpg",
				TagIDs:         []int{3, 7},
				NextChapterURL: chapterURL(1),
			},
			chapters: chapters,
		},
		thumbs:    &fakeMirror{bytesPerImage: 100},
		images:    &fakeMirror{bytesPerImage: 10},
		books:     &fakeBooks{nextID: 42},
		chapters:  &fakeChapters{},
		ledger:    &fakeLedger{account: ingest.StorageAccount{Name: accountName, Email: "mirror@example.com", CapBytes: 1 << 20}},
		publisher: &fakePublisher{},
	}
	h.orch = New(
		h.fetcher, fakeAdapterSet{h.adapter}, h.thumbs, h.images,
		h.books, h.chapters, h.ledger, h.publisher,
		fixedClock{time.Unix(1700000000, 0).UTC()}, &seqIDs{},
		Config{KeyPrefix: "books", Topic: "ingest-done"},
		zap.NewNop(),
	)
	return h
}

func request(take int) ingest.Request {
	return ingest.Request{
		Source:       "lxhentai",
		BookURL:      bookURL,
		Take:         take,
		AccountEmail: "mirror@example.com",
	}
}

func TestIngestCreatesBookAndMirrorsChapters(t *testing.T) {
	t.Parallel()

	h := newHarness(3)
	result, err := h.orch.Ingest(context.Background(), request(3))
	require.NoError(t, err)

	require.True(t, result.BookCreated)
	require.Equal(t, int64(42), result.Book.ID)
	require.Equal(t, "thu-nghiem", result.Book.Slug)
	require.Equal(t, 3, result.ChaptersAdded)
	require.Equal(t, 1, result.FirstChapter)
	require.Equal(t, 3, result.LastChapter)
	require.True(t, result.Completed)
	require.Equal(t, ingest.HaltNone, result.Halt)
	// One cover image at 100 bytes plus three chapters of two 10-byte images.
	require.Equal(t, int64(160), result.BytesWritten)

	require.Equal(t, []string{"books/42"}, h.thumbs.folders)
	require.Equal(t, []string{
		"books/42/chapters/1",
		"books/42/chapters/2",
		"books/42/chapters/3",
	}, h.images.folders)

	require.Len(t, h.books.assetUpdates, 1)
	require.Equal(t, assetUpdate{42, "books/42/0.jpg", "Tác Giả", []int{3, 7}}, h.books.assetUpdates[0])

	// Batches flush at two buffered chapters, remainder at the end.
	require.Len(t, h.chapters.batches, 2)
	require.Len(t, h.chapters.batches[0], 2)
	require.Len(t, h.chapters.batches[1], 1)
	require.Equal(t, 1, h.chapters.batches[0][0].Number)
	require.Equal(t, 2, h.chapters.batches[0][1].Number)
	require.Equal(t, 3, h.chapters.batches[1][0].Number)
	require.Equal(t, chapterURL(2), h.chapters.batches[0][0].NextURL)
	require.Equal(t, "", h.chapters.batches[1][0].NextURL)
	require.Equal(t, []string{
		"books/42/chapters/1/0.jpg",
		"books/42/chapters/1/1.jpg",
	}, h.chapters.batches[0][0].ImageKeys)

	require.Equal(t, []int64{100, 20, 20, 20}, h.ledger.commits)
	require.Equal(t, []int64{42}, h.books.touched)

	require.Len(t, h.publisher.events, 1)
	require.Equal(t, "ingest-done", h.publisher.events[0].topic)
}

func TestIngestResumesAfterLastStoredChapter(t *testing.T) {
	t.Parallel()

	h := newHarness(6)
	h.books.existing = &ingest.Book{
		ID:             42,
		SourceURL:      bookURL,
		Title:          "Thử Nghiệm",
		AccountName:    accountName,
		NextChapterURL: chapterURL(1),
		ChapterCount:   5,
	}
	h.chapters.last = &ingest.Chapter{BookID: 42, Number: 5, NextURL: chapterURL(6)}

	result, err := h.orch.Ingest(context.Background(), request(1))
	require.NoError(t, err)

	require.False(t, result.BookCreated)
	require.Equal(t, 1, result.ChaptersAdded)
	require.Equal(t, 6, result.FirstChapter)
	require.Equal(t, 6, result.LastChapter)
	require.True(t, result.Completed)
	require.Equal(t, 6, result.Book.ChapterCount)

	// No cover transfer on the reuse path.
	require.Empty(t, h.thumbs.folders)
	require.Equal(t, []string{"books/42/chapters/6"}, h.images.folders)
	require.Len(t, h.chapters.batches, 1)
	require.Equal(t, 6, h.chapters.batches[0][0].Number)
}

func TestIngestSameBookTwiceKeepsNumberingContiguous(t *testing.T) {
	t.Parallel()

	h := newHarness(4)
	_, err := h.orch.Ingest(context.Background(), request(2))
	require.NoError(t, err)

	h.books.existing.ChapterCount = 2
	h.chapters.last = &ingest.Chapter{BookID: 42, Number: 2, NextURL: chapterURL(3)}

	result, err := h.orch.Ingest(context.Background(), request(2))
	require.NoError(t, err)
	require.False(t, result.BookCreated)
	require.Equal(t, 3, result.FirstChapter)
	require.Equal(t, 4, result.LastChapter)

	var numbers []int
	for _, batch := range h.chapters.batches {
		for _, ch := range batch {
			numbers = append(numbers, ch.Number)
		}
	}
	require.Equal(t, []int{1, 2, 3, 4}, numbers)
}

func TestIngestStopsAtEndOfChain(t *testing.T) {
	t.Parallel()

	h := newHarness(2)
	result, err := h.orch.Ingest(context.Background(), request(3))
	require.NoError(t, err)

	require.Equal(t, 2, result.ChaptersAdded)
	require.False(t, result.Completed)
	require.Equal(t, ingest.HaltEndOfChain, result.Halt)
	require.Len(t, h.chapters.batches, 1)
	require.Len(t, h.chapters.batches[0], 2)
	require.Len(t, h.publisher.events, 1)
}

func TestIngestExistingBookWithExhaustedChain(t *testing.T) {
	t.Parallel()

	h := newHarness(2)
	h.books.existing = &ingest.Book{
		ID:             42,
		SourceURL:      bookURL,
		AccountName:    accountName,
		NextChapterURL: chapterURL(1),
		ChapterCount:   2,
	}
	h.chapters.last = &ingest.Chapter{BookID: 42, Number: 2, NextURL: ""}

	result, err := h.orch.Ingest(context.Background(), request(3))
	require.NoError(t, err)
	require.Zero(t, result.ChaptersAdded)
	require.Equal(t, ingest.HaltEndOfChain, result.Halt)
	require.Empty(t, h.images.folders)
	require.Empty(t, h.books.touched)
}

func TestIngestMirrorFailureKeepsFlushedChapters(t *testing.T) {
	t.Parallel()

	h := newHarness(4)
	h.images.failFolder = "books/42/chapters/3"

	result, err := h.orch.Ingest(context.Background(), request(4))
	require.Error(t, err)

	var chErr *ingest.ChapterError
	require.ErrorAs(t, err, &chErr)
	require.Equal(t, 3, chErr.Number)
	var mErr *ingest.MirrorError
	require.ErrorAs(t, err, &mErr)

	require.Equal(t, 2, result.ChaptersAdded)
	require.Equal(t, ingest.HaltError, result.Halt)
	require.False(t, result.Completed)
	// Chapters one and two were flushed before the failure and stay put.
	require.Len(t, h.chapters.batches, 1)
	require.Equal(t, 1, h.chapters.batches[0][0].Number)
	require.Equal(t, 2, h.chapters.batches[0][1].Number)
	require.Empty(t, h.publisher.events)
	// The catalog still reflects the committed chapters.
	require.Equal(t, []int64{42}, h.books.touched)
}

func TestIngestRejectsFullAccountUpFront(t *testing.T) {
	t.Parallel()

	h := newHarness(2)
	h.ledger.account.CapBytes = 400 << 20
	h.ledger.account.BytesUsed = 405 << 20

	result, err := h.orch.Ingest(context.Background(), request(1))
	require.ErrorIs(t, err, ingest.ErrQuotaExceeded)
	require.Equal(t, ingest.HaltQuotaExceeded, result.Halt)
	require.Empty(t, h.books.created)
	require.Empty(t, h.thumbs.folders)
	require.Empty(t, h.images.folders)
}

func TestIngestQuotaExhaustionMidRunKeepsEarlierChapters(t *testing.T) {
	t.Parallel()

	h := newHarness(4)
	// The cover commit plus the first chapter commit land exactly on the
	// cap, so the check before chapter two rejects.
	h.ledger.account.CapBytes = 120

	result, err := h.orch.Ingest(context.Background(), request(4))
	require.ErrorIs(t, err, ingest.ErrQuotaExceeded)

	require.Equal(t, ingest.HaltQuotaExceeded, result.Halt)
	require.Equal(t, 1, result.ChaptersAdded)
	require.Len(t, h.chapters.batches, 1)
	require.Equal(t, 1, h.chapters.batches[0][0].Number)
	require.Equal(t, []string{"books/42/chapters/1"}, h.images.folders)
	require.Equal(t, []int64{100, 20}, h.ledger.commits)
	require.Empty(t, h.publisher.events)
}

func TestIngestTakeZeroResolvesBookOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(2)
	result, err := h.orch.Ingest(context.Background(), request(0))
	require.NoError(t, err)

	require.True(t, result.BookCreated)
	require.Zero(t, result.ChaptersAdded)
	require.True(t, result.Completed)
	require.Equal(t, ingest.HaltNone, result.Halt)
	require.Equal(t, []string{"books/42"}, h.thumbs.folders)
	require.Empty(t, h.images.folders)
}

func TestIngestLosingCreateRaceReusesExistingBook(t *testing.T) {
	t.Parallel()

	h := newHarness(2)
	h.books.raceOnCreate = true

	result, err := h.orch.Ingest(context.Background(), request(0))
	require.NoError(t, err)
	require.False(t, result.BookCreated)
	require.Equal(t, int64(7), result.Book.ID)
	// The winner owns the cover; the loser must not upload a second copy.
	require.Empty(t, h.thumbs.folders)
}

func TestIngestValidatesRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(1)
	ctx := context.Background()

	cases := []struct {
		name string
		req  ingest.Request
	}{
		{"unknown source", ingest.Request{Source: "mangadex", BookURL: bookURL, Take: 1, AccountEmail: "mirror@example.com"}},
		{"relative url", ingest.Request{Source: "lxhentai", BookURL: "/truyen/x", Take: 1, AccountEmail: "mirror@example.com"}},
		{"negative take", ingest.Request{Source: "lxhentai", BookURL: bookURL, Take: -1, AccountEmail: "mirror@example.com"}},
		{"missing email", ingest.Request{Source: "lxhentai", BookURL: bookURL, Take: 1}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.orch.Ingest(ctx, tc.req)
			require.Error(t, err)
		})
	}
	require.Empty(t, h.books.created)
}

func TestIngestUnknownAccount(t *testing.T) {
	t.Parallel()

	h := newHarness(1)
	req := request(1)
	req.AccountEmail = "nobody@example.com"

	_, err := h.orch.Ingest(context.Background(), req)
	require.ErrorIs(t, err, ingest.ErrAccountNotFound)
}

func TestIngestFetchFailureOnChapterPage(t *testing.T) {
	t.Parallel()

	h := newHarness(2)
	h.fetcher.fails = map[string]error{
		chapterURL(2): &ingest.FetchError{URL: chapterURL(2), StatusCode: 503, Err: errors.New("upstream down")},
	}

	result, err := h.orch.Ingest(context.Background(), request(2))
	var chErr *ingest.ChapterError
	require.ErrorAs(t, err, &chErr)
	require.Equal(t, 2, chErr.Number)

	// Chapter one was buffered but not yet at the flush threshold; the
	// failure path flushes it so the completed mirror work survives.
	require.Equal(t, 1, result.ChaptersAdded)
	require.Len(t, h.chapters.batches, 1)
	require.Equal(t, 1, h.chapters.batches[0][0].Number)
}

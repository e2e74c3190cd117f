package source

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hxlab/bookmirror/internal/ingest"
)

var hvnAltTitlePattern = regexp.MustCompile(`\[(.*?)\]`)

// HentaiVN parses hentaivn book and chapter pages.
type HentaiVN struct{}

// NewHentaiVN returns the hentaivn site adapter.
func NewHentaiVN() *HentaiVN {
	return &HentaiVN{}
}

// Source returns the adapter's source-type tag.
func (a *HentaiVN) Source() ingest.SourceType {
	return ingest.SourceHentaiVN
}

// ExtractBook pulls title, alternate name, author, tags, and the reading
// link from a book landing page.
func (a *HentaiVN) ExtractBook(page ingest.Page) (ingest.BookFields, error) {
	doc, err := parseDoc(page)
	if err != nil {
		return ingest.BookFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "document", Err: err}
	}

	// The cover's alt text reads "Truyện hentai <name>".
	alt, ok := doc.Find(".page-ava img").Attr("alt")
	if !ok {
		return ingest.BookFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "title"}
	}
	parts := strings.SplitN(alt, "Truyện hentai", 2)
	if len(parts) < 2 {
		return ingest.BookFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "title"}
	}
	title := strings.TrimSpace(parts[1])
	if title == "" {
		return ingest.BookFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "title"}
	}

	altTitle := ""
	if m := hvnAltTitlePattern.FindStringSubmatch(doc.Find("title").Text()); m != nil {
		altTitle = m[1]
	}

	thumbnail, ok := doc.Find(".page-ava img").Attr("src")
	if !ok || strings.TrimSpace(thumbnail) == "" {
		return ingest.BookFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "thumbnail"}
	}

	author := strings.TrimSpace(doc.Find("span.info").Eq(3).Next().Text())

	var labels []string
	doc.Find("a.tag").Each(func(_ int, sel *goquery.Selection) {
		labels = append(labels, strings.TrimSpace(sel.Text()))
	})

	nextHref, _ := doc.Find(".watch-online a").Attr("href")
	next := absoluteURL(page.Origin, nextHref)
	if next == "" {
		return ingest.BookFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "reading link"}
	}

	return ingest.BookFields{
		Title:          title,
		AltTitle:       altTitle,
		Author:         author,
		Status:         ingest.StatusOngoing,
		ThumbnailURL:   thumbnail,
		TagIDs:         mapTags(labels),
		NextChapterURL: next,
	}, nil
}

// ExtractChapter pulls the lazy-loaded page images and the next-chapter
// link from a chapter page. A missing next link means the chain ended.
func (a *HentaiVN) ExtractChapter(page ingest.Page) (ingest.ChapterFields, error) {
	doc, err := parseDoc(page)
	if err != nil {
		return ingest.ChapterFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "document", Err: err}
	}

	var images []string
	doc.Find("#image img").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("data-src"); ok && strings.TrimSpace(src) != "" {
			images = append(images, strings.TrimSpace(src))
		}
	})

	next := ""
	if nextHref, ok := doc.Find("#nextLink.b-next").Attr("href"); ok && strings.TrimSpace(nextHref) != "" {
		next = absoluteURL(page.Origin, nextHref)
	}

	return ingest.ChapterFields{
		ImageURLs: images,
		NextURL:   next,
	}, nil
}

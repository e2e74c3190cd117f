package source

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hxlab/bookmirror/internal/ingest"
)

// lxChapterEndHref is the javascript pseudo-link the site places on the
// "next" button of the final chapter.
const lxChapterEndHref = "javascript:nm5213(0)"

var lxCoverURLPattern = regexp.MustCompile(`url\('([^']+)'\)`)

// LXHentai parses lxhentai book and chapter pages.
type LXHentai struct{}

// NewLXHentai returns the lxhentai site adapter.
func NewLXHentai() *LXHentai {
	return &LXHentai{}
}

// Source returns the adapter's source-type tag.
func (a *LXHentai) Source() ingest.SourceType {
	return ingest.SourceLXHentai
}

// ExtractBook pulls title, cover, tags, and the first chapter link from a
// book landing page.
func (a *LXHentai) ExtractBook(page ingest.Page) (ingest.BookFields, error) {
	doc, err := parseDoc(page)
	if err != nil {
		return ingest.BookFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "document", Err: err}
	}

	// The page title carries the site suffix: "Name - LXHENTAI".
	title := strings.TrimSpace(strings.Split(doc.Find("title").Text(), "- LXHENTAI")[0])
	if title == "" {
		return ingest.BookFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "title"}
	}

	// The cover is a background-image style on the header card.
	style, _ := doc.Find(".rounded-lg.cover").Attr("style")
	match := lxCoverURLPattern.FindStringSubmatch(style)
	if match == nil {
		return ingest.BookFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "thumbnail"}
	}
	thumbnail := match[1]

	var labels []string
	doc.Find(`.bg-gray-500.hover\:bg-gray-600.text-white.rounded.px-2.text-sm.inline-block`).
		Each(func(_ int, sel *goquery.Selection) {
			labels = append(labels, strings.TrimSpace(sel.Text()))
		})

	nextHref, _ := doc.Find(".overflow-y-auto.overflow-x-hidden>a").Last().Attr("href")
	next := absoluteURL(page.Origin, nextHref)
	if next == "" {
		return ingest.BookFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "first chapter link"}
	}

	return ingest.BookFields{
		Title:          title,
		Status:         ingest.StatusOngoing,
		ThumbnailURL:   thumbnail,
		TagIDs:         mapTags(labels),
		NextChapterURL: next,
	}, nil
}

// ExtractChapter pulls the ordered page images and the next-chapter link
// from a chapter page. The site's terminal chapters link to a javascript
// stub instead of a URL; that maps to an empty NextURL here.
func (a *LXHentai) ExtractChapter(page ingest.Page) (ingest.ChapterFields, error) {
	doc, err := parseDoc(page)
	if err != nil {
		return ingest.ChapterFields{}, &ingest.ExtractionError{Source: a.Source(), Field: "document", Err: err}
	}

	var images []string
	doc.Find(".lazy.max-w-full.my-0.mx-auto").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && strings.TrimSpace(src) != "" {
			images = append(images, strings.TrimSpace(src))
		}
	})

	nextHref, _ := doc.Find("a#btn-next").Attr("href")
	next := ""
	if nextHref != "" && nextHref != lxChapterEndHref {
		next = absoluteURL(page.Origin, nextHref)
	}

	return ingest.ChapterFields{
		ImageURLs: images,
		NextURL:   next,
	}, nil
}

// Package source implements per-site extraction strategies. Each supported
// source site gets one Adapter variant; adding a site means adding a variant,
// not changing shared parsing code.
package source

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hxlab/bookmirror/internal/ingest"
)

// Registry holds the closed set of site adapters keyed by source type.
type Registry struct {
	adapters map[ingest.SourceType]ingest.Adapter
}

// NewRegistry builds a registry with all supported site adapters.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[ingest.SourceType]ingest.Adapter)}
	r.register(NewLXHentai())
	r.register(NewHentaiVN())
	return r
}

func (r *Registry) register(a ingest.Adapter) {
	r.adapters[a.Source()] = a
}

// For returns the adapter for the given source type.
func (r *Registry) For(t ingest.SourceType) (ingest.Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source %q", t)
	}
	return a, nil
}

// parseDoc loads the fetched page body into a goquery document.
func parseDoc(page ingest.Page) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// absoluteURL resolves href against the page's origin. Already-absolute
// hrefs pass through untouched.
func absoluteURL(origin, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

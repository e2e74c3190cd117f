// Package fetch implements the page fetcher using the Colly collector.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/hxlab/bookmirror/internal/ingest"
)

// Config controls collector behavior.
type Config struct {
	Timeout   time.Duration
	MaxBodyMB int
}

// PageFetcher implements ingest.Fetcher with a single spoofed GET per call.
// No retry happens at this layer; retry policy belongs to the orchestrator's
// caller, which re-invokes ingestion and resumes.
type PageFetcher struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewPageFetcher constructs a configured Colly-based fetcher.
func NewPageFetcher(cfg Config, logger *zap.Logger) *PageFetcher {
	opts := []colly.CollectorOption{colly.Async(false)}
	if cfg.MaxBodyMB > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodyMB*1024*1024))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.IgnoreRobotsTxt = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	base.SetRequestTimeout(timeout)

	return &PageFetcher{
		baseCollector: base,
		logger:        logger,
	}
}

// Fetch performs one GET with a rotated user agent and browser-like headers.
// An empty referer falls back to the URL's own origin.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string, referer string) (ingest.Page, error) {
	origin, err := originOf(rawURL)
	if err != nil {
		return ingest.Page{}, &ingest.FetchError{URL: rawURL, Err: err}
	}
	if referer == "" {
		referer = origin
	}

	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnRequest(func(r *colly.Request) {
		for name, value := range SpoofHeaders(referer) {
			r.Headers.Set(name, value)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		finalURL := r.Request.URL.String()
		finalOrigin, originErr := originOf(finalURL)
		if originErr != nil {
			finalOrigin = origin
		}
		send(fetchResult{page: ingest.Page{
			URL:        rawURL,
			FinalURL:   finalURL,
			Origin:     finalOrigin,
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		if err == nil {
			err = errors.New("unknown collector error")
		}
		send(fetchResult{err: &ingest.FetchError{URL: rawURL, StatusCode: status, Err: err}})
	})

	if err := collector.Visit(rawURL); err != nil {
		return ingest.Page{}, &ingest.FetchError{URL: rawURL, Err: err}
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ingest.Page{}, ctxErr
		}
		if res.err != nil {
			f.logger.Debug("page fetch failed",
				zap.String("url", rawURL),
				zap.Error(res.err))
			return ingest.Page{}, res.err
		}
		return res.page, nil
	default:
		return ingest.Page{}, &ingest.FetchError{URL: rawURL, Err: errors.New("collector produced no result")}
	}
}

type fetchResult struct {
	page ingest.Page
	err  error
}

// originOf reduces a URL to its scheme://host origin.
func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no origin", rawURL)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

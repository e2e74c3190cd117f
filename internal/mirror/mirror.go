// Package mirror moves image sets from source sites into owned storage in
// bounded concurrent batches.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hxlab/bookmirror/internal/fetch"
	"github.com/hxlab/bookmirror/internal/ingest"
)

// errNoImages marks a chapter whose source page declared no images.
// Empty content is treated as a mirror failure, not an empty success.
var errNoImages = errors.New("source declared no images")

// Config tunes chunking and download behavior.
type Config struct {
	ChunkSize       int
	ChunkPause      time.Duration
	DownloadTimeout time.Duration
	DownloadRetries int
}

// ImageMirror implements ingest.Mirror. Chunks run sequentially with a
// fixed pause between them; items inside a chunk transfer concurrently, so
// peak connections against a source site are capped at the chunk size.
type ImageMirror struct {
	store  ingest.ObjectStore
	client *resty.Client
	cfg    Config
	pause  pauseController
	logger *zap.Logger
}

// New constructs an ImageMirror writing through the given object store.
func New(store ingest.ObjectStore, cfg Config, logger *zap.Logger) *ImageMirror {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 20
	}
	timeout := cfg.DownloadTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.DownloadRetries).
		SetRetryWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests
		})
	return &ImageMirror{
		store:  store,
		client: client,
		cfg:    cfg,
		pause:  timerPauseController{},
		logger: logger,
	}
}

// Mirror transfers urls into folder on the account's backend. The returned
// keys align index-for-index with urls regardless of chunking. On any
// failure the folder's partial uploads are deleted before the error is
// reported, so a chapter either lands whole or not at all.
func (m *ImageMirror) Mirror(ctx context.Context, urls []string, baseReferer string, account ingest.StorageAccount, folder string) ([]string, int64, error) {
	if len(urls) == 0 {
		return nil, 0, m.fail(ctx, account, folder, errNoImages)
	}

	keys := make([]string, len(urls))
	var total int64

	for start := 0; start < len(urls); start += m.cfg.ChunkSize {
		if start > 0 {
			m.pause.Pause(ctx, m.cfg.ChunkPause)
		}
		end := start + m.cfg.ChunkSize
		if end > len(urls) {
			end = len(urls)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				data, contentType, err := m.download(gctx, urls[i], baseReferer)
				if err != nil {
					return err
				}
				key := fmt.Sprintf("%s/%d.jpg", folder, i)
				res, err := m.store.Upload(gctx, account, key, contentType, data)
				if err != nil {
					return fmt.Errorf("upload %s: %w", key, err)
				}
				keys[i] = res.Key
				atomic.AddInt64(&total, res.Bytes)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, 0, m.fail(ctx, account, folder, err)
		}
	}

	m.logger.Debug("mirrored image set",
		zap.String("folder", folder),
		zap.Int("images", len(keys)),
		zap.Int64("bytes", total))
	return keys, total, nil
}

// download fetches one image with the same spoofed identity the page
// fetcher uses, since the image hosts apply the same referer checks.
func (m *ImageMirror) download(ctx context.Context, url string, referer string) ([]byte, string, error) {
	resp, err := m.client.R().
		SetContext(ctx).
		SetHeaders(fetch.SpoofHeaders(referer)).
		Get(url)
	if err != nil {
		return nil, "", &ingest.FetchError{URL: url, Err: err}
	}
	if resp.IsError() {
		return nil, "", &ingest.FetchError{URL: url, StatusCode: resp.StatusCode()}
	}
	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return resp.Body(), contentType, nil
}

// fail rolls back whatever landed under folder and wraps the cause. Rollback
// runs on a detached context so a canceled crawl still cleans up.
func (m *ImageMirror) fail(ctx context.Context, account ingest.StorageAccount, folder string, cause error) error {
	cleanupCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		cleanupCtx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	if err := m.store.DeletePrefix(cleanupCtx, account, folder); err != nil {
		m.logger.Warn("rollback of partial uploads failed",
			zap.String("folder", folder),
			zap.Error(err))
	}
	return &ingest.MirrorError{Folder: folder, Err: cause}
}

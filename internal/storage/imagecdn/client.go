// Package imagecdn provides an ObjectStore backed by a managed image CDN.
// Unlike the bucket backend, the CDN authenticates per storage account, so
// every call signs with the account's own key pair and the CDN answers with
// its canonical path for the stored image.
package imagecdn

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hxlab/bookmirror/internal/ingest"
)

// Config captures the CDN endpoint parameters.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retries int
}

// maxDimensions caps stored image size. The CDN scales anything larger
// down on ingest.
const maxDimensions = "1000x1000"

// Store talks to the CDN's HTTP API.
type Store struct {
	client *resty.Client
}

// uploadResponse is the CDN's answer to an image upload.
type uploadResponse struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// New builds a CDN-backed object store.
func New(cfg Config) (*Store, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("cdn base url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests
		})
	return &Store{client: client}, nil
}

// Upload pushes image bytes to the CDN under the account's namespace and
// returns the canonical path the CDN assigned plus the stored size.
func (s *Store) Upload(ctx context.Context, account ingest.StorageAccount, key string, contentType string, data []byte) (ingest.UploadResult, error) {
	var ok uploadResponse
	var apiErr errorResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(account.APIKey, account.APISecret).
		SetHeader("Content-Type", contentType).
		SetQueryParam("key", key).
		SetQueryParam("max_dims", maxDimensions).
		SetBody(data).
		SetResult(&ok).
		SetError(&apiErr).
		Post(fmt.Sprintf("/v1/accounts/%s/images", account.Name))
	if err != nil {
		return ingest.UploadResult{}, fmt.Errorf("cdn upload %s: %w", key, err)
	}
	if resp.IsError() {
		return ingest.UploadResult{}, fmt.Errorf("cdn upload %s: status %d: %s", key, resp.StatusCode(), apiErr.Message)
	}
	result := ingest.UploadResult{Key: ok.Path, Bytes: ok.Bytes}
	if result.Key == "" {
		result.Key = key
	}
	if result.Bytes == 0 {
		result.Bytes = int64(len(data))
	}
	return result, nil
}

// DeletePrefix asks the CDN to drop the folder holding a chapter's images.
func (s *Store) DeletePrefix(ctx context.Context, account ingest.StorageAccount, prefix string) error {
	var apiErr errorResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(account.APIKey, account.APISecret).
		SetQueryParam("prefix", prefix).
		SetError(&apiErr).
		Delete(fmt.Sprintf("/v1/accounts/%s/folders", account.Name))
	if err != nil {
		return fmt.Errorf("cdn delete folder %s: %w", prefix, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("cdn delete folder %s: status %d: %s", prefix, resp.StatusCode(), apiErr.Message)
	}
	return nil
}

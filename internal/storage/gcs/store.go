// Package gcs provides an ObjectStore backed by a Google Cloud Storage
// bucket. The bucket is shared; per-account isolation happens through key
// prefixes, so the account argument is ignored here.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/hxlab/bookmirror/internal/ingest"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// Store writes mirrored images to a configured GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed object store. The bucket is probed up front so a
// misconfigured deployment fails at startup instead of mid-crawl.
func New(ctx context.Context, client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("probe bucket %q: %w", cfg.Bucket, err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Upload writes data under key and reports the byte count written.
func (s *Store) Upload(ctx context.Context, _ ingest.StorageAccount, key string, contentType string, data []byte) (ingest.UploadResult, error) {
	if strings.TrimSpace(key) == "" {
		return ingest.UploadResult{}, fmt.Errorf("object key is required")
	}
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	n, err := io.Copy(writer, bytes.NewReader(data))
	if err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return ingest.UploadResult{}, fmt.Errorf("write object %s: %w (close writer: %v)", key, err, closeErr)
		}
		return ingest.UploadResult{}, fmt.Errorf("write object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return ingest.UploadResult{}, fmt.Errorf("close writer for %s: %w", key, err)
	}
	return ingest.UploadResult{Key: key, Bytes: n}, nil
}

// DeletePrefix removes every object under prefix. Used for chapter rollback,
// so objects already gone are not an error.
func (s *Store) DeletePrefix(ctx context.Context, _ ingest.StorageAccount, prefix string) error {
	bucket := s.client.Bucket(s.bucket)
	it := bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil &&
			!errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete object %s: %w", attrs.Name, err)
		}
	}
}

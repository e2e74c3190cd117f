package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Mirror.ThumbChunkSize != 15 || cfg.Mirror.ChapterChunkSize != 20 {
		t.Fatalf("mirror chunk sizes = %d/%d, want 15/20",
			cfg.Mirror.ThumbChunkSize, cfg.Mirror.ChapterChunkSize)
	}
	if cfg.Quota.DefaultCapBytes != 400*1024*1024 {
		t.Fatalf("quota.default_cap_bytes = %d, want 400 MiB", cfg.Quota.DefaultCapBytes)
	}
	if cfg.ChunkPause() != time.Second {
		t.Fatalf("ChunkPause() = %v, want 1s", cfg.ChunkPause())
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("storage.backend = %q, want memory", cfg.Storage.Backend)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: false
fetch:
  timeout_seconds: 45
mirror:
  thumb_chunk_size: 5
  chapter_chunk_size: 10
  chunk_pause_ms: 250
quota:
  default_cap_bytes: 1048576
storage:
  backend: gcs
  gcs_bucket: mirror-bucket
  key_prefix: books
db:
  dsn: postgres://localhost/bookmirror
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Logging.Development {
		t.Fatal("logging.development = true, want false")
	}
	if cfg.FetchTimeout() != 45*time.Second {
		t.Fatalf("FetchTimeout() = %v, want 45s", cfg.FetchTimeout())
	}
	if cfg.Mirror.ChapterChunkSize != 10 {
		t.Fatalf("mirror.chapter_chunk_size = %d, want 10", cfg.Mirror.ChapterChunkSize)
	}
	if cfg.Quota.DefaultCapBytes != 1048576 {
		t.Fatalf("quota.default_cap_bytes = %d, want 1048576", cfg.Quota.DefaultCapBytes)
	}
	if cfg.Storage.GCSBucket != "mirror-bucket" {
		t.Fatalf("storage.gcs_bucket = %q, want mirror-bucket", cfg.Storage.GCSBucket)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		frag   string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero fetch timeout", func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, "fetch.timeout_seconds"},
		{"zero chunk size", func(c *Config) { c.Mirror.ChapterChunkSize = 0 }, "chunk sizes"},
		{"zero cap", func(c *Config) { c.Quota.DefaultCapBytes = 0 }, "default_cap_bytes"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs"; c.Storage.GCSBucket = "" }, "gcs_bucket"},
		{"cdn without base url", func(c *Config) { c.Storage.Backend = "imagecdn" }, "cdn_base_url"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.frag) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tc.frag)
			}
		})
	}
}

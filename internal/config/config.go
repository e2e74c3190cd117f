// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Mirror  MirrorConfig  `mapstructure:"mirror"`
	Quota   QuotaConfig   `mapstructure:"quota"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FetchConfig governs page fetches against source sites.
type FetchConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyMB      int `mapstructure:"max_body_mb"`
}

// MirrorConfig tunes the chunked image transfer loop. The thumbnail path
// and the chapter path historically run with different chunk widths.
type MirrorConfig struct {
	ThumbChunkSize         int `mapstructure:"thumb_chunk_size"`
	ChapterChunkSize       int `mapstructure:"chapter_chunk_size"`
	ChunkPauseMillis       int `mapstructure:"chunk_pause_ms"`
	DownloadTimeoutSeconds int `mapstructure:"download_timeout_seconds"`
	DownloadRetries        int `mapstructure:"download_retries"`
}

// QuotaConfig sets the soft cap applied to accounts without a per-row cap.
type QuotaConfig struct {
	DefaultCapBytes int64 `mapstructure:"default_cap_bytes"`
}

// StorageConfig selects and configures the object-storage backend.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"` // gcs | imagecdn | memory
	GCSBucket  string `mapstructure:"gcs_bucket"`
	CDNBaseURL string `mapstructure:"cdn_base_url"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for completion-event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOOKMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_body_mb", 8)
	v.SetDefault("mirror.thumb_chunk_size", 15)
	v.SetDefault("mirror.chapter_chunk_size", 20)
	v.SetDefault("mirror.chunk_pause_ms", 1000)
	v.SetDefault("mirror.download_timeout_seconds", 30)
	v.SetDefault("mirror.download_retries", 2)
	v.SetDefault("quota.default_cap_bytes", 400*1024*1024)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.key_prefix", "books")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Mirror.ThumbChunkSize <= 0 || c.Mirror.ChapterChunkSize <= 0 {
		return fmt.Errorf("mirror chunk sizes must be > 0")
	}
	if c.Quota.DefaultCapBytes <= 0 {
		return fmt.Errorf("quota.default_cap_bytes must be > 0")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "imagecdn":
		if c.Storage.CDNBaseURL == "" {
			return fmt.Errorf("storage.cdn_base_url must be set for the imagecdn backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be one of gcs, imagecdn, memory")
	}
	return nil
}

// FetchTimeout converts fetch.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ChunkPause converts mirror.chunk_pause_ms into a duration.
func (c Config) ChunkPause() time.Duration {
	return time.Duration(c.Mirror.ChunkPauseMillis) * time.Millisecond
}

// Package config loads githost-serve's TOML server configuration.
//
// Grounded on pkg/serve/httpserver/config.go's ServerConfig shape
// (listen address, timeouts as a Duration wrapper, nested
// cache/database/blob-bucket sub-configs, defaults filled before
// decoding over them) and pkg/serve/config.go's Duration/Database/OSS
// structs, retargeted from the teacher's single Aliyun-OSS backend to
// this system's pluggable blobstore.Bucket (s3 or gcs) and from the
// teacher's zeta-repository layout to githost-serve's repository hub,
// session caps, and GC policy knobs.
package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/antgroup/hugescm/internal/tablet/bloomcache"
	"github.com/antgroup/hugescm/internal/transfer"
	"github.com/antgroup/hugescm/modules/streamio"
)

const maxConfigFileSize = 64 * (1 << 20)

const (
	DefaultReadTimeout  = 2 * time.Hour
	DefaultWriteTimeout = 2 * time.Hour
	DefaultIdleTimeout  = 5 * time.Minute

	defaultGraceHours = 24 * time.Hour
)

// Duration wraps time.Duration so TOML values like "30s" decode via
// time.ParseDuration instead of TOML's native (integer-only) duration
// support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// DatabaseConfig names the MySQL ref/journal/WAL store connection.
type DatabaseConfig struct {
	Name    string   `toml:"name"`
	User    string   `toml:"user"`
	Host    string   `toml:"host"`
	Port    int      `toml:"port"`
	Passwd  string   `toml:"passwd"`
	Timeout Duration `toml:"timeout,omitempty"`
}

// BlobBucketConfig selects and configures the raw-blob/LFS backend.
// Backend picks S3 or GCS; the remaining fields are one flat set with no
// per-backend sub-block.
type BlobBucketConfig struct {
	Backend   string `toml:"backend"` // "s3" or "gcs"
	Bucket    string `toml:"bucket"`
	KeyPrefix string `toml:"key_prefix,omitempty"`
	Region    string `toml:"region,omitempty"`
	Endpoint  string `toml:"endpoint,omitempty"` // S3-compatible custom endpoint

	LFSBucket string `toml:"lfs_bucket,omitempty"`
	LFSPrefix string `toml:"lfs_prefix,omitempty"`
}

// CacheConfig configures the bloomcache.Cache exact-LRU layer.
type CacheConfig struct {
	NumCounters int64 `toml:"num_counters"`
	MaxCostGiB  int64 `toml:"max_cost_gib"`
	BufferItems int64 `toml:"buffer_items"`
}

func (c CacheConfig) toBloomcache() bloomcache.Config {
	return bloomcache.Config{NumCounters: c.NumCounters, MaxCostGiB: c.MaxCostGiB, BufferItems: c.BufferItems}
}

// GCConfig configures background mark-and-sweep runs.
type GCConfig struct {
	GracePeriod    Duration `toml:"grace_period,omitempty"`
	MaxDeleteCount int      `toml:"max_delete_count,omitempty"`
}

// SessionCapsConfig overrides transfer.DefaultCaps per deployment.
type SessionCapsConfig struct {
	MaxWants         int   `toml:"max_wants,omitempty"`
	MaxHavesPerRound int   `toml:"max_haves_per_round,omitempty"`
	MaxRounds        int   `toml:"max_rounds,omitempty"`
	MaxBytesIn       int64 `toml:"max_bytes_in,omitempty"`
}

func (s SessionCapsConfig) toSessionCaps() transfer.SessionCaps {
	caps := transfer.DefaultCaps
	if s.MaxWants > 0 {
		caps.MaxWants = s.MaxWants
	}
	if s.MaxHavesPerRound > 0 {
		caps.MaxHavesPerRound = s.MaxHavesPerRound
	}
	if s.MaxRounds > 0 {
		caps.MaxRounds = s.MaxRounds
	}
	if s.MaxBytesIn > 0 {
		caps.MaxBytesIn = s.MaxBytesIn
	}
	return caps
}

// ServerConfig is githost-serve's full configuration file shape.
type ServerConfig struct {
	Listen       string             `toml:"listen"`
	IdleTimeout  Duration           `toml:"idle_timeout,omitempty"`
	ReadTimeout  Duration           `toml:"read_timeout,omitempty"`
	WriteTimeout Duration           `toml:"write_timeout,omitempty"`
	Cache        *CacheConfig       `toml:"cache,omitempty"`
	Database     *DatabaseConfig    `toml:"database,omitempty"`
	BlobBucket   *BlobBucketConfig  `toml:"blob_bucket,omitempty"`
	GC           *GCConfig          `toml:"gc,omitempty"`
	SessionCaps  *SessionCapsConfig `toml:"session_caps,omitempty"`
}

// defaults returns a ServerConfig pre-filled with every value that
// must survive an absent or partial TOML block, mirroring
// NewServerConfig's pre-decode defaulting.
func defaults() *ServerConfig {
	return &ServerConfig{
		Listen:       "127.0.0.1:21000",
		IdleTimeout:  Duration{DefaultIdleTimeout},
		ReadTimeout:  Duration{DefaultReadTimeout},
		WriteTimeout: Duration{DefaultWriteTimeout},
		Cache: &CacheConfig{
			NumCounters: 1_000_000_000,
			MaxCostGiB:  1,
			BufferItems: 64,
		},
		GC: &GCConfig{
			GracePeriod:    Duration{defaultGraceHours},
			MaxDeleteCount: 0,
		},
		SessionCaps: &SessionCapsConfig{},
	}
}

// Load reads and decodes file, expanding ${VAR} references first when
// expandEnv is set (matching serve.NewExpandReader's behavior), then
// decoding TOML on top of defaults() so unset fields keep their
// built-in values rather than zeroing out.
func Load(file string, expandEnv bool) (*ServerConfig, error) {
	r, err := newExpandReader(file, expandEnv)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	sc := defaults()
	if _, err := toml.NewDecoder(r).Decode(sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// newExpandReader opens file and, when expandEnv is set, substitutes
// ${VAR}-style environment references before TOML decoding —
// mirroring serve.NewExpandReader's behavior exactly (read fully,
// os.ExpandEnv, hand back a fresh reader over the expanded text).
func newExpandReader(file string, expandEnv bool) (io.ReadCloser, error) {
	fd, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	if !expandEnv {
		return fd, nil
	}
	defer fd.Close()
	buf, err := streamio.GrowReadMax(fd, maxConfigFileSize, 4096)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(os.ExpandEnv(string(buf)))), nil
}

// BloomCache returns the bloomcache.Config derived from this server's
// cache settings.
func (sc *ServerConfig) BloomCache() bloomcache.Config {
	return sc.Cache.toBloomcache()
}

// SessionCapsValue returns the transfer.SessionCaps derived from this
// server's settings, falling back to transfer.DefaultCaps for any
// unset field.
func (sc *ServerConfig) SessionCapsValue() transfer.SessionCaps {
	if sc.SessionCaps == nil {
		return transfer.DefaultCaps
	}
	return sc.SessionCaps.toSessionCaps()
}

package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickhouse = "clickhouse"
	BackendSqlite     = "sqlite"
)

// Feed kinds.
const (
	FeedFile      = "file"
	FeedWS        = "ws"
	FeedSynthetic = "synthetic"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// StoreConfig selects the column store.
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	SqlitePath    string `yaml:"sqlite_path"`
}

// CheckpointConfig selects the checkpoint store and cadence. Backend may not be
// clickhouse; an empty DSN/path reuses the column store's.
type CheckpointConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	SqlitePath  string `yaml:"sqlite_path"`
	Interval    uint64 `yaml:"interval"`
	Keep        int    `yaml:"keep"`
}

// FeedConfig selects the ledger feed.
type FeedConfig struct {
	Kind   string `yaml:"kind"`
	Path   string `yaml:"path"`   // JSONL file for kind=file
	URL    string `yaml:"url"`    // websocket endpoint for kind=ws
	Blocks int    `yaml:"blocks"` // chain length for kind=synthetic
	Seed   uint64 `yaml:"seed"`
}

// RedisConfig configures height notifications. Empty Addr disables publishing.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	StreamMaxLen int64  `yaml:"stream_max_len"`
}

// Config is the full engine configuration.
type Config struct {
	Store             StoreConfig      `yaml:"store"`
	Checkpoint        CheckpointConfig `yaml:"checkpoint"`
	Feed              FeedConfig       `yaml:"feed"`
	Redis             RedisConfig      `yaml:"redis"`
	PriceTracking     bool             `yaml:"price_tracking"`
	FlushInterval     uint64           `yaml:"flush_interval"`
	ReconcileWorkers  int              `yaml:"reconcile_workers"`
	RollupResolutions []string         `yaml:"rollup_resolutions"`
	StopHeight        uint64           `yaml:"stop_height"` // 0 runs until the feed ends
	MetricsAddr       string           `yaml:"metrics_addr"`
	LogProgressEvery  uint64           `yaml:"log_progress_every"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Store:             StoreConfig{Backend: BackendMemory},
		Checkpoint:        CheckpointConfig{Backend: BackendMemory, Interval: 10_000, Keep: 3},
		Feed:              FeedConfig{Kind: FeedFile},
		Redis:             RedisConfig{StreamMaxLen: 10_000},
		PriceTracking:     true,
		FlushInterval:     1,
		ReconcileWorkers:  runtime.NumCPU(),
		RollupResolutions: []string{"date"},
		MetricsAddr:       ":9090",
		LogProgressEvery:  10_000,
	}
}

// Load reads defaults, then the optional YAML file at path, then COHORTS_*
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from COHORTS_* environment variables.
func (c *Config) ApplyEnv() {
	c.Store.Backend = Env("COHORTS_STORE_BACKEND", c.Store.Backend)
	c.Store.PostgresDSN = Env("COHORTS_POSTGRES_DSN", c.Store.PostgresDSN)
	c.Store.ClickhouseDSN = Env("COHORTS_CLICKHOUSE_DSN", c.Store.ClickhouseDSN)
	c.Store.SqlitePath = Env("COHORTS_SQLITE_PATH", c.Store.SqlitePath)

	c.Checkpoint.Backend = Env("COHORTS_CHECKPOINT_BACKEND", c.Checkpoint.Backend)
	c.Checkpoint.Interval = EnvUint64("COHORTS_CHECKPOINT_INTERVAL", c.Checkpoint.Interval)
	c.Checkpoint.Keep = EnvInt("COHORTS_CHECKPOINT_KEEP", c.Checkpoint.Keep)

	c.Feed.Kind = Env("COHORTS_FEED_KIND", c.Feed.Kind)
	c.Feed.Path = Env("COHORTS_FEED_PATH", c.Feed.Path)
	c.Feed.URL = Env("COHORTS_FEED_URL", c.Feed.URL)
	c.Feed.Blocks = EnvInt("COHORTS_FEED_BLOCKS", c.Feed.Blocks)

	c.Redis.Addr = Env("COHORTS_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = Env("COHORTS_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = EnvInt("COHORTS_REDIS_DB", c.Redis.DB)

	c.PriceTracking = EnvBool("COHORTS_PRICE_TRACKING", c.PriceTracking)
	c.FlushInterval = EnvUint64("COHORTS_FLUSH_INTERVAL", c.FlushInterval)
	c.ReconcileWorkers = EnvInt("COHORTS_RECONCILE_WORKERS", c.ReconcileWorkers)
	if v := Env("COHORTS_ROLLUP_RESOLUTIONS", ""); v != "" {
		c.RollupResolutions = splitList(v)
	}
	c.StopHeight = EnvUint64("COHORTS_STOP_HEIGHT", c.StopHeight)
	c.MetricsAddr = Env("COHORTS_METRICS_ADDR", c.MetricsAddr)
	c.LogProgressEvery = EnvUint64("COHORTS_LOG_PROGRESS_EVERY", c.LogProgressEvery)
}

// Validate checks backend names, intervals and resolutions.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres store requires postgres_dsn", ErrInvalidConfig)
		}
	case BackendClickhouse:
		if c.Store.ClickhouseDSN == "" {
			return fmt.Errorf("%w: clickhouse store requires clickhouse_dsn", ErrInvalidConfig)
		}
	case BackendSqlite:
		if c.Store.SqlitePath == "" {
			return fmt.Errorf("%w: sqlite store requires sqlite_path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}

	switch c.Checkpoint.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.CheckpointPostgresDSN() == "" {
			return fmt.Errorf("%w: postgres checkpoints require a dsn", ErrInvalidConfig)
		}
	case BackendSqlite:
		if c.CheckpointSqlitePath() == "" {
			return fmt.Errorf("%w: sqlite checkpoints require a path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported checkpoint backend %q", ErrInvalidConfig, c.Checkpoint.Backend)
	}

	switch c.Feed.Kind {
	case FeedFile:
		if c.Feed.Path == "" {
			return fmt.Errorf("%w: file feed requires path", ErrInvalidConfig)
		}
	case FeedWS:
		if c.Feed.URL == "" {
			return fmt.Errorf("%w: ws feed requires url", ErrInvalidConfig)
		}
	case FeedSynthetic:
		if c.Feed.Blocks <= 0 {
			return fmt.Errorf("%w: synthetic feed requires blocks > 0", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown feed kind %q", ErrInvalidConfig, c.Feed.Kind)
	}

	if c.FlushInterval == 0 {
		return fmt.Errorf("%w: flush_interval must be > 0", ErrInvalidConfig)
	}
	if c.Checkpoint.Interval == 0 {
		return fmt.Errorf("%w: checkpoint interval must be > 0", ErrInvalidConfig)
	}
	if c.Checkpoint.Keep <= 0 {
		return fmt.Errorf("%w: checkpoint keep must be > 0", ErrInvalidConfig)
	}
	if c.ReconcileWorkers <= 0 {
		return fmt.Errorf("%w: reconcile_workers must be > 0", ErrInvalidConfig)
	}
	for _, r := range c.RollupResolutions {
		switch r {
		case "date", "week", "month", "year":
		default:
			return fmt.Errorf("%w: unknown rollup resolution %q", ErrInvalidConfig, r)
		}
	}
	return nil
}

// CheckpointPostgresDSN returns the checkpoint DSN, falling back to the store's.
func (c *Config) CheckpointPostgresDSN() string {
	if c.Checkpoint.PostgresDSN != "" {
		return c.Checkpoint.PostgresDSN
	}
	return c.Store.PostgresDSN
}

// CheckpointSqlitePath returns the checkpoint path, falling back to the store's.
func (c *Config) CheckpointSqlitePath() string {
	if c.Checkpoint.SqlitePath != "" {
		return c.Checkpoint.SqlitePath
	}
	return c.Store.SqlitePath
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

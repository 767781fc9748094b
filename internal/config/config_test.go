package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cohorts.yaml")
	yamlDoc := `
store:
  backend: sqlite
  sqlite_path: /tmp/cohorts.db
checkpoint:
  backend: sqlite
  interval: 500
feed:
  kind: file
  path: blocks.jsonl
price_tracking: false
rollup_resolutions: [date, month]
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	t.Setenv("COHORTS_FLUSH_INTERVAL", "100")
	t.Setenv("COHORTS_ROLLUP_RESOLUTIONS", "week, year")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendSqlite, cfg.Store.Backend)
	assert.Equal(t, uint64(500), cfg.Checkpoint.Interval)
	assert.Equal(t, 3, cfg.Checkpoint.Keep, "unset fields keep defaults")
	assert.False(t, cfg.PriceTracking)
	assert.Equal(t, uint64(100), cfg.FlushInterval)
	assert.Equal(t, []string{"week", "year"}, cfg.RollupResolutions)
	assert.Equal(t, "/tmp/cohorts.db", cfg.CheckpointSqlitePath())
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c := Default()
		c.Feed.Path = "blocks.jsonl"
		return c
	}

	ok := base()
	require.NoError(t, ok.Validate())

	synthetic := base()
	synthetic.Feed = FeedConfig{Kind: FeedSynthetic, Blocks: 100}
	require.NoError(t, synthetic.Validate())

	cases := map[string]func(*Config){
		"unknown backend":      func(c *Config) { c.Store.Backend = "mongo" },
		"postgres without dsn": func(c *Config) { c.Store.Backend = BackendPostgres },
		"clickhouse ckpt":      func(c *Config) { c.Checkpoint.Backend = BackendClickhouse },
		"zero flush":           func(c *Config) { c.FlushInterval = 0 },
		"zero checkpoint":      func(c *Config) { c.Checkpoint.Interval = 0 },
		"bad resolution":       func(c *Config) { c.RollupResolutions = []string{"hour"} },
		"ws without url":       func(c *Config) { c.Feed.Kind = FeedWS },
		"unknown feed":         func(c *Config) { c.Feed.Kind = "kafka" },
		"empty synthetic":      func(c *Config) { c.Feed.Kind = FeedSynthetic },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			err := c.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "-3")
	t.Setenv("X_BOOL", "false")
	t.Setenv("X_U64", "42")
	assert.Equal(t, 7, EnvInt("X_INT", 7))
	assert.False(t, EnvBool("X_BOOL", true))
	assert.Equal(t, uint64(42), EnvUint64("X_U64", 0))
	assert.Equal(t, "d", Env("X_MISSING", "d"))
}

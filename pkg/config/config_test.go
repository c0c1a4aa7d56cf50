package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/flux-aggregator/pkg/flux"
)

const sampleConfig = `
server:
  http:
    addr: ":9000"
  websocket:
    enabled: true
storage:
  type: badger
  path: /tmp/flux
quote:
  key_env: QUOTE_KEY
feeds:
  - name: LINK-USD
    brand_in: LINK
    brand_out: USD
    min_submission_count: 2
    max_submission_count: 3
    restart_delay: 1
    min_submission_value: "100"
    max_submission_value: "${MAX_VALUE}"
    timeout: 30s
    oracles:
      - id: oracle-a
        token_env: TOKEN_A
      - id: oracle-b
sources:
  - type: fixed
    name: static
    enabled: true
    config:
      pairs:
        LINK/USD: "15.5"
  - type: jsonapi
    name: off
    enabled: false
    weight: 2
agents:
  - oracle: oracle-a
    feed: LINK-USD
    symbol: LINK/USD
    decimals: 2
    deviation:
      relative: 0.5
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("MAX_VALUE", "100000")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ModeBoth, cfg.Mode)
	assert.Equal(t, ":9000", cfg.Server.HTTP.Addr)
	assert.True(t, cfg.Server.WebSocket.Enabled)
	assert.Equal(t, StorageBadger, cfg.Storage.Type)
	assert.Equal(t, DefaultHDPath, cfg.Quote.HDPath)
	assert.Equal(t, "median", cfg.AggregateMode)

	require.Len(t, cfg.Feeds, 1)
	feed := cfg.Feeds[0]
	assert.Equal(t, "100000", feed.MaxSubmissionValue)
	assert.Equal(t, "1", feed.UnitAmountIn)
	assert.Equal(t, "wall", feed.Timer)
	assert.Equal(t, 30*time.Second, feed.Timeout.ToDuration())
	assert.Equal(t, []OracleConfig{{ID: "oracle-a", TokenEnv: "TOKEN_A"}, {ID: "oracle-b"}}, feed.Oracles)

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, 1.0, cfg.Sources[0].Weight)
	assert.Equal(t, 2.0, cfg.Sources[1].Weight)
	assert.Len(t, cfg.EnabledSources(), 1)
	assert.Equal(t, map[string]float64{"static": 1}, cfg.SourceWeights())

	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, 15*time.Second, cfg.Agents[0].PollInterval.ToDuration())
	assert.Equal(t, int32(2), cfg.Agents[0].Decimals)
	assert.Equal(t, 0.5, cfg.Agents[0].Deviation.Relative)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	require.NoError(t, Validate(cfg))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseInvalidDuration(t *testing.T) {
	_, err := Parse([]byte("feeds:\n  - name: X\n    timeout: soon\n"))
	require.Error(t, err)
}

func TestFluxConfig(t *testing.T) {
	f := FeedConfig{
		Name:               "LINK-USD",
		BrandIn:            "LINK",
		BrandOut:           "USD",
		UnitAmountIn:       "1000000",
		MinSubmissionCount: 2,
		MaxSubmissionCount: 5,
		RestartDelay:       2,
		MinSubmissionValue: "1",
		MaxSubmissionValue: "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		Timeout:            Duration(90 * time.Second),
		Timer:              "wall",
	}

	cfg, err := f.FluxConfig()
	require.NoError(t, err)
	assert.Equal(t, uint64(90), cfg.Params.Timeout)
	assert.Equal(t, uint64(1000000), cfg.UnitAmountIn.Uint64())
	assert.Equal(t, f.MaxSubmissionValue, cfg.Params.MaxSubmissionValue.Dec())
	assert.Equal(t, "wall", cfg.TimerName)

	f.MinSubmissionCount = 0
	_, err = f.FluxConfig()
	require.ErrorIs(t, err, flux.ErrMinSubmissionCountZero)

	f.MinSubmissionCount = 2
	f.MinSubmissionValue = "-1"
	_, err = f.FluxConfig()
	require.ErrorIs(t, err, ErrInvalidNatural)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("MAX_VALUE", "100000")
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		err    error
	}{
		{"invalid mode", func(c *Config) { c.Mode = "feeder" }, ErrInvalidMode},
		{"badger without path", func(c *Config) { c.Storage.Path = "" }, ErrStoragePathRequired},
		{"unknown storage", func(c *Config) { c.Storage.Type = "redis" }, ErrInvalidStorageType},
		{"no signing key", func(c *Config) { c.Quote.KeyEnv = "" }, ErrSigningKeyRequired},
		{"no feeds", func(c *Config) { c.Feeds = nil; c.Agents = nil }, ErrNoFeedsConfigured},
		{"duplicate feed", func(c *Config) { c.Feeds = append(c.Feeds, c.Feeds[0]) }, ErrDuplicateFeed},
		{"missing brand", func(c *Config) { c.Feeds[0].BrandOut = "" }, ErrBrandsRequired},
		{"bad value", func(c *Config) { c.Feeds[0].MaxSubmissionValue = "1e9" }, ErrInvalidNatural},
		{"value range", func(c *Config) { c.Feeds[0].MaxSubmissionValue = "10" }, flux.ErrSubmissionValueRange},
		{"duplicate oracle", func(c *Config) {
			c.Feeds[0].Oracles = append(c.Feeds[0].Oracles, OracleConfig{ID: "oracle-a"})
		}, ErrDuplicateOracle},
		{"no sources", func(c *Config) { c.Sources[0].Enabled = false }, ErrNoSourcesEnabled},
		{"negative weight", func(c *Config) { c.Sources[1].Weight = -1 }, ErrSourceWeightMustBeNonNegative},
		{"aggregate mode", func(c *Config) { c.AggregateMode = "tvwap" }, ErrInvalidAggregateMode},
		{"agent symbol", func(c *Config) { c.Agents[0].Symbol = "" }, ErrAgentSymbolRequired},
		{"agent feed", func(c *Config) { c.Agents[0].Feed = "ATOM-USD" }, ErrUnknownFeed},
		{"agent oracle", func(c *Config) { c.Agents[0].Oracle = "oracle-z" }, ErrUnknownOracle},
		{"agent deviation", func(c *Config) { c.Agents[0].Deviation.Absolute = -1 }, ErrInvalidDeviation},
		{"agent mode needs endpoint", func(c *Config) { c.Mode = ModeAgent }, ErrAgentEndpointRequired},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, ErrInvalidLogLevel},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, ErrInvalidLogFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.ErrorIs(t, Validate(cfg), tt.err)
		})
	}
}

func TestValidateRemoteAgent(t *testing.T) {
	cfg := validConfig(t)
	cfg.Mode = ModeAgent
	cfg.Agents[0].Endpoint = "http://aggregator:8080"
	cfg.Agents[0].MaxSubmissionValue = "100000"
	require.NoError(t, Validate(cfg))

	cfg.Agents[0].MinSubmissionValue = "x"
	assert.ErrorIs(t, Validate(cfg), ErrInvalidNatural)
}

func TestEnv(t *testing.T) {
	t.Setenv("FLUX_TEST_TOKEN", "abc")
	v, err := Env("FLUX_TEST_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = Env("FLUX_TEST_UNSET_VARIABLE")
	assert.ErrorIs(t, err, ErrEnvNotSet)
}

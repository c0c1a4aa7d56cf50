package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/flux-aggregator/pkg/config"
	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/quote"
)

const daemonConfig = `
server:
  http:
    addr: "127.0.0.1:0"
  websocket:
    enabled: true
quote:
  key_env: FLUX_TEST_QUOTE_KEY
feeds:
  - name: LINK-USD
    brand_in: LINK
    brand_out: USD
    min_submission_count: 2
    max_submission_count: 2
    restart_delay: 1
    min_submission_value: "100"
    max_submission_value: "100000"
    timeout: 60s
    oracles:
      - id: oracle-a
        token_env: FLUX_TEST_TOKEN_A
      - id: oracle-b
sources:
  - type: fixed
    name: static-a
    enabled: true
    config:
      pairs:
        LINK/USD: "15.50"
  - type: fixed
    name: static-b
    enabled: true
    config:
      pairs:
        LINK/USD: "15.70"
agents:
  - oracle: oracle-a
    feed: LINK-USD
    symbol: LINK/USD
    decimals: 2
    poll_interval: 50ms
  - oracle: oracle-b
    feed: LINK-USD
    symbol: LINK/USD
    decimals: 2
    poll_interval: 50ms
`

func loadDaemonConfig(t *testing.T) *config.Config {
	t.Helper()
	key, err := quote.GenerateKey()
	require.NoError(t, err)
	t.Setenv("FLUX_TEST_QUOTE_KEY", quote.KeyHex(key))
	t.Setenv("FLUX_TEST_TOKEN_A", "secret")

	cfg, err := config.Parse([]byte(daemonConfig))
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func TestDaemonAnswersRounds(t *testing.T) {
	cfg := loadDaemonConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg, logging.NewNoopLogger())
	require.NoError(t, err)
	defer d.Close()

	require.Equal(t, []string{"LINK-USD"}, d.feeds.Names())
	require.Len(t, d.agents, 2)
	require.Len(t, d.sources, 2)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	f, err := d.feeds.Get("LINK-USD")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		data, err := f.LatestRoundData()
		return err == nil && data.RoundID >= 1
	}, 10*time.Second, 20*time.Millisecond)

	data, err := f.GetRoundData(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1560), data.Answer.Uint64())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemonRequiresSigningKey(t *testing.T) {
	cfg := loadDaemonConfig(t)
	t.Setenv("FLUX_TEST_QUOTE_KEY", "")

	_, err := newDaemon(context.Background(), cfg, logging.NewNoopLogger())
	require.ErrorIs(t, err, config.ErrEnvNotSet)
}

func TestDaemonRequiresOracleToken(t *testing.T) {
	cfg := loadDaemonConfig(t)
	t.Setenv("FLUX_TEST_TOKEN_A", "")

	_, err := newDaemon(context.Background(), cfg, logging.NewNoopLogger())
	require.ErrorIs(t, err, config.ErrEnvNotSet)
}

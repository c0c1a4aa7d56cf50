package agent

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/flux-aggregator/pkg/feed"
	"github.com/StrathCole/flux-aggregator/pkg/flux"
	"github.com/StrathCole/flux-aggregator/pkg/flux/store"
	"github.com/StrathCole/flux-aggregator/pkg/server/aggregator"
	"github.com/StrathCole/flux-aggregator/pkg/server/api"
	"github.com/StrathCole/flux-aggregator/pkg/server/sources"
	"github.com/StrathCole/flux-aggregator/pkg/server/sources/fixed"
	"github.com/StrathCole/flux-aggregator/pkg/timer"
)

func feedConfig() flux.Config {
	return flux.Config{
		Name: "LINK-USD",
		Params: flux.Params{
			MaxSubmissionCount: 10,
			MinSubmissionCount: 2,
			RestartDelay:       1,
			Timeout:            10,
			MinSubmissionValue: *uint256.NewInt(100),
			MaxSubmissionValue: *uint256.NewInt(10000),
		},
		BrandIn:      "LINK",
		BrandOut:     "USD",
		UnitAmountIn: *uint256.NewInt(1),
	}
}

func fixedObserver(t *testing.T, price string) Observer {
	t.Helper()
	src, err := fixed.New(map[string]interface{}{"pairs": map[string]interface{}{"LINK/USDT": price}})
	require.NoError(t, err)
	require.NoError(t, src.Start(context.Background()))
	return SourceObserver(aggregator.NewObserver([]sources.Source{src}, aggregator.NewMedianAggregator(nil), nil, nil))
}

func TestAgentsAnswerRoundInProcess(t *testing.T) {
	clock := timer.NewManual(1)
	backend := store.NewMemory()
	f, err := feed.New(feedConfig(), feed.Deps{Backend: backend, Timer: clock})
	require.NoError(t, err)

	agents := make([]*Agent, 0, 2)
	for _, tc := range []struct{ oracle, price string }{
		{"oracle-a", "15.50"},
		{"oracle-b", "15.70"},
	} {
		kit, err := f.InitOracle(tc.oracle)
		require.NoError(t, err)
		cfg := testConfig()
		cfg.Oracle = tc.oracle
		agents = append(agents, newAgent(t, cfg, kit.Oracle, fixedObserver(t, tc.price)))
	}
	ctx := context.Background()

	state, err := agents[0].client.RoundState(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), state.QueriedRoundID)
	assert.False(t, state.EligibleForSpecificRound)

	result, err := agents[0].Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultSubmitted, result)
	assert.Equal(t, uint64(1), f.Manager().ReportingRoundID())

	result, err = agents[1].Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultSubmitted, result)

	data, err := f.LatestRoundData()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), data.RoundID)
	assert.Equal(t, uint64(1560), data.Answer.Uint64())

	// oracle-a opened round 1 and must wait out the restart delay
	result, err = agents[0].Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultNotEligible, result)

	// oracle-b may open round 2 but its price has not moved
	result, err = agents[1].Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultWithinDeviation, result)
}

func TestAgentsAnswerRoundOverHTTP(t *testing.T) {
	backend := store.NewMemory()
	f, err := feed.New(feedConfig(), feed.Deps{Backend: backend, Timer: timer.NewManual(1)})
	require.NoError(t, err)
	registry := feed.NewRegistry()
	require.NoError(t, registry.Add(f))

	server := api.NewServer("", registry, nil, api.Options{})
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	agents := make([]*Agent, 0, 2)
	for _, tc := range []struct{ oracle, price string }{
		{"oracle-a", "15.50"},
		{"oracle-b", "15.70"},
	} {
		_, err := f.InitOracle(tc.oracle)
		require.NoError(t, err)
		server.SetOracleToken(f.Name(), tc.oracle, "secret-"+tc.oracle)

		cfg := testConfig()
		cfg.Oracle = tc.oracle
		client := NewHTTPClient(srv.URL, f.Name(), tc.oracle, "secret-"+tc.oracle, time.Second)
		agents = append(agents, newAgent(t, cfg, client, fixedObserver(t, tc.price)))
	}
	ctx := context.Background()

	for _, a := range agents {
		result, err := a.Poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, ResultSubmitted, result)
	}

	data, err := f.LatestRoundData()
	require.NoError(t, err)
	assert.Equal(t, uint64(1560), data.Answer.Uint64())

	result, err := agents[0].Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ResultNotEligible, result)
}

func TestHTTPClientRejectsBadToken(t *testing.T) {
	backend := store.NewMemory()
	f, err := feed.New(feedConfig(), feed.Deps{Backend: backend, Timer: timer.NewManual(1)})
	require.NoError(t, err)
	registry := feed.NewRegistry()
	require.NoError(t, registry.Add(f))
	_, err = f.InitOracle("oracle-a")
	require.NoError(t, err)

	server := api.NewServer("", registry, nil, api.Options{})
	server.SetOracleToken(f.Name(), "oracle-a", "right")
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	client := NewHTTPClient(srv.URL, f.Name(), "oracle-a", "wrong", time.Second)
	state, err := client.RoundState(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), state.QueriedRoundID)
	assert.False(t, state.EligibleForSpecificRound)

	err = client.PushPrice(context.Background(), flux.PriceRound{UnitPrice: *uint256.NewInt(1500)})
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "401")

	_, err = NewHTTPClient(srv.URL, "NOPE", "oracle-a", "right", time.Second).RoundState(context.Background(), 0)
	require.ErrorIs(t, err, ErrRejected)
}

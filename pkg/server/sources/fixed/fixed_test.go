package fixed

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/flux-aggregator/pkg/server/sources"
)

func TestFixedSource(t *testing.T) {
	src, err := sources.Create("fixed", "dev", map[string]interface{}{
		"pairs": map[string]interface{}{"LINK/USD": "15.5", "ETH/USD": "3000"},
	})
	require.NoError(t, err)
	assert.False(t, src.IsHealthy())

	require.NoError(t, src.Start(context.Background()))
	assert.True(t, src.IsHealthy())

	prices, err := src.GetPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices["LINK/USD"].Price.Equal(decimal.RequireFromString("15.5")))
	assert.Equal(t, "dev", prices["ETH/USD"].Source)
}

func TestFixedSourceRejectsBadPrices(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-2"} {
		_, err := New(map[string]interface{}{"pairs": map[string]interface{}{"LINK/USD": raw}})
		require.ErrorIs(t, err, sources.ErrInvalidConfig, raw)
	}
}

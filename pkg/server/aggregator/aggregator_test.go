package aggregator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/flux-aggregator/pkg/server/sources"
)

func feeds(values map[string]string) map[string]map[string]sources.Price {
	out := make(map[string]map[string]sources.Price, len(values))
	for src, v := range values {
		out[src] = map[string]sources.Price{
			"LINK/USDT": {Symbol: "LINK/USDT", Price: decimal.RequireFromString(v), Source: src},
		}
	}
	return out
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestNewAggregator(t *testing.T) {
	a, err := NewAggregator(ModeMedian, nil)
	require.NoError(t, err)
	assert.IsType(t, &MedianAggregator{}, a)

	a, err = NewAggregator(ModeAverage, nil)
	require.NoError(t, err)
	assert.IsType(t, &AverageAggregator{}, a)

	_, err = NewAggregator("tvwap", nil)
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name    string
		prices  map[string]string
		weights map[string]float64
		want    string
	}{
		{
			name:   "single source",
			prices: map[string]string{"a": "15.5"},
			want:   "15.5",
		},
		{
			name:   "outlier rejected",
			prices: map[string]string{"a": "15.00", "b": "15.20", "c": "15.10", "d": "25.00"},
			want:   "15.10",
		},
		{
			name:   "even count averages the middle",
			prices: map[string]string{"a": "100", "b": "104"},
			want:   "102",
		},
		{
			name:    "heavier source wins",
			prices:  map[string]string{"a": "100", "b": "105"},
			weights: map[string]float64{"a": 3},
			want:    "100",
		},
		{
			name:    "zero weight source ignored",
			prices:  map[string]string{"a": "100", "b": "104", "c": "108"},
			weights: map[string]float64{"c": 0},
			want:    "102",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewMedianAggregator(nil).Aggregate(feeds(tt.prices), tt.weights)
			require.NoError(t, err)
			require.Contains(t, result, "LINK/USD")
			assert.Equal(t, "LINK/USD", result["LINK/USD"].Symbol)
			requireDecimal(t, tt.want, result["LINK/USD"].Price)
		})
	}
}

func TestAverage(t *testing.T) {
	a := NewAverageAggregator(nil)

	result, err := a.Aggregate(feeds(map[string]string{"a": "100", "b": "200"}), nil)
	require.NoError(t, err)
	requireDecimal(t, "150", result["LINK/USD"].Price)

	result, err = a.Aggregate(feeds(map[string]string{"a": "100", "b": "200"}), map[string]float64{"a": 3})
	require.NoError(t, err)
	requireDecimal(t, "125", result["LINK/USD"].Price)
}

func TestAggregateErrors(t *testing.T) {
	for _, a := range []Aggregator{NewMedianAggregator(nil), NewAverageAggregator(nil)} {
		_, err := a.Aggregate(nil, nil)
		require.ErrorIs(t, err, ErrNoSourcePrices)

		_, err = a.Aggregate(feeds(map[string]string{"a": "1"}), map[string]float64{"a": 0})
		require.ErrorIs(t, err, ErrNoPricesComputed)
	}
}

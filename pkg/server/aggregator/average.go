package aggregator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/metrics"
	"github.com/StrathCole/flux-aggregator/pkg/server/sources"
)

// AverageAggregator aggregates prices using a weighted arithmetic mean.
type AverageAggregator struct {
	logger *logging.Logger
}

var _ Aggregator = (*AverageAggregator)(nil)

// NewAverageAggregator creates a new average aggregator
func NewAverageAggregator(logger *logging.Logger) *AverageAggregator {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &AverageAggregator{logger: logger}
}

// Aggregate implements Aggregator.
func (a *AverageAggregator) Aggregate(sourcePrices map[string]map[string]sources.Price, sourceWeights map[string]float64) (map[string]sources.Price, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(ModeAverage, time.Since(start))
	}()

	if len(sourcePrices) == 0 {
		return nil, ErrNoSourcePrices
	}

	result := make(map[string]sources.Price)
	for symbol, prices := range groupBySymbol(sourcePrices, sourceWeights) {
		if len(prices) == 0 {
			continue
		}
		result[symbol] = sources.Price{
			Symbol:    symbol,
			Price:     weightedAverage(prices),
			Timestamp: time.Now(),
			Source:    "average_aggregator",
		}
	}

	if len(result) == 0 {
		return nil, ErrNoPricesComputed
	}
	a.logger.Debug("Aggregated prices using average", "symbols", len(result))
	return result, nil
}

func weightedAverage(prices []priceWithSource) decimal.Decimal {
	sum := decimal.Zero
	totalWeight := decimal.Zero
	for _, p := range prices {
		w := decimal.NewFromFloat(p.weight)
		sum = sum.Add(p.price.Price.Mul(w))
		totalWeight = totalWeight.Add(w)
	}
	if totalWeight.IsZero() {
		return decimal.Zero
	}
	return sum.Div(totalWeight)
}

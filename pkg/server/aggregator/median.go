package aggregator

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/metrics"
	"github.com/StrathCole/flux-aggregator/pkg/server/sources"
)

// OutlierThreshold is the relative deviation from the median above which a price is
// rejected.
var OutlierThreshold = decimal.NewFromFloat(0.10)

// MedianAggregator computes a weighted median after rejecting outliers.
type MedianAggregator struct {
	logger *logging.Logger
}

var _ Aggregator = (*MedianAggregator)(nil)

// NewMedianAggregator creates a new median aggregator.
func NewMedianAggregator(logger *logging.Logger) *MedianAggregator {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &MedianAggregator{logger: logger}
}

// Aggregate implements Aggregator.
func (a *MedianAggregator) Aggregate(sourcePrices map[string]map[string]sources.Price, sourceWeights map[string]float64) (map[string]sources.Price, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(ModeMedian, time.Since(start))
	}()

	if len(sourcePrices) == 0 {
		return nil, ErrNoSourcePrices
	}

	result := make(map[string]sources.Price)
	for symbol, prices := range groupBySymbol(sourcePrices, sourceWeights) {
		median, err := a.medianWithOutlierRejection(symbol, prices)
		if err != nil {
			a.logger.Warn("Failed to compute median", "symbol", symbol, "error", err)
			continue
		}
		result[symbol] = sources.Price{
			Symbol:    symbol,
			Price:     median,
			Timestamp: time.Now(),
			Source:    "median_aggregator",
		}
	}

	if len(result) == 0 {
		return nil, ErrNoPricesComputed
	}
	a.logger.Debug("Aggregated prices", "symbols", len(result))
	return result, nil
}

func (a *MedianAggregator) medianWithOutlierRejection(symbol string, prices []priceWithSource) (decimal.Decimal, error) {
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", sources.ErrNoSymbolsForPrice, symbol)
	}
	if len(prices) == 1 {
		return prices[0].price.Price, nil
	}

	sort.SliceStable(prices, func(i, j int) bool {
		return prices[i].price.Price.LessThan(prices[j].price.Price)
	})

	initial := weightedMedian(prices)
	if initial.IsZero() {
		return initial, nil
	}

	filtered := make([]priceWithSource, 0, len(prices))
	for _, p := range prices {
		deviation := p.price.Price.Sub(initial).Abs().Div(initial)
		if deviation.GreaterThan(OutlierThreshold) {
			a.logger.Debug("Rejecting outlier",
				"symbol", symbol,
				"source", p.source,
				"price", p.price.Price.String(),
				"median", initial.String())
			metrics.RecordOutlierRejection(symbol)
			continue
		}
		filtered = append(filtered, p)
	}

	if len(filtered) == 0 {
		a.logger.Warn("All prices rejected as outliers, using initial median",
			"symbol", symbol,
			"initial_count", len(prices))
		return initial, nil
	}
	return weightedMedian(filtered), nil
}

// weightedMedian returns the price at which the cumulative weight of the sorted prices
// reaches half the total. Landing exactly on half averages with the next price.
func weightedMedian(prices []priceWithSource) decimal.Decimal {
	n := len(prices)
	if n == 0 {
		return decimal.Zero
	}

	total := 0.0
	for _, p := range prices {
		total += p.weight
	}
	half := total / 2

	cumulative := 0.0
	for i, p := range prices {
		cumulative += p.weight
		if cumulative >= half {
			if cumulative == half && i+1 < n {
				return p.price.Price.Add(prices[i+1].price.Price).Div(decimal.NewFromInt(2))
			}
			return p.price.Price
		}
	}
	return prices[n/2].price.Price
}

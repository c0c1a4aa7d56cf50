// Package aggregator combines the prices reported by several sources into one price per
// symbol.
package aggregator

import (
	"fmt"

	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/server/sources"
)

const (
	// ModeMedian uses weighted median aggregation with outlier rejection.
	ModeMedian = "median"
	// ModeAverage uses weighted average aggregation.
	ModeAverage = "average"
)

// Aggregator defines the interface for price aggregation strategies.
type Aggregator interface {
	// Aggregate computes one price per normalized symbol. sourceWeights maps source names
	// to their weights; missing sources weigh 1.0.
	Aggregate(sourcePrices map[string]map[string]sources.Price, sourceWeights map[string]float64) (map[string]sources.Price, error)
}

// NewAggregator creates an aggregator based on the specified mode.
func NewAggregator(mode string, logger *logging.Logger) (Aggregator, error) {
	switch mode {
	case ModeMedian, "":
		return NewMedianAggregator(logger), nil
	case ModeAverage:
		return NewAverageAggregator(logger), nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: median, average)", ErrUnknownMode, mode)
	}
}

// groupBySymbol collects the prices of all sources under their normalized symbol.
func groupBySymbol(sourcePrices map[string]map[string]sources.Price, sourceWeights map[string]float64) map[string][]priceWithSource {
	bySymbol := make(map[string][]priceWithSource)
	for sourceName, prices := range sourcePrices {
		weight := 1.0
		if w, ok := sourceWeights[sourceName]; ok {
			weight = w
		}
		if weight <= 0 {
			continue
		}
		for symbol, price := range prices {
			normalized := sources.NormalizeSymbol(symbol)
			bySymbol[normalized] = append(bySymbol[normalized], priceWithSource{
				price:  price,
				source: sourceName,
				weight: weight,
			})
		}
	}
	return bySymbol
}

package aggregator

import (
	"context"
	"fmt"

	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/server/sources"
)

// Observer gathers prices from a set of sources and aggregates them.
type Observer struct {
	sources    []sources.Source
	weights    map[string]float64
	aggregator Aggregator
	logger     *logging.Logger
}

// NewObserver returns an observer over srcs. weights maps source names to their weights.
func NewObserver(srcs []sources.Source, agg Aggregator, weights map[string]float64, logger *logging.Logger) *Observer {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Observer{sources: srcs, weights: weights, aggregator: agg, logger: logger}
}

// Sources returns the observed sources.
func (o *Observer) Sources() []sources.Source {
	return o.sources
}

// ObserveAll aggregates the prices of every symbol reported by a healthy source.
func (o *Observer) ObserveAll(ctx context.Context) (map[string]sources.Price, error) {
	return o.observe(ctx, func(string) bool { return true })
}

// Observe aggregates the prices reported for symbol, or any of its aliases.
func (o *Observer) Observe(ctx context.Context, symbol string) (sources.Price, error) {
	want := sources.NormalizeSymbol(symbol)
	prices, err := o.observe(ctx, func(s string) bool { return sources.NormalizeSymbol(s) == want })
	if err != nil {
		return sources.Price{}, err
	}
	p, ok := prices[want]
	if !ok {
		return sources.Price{}, fmt.Errorf("%w: %s", sources.ErrNoSymbolsForPrice, symbol)
	}
	return p, nil
}

func (o *Observer) observe(ctx context.Context, keep func(symbol string) bool) (map[string]sources.Price, error) {
	sourcePrices := make(map[string]map[string]sources.Price)
	for _, src := range o.sources {
		if !src.IsHealthy() {
			o.logger.Debug("Skipping unhealthy source", "source", src.Name())
			continue
		}

		prices, err := src.GetPrices(ctx)
		if err != nil {
			o.logger.Warn("Failed to get prices from source", "source", src.Name(), "error", err)
			continue
		}

		kept := make(map[string]sources.Price, len(prices))
		for symbol, p := range prices {
			if keep(symbol) {
				kept[symbol] = p
			}
		}
		if len(kept) > 0 {
			sourcePrices[src.Name()] = kept
		}
	}

	if len(sourcePrices) == 0 {
		return nil, sources.ErrNoPricesAvailable
	}
	return o.aggregator.Aggregate(sourcePrices, o.weights)
}

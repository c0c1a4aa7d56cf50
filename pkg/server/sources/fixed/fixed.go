// Package fixed implements a price source serving configured prices. It is meant for
// development networks and tests.
package fixed

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/flux-aggregator/pkg/server/sources"
)

// Source serves the prices it was configured with.
type Source struct {
	*sources.BaseSource
	prices map[string]decimal.Decimal
}

var _ sources.Source = (*Source)(nil)

// New creates a fixed source. Config key pairs maps symbols to decimal price strings.
func New(config map[string]interface{}) (sources.Source, error) {
	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(pairs))
	for symbol, raw := range pairs {
		p, err := decimal.NewFromString(raw)
		if err != nil || !p.IsPositive() {
			return nil, fmt.Errorf("%w: price of %s must be a positive decimal, got %q", sources.ErrInvalidConfig, symbol, raw)
		}
		prices[symbol] = p
	}

	name := sources.GetNameFromConfig(config, "fixed")
	return &Source{
		BaseSource: sources.NewBaseSource(name, sources.SourceTypeFixed, pairs, sources.GetLoggerFromConfig(config)),
		prices:     prices,
	}, nil
}

// Initialize implements sources.Source.
func (s *Source) Initialize(_ context.Context) error {
	return nil
}

// Start publishes the configured prices.
func (s *Source) Start(_ context.Context) error {
	s.SetPrices(s.prices, time.Now())
	return nil
}

// Stop implements sources.Source.
func (s *Source) Stop() error {
	s.Close()
	return nil
}

func init() {
	sources.Register(string(sources.SourceTypeFixed), New)
}

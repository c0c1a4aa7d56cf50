package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/metrics"
)

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsed      = 20 * time.Second
)

// BaseSource carries the state shared by all source implementations: the symbol mapping,
// the latest prices, health and subscribers.
type BaseSource struct {
	name       string
	sourcetype SourceType
	symbols    []string
	pairs      map[string]string // unified symbol -> source-specific symbol

	mu          sync.RWMutex
	prices      map[string]Price
	lastUpdate  time.Time
	healthy     bool
	subscribers []chan<- PriceUpdate

	stopOnce sync.Once
	stopChan chan struct{}
	logger   *logging.Logger
}

// NewBaseSource creates a base source. pairs maps unified symbols (e.g. "LINK/USD") to
// the symbol the source uses for them.
func NewBaseSource(name string, sourcetype SourceType, pairs map[string]string, logger *logging.Logger) *BaseSource {
	symbols := make([]string, 0, len(pairs))
	for unified := range pairs {
		symbols = append(symbols, unified)
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	return &BaseSource{
		name:       name,
		sourcetype: sourcetype,
		symbols:    symbols,
		pairs:      pairs,
		prices:     make(map[string]Price),
		stopChan:   make(chan struct{}),
		logger:     logger.With("source", name),
	}
}

// Name returns the source name
func (b *BaseSource) Name() string {
	return b.name
}

// Type returns the source type
func (b *BaseSource) Type() SourceType {
	return b.sourcetype
}

// Symbols returns the symbols this source provides
func (b *BaseSource) Symbols() []string {
	return b.symbols
}

// IsHealthy returns the health status
func (b *BaseSource) IsHealthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy
}

// SetHealthy sets the health status
func (b *BaseSource) SetHealthy(healthy bool) {
	b.mu.Lock()
	b.healthy = healthy
	b.mu.Unlock()
	metrics.RecordSourceHealth(b.name, string(b.sourcetype), healthy)
}

// LastUpdate returns the time of the last successful price update
func (b *BaseSource) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// GetPrice returns a single price by unified symbol
func (b *BaseSource) GetPrice(symbol string) (Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.prices[symbol]
	return p, ok
}

// SetPrices stores a batch of prices, marks the source healthy and notifies subscribers.
func (b *BaseSource) SetPrices(prices map[string]decimal.Decimal, timestamp time.Time) {
	update := make(map[string]Price, len(prices))

	b.mu.Lock()
	for symbol, price := range prices {
		p := Price{
			Symbol:    symbol,
			Price:     price,
			Timestamp: timestamp,
			Source:    b.name,
		}
		b.prices[symbol] = p
		update[symbol] = p
	}
	b.lastUpdate = timestamp
	b.mu.Unlock()

	for symbol := range update {
		metrics.RecordSourceUpdate(b.name, symbol)
	}
	b.SetHealthy(true)
	b.notifySubscribers(PriceUpdate{Source: b.name, Prices: update})
}

// GetAllPrices returns a copy of all prices
func (b *BaseSource) GetAllPrices() map[string]Price {
	b.mu.RLock()
	defer b.mu.RUnlock()

	prices := make(map[string]Price, len(b.prices))
	for k, v := range b.prices {
		prices[k] = v
	}
	return prices
}

// GetPrices implements Source over the stored prices.
func (b *BaseSource) GetPrices(_ context.Context) (map[string]Price, error) {
	prices := b.GetAllPrices()
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPricesAvailable, b.name)
	}
	return prices, nil
}

// Subscribe implements Source.
func (b *BaseSource) Subscribe(updates chan<- PriceUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, updates)
	return nil
}

// RemoveSubscriber removes a price update subscriber
func (b *BaseSource) RemoveSubscriber(ch chan<- PriceUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, subscriber := range b.subscribers {
		if subscriber == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			break
		}
	}
}

func (b *BaseSource) notifySubscribers(update PriceUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- update:
		default:
			b.logger.Warn("Subscriber channel full, skipping update")
		}
	}
}

// RetryWithBackoff runs fn with exponential backoff until it succeeds, ctx is done or the
// retry budget is spent.
func (b *BaseSource) RetryWithBackoff(ctx context.Context, operation string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.MaxElapsedTime = retryMaxElapsed

	notify := func(err error, next time.Duration) {
		b.logger.Debug("Retrying source operation", "operation", operation, "error", err, "next", next)
	}
	return backoff.RetryNotify(fn, backoff.WithContext(policy, ctx), notify)
}

// StopChan is closed by Close.
func (b *BaseSource) StopChan() <-chan struct{} {
	return b.stopChan
}

// Close closes the stop channel. It is safe to call more than once.
func (b *BaseSource) Close() {
	b.stopOnce.Do(func() { close(b.stopChan) })
}

// Logger returns the source logger
func (b *BaseSource) Logger() *logging.Logger {
	return b.logger
}

// GetSourceSymbol converts unified symbol to source-specific symbol
// Returns empty string if not found
func (b *BaseSource) GetSourceSymbol(unifiedSymbol string) string {
	return b.pairs[unifiedSymbol]
}

// GetAllPairs returns a copy of the pair mappings
func (b *BaseSource) GetAllPairs() map[string]string {
	pairs := make(map[string]string, len(b.pairs))
	for k, v := range b.pairs {
		pairs[k] = v
	}
	return pairs
}

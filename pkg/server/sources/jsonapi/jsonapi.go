// Package jsonapi implements a price source that polls an HTTP endpoint returning JSON
// and extracts one price per symbol with a gjson path.
package jsonapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/flux-aggregator/pkg/server/sources"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultUpdateInterval = 30 * time.Second
	maxBodySize           = 4 << 20
)

// Source polls url every updateInterval.
type Source struct {
	*sources.BaseSource

	url            string
	headers        map[string]string
	updateInterval time.Duration
	client         *http.Client
}

var _ sources.Source = (*Source)(nil)

// New creates a JSON API source. Config keys: url, pairs (symbol -> gjson path),
// update_interval, timeout, headers.
func New(config map[string]interface{}) (sources.Source, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", sources.ErrInvalidConfig)
	}

	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}
	for symbol, path := range pairs {
		if path == "" {
			return nil, fmt.Errorf("%w: empty path for %s", sources.ErrInvalidConfig, symbol)
		}
	}

	updateInterval, err := sources.GetDurationFromConfig(config, "update_interval", defaultUpdateInterval)
	if err != nil {
		return nil, err
	}
	timeout, err := sources.GetDurationFromConfig(config, "timeout", defaultTimeout)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	if raw, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	name := sources.GetNameFromConfig(config, "jsonapi")
	logger := sources.GetLoggerFromConfig(config)

	return &Source{
		BaseSource:     sources.NewBaseSource(name, sources.SourceTypeJSONAPI, pairs, logger),
		url:            url,
		headers:        headers,
		updateInterval: updateInterval,
		client:         &http.Client{Timeout: timeout},
	}, nil
}

// Initialize implements sources.Source.
func (s *Source) Initialize(_ context.Context) error {
	s.Logger().Info("Initializing JSON API source", "url", s.url, "symbols", s.Symbols())
	return nil
}

// Start fetches once and then polls in the background until ctx is done or Stop is
// called.
func (s *Source) Start(ctx context.Context) error {
	if err := s.fetchPrices(ctx); err != nil {
		s.Logger().Warn("Failed to fetch initial prices", "error", err)
		s.SetHealthy(false)
	}
	go s.updateLoop(ctx)
	return nil
}

// Stop implements sources.Source.
func (s *Source) Stop() error {
	s.Close()
	return nil
}

func (s *Source) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(s.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.StopChan():
			return
		case <-ticker.C:
			err := s.RetryWithBackoff(ctx, "fetch_prices", func() error {
				return s.fetchPrices(ctx)
			})
			if err != nil {
				s.Logger().Error("Failed to fetch prices after retries", "error", err)
				s.SetHealthy(false)
			}
		}
	}
}

func (s *Source) fetchPrices(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d: %s", sources.ErrUnexpectedStatus, resp.StatusCode, string(body))
	}

	prices, err := ExtractPrices(body, s.GetAllPairs())
	if err != nil {
		return err
	}
	s.SetPrices(prices, time.Now())
	return nil
}

// ExtractPrices reads the price of every symbol in paths from body. Symbols whose path
// is missing or not a positive number are skipped; at least one price must be found.
func ExtractPrices(body []byte, paths map[string]string) (map[string]decimal.Decimal, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: not JSON", sources.ErrInvalidResponse)
	}

	prices := make(map[string]decimal.Decimal, len(paths))
	for symbol, path := range paths {
		price, err := parsePrice(gjson.GetBytes(body, path))
		if err != nil {
			continue
		}
		prices[symbol] = price
	}
	if len(prices) == 0 {
		return nil, sources.ErrNoPricesAvailable
	}
	return prices, nil
}

func parsePrice(value gjson.Result) (decimal.Decimal, error) {
	var (
		price decimal.Decimal
		err   error
	)
	switch value.Type {
	case gjson.Number:
		price, err = decimal.NewFromString(value.Raw)
	case gjson.String:
		price, err = decimal.NewFromString(value.Str)
	default:
		return decimal.Zero, fmt.Errorf("%w: %s is not a number", sources.ErrInvalidResponse, value.Raw)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", sources.ErrInvalidResponse, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s", sources.ErrInvalidResponse, price)
	}
	return price, nil
}

func init() {
	sources.Register(string(sources.SourceTypeJSONAPI), New)
}

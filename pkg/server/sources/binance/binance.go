// Package binance implements a Binance spot price source, polling the REST ticker or
// streaming mini tickers over WebSocket.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/flux-aggregator/pkg/server/sources"
	ws "github.com/StrathCole/flux-aggregator/pkg/server/sources/websocket"
)

const (
	defaultAPIURL       = "https://api.binance.com"
	defaultWSURL        = "wss://stream.binance.com:9443"
	defaultPollInterval = 15 * time.Second
	requestTimeout      = 10 * time.Second
)

// Source fetches prices from Binance.
type Source struct {
	*sources.BaseSource
	apiURL       string
	wsURL        string
	useWebSocket bool
	pollInterval time.Duration
	client       *http.Client
	// bySymbol maps upper-case Binance symbols to unified symbols.
	bySymbol map[string]string
}

var _ sources.Source = (*Source)(nil)

// Ticker is one entry of /api/v3/ticker/price.
type Ticker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// New creates a Binance source. Config keys: pairs (unified -> Binance symbol, e.g.
// "LINK/USDT": "LINKUSDT"), use_websocket, api_url, websocket_url, update_interval.
func New(config map[string]interface{}) (sources.Source, error) {
	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}

	bySymbol := make(map[string]string, len(pairs))
	for unified, symbol := range pairs {
		if symbol == "" {
			return nil, fmt.Errorf("%w: empty Binance symbol for %s", sources.ErrInvalidConfig, unified)
		}
		bySymbol[strings.ToUpper(symbol)] = unified
	}

	pollInterval, err := sources.GetDurationFromConfig(config, "update_interval", defaultPollInterval)
	if err != nil {
		return nil, err
	}

	s := &Source{
		BaseSource: sources.NewBaseSource(
			sources.GetNameFromConfig(config, "binance"), sources.SourceTypeCEX, pairs, sources.GetLoggerFromConfig(config)),
		apiURL:       defaultAPIURL,
		wsURL:        defaultWSURL,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: requestTimeout},
		bySymbol:     bySymbol,
	}
	if u, ok := config["api_url"].(string); ok && u != "" {
		s.apiURL = strings.TrimRight(u, "/")
	}
	if u, ok := config["websocket_url"].(string); ok && u != "" {
		s.wsURL = strings.TrimRight(u, "/")
	}
	if v, ok := config["use_websocket"].(bool); ok {
		s.useWebSocket = v
	}
	return s, nil
}

// Initialize implements sources.Source.
func (s *Source) Initialize(_ context.Context) error {
	s.Logger().Info("Initializing Binance source", "pairs", len(s.Symbols()), "websocket", s.useWebSocket)
	return nil
}

// Start fetches once over REST, then streams or polls in the background.
func (s *Source) Start(ctx context.Context) error {
	if err := s.fetchPrices(ctx); err != nil {
		s.Logger().Warn("Initial fetch failed", "error", err)
		s.SetHealthy(false)
	}

	if !s.useWebSocket {
		go s.pollLoop(ctx)
		return nil
	}

	client, err := ws.NewClient(ws.Config{URL: s.StreamURL(), Logger: s.Logger()}, ws.Handlers{
		OnMessage: s.handleMessage,
		OnDisconnect: func(error) {
			s.SetHealthy(false)
		},
	})
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.StopChan():
		case <-streamCtx.Done():
		}
		cancel()
	}()
	go func() {
		_ = client.Run(streamCtx)
	}()
	return nil
}

// Stop implements sources.Source.
func (s *Source) Stop() error {
	s.Close()
	return nil
}

func (s *Source) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
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
				s.Logger().Error("Failed to fetch prices", "error", err)
				s.SetHealthy(false)
			}
		}
	}
}

func (s *Source) fetchPrices(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/api/v3/ticker/price", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", sources.ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var tickers []Ticker
	if err := json.Unmarshal(body, &tickers); err != nil {
		return fmt.Errorf("%w: %v", sources.ErrInvalidResponse, err)
	}

	prices := make(map[string]decimal.Decimal, len(s.bySymbol))
	for _, t := range tickers {
		unified, ok := s.bySymbol[strings.ToUpper(t.Symbol)]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil || !price.IsPositive() {
			s.Logger().Warn("Failed to parse price", "symbol", t.Symbol, "price", t.Price)
			continue
		}
		prices[unified] = price
	}
	if len(prices) == 0 {
		return sources.ErrNoPricesAvailable
	}

	s.SetPrices(prices, time.Now())
	return nil
}

// StreamURL is the combined mini ticker stream of every configured symbol.
func (s *Source) StreamURL() string {
	streams := make([]string, 0, len(s.bySymbol))
	for symbol := range s.bySymbol {
		streams = append(streams, strings.ToLower(symbol)+"@miniTicker")
	}
	return s.wsURL + "/stream?streams=" + strings.Join(streams, "/")
}

// handleMessage reads a combined stream frame: {"stream":..., "data":{"s":..., "c":...}}.
func (s *Source) handleMessage(message []byte) {
	data := gjson.GetBytes(message, "data")
	if !data.Exists() {
		return
	}
	unified, ok := s.bySymbol[strings.ToUpper(data.Get("s").String())]
	if !ok {
		return
	}
	price, err := decimal.NewFromString(data.Get("c").String())
	if err != nil || !price.IsPositive() {
		s.Logger().Warn("Failed to parse streamed price", "symbol", unified, "error", err)
		return
	}
	s.SetPrices(map[string]decimal.Decimal{unified: price}, time.Now())
}

func init() {
	sources.Register("binance", New)
}

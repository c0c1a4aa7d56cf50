package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/StrathCole/flux-aggregator/pkg/feed"
	"github.com/StrathCole/flux-aggregator/pkg/flux"
	"github.com/StrathCole/flux-aggregator/pkg/server/api"
)

const defaultHTTPTimeout = 10 * time.Second

var _ Client = (*feed.Oracle)(nil)

// HTTPClient talks to a remote aggregator API on behalf of one oracle.
type HTTPClient struct {
	baseURL string
	feed    string
	oracle  string
	token   string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for oracle on feed at baseURL. token authorizes pushes.
func NewHTTPClient(baseURL, feedName, oracle, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		feed:    feedName,
		oracle:  oracle,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) oracleURL(suffix string) string {
	return fmt.Sprintf("%s/v1/feeds/%s/oracles/%s/%s",
		c.baseURL, url.PathEscape(c.feed), url.PathEscape(c.oracle), suffix)
}

// RoundState implements Client.
func (c *HTTPClient) RoundState(ctx context.Context, queried uint64) (feed.RoundState, error) {
	u := c.oracleURL("round-state")
	if queried != 0 {
		u += "?round=" + strconv.FormatUint(queried, 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return feed.RoundState{}, fmt.Errorf("failed to create request: %w", err)
	}

	var resp api.RoundStateResponse
	if err := c.do(req, &resp); err != nil {
		return feed.RoundState{}, err
	}
	return resp.RoundState()
}

// PushPrice implements Client.
func (c *HTTPClient) PushPrice(ctx context.Context, push flux.PriceRound) error {
	body, err := json.Marshal(api.PushPriceRequest{
		RoundID:   push.RoundID,
		UnitPrice: push.UnitPrice.Dec(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oracleURL("prices"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(req, nil)
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		var e api.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: %d: %s", ErrRejected, resp.StatusCode, msg)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

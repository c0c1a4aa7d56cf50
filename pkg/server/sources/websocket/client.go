package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/StrathCole/flux-aggregator/pkg/logging"
)

// Config holds WebSocket client configuration
type Config struct {
	URL     string
	Headers http.Header

	// ReconnectInitial and ReconnectMax bound the exponential reconnect delay.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration

	Logger *logging.Logger
}

// Handlers are called from the client's read loop.
type Handlers struct {
	OnMessage    func([]byte)
	OnConnect    func()
	OnDisconnect func(error)
}

// Client keeps one WebSocket connection alive until its context ends.
type Client struct {
	cfg      Config
	handlers Handlers
	logger   *logging.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

// NewClient creates a new WebSocket client
func NewClient(cfg Config, handlers Handlers) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrURLRequired
	}
	if cfg.ReconnectInitial == 0 {
		cfg.ReconnectInitial = time.Second
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 60 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait == 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait == 0 {
		cfg.WriteWait = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	return &Client{
		cfg:      cfg,
		handlers: handlers,
		logger:   logger.With("url", cfg.URL),
	}, nil
}

// Run connects and reconnects with exponential backoff until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.ReconnectInitial
	policy.MaxInterval = c.cfg.ReconnectMax
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(policy, ctx)

	for {
		conn, err := c.dial(ctx)
		if err == nil {
			retry.Reset()
			err = c.serve(ctx, conn)
			if ctx.Err() != nil {
				return nil
			}
			if c.handlers.OnDisconnect != nil {
				c.handlers.OnDisconnect(err)
			}
			c.logger.Warn("WebSocket disconnected", "error", err)
		} else {
			c.logger.Warn("WebSocket connection failed", "error", err)
		}

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return conn, nil
}

// serve reads from conn until it fails or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	c.logger.Info("WebSocket connected")
	if c.handlers.OnConnect != nil {
		c.handlers.OnConnect()
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(ctx, conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
			return ErrConnectionLost
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(message)
		}
	}
}

// pingLoop keeps the connection alive and closes it when ctx ends so the read returns.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			c.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			c.mu.Unlock()
			_ = conn.Close()
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait))
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("WebSocket ping failed", "error", err)
				return
			}
		}
	}
}

// SendJSON writes v on the current connection.
func (c *Client) SendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// IsConnected reports whether a connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

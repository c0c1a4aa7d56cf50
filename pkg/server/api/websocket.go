package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/gorilla/websocket"

	"github.com/StrathCole/flux-aggregator/pkg/feed"
	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/metrics"
)

const (
	EventLatestRound = "latest_round"
	EventQuote       = "quote"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// WebSocketServer streams round starts and unit quotes of every feed to connected clients.
type WebSocketServer struct {
	feeds    *feed.Registry
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*WebSocketClient]bool
}

// WebSocketClient represents a connected WebSocket client.
type WebSocketClient struct {
	conn          *websocket.Conn
	send          chan []byte
	server        *WebSocketServer
	subscribedAll bool
	feeds         map[string]bool
	mu            sync.RWMutex
}

// WebSocketMessage is a client request: "subscribe", "unsubscribe" or "ping".
// An empty feed list or "*" means every feed.
type WebSocketMessage struct {
	Type  string   `json:"type"`
	Feeds []string `json:"feeds"`
}

// EventMessage is sent to clients.
type EventMessage struct {
	Type  string               `json:"type"`
	Feed  string               `json:"feed"`
	Round *LatestRoundResponse `json:"round,omitempty"`
	Quote *QuoteResponse       `json:"quote,omitempty"`
}

// NewWebSocketServer creates a hub over the feeds of the registry.
func NewWebSocketServer(feeds *feed.Registry, logger *logging.Logger) *WebSocketServer {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &WebSocketServer{
		feeds:  feeds,
		logger: logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients: make(map[*WebSocketClient]bool),
	}
}

// Run forwards feed events to clients until ctx is cancelled, then disconnects everyone.
func (s *WebSocketServer) Run(ctx context.Context) error {
	g := taskgroup.New(nil)
	for _, f := range s.feeds.All() {
		g.Go(func() error {
			s.forward(ctx, f)
			return nil
		})
	}
	<-ctx.Done()
	err := g.Wait()

	s.mu.Lock()
	for client := range s.clients {
		delete(s.clients, client)
		close(client.send)
	}
	metrics.WebSocketClients.Set(0)
	s.mu.Unlock()
	return err
}

func (s *WebSocketServer) forward(ctx context.Context, f *feed.Feed) {
	rounds := f.SubscribeLatestRounds()
	defer rounds.Close()
	quotes := f.SubscribeQuotes()
	defer quotes.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case lr, ok := <-rounds.C():
			if !ok {
				return
			}
			round := NewLatestRoundResponse(lr)
			s.broadcast(EventMessage{Type: EventLatestRound, Feed: f.Name(), Round: &round})
		case q, ok := <-quotes.C():
			if !ok {
				return
			}
			quote := NewQuoteResponse(q)
			s.broadcast(EventMessage{Type: EventQuote, Feed: f.Name(), Quote: &quote})
		}
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &WebSocketClient{
		conn:          conn,
		send:          make(chan []byte, 256),
		server:        s,
		subscribedAll: true,
		feeds:         make(map[string]bool),
	}
	s.registerClient(client)

	go client.writePump()
	go client.readPump()

	s.logger.Info("New WebSocket client connected", "remote", conn.RemoteAddr())
}

// ClientCount returns the number of connected clients.
func (s *WebSocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *WebSocketServer) registerClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
	metrics.WebSocketClients.Set(float64(len(s.clients)))
}

func (s *WebSocketServer) unregisterClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
		metrics.WebSocketClients.Set(float64(len(s.clients)))
	}
}

func (s *WebSocketServer) broadcast(msg EventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal event", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		if !client.shouldReceive(msg.Feed) {
			continue
		}
		select {
		case client.send <- data:
		default:
			s.logger.Warn("Client send buffer full, skipping event", "feed", msg.Feed)
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.server.unregisterClient(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.server.logger.Warn("Invalid client message", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Feeds)
	case "unsubscribe":
		c.unsubscribe(msg.Feeds)
	case "ping":
		c.reply(map[string]string{"type": "pong"})
		return
	default:
		c.server.logger.Warn("Unknown message type", "type", msg.Type)
		return
	}
	c.reply(map[string]interface{}{"type": msg.Type + "d", "feeds": msg.Feeds})
}

func allFeeds(feeds []string) bool {
	return len(feeds) == 0 || (len(feeds) == 1 && feeds[0] == "*")
}

func (c *WebSocketClient) subscribe(feeds []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if allFeeds(feeds) {
		c.subscribedAll = true
		c.feeds = make(map[string]bool)
		return
	}
	c.subscribedAll = false
	for _, name := range feeds {
		c.feeds[name] = true
	}
}

func (c *WebSocketClient) unsubscribe(feeds []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if allFeeds(feeds) {
		c.subscribedAll = false
		c.feeds = make(map[string]bool)
		return
	}
	for _, name := range feeds {
		delete(c.feeds, name)
	}
}

func (c *WebSocketClient) shouldReceive(feedName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribedAll || c.feeds[feedName]
}

// reply is dropped when the client is gone or its buffer is full.
func (c *WebSocketClient) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	if !c.server.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

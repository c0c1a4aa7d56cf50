package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return env.ws.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, eventType string) EventMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg EventMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == eventType {
			return msg
		}
	}
}

func TestWebSocketStreamsFeedEvents(t *testing.T) {
	env := newTestEnv(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.ws.Run(ctx) }()
	go func() { _ = env.feed.Run(ctx) }()

	conn := dial(t, env)

	status, _ := env.push(t, "a", "token-a", 1, "100")
	require.Equal(t, http.StatusOK, status)

	msg := readEvent(t, conn, EventLatestRound)
	assert.Equal(t, feedName, msg.Feed)
	require.NotNil(t, msg.Round)
	assert.Equal(t, uint64(1), msg.Round.RoundID)
	assert.Equal(t, "a", msg.Round.StartedBy)

	status, _ = env.push(t, "b", "token-b", 1, "200")
	require.Equal(t, http.StatusOK, status)

	msg = readEvent(t, conn, EventQuote)
	require.NotNil(t, msg.Quote)
	require.Len(t, msg.Quote.Descriptions, 1)
	assert.Equal(t, "150", msg.Quote.Descriptions[0].AmountOut.Value)
}

func TestWebSocketSubscriptionFilter(t *testing.T) {
	env := newTestEnv(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.ws.Run(ctx) }()

	conn := dial(t, env)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "subscribe", Feeds: []string{"ATOM-USD"}}))
	var ack map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack["type"])

	status, _ := env.push(t, "a", "token-a", 1, "100")
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "ping"}))
	var pong map[string]interface{}
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])
}

func TestWebSocketRunDisconnectsClients(t *testing.T) {
	env := newTestEnv(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.ws.Run(ctx) }()

	dial(t, env)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 0, env.ws.ClientCount())
}

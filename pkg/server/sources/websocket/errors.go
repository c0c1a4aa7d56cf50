// Package websocket provides a reconnecting WebSocket client for streaming price sources.
package websocket

import "errors"

var (
	// ErrNotConnected indicates that the client is not connected.
	ErrNotConnected = errors.New("not connected")
	// ErrConnectionLost indicates that the connection was lost.
	ErrConnectionLost = errors.New("connection lost")
	// ErrURLRequired indicates a client without a URL.
	ErrURLRequired = errors.New("websocket url is required")
)

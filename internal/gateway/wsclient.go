package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solarhq/solar/internal/protocol"
)

// Caller sends one request to the router and returns its envelope. The HTTP
// bridge is written against this so tests can substitute a fake.
type Caller interface {
	Call(ctx context.Context, req protocol.BridgeRequest) (protocol.BridgeResponse, error)
}

// WSCaller dials the WebSocket bridge per request: one connection, one frame
// out, one frame back. Connections are not pooled; request volume is human
// scale and a fresh dial keeps failure handling trivial.
type WSCaller struct {
	// URL is the bridge endpoint, e.g. ws://127.0.0.1:8765/ws.
	URL string
	// Timeout bounds the whole exchange; it should exceed the router
	// timeout so slow provider calls still complete.
	Timeout time.Duration
}

func (c *WSCaller) Call(ctx context.Context, req protocol.BridgeRequest) (protocol.BridgeResponse, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 330 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(callCtx, c.URL, nil)
	if err != nil {
		return protocol.BridgeResponse{}, fmt.Errorf("dial router bridge: %w", err)
	}
	defer conn.Close()

	if deadline, ok := callCtx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(req); err != nil {
		return protocol.BridgeResponse{}, fmt.Errorf("send router request: %w", err)
	}
	var resp protocol.BridgeResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return protocol.BridgeResponse{}, fmt.Errorf("read router response: %w", err)
	}
	return resp, nil
}

package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solarhq/solar/internal/config"
	"github.com/solarhq/solar/internal/conversation"
	"github.com/solarhq/solar/internal/protocol"
	"github.com/solarhq/solar/internal/router"
)

type staticRunner struct{ output string }

func (s *staticRunner) Run(_ context.Context, _, _ string) (string, error) {
	return s.output, nil
}

type slowRunner struct {
	output string
	delay  time.Duration
}

func (s *slowRunner) Run(ctx context.Context, _, _ string) (string, error) {
	select {
	case <-time.After(s.delay):
		return s.output, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type noopCreator struct{}

func (noopCreator) Create(_ context.Context, _, _ string) (string, error) {
	return "task-1", nil
}

func newWSTestServer(t *testing.T, output string) (*httptest.Server, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		RuntimeDir:       t.TempDir(),
		SystemPromptFile: "/nonexistent/prompt.md",
		ContextTurns:     12,
		ProviderPriority: []string{"codex"},
		WSPath:           "/ws",
	}
	r := router.New(cfg,
		conversation.NewStore(cfg.ConversationDir(), cfg.ContextTurns),
		&staticRunner{output: output},
		noopCreator{},
	)
	srv := httptest.NewServer(NewWSServer(cfg, r).Handler())
	t.Cleanup(srv.Close)
	return srv, cfg
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWSRequestResponse(t *testing.T) {
	srv, _ := newWSTestServer(t, "plain answer")
	conn := dial(t, srv, "/ws")

	frame := protocol.BridgeRequest{
		Type: "request", RequestID: "r1", SessionID: "s1", UserID: "u1",
		Text: "hola", Channel: "telegram", Mode: "direct_only",
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatal(err)
	}
	var resp protocol.BridgeResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != "response" || resp.Status != "success" || resp.RequestID != "r1" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.ReplyText != "plain answer" {
		t.Errorf("reply = %q", resp.ReplyText)
	}
}

func TestWSMultipleRequestsSameConnection(t *testing.T) {
	srv, _ := newWSTestServer(t, "answer")
	conn := dial(t, srv, "/ws")

	for i := 0; i < 3; i++ {
		frame := protocol.BridgeRequest{
			Type: "request", RequestID: "r", SessionID: "s", UserID: "u",
			Text: "q", Mode: "direct_only",
		}
		if err := conn.WriteJSON(frame); err != nil {
			t.Fatal(err)
		}
		var resp protocol.BridgeResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Status != "success" {
			t.Fatalf("round %d: resp = %+v", i, resp)
		}
	}
}

func TestWSConnectionSurvivesCallLongerThanPongWindow(t *testing.T) {
	cfg := &config.Config{
		RuntimeDir:       t.TempDir(),
		SystemPromptFile: "/nonexistent/prompt.md",
		ContextTurns:     12,
		ProviderPriority: []string{"codex"},
		WSPath:           "/ws",
	}
	r := router.New(cfg,
		conversation.NewStore(cfg.ConversationDir(), cfg.ContextTurns),
		&slowRunner{output: "late answer", delay: 600 * time.Millisecond},
		noopCreator{},
	)
	s := NewWSServer(cfg, r)
	s.pongWait = 150 * time.Millisecond
	s.pingPeriod = 50 * time.Millisecond
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	conn := dial(t, srv, "/ws")

	// Each router call outlives the pong window several times over; the
	// connection must still deliver the response and accept the next frame.
	for i := 0; i < 2; i++ {
		frame := protocol.BridgeRequest{
			Type: "request", RequestID: "r", SessionID: "s", UserID: "u",
			Text: "q", Mode: "direct_only",
		}
		if err := conn.WriteJSON(frame); err != nil {
			t.Fatalf("round %d: write: %v", i, err)
		}
		var resp protocol.BridgeResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("round %d: read: %v", i, err)
		}
		if resp.Status != "success" || resp.ReplyText != "late answer" {
			t.Fatalf("round %d: resp = %+v", i, resp)
		}
	}
}

func TestWSInvalidPath(t *testing.T) {
	srv, _ := newWSTestServer(t, "unused")
	conn := dial(t, srv, "/nope")

	var resp protocol.BridgeResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ErrorCode == nil || *resp.ErrorCode != protocol.ErrInvalidPath {
		t.Fatalf("resp = %+v", resp)
	}
	if !strings.Contains(resp.ReplyText, "Invalid path. Use /ws") {
		t.Errorf("reply = %q", resp.ReplyText)
	}
	// The server closes the connection after the invalid_path frame.
	if err := conn.ReadJSON(&resp); err == nil {
		t.Error("expected connection close")
	}
}

func TestWSMissingFieldsIsBridgeError(t *testing.T) {
	srv, _ := newWSTestServer(t, "unused")
	conn := dial(t, srv, "/ws")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"request","text":"hi"}`)); err != nil {
		t.Fatal(err)
	}
	var resp protocol.BridgeResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ErrorCode == nil || *resp.ErrorCode != protocol.ErrBridgeError {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestWSWrongTypeIsBridgeError(t *testing.T) {
	srv, _ := newWSTestServer(t, "unused")
	conn := dial(t, srv, "/ws")

	frame := `{"type":"ping","request_id":"r","session_id":"s","user_id":"u","text":"x"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}
	var resp protocol.BridgeResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ErrorCode == nil || *resp.ErrorCode != protocol.ErrBridgeError || resp.RequestID != "r" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestWSInvalidJSONIsBridgeError(t *testing.T) {
	srv, _ := newWSTestServer(t, "unused")
	conn := dial(t, srv, "/ws")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{broken")); err != nil {
		t.Fatal(err)
	}
	var resp protocol.BridgeResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ErrorCode == nil || *resp.ErrorCode != protocol.ErrBridgeError || resp.RequestID != "n/a" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestWSRouterFailurePassesThrough(t *testing.T) {
	srv, _ := newWSTestServer(t, "unused")
	conn := dial(t, srv, "/ws")

	// Missing text reaches the router and comes back as its structured
	// envelope, not as a bridge_error.
	frame := `{"type":"request","request_id":"r","session_id":"s","user_id":"u","text":""}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}
	var resp protocol.BridgeResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ErrorCode == nil || *resp.ErrorCode != protocol.ErrMissingText {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestWSCallerRoundTrip(t *testing.T) {
	srv, _ := newWSTestServer(t, "via caller")
	caller := &WSCaller{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Timeout: 5 * time.Second,
	}
	resp, err := caller.Call(context.Background(), protocol.BridgeRequest{
		Type: "request", RequestID: "r9", SessionID: "s", UserID: "u",
		Text: "q", Mode: "direct_only",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" || resp.ReplyText != "via caller" {
		t.Fatalf("resp = %+v", resp)
	}
}

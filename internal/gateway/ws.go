package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solarhq/solar/internal/config"
	"github.com/solarhq/solar/internal/logging"
	"github.com/solarhq/solar/internal/protocol"
	"github.com/solarhq/solar/internal/router"
)

// Keepalive tuning: the router can legitimately take minutes, so pings keep
// the connection alive well past any idle timeout in between.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 180 * time.Second
	wsPingPeriod = 60 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSServer is the WebSocket bridge: a pure delegate that validates frames and
// forwards them to the in-process router.
type WSServer struct {
	cfg    *config.Config
	router *router.Router

	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewWSServer builds the bridge over cfg and an assembled router.
func NewWSServer(cfg *config.Config, r *router.Router) *WSServer {
	return &WSServer{cfg: cfg, router: r, pongWait: wsPongWait, pingPeriod: wsPingPeriod}
}

// Handler accepts upgrades on any path; connections to the wrong path get an
// invalid_path frame and are closed.
func (s *WSServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Errorf("websocket upgrade failed: %v", err)
			return
		}
		s.serveConn(r.Context(), conn, r.URL.Path)
	})
}

// ListenAndServe runs the bridge until ctx is cancelled.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.WSHost, strconv.Itoa(s.cfg.WSPort))
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Infof("websocket bridge listening on ws://%s%s", addr, s.cfg.WSPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *WSServer) serveConn(ctx context.Context, conn *websocket.Conn, path string) {
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(resp protocol.BridgeResponse) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(resp)
	}

	if path != s.cfg.WSPath {
		msg := "Invalid path. Use " + s.cfg.WSPath
		resp := protocol.BridgeResponse{Type: "response", RouterResponse: protocol.Failure("n/a", protocol.ErrInvalidPath, msg)}
		resp.ReplyText = msg
		_ = send(resp)
		return
	}

	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(s.pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Errorf("websocket read failed: %v", err)
			}
			return
		}
		if err := send(s.handleFrame(ctx, raw)); err != nil {
			logging.Errorf("websocket write failed: %v", err)
			return
		}
		// handleFrame can hold the loop for the full provider timeout, during
		// which no reads run and pongs go unprocessed. Re-arm the read
		// deadline before blocking on the next frame.
		conn.SetReadDeadline(time.Now().Add(s.pongWait))
	}
}

// handleFrame turns one inbound frame into one response frame. Frame-level
// failures become bridge_error envelopes; the router's own envelope is passed
// through untouched.
func (s *WSServer) handleFrame(ctx context.Context, raw []byte) protocol.BridgeResponse {
	requestID := "n/a"

	var fields map[string]json.RawMessage
	var req protocol.BridgeRequest
	if err := json.Unmarshal(raw, &fields); err != nil {
		return bridgeFailure(requestID, "invalid JSON frame: "+err.Error())
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return bridgeFailure(requestID, "invalid request frame: "+err.Error())
	}
	if req.RequestID != "" {
		requestID = req.RequestID
	}
	if err := validateFrame(fields, req); err != nil {
		return bridgeFailure(requestID, err.Error())
	}

	resp := s.router.Handle(ctx, protocol.RouterRequest{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Text:      req.Text,
		Channel:   req.Channel,
		Mode:      req.Mode,
		Provider:  req.Provider,
		Metadata:  req.Metadata,
	})
	return protocol.BridgeResponse{Type: "response", RouterResponse: resp}
}

// validateFrame requires type, request_id, session_id, user_id and text to be
// present, and type to equal "request". Presence is checked on the raw frame
// so an omitted field and an empty one are both rejected.
func validateFrame(fields map[string]json.RawMessage, req protocol.BridgeRequest) error {
	for _, k := range []string{"type", "request_id", "session_id", "user_id", "text"} {
		if _, ok := fields[k]; !ok {
			return fmt.Errorf("invalid request payload: missing required fields or type != request")
		}
	}
	if req.Type != "request" {
		return fmt.Errorf("invalid request payload: missing required fields or type != request")
	}
	return nil
}

func bridgeFailure(requestID, msg string) protocol.BridgeResponse {
	resp := protocol.BridgeResponse{Type: "response", RouterResponse: protocol.Failure(requestID, protocol.ErrBridgeError, msg)}
	resp.ReplyText = msg
	return resp
}

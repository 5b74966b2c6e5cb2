package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/solarhq/solar/internal/config"
	"github.com/solarhq/solar/internal/logging"
	"github.com/solarhq/solar/internal/protocol"
)

// BridgeName identifies this gateway in ACKs and health responses.
const BridgeName = "solar-transport-gateway"

// TelegramSender delivers a reply to a chat. A no-op implementation is used
// when no bot token is configured.
type TelegramSender interface {
	Send(chatID, text string) error
}

// HTTPBridge is the webhook ingress. Telegram updates are deduplicated,
// ACKed fast, and processed in the background; n8n requests are synchronous
// and get the router envelope back directly.
type HTTPBridge struct {
	cfg    *config.Config
	caller Caller
	dedup  DedupStore
	sender TelegramSender

	workers sync.WaitGroup
}

// NewHTTPBridge assembles the bridge.
func NewHTTPBridge(cfg *config.Config, caller Caller, dedup DedupStore, sender TelegramSender) *HTTPBridge {
	return &HTTPBridge{cfg: cfg, caller: caller, dedup: dedup, sender: sender}
}

// Routes builds the chi router for the bridge.
func (b *HTTPBridge) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", b.handleHealth)
	r.Post(b.cfg.WebhookBase+"/{channel}", b.handleWebhook)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"status": "failed",
			"error":  "Unknown route",
		})
	})
	return r
}

// ListenAndServe runs the bridge until ctx is cancelled, then drains the
// background Telegram workers.
func (b *HTTPBridge) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(b.cfg.HTTPHost, strconv.Itoa(b.cfg.HTTPPort))
	srv := &http.Server{Addr: addr, Handler: b.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Infof("webhook bridge listening on http://%s%s/<channel>", addr, b.cfg.WebhookBase)
	err := srv.ListenAndServe()
	b.workers.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Wait blocks until all background workers finish. Test hook.
func (b *HTTPBridge) Wait() { b.workers.Wait() }

func (b *HTTPBridge) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"bridge": BridgeName,
		"route":  b.cfg.WebhookBase + "/<channel>",
	})
}

func (b *HTTPBridge) handleWebhook(w http.ResponseWriter, req *http.Request) {
	channel := chi.URLParam(req, "channel")
	route := req.URL.Path

	var payload json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		b.writeBridgeError(w, route, "invalid JSON body: "+err.Error())
		return
	}

	switch channel {
	case protocol.ChannelTelegram:
		b.handleTelegram(w, route, payload)
	case protocol.ChannelN8N:
		b.handleN8N(w, route, payload)
	default:
		b.writeBridgeError(w, route, "Unsupported channel: "+channel)
	}
}

func (b *HTTPBridge) handleTelegram(w http.ResponseWriter, route string, payload json.RawMessage) {
	update, msg := parseTelegramUpdate(payload)
	if msg == nil {
		b.writeBridgeError(w, route, "Unsupported Telegram payload")
		return
	}

	dedupKey := telegramUpdateKey(update)
	if !b.dedup.Reserve(dedupKey) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"ok":        true,
			"duplicate": true,
			"bridge":    BridgeName,
			"route":     route,
			"channel":   protocol.ChannelTelegram,
		})
		return
	}

	bridgeReq := protocol.BridgeRequest{
		Type:      "request",
		RequestID: newRequestID("tg"),
		SessionID: "telegram:" + msg.chatID,
		UserID:    msg.userID,
		Text:      msg.text,
		Channel:   protocol.ChannelTelegram,
		Mode:      protocol.ModeAuto,
	}

	// Telegram expects the webhook to answer within seconds; the actual
	// routing happens after the ACK.
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"ok":         true,
		"accepted":   true,
		"bridge":     BridgeName,
		"route":      route,
		"channel":    protocol.ChannelTelegram,
		"request_id": bridgeReq.RequestID,
	})

	b.workers.Add(1)
	go func() {
		defer b.workers.Done()
		b.processTelegram(dedupKey, bridgeReq, msg.chatID)
	}()
}

// processTelegram routes one update and delivers the reply to the chat. The
// dedup key is only marked processed when the whole exchange succeeds, so a
// failed delivery can be retried by Telegram's own webhook retry.
func (b *HTTPBridge) processTelegram(dedupKey string, req protocol.BridgeRequest, chatID string) {
	success := false
	defer func() { b.dedup.Finish(dedupKey, success) }()

	resp, err := b.caller.Call(context.Background(), req)
	if err != nil {
		logging.Errorf("telegram processing failed (%s): %v", dedupKey, err)
		return
	}
	replyText := resp.ReplyText
	if replyText == "" {
		replyText = "No response from solar."
	}
	if err := b.sender.Send(chatID, replyText); err != nil {
		logging.Errorf("telegram send failed (%s): %v", dedupKey, err)
		return
	}
	success = true
}

func (b *HTTPBridge) handleN8N(w http.ResponseWriter, route string, payload json.RawMessage) {
	parsed := parseN8NRequest(payload)
	if parsed == nil {
		b.writeBridgeError(w, route, "Unsupported n8n payload")
		return
	}

	resp, err := b.caller.Call(context.Background(), protocol.BridgeRequest{
		Type:      "request",
		RequestID: parsed.requestID,
		SessionID: parsed.sessionID,
		UserID:    parsed.userID,
		Text:      parsed.text,
		Channel:   protocol.ChannelN8N,
		Mode:      protocol.ModeAuto,
	})
	if err != nil {
		b.writeBridgeError(w, route, err.Error())
		return
	}

	// The full router envelope goes back to n8n, with only bridge metadata
	// added on top.
	writeJSON(w, http.StatusOK, struct {
		Bridge string `json:"bridge"`
		Route  string `json:"route"`
		protocol.BridgeResponse
	}{Bridge: BridgeName, Route: route, BridgeResponse: resp})
}

func (b *HTTPBridge) writeBridgeError(w http.ResponseWriter, route, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"status": "failed",
		"bridge": BridgeName,
		"route":  route,
		"error":  msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// newRequestID mints a short unique id like tg_3f9a1c2b4d5e.
func newRequestID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

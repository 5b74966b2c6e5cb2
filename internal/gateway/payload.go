package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Inbound Telegram update, reduced to the fields the bridge needs. Pointer
// fields distinguish absent from zero; ids stay int64 to keep full precision
// for the dedup key.
type telegramUpdate struct {
	UpdateID *int64 `json:"update_id"`
	Message  *struct {
		MessageID *int64 `json:"message_id"`
		Date      *int64 `json:"date"`
		Text      string `json:"text"`
		Chat      *struct {
			ID *int64 `json:"id"`
		} `json:"chat"`
		From *struct {
			ID *int64 `json:"id"`
		} `json:"from"`
	} `json:"message"`
}

type telegramMessage struct {
	chatID string
	userID string
	text   string
}

// parseTelegramUpdate extracts the routable message. A nil message means the
// update is unsupported (no text or no chat id); edits, stickers and channel
// posts fall out here.
func parseTelegramUpdate(raw json.RawMessage) (*telegramUpdate, *telegramMessage) {
	var update telegramUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, nil
	}
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.Chat == nil || msg.Chat.ID == nil {
		return &update, nil
	}
	userID := "unknown"
	if msg.From != nil && msg.From.ID != nil {
		userID = strconv.FormatInt(*msg.From.ID, 10)
	}
	return &update, &telegramMessage{
		chatID: strconv.FormatInt(*msg.Chat.ID, 10),
		userID: userID,
		text:   msg.Text,
	}
}

// telegramUpdateKey derives the dedup key: the update_id when present, else a
// chat/message/date fallback so retries without update_id still collapse.
func telegramUpdateKey(update *telegramUpdate) string {
	if update.UpdateID != nil {
		return "telegram:update:" + strconv.FormatInt(*update.UpdateID, 10)
	}
	chatID, messageID, date := "unknown", "unknown", "unknown"
	if msg := update.Message; msg != nil {
		if msg.Chat != nil && msg.Chat.ID != nil {
			chatID = strconv.FormatInt(*msg.Chat.ID, 10)
		}
		if msg.MessageID != nil {
			messageID = strconv.FormatInt(*msg.MessageID, 10)
		}
		if msg.Date != nil {
			date = strconv.FormatInt(*msg.Date, 10)
		}
	}
	return strings.Join([]string{"telegram:fallback", chatID, messageID, date}, ":")
}

type n8nRequest struct {
	requestID string
	sessionID string
	userID    string
	text      string
}

// parseN8NRequest accepts either the native frame shape (type=request) or a
// loose webhook payload with the text under one of several known keys.
// Missing identifiers get stable defaults; a missing request_id is minted.
func parseN8NRequest(raw json.RawMessage) *n8nRequest {
	var payload struct {
		Type        string `json:"type"`
		RequestID   string `json:"request_id"`
		SessionID   string `json:"session_id"`
		UserID      string `json:"user_id"`
		Text        string `json:"text"`
		MessageText string `json:"message_text"`
		Message     string `json:"message"`
		Body        *struct {
			Text        string `json:"text"`
			MessageText string `json:"message_text"`
		} `json:"body"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}

	text := payload.Text
	if payload.Type != "request" {
		if text == "" {
			text = payload.MessageText
		}
		if text == "" {
			text = payload.Message
		}
		if text == "" && payload.Body != nil {
			text = payload.Body.Text
			if text == "" {
				text = payload.Body.MessageText
			}
		}
	}
	if text == "" {
		return nil
	}

	req := &n8nRequest{
		requestID: payload.RequestID,
		sessionID: payload.SessionID,
		userID:    payload.UserID,
		text:      text,
	}
	if req.requestID == "" {
		req.requestID = newRequestID("n8n")
	}
	if req.sessionID == "" {
		req.sessionID = "n8n:default"
	}
	if req.userID == "" {
		req.userID = "n8n-user"
	}
	return req
}

// Package protocol defines the router v3 wire contract shared by the router,
// the transport bridges and the task executor: the request/response envelope,
// the valid mode/channel/provider/decision sets, and the stable error codes.
package protocol

import "encoding/json"

// Modes select the routing policy.
const (
	ModeAuto       = "auto"
	ModeDirectOnly = "direct_only"
	ModeAsyncOnly  = "async_only"
)

// Channels identify the origin of an inbound request.
const (
	ChannelTelegram  = "telegram"
	ChannelN8N       = "n8n"
	ChannelAsyncTask = "async-task"
	ChannelOther     = "other"
)

// Decision kinds classify the router's action.
const (
	KindDirectReply           = "direct_reply"
	KindAsyncDraftProposal    = "async_draft_proposal"
	KindAsyncDraftCreated     = "async_draft_created"
	KindAsyncActivationNeeded = "async_activation_needed"
)

// Supported AI providers.
const (
	ProviderCodex  = "codex"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// Stable error_code values. Bridges never synthesize new codes when a
// structured one is available; they only wrap transport-level failures.
const (
	ErrMissingInput         = "missing_input"
	ErrInvalidJSON          = "invalid_json"
	ErrMissingText          = "missing_text"
	ErrInvalidMode          = "invalid_mode"
	ErrUnsupportedProvider  = "unsupported_provider"
	ErrAsyncTasksDisabled   = "async_tasks_disabled"
	ErrAsyncDraftFailed     = "async_draft_failed"
	ErrProviderLockedFailed = "provider_locked_failed"
	ErrAllProvidersFailed   = "all_providers_failed"
	ErrDecisionEngineFailed = "decision_engine_failed"
	ErrRouterCrashed        = "router_crashed"
	ErrRouterTimeout        = "router_timeout"
	ErrInvalidPath          = "invalid_path"
	ErrBridgeError          = "bridge_error"
)

// RouterRequest is the input at the policy boundary.
type RouterRequest struct {
	RequestID string          `json:"request_id"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Text      string          `json:"text"`
	Channel   string          `json:"channel"`
	Mode      string          `json:"mode"`
	Provider  string          `json:"provider,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Decision is the classification of the router's action.
type Decision struct {
	Kind              string  `json:"kind"`
	TaskID            *string `json:"task_id"`
	PrioritySuggested *string `json:"priority_suggested"`
}

// RouterResponse is the canonical envelope. Every field is always present in
// the emitted JSON; nullable fields are pointers.
type RouterResponse struct {
	Status       string   `json:"status"`
	RequestID    string   `json:"request_id"`
	ProviderUsed *string  `json:"provider_used"`
	ReplyText    string   `json:"reply_text"`
	Decision     Decision `json:"decision"`
	ErrorCode    *string  `json:"error_code"`
	Error        *string  `json:"error"`
}

// BridgeRequest is the WebSocket frame protocol inbound shape.
type BridgeRequest struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Text      string          `json:"text"`
	Channel   string          `json:"channel,omitempty"`
	Mode      string          `json:"mode,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// BridgeResponse is the WebSocket frame protocol outbound shape: a transport
// wrapper around the full router envelope.
type BridgeResponse struct {
	Type string `json:"type"`
	RouterResponse
}

// ValidMode reports whether mode belongs to the valid set.
func ValidMode(mode string) bool {
	switch mode {
	case ModeAuto, ModeDirectOnly, ModeAsyncOnly:
		return true
	}
	return false
}

// ValidChannel reports whether channel belongs to the valid set.
func ValidChannel(channel string) bool {
	switch channel {
	case ChannelTelegram, ChannelN8N, ChannelAsyncTask, ChannelOther:
		return true
	}
	return false
}

// NormalizeChannel maps unknown channel values to "other".
func NormalizeChannel(channel string) string {
	if ValidChannel(channel) {
		return channel
	}
	return ChannelOther
}

// SupportedProvider reports whether name is a known provider.
func SupportedProvider(name string) bool {
	switch name {
	case ProviderCodex, ProviderClaude, ProviderGemini:
		return true
	}
	return false
}

// ValidDecisionKind reports whether kind belongs to the valid set.
func ValidDecisionKind(kind string) bool {
	switch kind {
	case KindDirectReply, KindAsyncDraftProposal, KindAsyncDraftCreated, KindAsyncActivationNeeded:
		return true
	}
	return false
}

// Failure builds a failed envelope with the given error code and message.
// The decision degrades to direct_reply with no task id.
func Failure(requestID, code, msg string) RouterResponse {
	return RouterResponse{
		Status:    "failed",
		RequestID: requestID,
		Decision:  Decision{Kind: KindDirectReply},
		ErrorCode: &code,
		Error:     &msg,
	}
}

// StringPtr returns a pointer to s. Convenience for nullable envelope fields.
func StringPtr(s string) *string { return &s }

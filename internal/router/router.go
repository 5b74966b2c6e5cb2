// Package router implements the policy core: it validates requests, assembles
// prompts, runs providers with fallback, applies the decision engine, manages
// conversation memory, and always answers with the canonical envelope.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/solarhq/solar/internal/config"
	"github.com/solarhq/solar/internal/conversation"
	"github.com/solarhq/solar/internal/decision"
	"github.com/solarhq/solar/internal/logging"
	"github.com/solarhq/solar/internal/prompt"
	"github.com/solarhq/solar/internal/protocol"
)

const maxTitleLength = 80

// ProviderRunner executes one provider invocation.
type ProviderRunner interface {
	Run(ctx context.Context, provider, prompt string) (string, error)
}

// DraftCreator persists an async task draft and returns its id.
type DraftCreator interface {
	Create(ctx context.Context, title, description string) (string, error)
}

// ConversationStore is the memory the router reads and appends.
type ConversationStore interface {
	LoadRecent(conversationID string) ([]conversation.Record, error)
	Append(conversationID, role, text string) error
}

// Router routes one request end to end.
type Router struct {
	cfg     *config.Config
	store   ConversationStore
	runner  ProviderRunner
	creator DraftCreator
}

// New assembles a Router from its collaborators.
func New(cfg *config.Config, store ConversationStore, runner ProviderRunner, creator DraftCreator) *Router {
	return &Router{cfg: cfg, store: store, runner: runner, creator: creator}
}

// NewFromConfig wires a Router with the production collaborators.
func NewFromConfig(cfg *config.Config, runner ProviderRunner, creator DraftCreator) *Router {
	return New(cfg, conversation.NewStore(cfg.ConversationDir(), cfg.ContextTurns), runner, creator)
}

// Handle processes one request and always returns a complete envelope; it
// never returns an error. Validation failures, provider failures and policy
// failures all surface as status=failed with a stable error_code.
func (r *Router) Handle(ctx context.Context, req protocol.RouterRequest) protocol.RouterResponse {
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = "unknown"
	}
	sessionID := strings.TrimSpace(req.SessionID)
	userID := strings.TrimSpace(req.UserID)
	text := strings.TrimSpace(req.Text)
	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	if channel == "" {
		channel = protocol.ChannelOther
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = protocol.ModeAuto
	}
	providerOverride := strings.ToLower(strings.TrimSpace(req.Provider))

	if text == "" {
		return protocol.Failure(requestID, protocol.ErrMissingText, "missing text field")
	}
	if !protocol.ValidMode(mode) {
		return protocol.Failure(requestID, protocol.ErrInvalidMode,
			fmt.Sprintf("unsupported mode: %s. valid: [async_only auto direct_only]", mode))
	}
	if providerOverride != "" && !protocol.SupportedProvider(providerOverride) {
		return protocol.Failure(requestID, protocol.ErrUnsupportedProvider,
			"unsupported provider: "+providerOverride)
	}
	channel = protocol.NormalizeChannel(channel)

	conversationID := userID
	if conversationID == "" {
		conversationID = sessionID
	}
	if conversationID == "" {
		conversationID = "default"
	}

	// async_only never touches a provider: the draft is created straight
	// from the user text.
	if mode == protocol.ModeAsyncOnly {
		return r.handleAsyncOnly(ctx, requestID, conversationID, text)
	}

	systemPrompt := prompt.ReadSystemPrompt(r.cfg.SystemPromptFile)
	recent, err := r.store.LoadRecent(conversationID)
	if err != nil {
		logging.Errorf("conversation load failed for %s: %v", conversationID, err)
		recent = nil
	}
	fullPrompt := prompt.Build(systemPrompt, recent, text, conversationID, mode, channel)

	var (
		aiOutput     string
		providerUsed string
	)
	if providerOverride != "" {
		aiOutput, err = r.runner.Run(ctx, providerOverride, fullPrompt)
		if err != nil {
			resp := protocol.Failure(requestID, protocol.ErrProviderLockedFailed, err.Error())
			resp.ProviderUsed = protocol.StringPtr(providerOverride)
			return resp
		}
		providerUsed = providerOverride
	} else {
		aiOutput, providerUsed, err = r.runWithFallback(ctx, fullPrompt)
		if err != nil {
			return protocol.Failure(requestID, protocol.ErrAllProvidersFailed, err.Error())
		}
	}

	var aiOutputForDecision *string
	if mode == protocol.ModeAuto && channel != protocol.ChannelAsyncTask {
		aiOutputForDecision = &aiOutput
	}
	dec, parsed, err := decision.Decide(mode, channel, aiOutputForDecision)
	if err != nil {
		resp := protocol.Failure(requestID, protocol.ErrDecisionEngineFailed, err.Error())
		resp.ProviderUsed = protocol.StringPtr(providerUsed)
		resp.ReplyText = aiOutput
		return resp
	}

	replyText := aiOutput
	if parsed != nil && parsed.ReplyText != nil {
		replyText = *parsed.ReplyText
	}

	if dec.Kind == protocol.KindAsyncDraftCreated && dec.TaskID == nil {
		dec, replyText = r.materializeDraft(ctx, dec, text, replyText)
	}

	r.persistTurn(conversationID, text, replyText)

	return protocol.RouterResponse{
		Status:       "success",
		RequestID:    requestID,
		ProviderUsed: protocol.StringPtr(providerUsed),
		ReplyText:    replyText,
		Decision:     dec,
	}
}

// handleAsyncOnly creates a draft from the raw user text, bypassing providers.
func (r *Router) handleAsyncOnly(ctx context.Context, requestID, conversationID, text string) protocol.RouterResponse {
	if !r.cfg.AsyncTasksEnabled() {
		return protocol.Failure(requestID, protocol.ErrAsyncTasksDisabled,
			"mode=async_only requested but async-tasks feature is not enabled in SOLAR_SYSTEM_FEATURES")
	}
	title := deriveTitle(text)
	replyText := "Creando tarea asíncrona: " + title
	taskID, err := r.creator.Create(ctx, title, text)
	if err != nil {
		return protocol.Failure(requestID, protocol.ErrAsyncDraftFailed, err.Error())
	}

	r.persistTurn(conversationID, text, replyText)

	return protocol.RouterResponse{
		Status:    "success",
		RequestID: requestID,
		ReplyText: replyText,
		Decision: protocol.Decision{
			Kind:              protocol.KindAsyncDraftCreated,
			TaskID:            protocol.StringPtr(taskID),
			PrioritySuggested: protocol.StringPtr("normal"),
		},
	}
}

// runWithFallback tries providers in priority order and returns the first
// success along with the provider name.
func (r *Router) runWithFallback(ctx context.Context, fullPrompt string) (string, string, error) {
	var lastErr error
	for _, p := range r.cfg.ProviderPriority {
		out, err := r.runner.Run(ctx, p, fullPrompt)
		if err == nil {
			return out, p, nil
		}
		lastErr = err
		logging.Errorf("provider %s failed: %v", p, err)
	}
	return "", "", fmt.Errorf("all providers failed. last error: %v", lastErr)
}

// materializeDraft turns an async_draft_created decision into an actual task.
// Creation failure or a disabled feature degrades to direct_reply, never to a
// failed envelope: the AI's reply is still worth delivering.
func (r *Router) materializeDraft(ctx context.Context, dec protocol.Decision, text, replyText string) (protocol.Decision, string) {
	if !r.cfg.AsyncTasksEnabled() {
		dec.Kind = protocol.KindDirectReply
		dec.TaskID = nil
		return dec, replyText
	}
	description := replyText
	if description == "" {
		description = text
	}
	taskID, err := r.creator.Create(ctx, deriveTitle(text), description)
	if err != nil {
		dec.Kind = protocol.KindDirectReply
		dec.TaskID = nil
		return dec, replyText + "\n\n[Warning: async draft creation failed: " + err.Error() + "]"
	}
	dec.TaskID = protocol.StringPtr(taskID)
	return dec, replyText
}

// persistTurn appends the user message then the assistant reply. Memory is
// written only on the success paths.
func (r *Router) persistTurn(conversationID, userText, replyText string) {
	if err := r.store.Append(conversationID, conversation.RoleUser, userText); err != nil {
		logging.Errorf("conversation append failed for %s: %v", conversationID, err)
		return
	}
	if err := r.store.Append(conversationID, conversation.RoleAssistant, replyText); err != nil {
		logging.Errorf("conversation append failed for %s: %v", conversationID, err)
	}
}

// deriveTitle caps the user text at 80 characters for use as a task title.
func deriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) > maxTitleLength {
		runes = runes[:maxTitleLength]
	}
	return strings.TrimSpace(string(runes))
}

// Package prompt assembles the full provider prompt from the system prompt,
// the recent conversation window, and the current message.
package prompt

import (
	"os"
	"strings"

	"github.com/solarhq/solar/internal/conversation"
	"github.com/solarhq/solar/internal/protocol"
)

// DefaultSystemPrompt is used when the configured system prompt file is
// missing, so the router keeps working on a fresh checkout.
const DefaultSystemPrompt = "You are Solar, a practical AI assistant. Keep continuity with previous" +
	" conversation turns and answer with clear, useful output."

const autoModeInstruction = "IMPORTANT: You must respond with a JSON object as your first output block. " +
	"The JSON must contain at minimum:\n" +
	`  {"decision": {"kind": "<direct_reply|async_draft_created|async_activation_needed>"}, ` +
	`"reply_text": "<your response here>"}` + "\n" +
	"Use direct_reply for requests answerable immediately. " +
	"Use async_draft_created only for long-running, complex, or deferred tasks. " +
	"Do NOT wrap the JSON in markdown code fences."

// ReadSystemPrompt loads the system prompt file, falling back to the built-in
// default when the file does not exist.
func ReadSystemPrompt(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DefaultSystemPrompt
	}
	return strings.TrimSpace(string(raw))
}

// Build assembles the single prompt string sent to a provider. Modes other
// than auto ask for a plain reply; auto asks for the structured JSON block
// the decision parser expects.
func Build(systemPrompt string, recent []conversation.Record, userText, conversationID, mode, channel string) string {
	var lines []string
	lines = append(lines, systemPrompt)
	lines = append(lines, "")
	lines = append(lines, "Conversation context")
	lines = append(lines, "- conversation_id: "+conversationID)
	lines = append(lines, "- channel: "+channel)
	lines = append(lines, "- mode: "+mode)
	lines = append(lines, "")
	if len(recent) > 0 {
		lines = append(lines, "Recent turns (oldest -> newest):")
		for _, item := range recent {
			label := "ASSISTANT"
			if item.Role == conversation.RoleUser {
				label = "USER"
			}
			lines = append(lines, label+": "+item.Text)
		}
		lines = append(lines, "")
	}
	lines = append(lines, "Current user message:")
	lines = append(lines, userText)
	lines = append(lines, "")
	if mode == protocol.ModeAuto {
		lines = append(lines, autoModeInstruction)
	} else {
		lines = append(lines, "Respond directly to the current user message.")
	}
	return strings.Join(lines, "\n")
}

// Package telegram delivers outbound replies through the Bot API.
package telegram

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/solarhq/solar/internal/logging"
)

// Sender posts messages to chats via a bot.
type Sender struct {
	bot            *tgbotapi.BotAPI
	parseMode      string
	disablePreview bool
}

// NewSender builds a Sender. An empty token yields a no-op sender so the
// bridge can run without Telegram delivery (n8n-only deployments).
func NewSender(token, parseMode string, disablePreview bool) (*Sender, error) {
	if token == "" {
		logging.Infof("telegram delivery disabled: no bot token configured")
		return &Sender{parseMode: parseMode, disablePreview: disablePreview}, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return &Sender{bot: bot, parseMode: parseMode, disablePreview: disablePreview}, nil
}

// Send posts text to the chat. No-op when no bot is configured.
func (s *Sender) Send(chatID, text string) error {
	if s.bot == nil {
		return nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = s.parseMode
	msg.DisableWebPagePreview = s.disablePreview
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

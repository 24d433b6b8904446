package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/graphvault/graphvault/internal/config"
	"github.com/graphvault/graphvault/internal/logging"
)

// Notify sends a one-off message without requiring a running bot instance.
func Notify(token string, chatID int64, text string) {
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 || strings.TrimSpace(text) == "" {
		return
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	_, _ = bot.Send(msg)
}

// Notifier pings the operator's chat when a stored credential dies and a
// fresh sign-in is needed. Sends are fire-and-forget; a lost ping never
// blocks or fails a token operation.
type Notifier struct {
	botToken string
	chatID   int64
	logger   *logging.Logger
}

// NewNotifier builds a notifier from configuration. Returns nil when the
// integration is disabled; a nil *Notifier is safe to skip at the call site.
func NewNotifier(cfg config.TelegramConfig, logger *logging.Logger) *Notifier {
	if !cfg.Enabled || strings.TrimSpace(cfg.BotToken) == "" || cfg.ChatID == 0 {
		return nil
	}
	return &Notifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		logger:   logger,
	}
}

// NotifyReauthRequired tells the operator that a user must sign in again.
func (n *Notifier) NotifyReauthRequired(userID string) {
	text := fmt.Sprintf("⚠️ *Sign-in required*\n\nThe stored Microsoft credential for `%s` is no longer valid. Open the login link to reconnect.", userID)

	go func() {
		Notify(n.botToken, n.chatID, text)
		n.logger.Info("reauth notification sent", "user_id", userID)
	}()
}

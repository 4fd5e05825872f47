// Package telegram pushes notifications to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/wishsync/internal/notify"
)

// Bot wraps the Telegram bot API and delivers notifications to one chat
type Bot struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *logrus.Logger
}

// NewBot creates a bot sending to chatID
func NewBot(token string, chatID int64, logger *logrus.Logger) (*Bot, error) {
	return NewBotWithEndpoint(token, tgbotapi.APIEndpoint, chatID, logger)
}

// NewBotWithEndpoint creates a bot against a custom Bot API endpoint, in the
// tgbotapi format http://host/bot%s/%s
func NewBotWithEndpoint(token, endpoint string, chatID int64, logger *logrus.Logger) (*Bot, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	logger.Infof("Authorized on account %s", api.Self.UserName)

	return &Bot{
		api:    api,
		chatID: chatID,
		logger: logger,
	}, nil
}

// Name implements notify.Sink.
func (b *Bot) Name() string { return "telegram" }

// Send implements notify.Sink.
func (b *Bot) Send(ctx context.Context, ev notify.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := fmt.Sprintf("*%s*\n%s",
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, ev.Title),
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, ev.Body))
	return b.SendMessage(b.chatID, text)
}

// SendMessage sends a message to a chat
func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	_, err := b.api.Send(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	b.logger.WithField("chat_id", chatID).Debug("Notification pushed")
	return nil
}

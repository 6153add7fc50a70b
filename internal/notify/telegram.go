package notify

import (
	"context"
	"fmt"

	"tablewatch/internal/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender pushes messages to users who linked a chat id to their
// account.
type TelegramSender struct {
	bot *tgbotapi.BotAPI
}

func NewTelegramSender(cfg config.TelegramConfig) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Debug = cfg.Debug
	return &TelegramSender{bot: bot}, nil
}

func (s *TelegramSender) SendTelegram(_ context.Context, chatID int64, body string) error {
	msg := tgbotapi.NewMessage(chatID, body)
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

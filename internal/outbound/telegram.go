package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/omnihubio/omnihub/internal/instance"
)

// TelegramSender delivers text through the Telegram bot API. Bot clients
// are cached per token.
type TelegramSender struct {
	logger *slog.Logger

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

func NewTelegramSender(log *slog.Logger) *TelegramSender {
	return &TelegramSender{
		logger: log.With(slog.String("sender", "telegram")),
		bots:   make(map[string]*tgbotapi.BotAPI),
	}
}

func (s *TelegramSender) bot(token string) (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bot, ok := s.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	s.bots[token] = bot
	return bot, nil
}

func (s *TelegramSender) Send(_ context.Context, inst instance.Instance, recipient, text string) SendResult {
	if inst.TelegramBotToken == "" {
		return SendResult{Err: fmt.Errorf("instance %q has no telegram token", inst.Name)}
	}
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return SendResult{Err: fmt.Errorf("telegram chat id %q: %w", recipient, err)}
	}

	bot, err := s.bot(inst.TelegramBotToken)
	if err != nil {
		return SendResult{Err: err}
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return SendResult{Err: fmt.Errorf("telegram send: %w", err)}
	}
	s.logger.Debug("unit sent",
		slog.String("instance", inst.Name),
		slog.Int64("chat_id", chatID))
	return SendResult{Success: true, StatusCode: 200}
}

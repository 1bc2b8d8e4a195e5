package alerts

import (
	"context"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"barometer/pkg/errors"
)

// TelegramSender delivers alert messages to one chat. Sends are rate
// limited under the Bot API ceiling.
type TelegramSender struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
}

// NewTelegramSender creates a sender bound to one bot token and chat
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	if token == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "telegram bot token is required")
	}
	if chatID == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "telegram chat id is required")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}

	return &TelegramSender{
		api:     api,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(20), 30),
	}, nil
}

// Send posts one markdown message to the configured chat
func (s *TelegramSender) Send(ctx context.Context, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "alert rate limit")
	}

	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := s.api.Send(msg); err != nil {
		return errors.Wrap(err, "send telegram alert")
	}
	return nil
}

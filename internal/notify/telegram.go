package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotSender is the subset of the Telegram bot API used for messaging.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramMessenger sends messages to Telegram chats; the address is the chat ID.
type TelegramMessenger struct {
	api BotSender
}

func NewTelegramMessenger(api BotSender) *TelegramMessenger {
	return &TelegramMessenger{api: api}
}

func (m *TelegramMessenger) SendMessage(ctx context.Context, address, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return &DeliveryError{Target: address, Permanent: true, Err: fmt.Errorf("invalid chat id: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Target: address, Err: err}
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := m.api.Send(msg); err != nil {
		return classifyTelegramError(address, err)
	}
	return nil
}

// classifyTelegramError treats blocked bots and unknown chats as permanent.
func classifyTelegramError(address string, err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return &DeliveryError{Target: address, Err: err}
	}
	permanent := apiErr.Code == http.StatusForbidden ||
		(apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "chat not found"))
	return &DeliveryError{Target: address, StatusCode: apiErr.Code, Permanent: permanent, Err: err}
}

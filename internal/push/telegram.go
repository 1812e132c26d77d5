package push

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/telebot.v3"

	"github.com/dukerupert/mealminder/internal/model"
)

// Bot is the part of *telebot.Bot the sender uses.
type Bot interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Telegram delivers to chats. Endpoint tokens are numeric chat IDs.
type Telegram struct {
	bot Bot
}

// NewTelegram creates a send-only bot. Offline mode skips the getMe call so
// construction never touches the network.
func NewTelegram(token string) (*Telegram, error) {
	bot, err := telebot.NewBot(telebot.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

// NewTelegramWithBot wraps an existing bot.
func NewTelegramWithBot(bot Bot) *Telegram {
	return &Telegram{bot: bot}
}

func (s *Telegram) Send(ctx context.Context, endpoints []model.DeviceEndpoint, msg Message) (Result, error) {
	text := msg.Body
	if msg.Title != "" {
		text = msg.Title + "\n" + msg.Body
	}

	var (
		res     Result
		lastErr error
	)
	for _, ep := range endpoints {
		if err := ctx.Err(); err != nil {
			res.FailureCount++
			lastErr = err
			continue
		}
		chatID, err := strconv.ParseInt(ep.Token, 10, 64)
		if err != nil {
			res.FailureCount++
			res.InvalidTokens = append(res.InvalidTokens, ep.Token)
			continue
		}
		_, err = s.bot.Send(telebot.ChatID(chatID), text, &telebot.SendOptions{ParseMode: telebot.ModeDefault})
		switch {
		case err == nil:
			res.SuccessCount++
		case isGoneChat(err):
			res.FailureCount++
			res.InvalidTokens = append(res.InvalidTokens, ep.Token)
		default:
			res.FailureCount++
			lastErr = fmt.Errorf("telegram send: %w", err)
		}
	}
	if res.SuccessCount == 0 && lastErr != nil {
		return res, lastErr
	}
	return res, nil
}

func isGoneChat(err error) bool {
	return errors.Is(err, telebot.ErrBlockedByUser) ||
		errors.Is(err, telebot.ErrChatNotFound) ||
		errors.Is(err, telebot.ErrUserIsDeactivated)
}

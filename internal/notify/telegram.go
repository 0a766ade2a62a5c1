// Package notify pushes position-close and fatal-error notifications to a
// Telegram chat. Disabled unless a bot token is configured.
package notify

import (
	"fmt"
	"log"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Telegram struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

func NewTelegram(botToken, chatID string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id: %w", err)
	}
	return &Telegram{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     3,
		retryDelayBase: time.Second,
	}, nil
}

// PositionClosed pings the chat with the realized result of one market.
func (t *Telegram) PositionClosed(slug, status, pnl string) {
	emoji := "✅"
	if len(pnl) > 0 && pnl[0] == '-' {
		emoji = "🔻"
	}
	t.send(fmt.Sprintf("%s %s closed (%s): pnl %s", emoji, slug, status, pnl))
}

// Fatal pings the chat about a task that died.
func (t *Telegram) Fatal(task string, err error) {
	t.send(fmt.Sprintf("⚠️ %s stopped: %v", task, err))
}

func (t *Telegram) send(text string) {
	if t == nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if _, err := t.bot.Send(msg); err == nil {
			return
		} else {
			lastErr = err
		}
		time.Sleep(t.retryDelayBase * time.Duration(i+1))
	}
	log.Printf("[warn] telegram send failed after %d retries: %v", t.maxRetries, lastErr)
}

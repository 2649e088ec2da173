package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdRun     = "run"
	cmdRefresh = "refresh"
	cmdStop    = "stop"
	cbForget   = "forget"
	cbNoop     = "noop"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return
	}

	action := parts[0]
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdRun:
		b.handleRun(ctx, chatID)
	case cmdRefresh:
		b.handleRefresh(chatID)
	case cmdStop:
		b.handleStop(ctx, chatID)
	case cbForget:
		// The id must name the chat the button was pressed in.
		if id != chatID {
			return
		}
		b.handleForget(ctx, chatID)
	case cbNoop:
	}
}

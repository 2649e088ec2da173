package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"timetable_bot/internal/delivery"
)

// Send posts text to chatID and returns the new message id.
func (b *Bot) Send(_ context.Context, chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, classifyError(err)
	}
	return sent.MessageID, nil
}

// Edit replaces the text of an existing message.
func (b *Bot) Edit(_ context.Context, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.DisableWebPagePreview = true
	if _, err := b.api.Send(edit); err != nil {
		return classifyError(err)
	}
	return nil
}

// Pin pins a message without notifying chat members.
func (b *Bot) Pin(_ context.Context, chatID int64, messageID int) error {
	pin := tgbotapi.PinChatMessageConfig{
		ChatID:              chatID,
		MessageID:           messageID,
		DisableNotification: true,
	}
	if _, err := b.api.Request(pin); err != nil {
		return classifyError(err)
	}
	return nil
}

// Unpin unpins a single message.
func (b *Bot) Unpin(_ context.Context, chatID int64, messageID int) error {
	unpin := tgbotapi.UnpinChatMessageConfig{
		ChatID:    chatID,
		MessageID: messageID,
	}
	if _, err := b.api.Request(unpin); err != nil {
		return classifyError(err)
	}
	return nil
}

// classifyError maps a Bot API error description onto the delivery errors.
func classifyError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	desc := strings.ToLower(apiErr.Message)

	var kind error
	switch {
	case strings.Contains(desc, "message is not modified"):
		kind = delivery.ErrNotModified
	case containsAny(desc, "chat not found", "bot was kicked", "bot was blocked",
		"bot is not a member", "user is deactivated", "group chat was deleted"):
		kind = delivery.ErrConversationNotFound
	case containsAny(desc, "not enough rights", "chat_admin_required", "have no rights") || apiErr.Code == 403:
		kind = delivery.ErrPermissionDenied
	case containsAny(desc, "not found", "message can't be edited"):
		kind = delivery.ErrNotFound
	default:
		return fmt.Errorf("telegram error %d: %s", apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: telegram error %d: %s", kind, apiErr.Code, apiErr.Message)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

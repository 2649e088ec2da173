// Package delivery keeps a chat's messages in step with a schedule projection:
// it decides per day whether to send, edit or leave a message, and it keeps
// the current day's message pinned.
package delivery

import (
	"context"
	"errors"
)

// Errors reported by a MessagePort. Implementations wrap them with the
// platform's own error description.
var (
	ErrNotFound             = errors.New("message not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotModified          = errors.New("message not modified")
)

// MessagePort sends and manages messages in a conversation.
type MessagePort interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
	Pin(ctx context.Context, chatID int64, messageID int) error
	Unpin(ctx context.Context, chatID int64, messageID int) error
}

// IsConversationWide reports whether err affects the whole conversation rather
// than a single message.
func IsConversationWide(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrConversationNotFound)
}

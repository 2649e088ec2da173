package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"timetable_bot/internal/model"
)

// Pinner keeps exactly the message for today pinned.
type Pinner struct {
	port MessagePort
	log  *slog.Logger
}

// NewPinner creates a Pinner that talks to port.
func NewPinner(port MessagePort, log *slog.Logger) *Pinner {
	return &Pinner{port: port, log: log}
}

// Apply pins the unpinned days of p that fall on today and unpins every other
// pinned day, updating the Pinned flags in place. Running it twice on the same
// day makes no calls the second time.
//
// ErrPermissionDenied and ErrConversationNotFound stop the pass and are
// returned; other failures are logged and the pass continues.
func (p *Pinner) Apply(ctx context.Context, chatID int64, proj *model.Projection, today time.Weekday) error {
	for i := range proj.Days {
		day := &proj.Days[i]
		msg := &day.Message

		switch {
		case day.IsDay(today) && !msg.Pinned:
			if !msg.Delivered() {
				p.log.Error("cannot pin undelivered day", "chat_id", chatID, "day", i, "weekday", today.String())
				continue
			}
			err := p.port.Pin(ctx, chatID, *msg.ID)
			if err != nil {
				if IsConversationWide(err) {
					return fmt.Errorf("pin message %d: %w", *msg.ID, err)
				}
				p.log.Error("pin message", "chat_id", chatID, "message_id", *msg.ID, "error", err)
				continue
			}
			msg.Pinned = true

		case msg.Pinned && !day.IsDay(today):
			if !msg.Delivered() {
				msg.Pinned = false
				continue
			}
			err := p.port.Unpin(ctx, chatID, *msg.ID)
			switch {
			case err == nil:
			case IsConversationWide(err):
				return fmt.Errorf("unpin message %d: %w", *msg.ID, err)
			case errors.Is(err, ErrNotFound):
				// The message is gone, so it is not pinned any more.
				p.log.Warn("unpin missing message", "chat_id", chatID, "message_id", *msg.ID, "error", err)
			default:
				p.log.Error("unpin message", "chat_id", chatID, "message_id", *msg.ID, "error", err)
				continue
			}
			msg.Pinned = false
		}
	}
	return nil
}

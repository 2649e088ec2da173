package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"timetable_bot/internal/model"
	"timetable_bot/internal/timetable"
)

// Reconciler delivers projections to a conversation.
type Reconciler struct {
	port MessagePort
	log  *slog.Logger
}

// NewReconciler creates a Reconciler that talks to port.
func NewReconciler(port MessagePort, log *slog.Logger) *Reconciler {
	return &Reconciler{port: port, log: log}
}

// Reconcile delivers cur given the previously delivered projection prev and
// returns cur with its message identities filled in.
//
// When prev is missing, empty, or has any undelivered day, every day of cur is
// sent as a new message. Otherwise each day is compared with the day at the
// same position in prev: unchanged days keep their message, changed days are
// edited in place, and days past the end of prev are sent. A failed edit falls
// back to sending a new message for that day only.
//
// A conversation-wide send failure stops delivery and is returned together with
// the partially delivered projection, which callers must still persist.
func (r *Reconciler) Reconcile(ctx context.Context, chatID int64, prev *model.Projection, cur model.Projection) (model.Projection, error) {
	if prev == nil || !prev.AllDelivered() {
		return r.Resend(ctx, chatID, prev, cur)
	}
	next := undelivered(cur)

	for i := range next.Days {
		if i >= len(prev.Days) {
			if err := r.send(ctx, chatID, &next.Days[i]); err != nil {
				return next, err
			}
			continue
		}

		old := prev.Days[i]
		if old.SameContent(next.Days[i]) {
			next.Days[i].Message = old.Message
			continue
		}

		err := r.edit(ctx, chatID, old.Message, next.Days[i])
		if err == nil {
			next.Days[i].Message = old.Message
			continue
		}
		r.log.Warn("edit failed, sending new message",
			"chat_id", chatID, "day", i, "message_id", *old.Message.ID, "error", err)

		if old.Message.Pinned {
			r.releasePins(ctx, chatID, prev.Days[i:i+1])
		}
		if err := r.send(ctx, chatID, &next.Days[i]); err != nil {
			// Later days were not touched, so their old messages still stand.
			for j := i + 1; j < len(next.Days) && j < len(prev.Days); j++ {
				next.Days[j].Message = prev.Days[j].Message
			}
			return next, err
		}
	}

	if len(prev.Days) > len(next.Days) {
		r.releasePins(ctx, chatID, prev.Days[len(next.Days):])
	}
	return next, nil
}

// Resend sends every day of cur as a new message regardless of prev. Pinned
// messages of prev are unpinned first so no stale pin survives.
func (r *Reconciler) Resend(ctx context.Context, chatID int64, prev *model.Projection, cur model.Projection) (model.Projection, error) {
	next := undelivered(cur)
	if prev != nil {
		r.log.Info("resending all days", "chat_id", chatID, "previous_days", len(prev.Days))
		r.releasePins(ctx, chatID, prev.Days)
	}
	for i := range next.Days {
		if err := r.send(ctx, chatID, &next.Days[i]); err != nil {
			return next, err
		}
	}
	return next, nil
}

func undelivered(p model.Projection) model.Projection {
	next := model.Projection{Days: make([]model.DaySlot, len(p.Days))}
	for i, d := range p.Days {
		next.Days[i] = model.DaySlot{Weekday: d.Weekday, Lessons: d.Lessons}
	}
	return next
}

func (r *Reconciler) send(ctx context.Context, chatID int64, day *model.DaySlot) error {
	id, err := r.port.Send(ctx, chatID, timetable.FormatDay(*day))
	if err != nil {
		r.log.Error("send day", "chat_id", chatID, "weekday", weekdayAttr(day), "error", err)
		if IsConversationWide(err) {
			return fmt.Errorf("send day: %w", err)
		}
		return nil
	}
	day.Message = model.Sent(id)
	return nil
}

func (r *Reconciler) edit(ctx context.Context, chatID int64, msg model.MessageIdentity, day model.DaySlot) error {
	err := r.port.Edit(ctx, chatID, *msg.ID, timetable.FormatDay(day))
	if err != nil && !errors.Is(err, ErrNotModified) {
		return err
	}
	return nil
}

// releasePins unpins the delivered, pinned messages of days that are being
// replaced. Failures are logged only.
func (r *Reconciler) releasePins(ctx context.Context, chatID int64, days []model.DaySlot) {
	for _, d := range days {
		if !d.Message.Pinned || !d.Message.Delivered() {
			continue
		}
		if err := r.port.Unpin(ctx, chatID, *d.Message.ID); err != nil {
			r.log.Warn("unpin replaced message", "chat_id", chatID, "message_id", *d.Message.ID, "error", err)
		}
	}
}

func weekdayAttr(d *model.DaySlot) string {
	if d.Weekday == nil {
		return "none"
	}
	return d.Weekday.String()
}

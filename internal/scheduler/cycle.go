package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"timetable_bot/internal/bot"
	"timetable_bot/internal/delivery"
	"timetable_bot/internal/model"
	"timetable_bot/internal/storage"
	"timetable_bot/internal/timetable"
)

// Mode selects how a cycle treats the cache and the delivered messages.
type Mode int

// Cycle modes.
const (
	// ModeSync uses the cached document and edits messages in place.
	ModeSync Mode = iota
	// ModeRefresh bypasses the document cache.
	ModeRefresh
	// ModeResend bypasses the cache and sends every day as a new message.
	ModeResend
)

// errPersist marks a cycle whose result could not be stored; the cycle must
// be retried or the next one would send duplicates.
var errPersist = errors.New("persist conversation")

// RunCycle performs one fetch, project, deliver, pin and persist pass for chatID.
func (s *Scheduler) RunCycle(ctx context.Context, chatID int64, mode Mode) error {
	log := s.log.With("chat_id", chatID, "cycle_id", uuid.NewString())

	conv, err := s.store.GetConversation(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	log.Debug("starting cycle", "class", conv.ClassName, "mode", mode)

	if mode != ModeSync {
		s.fetcher.Forget(conv.DocumentLink)
	}

	grid, err := s.fetcher.Fetch(ctx, conv.DocumentLink)
	if err != nil {
		log.Error("fetch document", "link", conv.DocumentLink, "error", err)
		s.markRun(conv, err.Error())
		return s.persist(ctx, conv)
	}

	cur, err := timetable.Project(grid, conv.ClassName)
	if err != nil {
		var pe *timetable.ParseError
		if errors.As(err, &pe) {
			log.Warn("project timetable", "kind", pe.Kind.String(), "row", pe.Row, "col", pe.Col, "error", err)
		} else {
			log.Error("project timetable", "error", err)
		}
		s.notifyOnce(conv, bot.FormatParseError(err))
		s.markRun(conv, conv.LastError)
		return s.persist(ctx, conv)
	}

	next, deliverErr := s.deliver(ctx, log, conv, cur, mode)

	var pinErr error
	if deliverErr == nil {
		today := s.now().In(s.loc).Weekday()
		pinErr = s.pinner.Apply(ctx, chatID, &next, today)
	}
	conv.LastProjection = &next

	cycleErr := errors.Join(deliverErr, pinErr)
	lastError := ""
	switch {
	case errors.Is(cycleErr, delivery.ErrConversationNotFound):
		log.Warn("conversation is gone, deactivating", "error", cycleErr)
		conv.IsActive = false
		lastError = cycleErr.Error()
	case errors.Is(cycleErr, delivery.ErrPermissionDenied):
		log.Warn("missing rights in conversation", "error", cycleErr)
		s.notifyOnce(conv, bot.FormatPermissionError())
		lastError = conv.LastError
	case cycleErr != nil:
		log.Error("deliver projection", "error", cycleErr)
		lastError = cycleErr.Error()
	}
	s.markRun(conv, lastError)

	if err := s.persist(ctx, conv); err != nil {
		log.Error("persist cycle result", "error", err)
		return err
	}
	log.Info("cycle finished", "days", len(next.Days))
	return cycleErr
}

func (s *Scheduler) deliver(ctx context.Context, log *slog.Logger, conv *model.Conversation, cur model.Projection, mode Mode) (model.Projection, error) {
	prev := conv.LastProjection
	switch {
	case mode == ModeResend:
		return s.reconciler.Resend(ctx, conv.ChatID, prev, cur)
	case prev != nil && prev.AllDelivered() && prev.Equal(cur):
		log.Debug("timetable unchanged")
		return *prev, nil
	default:
		return s.reconciler.Reconcile(ctx, conv.ChatID, prev, cur)
	}
}

// notifyOnce tells the user about msg unless it was the last error reported.
func (s *Scheduler) notifyOnce(conv *model.Conversation, msg string) {
	if conv.LastError == msg {
		return
	}
	s.sender.SendMessage(conv.ChatID, msg)
	conv.LastError = msg
}

func (s *Scheduler) markRun(conv *model.Conversation, lastError string) {
	now := s.now().UTC()
	conv.LastRunAt = &now
	conv.LastError = lastError
}

func (s *Scheduler) persist(ctx context.Context, conv *model.Conversation) error {
	if err := s.store.SaveRunResult(ctx, conv); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", errPersist, err)
	}
	return nil
}

func (m Mode) String() string {
	switch m {
	case ModeRefresh:
		return "refresh"
	case ModeResend:
		return "resend"
	default:
		return "sync"
	}
}

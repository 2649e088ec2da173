// Package scheduler runs one periodic reconciliation task per conversation.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"timetable_bot/internal/delivery"
	"timetable_bot/internal/fetcher"
	"timetable_bot/internal/storage"
)

const minInterval = time.Minute

// Sender is the interface for sending plain Telegram messages.
type Sender interface {
	SendMessage(chatID int64, text string)
}

// Options tune the scheduler. Zero values select the defaults.
type Options struct {
	Location     *time.Location
	RetryDelay   time.Duration
	CycleTimeout time.Duration
	Now          func() time.Time
}

// Scheduler keeps every active conversation in sync with its timetable.
type Scheduler struct {
	store      storage.Storage
	fetcher    *fetcher.Fetcher
	sender     Sender
	reconciler *delivery.Reconciler
	pinner     *delivery.Pinner
	log        *slog.Logger

	loc          *time.Location
	retryDelay   time.Duration
	cycleTimeout time.Duration
	now          func() time.Time

	mu    sync.Mutex
	tasks map[int64]*task
	wg    sync.WaitGroup
}

type task struct {
	stop    chan struct{}
	trigger chan Mode
	done    chan struct{}
	stopped bool
}

func (t *task) halt() {
	if !t.stopped {
		t.stopped = true
		close(t.stop)
	}
}

// New creates a Scheduler that delivers through port and notifies via sender.
func New(store storage.Storage, f *fetcher.Fetcher, port delivery.MessagePort, sender Sender, log *slog.Logger, opts Options) *Scheduler {
	s := &Scheduler{
		store:        store,
		fetcher:      f,
		sender:       sender,
		reconciler:   delivery.NewReconciler(port, log),
		pinner:       delivery.NewPinner(port, log),
		log:          log,
		loc:          opts.Location,
		retryDelay:   opts.RetryDelay,
		cycleTimeout: opts.CycleTimeout,
		now:          opts.Now,
		tasks:        make(map[int64]*task),
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.retryDelay <= 0 {
		s.retryDelay = time.Minute
	}
	if s.cycleTimeout <= 0 {
		s.cycleTimeout = 2 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run starts a task for every active conversation and blocks until ctx is
// cancelled and all tasks have finished their current cycle.
func (s *Scheduler) Run(ctx context.Context) {
	convs, err := s.store.ListActiveConversations(ctx)
	if err != nil {
		s.log.Error("list active conversations", "error", err)
	}
	for _, c := range convs {
		s.Start(ctx, c.ChatID, c.Interval())
	}
	s.log.Info("scheduler started", "conversations", len(convs))

	<-ctx.Done()
	s.Wait()
}

// Start runs a periodic task for chatID, replacing any running one. The first
// cycle starts as soon as the previous task, if any, has exited.
func (s *Scheduler) Start(ctx context.Context, chatID int64, interval time.Duration) {
	if interval < minInterval {
		interval = minInterval
	}
	t := &task{
		stop:    make(chan struct{}),
		trigger: make(chan Mode, 1),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.tasks[chatID]
	if prev != nil {
		prev.halt()
	}
	s.tasks[chatID] = t
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(t.done)
		defer s.remove(chatID, t)
		if prev != nil {
			<-prev.done
		}
		s.loop(ctx, chatID, interval, t)
	}()
}

// Stop cancels the task of chatID between cycles and waits for an in-flight
// cycle to finish. It reports whether a task was running.
func (s *Scheduler) Stop(chatID int64) bool {
	s.mu.Lock()
	t, ok := s.tasks[chatID]
	if !ok || t.stopped {
		s.mu.Unlock()
		return false
	}
	t.halt()
	s.mu.Unlock()

	<-t.done
	return true
}

// Running reports whether chatID has a task.
func (s *Scheduler) Running(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[chatID]
	return ok && !t.stopped
}

// Trigger asks the task of chatID to run a cycle now.
func (s *Scheduler) Trigger(chatID int64) bool { return s.trigger(chatID, ModeSync) }

// Refresh runs a cycle now, bypassing the document cache.
func (s *Scheduler) Refresh(chatID int64) bool { return s.trigger(chatID, ModeRefresh) }

// Resend runs a cycle now that sends every day as a new message.
func (s *Scheduler) Resend(chatID int64) bool { return s.trigger(chatID, ModeResend) }

func (s *Scheduler) trigger(chatID int64, mode Mode) bool {
	s.mu.Lock()
	t, ok := s.tasks[chatID]
	live := ok && !t.stopped
	s.mu.Unlock()
	if !live {
		return false
	}
	select {
	case t.trigger <- mode:
	default:
		// A cycle is already queued.
	}
	return true
}

// Wait blocks until every task has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, chatID int64, interval time.Duration, t *task) {
	log := s.log.With("chat_id", chatID)
	log.Debug("task started", "interval", interval)
	defer log.Debug("task stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		mode := ModeSync
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-timer.C:
		case mode = <-t.trigger:
		}

		err := s.runDetached(ctx, chatID, mode)
		next := interval
		switch {
		case err == nil:
		case errors.Is(err, errPersist):
			log.Error("cycle not persisted, retrying", "retry_in", s.retryDelay, "error", err)
			next = s.retryDelay
		case errors.Is(err, delivery.ErrConversationNotFound), errors.Is(err, storage.ErrNotFound):
			log.Warn("stopping task", "error", err)
			return
		default:
			log.Error("cycle failed", "error", err)
		}
		timer.Reset(next)
	}
}

// runDetached runs a cycle that ignores cancellation of ctx so that an
// in-flight cycle always reaches persistence.
func (s *Scheduler) runDetached(ctx context.Context, chatID int64, mode Mode) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cycleTimeout)
	defer cancel()
	return s.RunCycle(cctx, chatID, mode)
}

func (s *Scheduler) remove(chatID int64, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[chatID] == t {
		delete(s.tasks, chatID)
	}
}

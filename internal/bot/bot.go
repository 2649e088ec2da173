package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"timetable_bot/internal/config"
	"timetable_bot/internal/fetcher"
	"timetable_bot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Syncer controls the periodic synchronisation task of each chat.
type Syncer interface {
	Start(ctx context.Context, chatID int64, interval time.Duration)
	Stop(chatID int64) bool
	Running(chatID int64) bool
	Refresh(chatID int64) bool
	Resend(chatID int64) bool
}

// Bot is the Telegram bot that handles user commands and delivers timetables.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	cfg     *config.Config
	fetcher *fetcher.Fetcher
	syncer  Syncer
	log     *slog.Logger
}

// New creates a Bot with the given Telegram token, storage, and config.
func New(token string, store storage.Storage, cfg *config.Config, f *fetcher.Fetcher, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:     api,
		store:   store,
		cfg:     cfg,
		fetcher: f,
		log:     log,
	}, nil
}

// SetSyncer attaches the scheduler. It must be called before Run.
func (b *Bot) SetSyncer(s Syncer) {
	b.syncer = s
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.From == nil || !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Доступ запрещён.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID)
	case "help":
		b.handleHelp(chatID)
	case "class":
		b.handleClass(ctx, chatID, args)
	case "classes":
		b.handleClasses(ctx, chatID)
	case "link":
		b.handleLink(ctx, chatID, args)
	case "interval":
		b.handleInterval(ctx, chatID, args)
	case cmdRun:
		b.handleRun(ctx, chatID)
	case cmdRefresh:
		b.handleRefresh(chatID)
	case "resend":
		b.handleResend(chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case cmdStop:
		b.handleStop(ctx, chatID)
	case "forget":
		b.handleForgetConfirm(ctx, chatID)
	default:
		b.reply(chatID, "Неизвестная команда. Список команд: /help")
	}
}

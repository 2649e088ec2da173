package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"timetable_bot/internal/config"
	"timetable_bot/internal/fetcher"
	"timetable_bot/internal/model"
	"timetable_bot/internal/storage"
	"timetable_bot/internal/timetable"
)

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	if _, err := b.loadOrCreate(ctx, chatID); err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось сохранить настройки: %v", err))
		return
	}
	b.reply(chatID, `Привет! Я присылаю расписание уроков из таблицы и держу закреплённым расписание на сегодня.

Быстрый старт:
1. /class <класс>: выберите класс, например /class 10Б
2. /link <ссылка>: укажите таблицу (если нет ссылки по умолчанию)
3. /run: запустите обновление

Полный список команд: /help`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Настройки:
/class <класс> — выбрать класс
/classes — показать классы из таблицы
/link <ссылка> — ссылка на таблицу с расписанием
/interval <часы> <минуты> — как часто проверять таблицу

Обновление:
/run — запустить периодическое обновление
/refresh — обновить сейчас
/resend — отправить расписание заново
/stop — остановить обновление
/status — текущие настройки
/forget — удалить все настройки чата`)
}

// loadOrCreate returns the stored conversation or a new one with defaults.
// A new conversation is saved immediately.
func (b *Bot) loadOrCreate(ctx context.Context, chatID int64) (*model.Conversation, error) {
	conv, err := b.store.GetConversation(ctx, chatID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	conv = &model.Conversation{
		ChatID:          chatID,
		DocumentLink:    b.cfg.DefaultLink,
		IntervalHours:   b.cfg.IntervalHours,
		IntervalMinutes: b.cfg.IntervalMinutes,
	}
	if err := b.store.SaveConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// save stores conv and restarts its task so new settings apply at once.
func (b *Bot) save(ctx context.Context, conv *model.Conversation) error {
	if err := b.store.SaveSettings(ctx, conv); err != nil {
		return err
	}
	if conv.IsActive && b.syncer.Running(conv.ChatID) {
		b.syncer.Start(ctx, conv.ChatID, conv.Interval())
	}
	return nil
}

func (b *Bot) handleClass(ctx context.Context, chatID int64, args string) {
	class, err := ParseClassArg(args)
	if err != nil {
		b.reply(chatID, "Использование: /class <класс>, например /class 10Б")
		return
	}

	conv, err := b.loadOrCreate(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось загрузить настройки: %v", err))
		return
	}
	if conv.DocumentLink != "" && conv.DocumentLink == b.cfg.DefaultLink && !b.cfg.IsKnownClass(class) {
		b.reply(chatID, fmt.Sprintf("Скорее всего вы неправильно ввели название класса: %s", class))
		return
	}

	conv.ClassName = class
	if err := b.save(ctx, conv); err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось сохранить настройки: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Класс: %s", class))
}

func (b *Bot) handleClasses(ctx context.Context, chatID int64) {
	conv, err := b.loadOrCreate(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось загрузить настройки: %v", err))
		return
	}
	if conv.DocumentLink == "" {
		b.reply(chatID, "Сначала укажите таблицу: /link <ссылка>")
		return
	}

	grid, err := b.fetcher.Fetch(ctx, conv.DocumentLink)
	if err != nil {
		b.log.Error("fetch document", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Не удалось загрузить таблицу: %v", err))
		return
	}
	b.reply(chatID, FormatClassList(timetable.Classes(grid)))
}

func (b *Bot) handleLink(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Использование: /link <ссылка на таблицу>")
		return
	}
	link, err := fetcher.NormalizeLink(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Неверная ссылка: %v", err))
		return
	}

	conv, err := b.loadOrCreate(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось загрузить настройки: %v", err))
		return
	}
	conv.DocumentLink = link
	if err := b.save(ctx, conv); err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось сохранить настройки: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Таблица: %s", link))
}

func (b *Bot) handleInterval(ctx context.Context, chatID int64, args string) {
	hours, minutes, err := config.ParseInterval(args)
	if err != nil {
		b.reply(chatID, "Использование: /interval <часы> <минуты>, например /interval 0 30")
		return
	}

	conv, err := b.loadOrCreate(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось загрузить настройки: %v", err))
		return
	}
	conv.IntervalHours, conv.IntervalMinutes = hours, minutes
	if err := b.save(ctx, conv); err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось сохранить настройки: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Интервал обновления: %s", FormatInterval(hours, minutes)))
}

func (b *Bot) handleRun(ctx context.Context, chatID int64) {
	conv, err := b.loadOrCreate(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось загрузить настройки: %v", err))
		return
	}
	if conv.ClassName == "" {
		b.reply(chatID, "Сначала выберите класс: /class <класс>")
		return
	}
	if conv.DocumentLink == "" {
		b.reply(chatID, "Сначала укажите таблицу: /link <ссылка>")
		return
	}

	conv.IsActive = true
	if err := b.store.SaveSettings(ctx, conv); err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось сохранить настройки: %v", err))
		return
	}
	b.syncer.Start(ctx, chatID, conv.Interval())
	b.reply(chatID, fmt.Sprintf("Обновление запущено: класс %s, каждые %s.",
		conv.ClassName, FormatInterval(conv.IntervalHours, conv.IntervalMinutes)))
}

func (b *Bot) handleRefresh(chatID int64) {
	if !b.syncer.Refresh(chatID) {
		b.reply(chatID, "Обновление не запущено. Запустите его командой /run")
		return
	}
	b.reply(chatID, "Обновляю расписание…")
}

func (b *Bot) handleResend(chatID int64) {
	if !b.syncer.Resend(chatID) {
		b.reply(chatID, "Обновление не запущено. Запустите его командой /run")
		return
	}
	b.reply(chatID, "Отправляю расписание заново…")
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	conv, err := b.store.GetConversation(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, "Чат ещё не настроен. Начните с /start")
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось загрузить настройки: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatStatus(conv, b.syncer.Running(chatID)))
	action := tgbotapi.NewInlineKeyboardButtonData("Запустить", fmt.Sprintf("%s:%d", cmdRun, chatID))
	if b.syncer.Running(chatID) {
		action = tgbotapi.NewInlineKeyboardButtonData("Остановить", fmt.Sprintf("%s:%d", cmdStop, chatID))
	}
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Обновить", fmt.Sprintf("%s:%d", cmdRefresh, chatID)),
			action,
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send status", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	stopped := b.syncer.Stop(chatID)

	conv, err := b.store.GetConversation(ctx, chatID)
	if err == nil && conv.IsActive {
		conv.IsActive = false
		if err := b.store.SaveSettings(ctx, conv); err != nil {
			b.reply(chatID, fmt.Sprintf("Не удалось сохранить настройки: %v", err))
			return
		}
		stopped = true
	}
	if !stopped {
		b.reply(chatID, "Обновление уже остановлено.")
		return
	}
	b.reply(chatID, "Обновление остановлено.")
}

func (b *Bot) handleForgetConfirm(ctx context.Context, chatID int64) {
	if _, err := b.store.GetConversation(ctx, chatID); err != nil {
		b.reply(chatID, "Для этого чата нет сохранённых настроек.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, "Удалить все настройки чата? Отправленные сообщения останутся.")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Да, удалить", fmt.Sprintf("%s:%d", cbForget, chatID)),
			tgbotapi.NewInlineKeyboardButtonData("Отмена", cbNoop+":0"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send forget confirmation", "error", err)
	}
}

func (b *Bot) handleForget(ctx context.Context, chatID int64) {
	b.syncer.Stop(chatID)
	if err := b.store.DeleteConversation(ctx, chatID); err != nil {
		b.reply(chatID, fmt.Sprintf("Не удалось удалить настройки: %v", err))
		return
	}
	b.log.Info("conversation forgotten", "chat_id", chatID)
	b.reply(chatID, "Настройки чата удалены.")
}

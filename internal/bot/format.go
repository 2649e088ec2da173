package bot

import (
	"errors"
	"fmt"
	"strings"

	"timetable_bot/internal/model"
	"timetable_bot/internal/timetable"
)

const (
	statusActive = "запущено"
	statusPaused = "остановлено"
)

// FormatParseError turns a projection failure into a message for the chat.
func FormatParseError(err error) string {
	var pe *timetable.ParseError
	if !errors.As(err, &pe) {
		return "Не удалось обновить информацию, вы уверены, что ввели все данные правильно?"
	}
	switch pe.Kind {
	case timetable.UnknownClass:
		return fmt.Sprintf("Класс %q не найден в таблице. Скорее всего вы неправильно ввели название класса, проверьте его: /class <класс>", pe.Class)
	default:
		return fmt.Sprintf("Не удалось разобрать таблицу: ошибка в строке %d, столбце %d. Проверьте документ.", pe.Row+1, pe.Col+1)
	}
}

// FormatPermissionError is sent when the bot cannot pin messages.
func FormatPermissionError() string {
	return "Не хватает прав, чтобы закреплять сообщения. Сделайте бота администратором чата."
}

// FormatInterval renders an update interval such as "1 ч 30 мин".
func FormatInterval(hours, minutes int) string {
	switch {
	case hours == 0:
		return fmt.Sprintf("%d мин", minutes)
	case minutes == 0:
		return fmt.Sprintf("%d ч", hours)
	default:
		return fmt.Sprintf("%d ч %d мин", hours, minutes)
	}
}

// FormatClassList formats the classes found in a document header.
func FormatClassList(classes []string) string {
	if len(classes) == 0 {
		return "В таблице не найдено ни одного класса."
	}
	return "Классы в таблице:\n" + strings.Join(classes, ", ")
}

// FormatStatus formats the settings and last run of a conversation.
func FormatStatus(conv *model.Conversation, running bool) string {
	var b strings.Builder
	status := statusActive
	if !running {
		status = statusPaused
	}
	fmt.Fprintf(&b, "Обновление: %s\n", status)
	fmt.Fprintf(&b, "Класс: %s\n", orDash(conv.ClassName))
	fmt.Fprintf(&b, "Таблица: %s\n", orDash(conv.DocumentLink))
	fmt.Fprintf(&b, "Интервал: %s\n", FormatInterval(conv.IntervalHours, conv.IntervalMinutes))
	if conv.LastRunAt != nil {
		fmt.Fprintf(&b, "Последнее обновление: %s\n", conv.LastRunAt.Format("2006-01-02 15:04 UTC"))
	}
	if conv.LastProjection != nil {
		fmt.Fprintf(&b, "Дней в расписании: %d\n", len(conv.LastProjection.Days))
	}
	if conv.LastError != "" {
		fmt.Fprintf(&b, "Последняя ошибка: %s\n", conv.LastError)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func orDash(s string) string {
	if s == "" {
		return "не задано"
	}
	return s
}

package timetable

import (
	"fmt"
	"strings"

	"timetable_bot/internal/model"
)

// FormatDay renders a day as message text: the weekday name followed by one
// line per period. Free periods after the last lesson are dropped; earlier free
// periods stay as blank lines so that lines keep lining up with period numbers.
func FormatDay(d model.DaySlot) string {
	var b strings.Builder
	if d.Weekday != nil {
		b.WriteString(WeekdayName(*d.Weekday))
	}

	last := -1
	for i, l := range d.Lessons {
		if !l.IsEmpty() {
			last = i
		}
	}
	for _, l := range d.Lessons[:last+1] {
		b.WriteString("\n")
		if !l.IsEmpty() {
			b.WriteString(FormatLesson(l))
		}
	}
	return b.String()
}

// FormatLesson renders a single lesson, e.g. "Math {в 101} (Ivanov)".
func FormatLesson(l model.LessonSlot) string {
	s := l.Subject
	if l.Room != "" {
		s += fmt.Sprintf(" {в %s}", l.Room)
	}
	if l.Teacher != "" {
		s += fmt.Sprintf(" (%s)", l.Teacher)
	}
	return s
}

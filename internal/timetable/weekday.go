package timetable

import (
	"strings"
	"time"
	"unicode"
)

var weekdayNames = map[string]time.Weekday{
	"понедельник": time.Monday,
	"вторник":     time.Tuesday,
	"среда":       time.Wednesday,
	"четверг":     time.Thursday,
	"пятница":     time.Friday,
	"суббота":     time.Saturday,
	"воскресенье": time.Sunday,
	"пн":          time.Monday,
	"вт":          time.Tuesday,
	"ср":          time.Wednesday,
	"чт":          time.Thursday,
	"пт":          time.Friday,
	"сб":          time.Saturday,
	"вс":          time.Sunday,
	"monday":      time.Monday,
	"tuesday":     time.Tuesday,
	"wednesday":   time.Wednesday,
	"thursday":    time.Thursday,
	"friday":      time.Friday,
	"saturday":    time.Saturday,
	"sunday":      time.Sunday,
	"mon":         time.Monday,
	"tue":         time.Tuesday,
	"wed":         time.Wednesday,
	"thu":         time.Thursday,
	"fri":         time.Friday,
	"sat":         time.Saturday,
	"sun":         time.Sunday,
}

var russianNames = [...]string{
	time.Sunday:    "Воскресенье",
	time.Monday:    "Понедельник",
	time.Tuesday:   "Вторник",
	time.Wednesday: "Среда",
	time.Thursday:  "Четверг",
	time.Friday:    "Пятница",
	time.Saturday:  "Суббота",
}

// ParseWeekday resolves a day marker cell such as "ПОНЕДЕЛЬНИК 17.11" or "Mon".
// Only the first word is considered. It returns nil for unrecognised markers.
func ParseWeekday(marker string) *time.Weekday {
	word, _, _ := strings.Cut(strings.TrimSpace(marker), " ")
	word = strings.TrimRightFunc(strings.ToLower(word), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	d, ok := weekdayNames[word]
	if !ok {
		return nil
	}
	return &d
}

// WeekdayName returns the localized name shown in day headers.
func WeekdayName(d time.Weekday) string {
	if d < time.Sunday || d > time.Saturday {
		return d.String()
	}
	return russianNames[d]
}

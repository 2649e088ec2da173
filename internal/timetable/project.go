// Package timetable turns a spreadsheet grid into a per-weekday lesson projection
// and renders days as message text.
//
// The source document uses a fixed layout. Row 0 is a header naming one class
// per column. Column 0 holds the day marker on the first row of each day and
// column 1 holds the period number. A class's lesson occupies two rows:
//
//	subject   teacher
//	          room
package timetable

import (
	"errors"
	"fmt"
	"strings"

	"timetable_bot/internal/model"
)

const (
	dayColumn    = 0
	periodColumn = 1
)

// ErrorKind classifies a ParseError.
type ErrorKind int

// Parse error kinds.
const (
	// UnknownClass means the class identifier is missing from the header row.
	UnknownClass ErrorKind = iota + 1
	// MalformedRow means a lesson's teacher or room cell lies outside the grid.
	MalformedRow
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownClass:
		return "unknown class"
	case MalformedRow:
		return "malformed row"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ParseError is returned by Project when the grid cannot be projected.
type ParseError struct {
	Kind  ErrorKind
	Class string
	Row   int
	Col   int
	Err   error
}

func (e *ParseError) Error() string {
	if e.Kind == UnknownClass {
		return fmt.Sprintf("%s %q", e.Kind, e.Class)
	}
	return fmt.Sprintf("%s at row %d col %d: %v", e.Kind, e.Row, e.Col, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a ParseError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == kind
}

// ClassColumn returns the header column holding class.
func ClassColumn(g model.Grid, class string) (int, error) {
	want := strings.TrimSpace(class)
	if len(g) > 0 && want != "" {
		for col, cell := range g[0] {
			if strings.TrimSpace(cell) == want {
				return col, nil
			}
		}
	}
	return 0, &ParseError{Kind: UnknownClass, Class: class}
}

// Classes lists the non-empty header cells, in column order.
func Classes(g model.Grid) []string {
	if len(g) == 0 {
		return nil
	}
	var out []string
	for col, cell := range g[0] {
		if col <= periodColumn {
			continue
		}
		if c := strings.TrimSpace(cell); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Project builds the projection of class from g.
func Project(g model.Grid, class string) (model.Projection, error) {
	col, err := ClassColumn(g, class)
	if err != nil {
		return model.Projection{}, err
	}
	p, err := ProjectColumn(g, col)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Class = class
		}
		return model.Projection{}, err
	}
	return p, nil
}

// ProjectColumn builds the projection of the class whose subjects are in col.
//
// A non-empty day marker closes the day in progress and opens a new one. Rows
// whose period cell is empty or not a number, and the last grid row, carry no
// lesson and are skipped; this also skips the room row under every lesson.
// Days whose marker is not a weekday are dropped.
func ProjectColumn(g model.Grid, col int) (model.Projection, error) {
	var (
		days []model.DaySlot
		cur  *model.DaySlot
	)
	for row := 1; row < len(g); row++ {
		if marker := strings.TrimSpace(g.At(row, dayColumn)); marker != "" {
			if cur != nil {
				days = append(days, *cur)
			}
			cur = &model.DaySlot{Weekday: ParseWeekday(marker)}
		}

		if row == len(g)-1 || !isPeriod(g.At(row, periodColumn)) {
			continue
		}

		lesson, err := ExtractLesson(g, row, col)
		if err != nil {
			return model.Projection{}, err
		}
		if cur == nil {
			cur = &model.DaySlot{}
		}
		cur.Lessons = append(cur.Lessons, lesson)
	}
	if cur != nil {
		days = append(days, *cur)
	}

	p := model.Projection{}
	for _, d := range days {
		if d.Weekday == nil {
			continue
		}
		p.Days = append(p.Days, d)
	}
	return p, nil
}

// ExtractLesson reads the lesson whose subject cell is (row, col).
// An empty subject yields the free-period sentinel without touching the
// teacher and room cells.
func ExtractLesson(g model.Grid, row, col int) (model.LessonSlot, error) {
	subject, err := g.Cell(row, col)
	if err != nil {
		return model.LessonSlot{}, malformed(row, col, err)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return model.LessonSlot{}, nil
	}

	teacher, err := g.Cell(row, col+1)
	if err != nil {
		return model.LessonSlot{}, malformed(row, col+1, err)
	}
	room, err := g.Cell(row+1, col+1)
	if err != nil {
		return model.LessonSlot{}, malformed(row+1, col+1, err)
	}

	return model.LessonSlot{
		Subject: subject,
		Teacher: strings.TrimSpace(teacher),
		Room:    strings.TrimSpace(room),
	}, nil
}

func malformed(row, col int, err error) error {
	return &ParseError{Kind: MalformedRow, Row: row, Col: col, Err: err}
}

func isPeriod(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

package model

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a cell lies outside the grid.
var ErrOutOfRange = errors.New("cell out of range")

// Grid is a table of text cells as exported from a spreadsheet.
// Rows may be ragged; the grid width is the length of its longest row.
type Grid [][]string

// Width returns the number of columns of the widest row.
func (g Grid) Width() int {
	w := 0
	for _, row := range g {
		w = max(w, len(row))
	}
	return w
}

// Cell returns the value at (row, col). A cell inside the grid bounds but past
// the end of a short row is "". Coordinates outside the grid return ErrOutOfRange.
func (g Grid) Cell(row, col int) (string, error) {
	if row < 0 || row >= len(g) || col < 0 || col >= g.Width() {
		return "", fmt.Errorf("%w: row %d col %d", ErrOutOfRange, row, col)
	}
	if col >= len(g[row]) {
		return "", nil
	}
	return g[row][col], nil
}

// At returns the value at (row, col) or "" when it does not exist.
func (g Grid) At(row, col int) string {
	v, _ := g.Cell(row, col)
	return v
}

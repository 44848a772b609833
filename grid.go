package main

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// InvalidShapeError reports a row whose length differs from the number of rows.
type InvalidShapeError struct {
	Row  int // index of the offending row
	Got  int // its length
	Want int // the number of rows
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("dna must be square: row %d has %d bases, want %d", e.Row, e.Got, e.Want)
}

// InvalidBaseError reports a letter outside the accepted alphabet.
type InvalidBaseError struct {
	Row  int
	Col  int
	Base rune
}

func (e *InvalidBaseError) Error() string {
	return fmt.Sprintf("invalid base %q at row %d, column %d", e.Base, e.Row, e.Col)
}

// Grid is an immutable N×N matrix of nucleotide letters.
type Grid struct {
	cells [][]rune
	size  int
}

// NewGrid builds a grid from its rows. Every row must hold exactly
// len(rows) characters.
func NewGrid(rows []string) (*Grid, error) {
	size := len(rows)
	cells := make([][]rune, size)
	for i, row := range rows {
		if n := utf8.RuneCountInString(row); n != size {
			return nil, &InvalidShapeError{Row: i, Got: n, Want: size}
		}
		cells[i] = []rune(row)
	}
	return &Grid{cells: cells, size: size}, nil
}

// Size returns N.
func (g *Grid) Size() int { return g.size }

// At returns the letter at (row, col).
func (g *Grid) At(row, col int) rune { return g.cells[row][col] }

// Rows returns a copy of the grid as strings.
func (g *Grid) Rows() []string {
	rows := make([]string, g.size)
	for i, r := range g.cells {
		rows[i] = string(r)
	}
	return rows
}

// Key is the concatenation of all rows, used to look up prior classifications.
func (g *Grid) Key() string {
	return strings.Join(g.Rows(), "")
}

// Transpose returns a new grid with rows and columns swapped.
func (g *Grid) Transpose() *Grid {
	cells := make([][]rune, g.size)
	for i := range cells {
		cells[i] = make([]rune, g.size)
		for j := range cells[i] {
			cells[i][j] = g.cells[j][i]
		}
	}
	return &Grid{cells: cells, size: g.size}
}

// ValidateBases checks every letter against alphabet. An empty alphabet
// accepts any uppercase ASCII letter.
func (g *Grid) ValidateBases(alphabet string) error {
	for i, row := range g.cells {
		for j, b := range row {
			ok := b >= 'A' && b <= 'Z'
			if ok && alphabet != "" {
				ok = strings.ContainsRune(alphabet, b)
			}
			if !ok {
				return &InvalidBaseError{Row: i, Col: j, Base: b}
			}
		}
	}
	return nil
}

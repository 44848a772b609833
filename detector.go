package main

// matchLength is the length of a run of identical bases that counts as a match.
const matchLength = 4

// mutantThreshold is the number of matches that makes a grid mutant.
const mutantThreshold = 2

// scanPolicy selects how a grid is searched for matches, by size.
type scanPolicy int

const (
	scanTooSmall scanPolicy = iota // no run of four fits
	scanCenter                     // sizes 5 and 6: windows around the middle only
	scanGeneral                    // every row, every column
)

func (p scanPolicy) String() string {
	switch p {
	case scanTooSmall:
		return "too_small"
	case scanCenter:
		return "center"
	default:
		return "general"
	}
}

func policyFor(size int) scanPolicy {
	switch {
	case size < matchLength:
		return scanTooSmall
	case size == 5 || size == 6:
		return scanCenter
	default:
		return scanGeneral
	}
}

// IsMutant reports whether g holds at least two runs of four identical
// bases across its rows, columns and diagonals.
func IsMutant(g *Grid) bool {
	switch policyFor(g.size) {
	case scanTooSmall:
		return false
	case scanCenter:
		return centerScan(g)
	default:
		return generalScan(g)
	}
}

// Detect builds a grid from rows and classifies it.
func Detect(rows []string) (bool, error) {
	g, err := NewGrid(rows)
	if err != nil {
		return false, err
	}
	return IsMutant(g), nil
}

// countLineMatches counts non-overlapping runs of four in line. A counted
// run consumes its positions, so "AAAAA" counts once.
func countLineMatches(line []rune) int {
	count := 0
	for i := 0; i+matchLength <= len(line); {
		if line[i] == line[i+1] && line[i] == line[i+2] && line[i] == line[i+3] {
			count++
			i += matchLength
			continue
		}
		i++
	}
	return count
}

func generalScan(g *Grid) bool {
	count := 0
	for _, row := range g.cells {
		count += countLineMatches(row)
		if count >= mutantThreshold {
			return true
		}
	}

	col := make([]rune, g.size)
	for c := 0; c < g.size; c++ {
		for r := 0; r < g.size; r++ {
			col[r] = g.cells[r][c]
		}
		count += countLineMatches(col)
		if count >= mutantThreshold {
			return true
		}
	}

	count += countAllDiagonals(g)
	return count >= mutantThreshold
}

// centerOffsets are the window starts relative to the middle index.
func centerOffsets(size int) []int {
	if size == 6 {
		return []int{-2, -1, 0}
	}
	return []int{-1}
}

// centerScan checks only the width-4 windows next to the middle of each row
// and column, then every diagonal. Each window is scanned on its own.
func centerScan(g *Grid) bool {
	mid := (g.size - 1) / 2
	offsets := centerOffsets(g.size)
	window := make([]rune, matchLength)

	count := 0
	for pos := 0; pos < g.size; pos++ {
		for _, off := range offsets {
			start := mid + off
			copy(window, g.cells[pos][start:start+matchLength])
			count += countLineMatches(window)
		}
		for _, off := range offsets {
			start := mid + off
			for i := range window {
				window[i] = g.cells[start+i][pos]
			}
			count += countLineMatches(window)
		}
		if count >= mutantThreshold {
			return true
		}
	}

	count += countAllDiagonals(g)
	return count >= mutantThreshold
}

// countAllDiagonals adds the down-right and up-right diagonal counts. Each
// family counts every matching start cell, so overlapping windows on one
// long diagonal count separately, and stops once it reaches the threshold.
func countAllDiagonals(g *Grid) int {
	last := g.size - matchLength
	return countDiagonals(g, 0, last, 1) + countDiagonals(g, matchLength-1, g.size-1, -1)
}

// countDiagonals checks windows starting at rows fromRow..toRow and columns
// 0..size-4, stepping rowStep per column.
func countDiagonals(g *Grid, fromRow, toRow, rowStep int) int {
	count := 0
	for r := fromRow; r <= toRow; r++ {
		for c := 0; c <= g.size-matchLength; c++ {
			if diagonalMatch(g, r, c, rowStep) {
				count++
				if count == mutantThreshold {
					return count
				}
			}
		}
	}
	return count
}

func diagonalMatch(g *Grid, r, c, rowStep int) bool {
	b := g.cells[r][c]
	for i := 1; i < matchLength; i++ {
		if g.cells[r+i*rowStep][c+i] != b {
			return false
		}
	}
	return true
}

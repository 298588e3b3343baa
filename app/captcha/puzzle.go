package captcha

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	DefaultRows           = 4
	DefaultSolutionLength = 5
)

// Puzzle is a grid with one column per solution character. Column i holds
// Solution[i] at row Positions[i]; every other cell is a decoy that never
// occurs in the solution.
type Puzzle struct {
	Solution  string
	Grid      [][]rune
	Positions []int
}

func NewPuzzle(r *rand.Rand, length, rows int) Puzzle {
	solution := make([]byte, length)
	for i := range solution {
		solution[i] = Alphabet[r.IntN(len(Alphabet))]
	}

	p, _ := NewPuzzleFromSolution(r, string(solution), rows)
	return p
}

func NewPuzzleFromSolution(r *rand.Rand, solution string, rows int) (Puzzle, error) {
	if solution == "" {
		return Puzzle{}, fmt.Errorf("empty solution")
	}
	if rows < 2 {
		return Puzzle{}, fmt.Errorf("need at least 2 rows, got %d", rows)
	}

	var decoys []rune
	for _, ch := range Alphabet {
		if !strings.ContainsRune(solution, ch) {
			decoys = append(decoys, ch)
		}
	}
	if len(decoys) == 0 {
		return Puzzle{}, fmt.Errorf("solution leaves no decoys")
	}

	cols := []rune(solution)
	p := Puzzle{
		Solution:  solution,
		Grid:      make([][]rune, rows),
		Positions: make([]int, len(cols)),
	}
	for row := range p.Grid {
		p.Grid[row] = make([]rune, len(cols))
	}

	for col, ch := range cols {
		pos := r.IntN(rows)
		p.Positions[col] = pos
		for row := 0; row < rows; row++ {
			if row == pos {
				p.Grid[row][col] = ch
				continue
			}
			p.Grid[row][col] = decoys[r.IntN(len(decoys))]
		}
	}

	return p, nil
}

func (p Puzzle) Rows() int {
	return len(p.Grid)
}

func (p Puzzle) Cols() int {
	return len(p.Positions)
}

func (p Puzzle) At(row, col int) rune {
	if row < 0 || row >= p.Rows() || col < 0 || col >= p.Cols() {
		return 0
	}
	return p.Grid[row][col]
}

package captcha

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSolving Status = "solving"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed_retry"
	StatusExpired Status = "expired"
)

func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusExpired
}

// Attempt is one puzzle instance. Cells must be picked column by column from
// the left; the first wrong pick fails the attempt.
type Attempt struct {
	Number   int
	Puzzle   Puzzle
	Deadline time.Time

	status   Status
	progress int
}

func NewAttempt(number int, p Puzzle, deadline time.Time) *Attempt {
	return &Attempt{
		Number:   number,
		Puzzle:   p,
		Deadline: deadline,
		status:   StatusPending,
	}
}

func (a *Attempt) Status() Status {
	return a.status
}

// Progress is the number of correctly picked columns.
func (a *Attempt) Progress() int {
	return a.progress
}

// Select picks the cell at (row, col) and returns the new status.
func (a *Attempt) Select(row, col int, at time.Time) Status {
	if a.status.Terminal() {
		return a.status
	}

	if !a.Deadline.IsZero() && at.After(a.Deadline) {
		a.status = StatusExpired
		return a.status
	}

	if col != a.progress || row != a.Puzzle.Positions[col] {
		a.status = StatusFailed
		return a.status
	}

	a.progress++
	a.status = StatusSolving
	if a.progress == a.Puzzle.Cols() {
		a.status = StatusPassed
	}

	return a.status
}

// Expire marks an unfinished attempt as timed out.
func (a *Attempt) Expire() {
	if !a.status.Terminal() {
		a.status = StatusExpired
	}
}

// Reissue swaps the puzzle before anything was picked.
func (a *Attempt) Reissue(p Puzzle) bool {
	if a.status != StatusPending {
		return false
	}
	a.Puzzle = p
	return true
}

package steps

import "fmt"

// ErrMismatch is returned by assertion steps when the page does not show
// what the scenario expects
type ErrMismatch struct {
	Field    string
	Expected interface{}
	Actual   interface{}

	// Diff is a go-cmp diff for sequences, or extra context
	Diff string
}

func (e *ErrMismatch) Error() string {
	msg := fmt.Sprintf("\n[MISMATCH] %s\nexpecting\t:\t%+v\ngot\t\t:\t%+v", e.Field, e.Expected, e.Actual)
	if e.Diff != "" {
		msg += fmt.Sprintf("\ndiff\t\t:\t%s", e.Diff)
	}
	return msg
}

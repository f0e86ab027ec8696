package vplan

import "fmt"

// InvariantError reports a broken internal invariant: malformed recipe
// linkage, a recipe kind reaching a lowering path that cannot handle it, or a
// pure recipe mirroring an instruction with memory effects. It always points
// at a bug in whatever built the plan.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "vplan: " + e.Msg
}

// bug aborts the current operation with an *InvariantError. Plan.Execute is
// the only place that recovers it.
func bug(format string, args ...any) {
	panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
}

func check(cond bool, format string, args ...any) {
	if !cond {
		bug(format, args...)
	}
}

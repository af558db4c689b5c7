package objective

import "fmt"

// UnknownObjectiveError indicates a name with no built-in objective
type UnknownObjectiveError struct {
	Name string
}

func (e *UnknownObjectiveError) Error() string {
	return fmt.Sprintf("unknown objective %q (known: %v)", e.Name, Names())
}

// InvalidCandidateError indicates a candidate the objective cannot score
type InvalidCandidateError struct {
	Objective string
	Reason    string
}

func (e *InvalidCandidateError) Error() string {
	return fmt.Sprintf("objective %s: invalid candidate: %s", e.Objective, e.Reason)
}

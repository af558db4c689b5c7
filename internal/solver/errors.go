package solver

import (
	"errors"
	"fmt"
)

// ErrAlreadyRun is returned when Run is called twice on one solver
var ErrAlreadyRun = errors.New("solver has already run")

// SetupError wraps configuration problems found before the search starts
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup failed: %v", e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// StrategyError is raised when the strategy fails to convert the space,
// propose a batch or take observations
type StrategyError struct {
	Strategy string
	Phase    string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s failed during %s: %v", e.Strategy, e.Phase, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// EvaluationError describes a black-box failure. It is recorded on the
// failed trial and never aborts a run.
type EvaluationError struct {
	TID         int
	CandidateID string
	Err         error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("trial %d (candidate %s): %v", e.TID, e.CandidateID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// ExecutionError is a fatal failure outside the strategy, such as a lost
// worker. TID and CandidateID point at the first affected trial when known.
type ExecutionError struct {
	Phase       string
	TID         int
	CandidateID string
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.TID > 0 {
		return fmt.Sprintf("execution failed during %s at trial %d (candidate %s): %v", e.Phase, e.TID, e.CandidateID, e.Err)
	}
	return fmt.Sprintf("execution failed during %s: %v", e.Phase, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// SettingError reports one invalid or missing setting
type SettingError struct {
	Name   string
	Reason string
}

func (e *SettingError) Error() string {
	return fmt.Sprintf("setting %q: %s", e.Name, e.Reason)
}

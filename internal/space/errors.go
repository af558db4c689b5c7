package space

import "fmt"

// FieldError is a configuration error tied to one hyperparameter field
type FieldError struct {
	Param  string
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("hyperparameter %q: %s: %s", e.Param, e.Field, e.Reason)
}

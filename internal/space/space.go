package space

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
)

// Hyperparameter describes one searchable dimension
type Hyperparameter struct {
	Name   string
	Domain Domain
	Kind   Kind

	// Lo and Hi bound numeric domains
	Lo, Hi float64

	// Choices holds the categorical list in declared order, normalized to Kind
	Choices []any

	// Frequency is the per-axis sample count used by grid search; 0 means unset
	Frequency int
}

// NewHyperparameter builds a hyperparameter from the loose config form:
// numeric domains take data = [lo, hi] or [lo, hi, count], categorical takes
// the list of choices. An explicit frequency wins over a count in data.
func NewHyperparameter(name string, domain Domain, kind Kind, data []any, frequency int) (Hyperparameter, error) {
	hp := Hyperparameter{Name: name, Domain: domain, Kind: kind, Frequency: frequency}

	if domain == DomainCategorical {
		if len(data) == 0 {
			return hp, &FieldError{Param: name, Field: "data", Reason: "categorical list is empty"}
		}
		hp.Choices = make([]any, len(data))
		var errs []error
		for i, v := range data {
			nv, ok := Normalize(kind, v)
			if !ok {
				errs = append(errs, &FieldError{Param: name, Field: "data", Reason: fmt.Sprintf("choice %d (%v) is not a valid %s", i, v, kind)})
				continue
			}
			hp.Choices[i] = nv
		}
		return hp, errors.Join(errs...)
	}

	if len(data) != 2 && len(data) != 3 {
		return hp, &FieldError{Param: name, Field: "data", Reason: fmt.Sprintf("numeric domain needs [lo, hi] or [lo, hi, count], got %d elements", len(data))}
	}
	lo, okLo := toFloat(data[0])
	hi, okHi := toFloat(data[1])
	if !okLo || !okHi {
		return hp, &FieldError{Param: name, Field: "data", Reason: fmt.Sprintf("bounds must be numeric, got %v", data[:2])}
	}
	hp.Lo, hp.Hi = lo, hi
	if len(data) == 3 && hp.Frequency == 0 {
		n, ok := Normalize(KindInteger, data[2])
		if !ok {
			return hp, &FieldError{Param: name, Field: "data", Reason: fmt.Sprintf("sample count must be an integer, got %v", data[2])}
		}
		hp.Frequency = n.(int)
	}
	return hp, nil
}

// IndexOf returns the position of v among the choices, or -1
func (hp Hyperparameter) IndexOf(v any) int {
	nv, ok := Normalize(hp.Kind, v)
	if !ok {
		return -1
	}
	return slices.Index(hp.Choices, nv)
}

// validate reports every invariant violation of a single hyperparameter
func (hp Hyperparameter) validate() []error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Param: hp.Name, Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	switch hp.Kind {
	case KindInteger, KindReal, KindString, KindBoolean:
	default:
		fail("type", "unknown type %v", hp.Kind)
	}
	if hp.Frequency < 0 {
		fail("frequency", "must be positive, got %d", hp.Frequency)
	}

	switch {
	case hp.Domain.Numeric():
		if hp.Kind == KindString || hp.Kind == KindBoolean {
			fail("type", "%s is only valid with the categorical domain", hp.Kind)
		}
		if math.IsNaN(hp.Lo) || math.IsNaN(hp.Hi) || math.IsInf(hp.Lo, 0) || math.IsInf(hp.Hi, 0) {
			fail("data", "bounds must be finite, got [%v, %v]", hp.Lo, hp.Hi)
		} else if hp.Lo >= hp.Hi {
			fail("data", "lo must be < hi, got [%v, %v]", hp.Lo, hp.Hi)
		}
		if hp.Domain == DomainLogUniform && hp.Lo <= 0 {
			fail("data", "loguniform requires lo > 0, got %v", hp.Lo)
		}
		if hp.Kind == KindInteger && math.Floor(hp.Hi) < math.Ceil(hp.Lo) {
			fail("data", "integer range [%v, %v] contains no integer", hp.Lo, hp.Hi)
		}
	case hp.Domain == DomainCategorical:
		if len(hp.Choices) == 0 {
			fail("data", "categorical list is empty")
		}
		for i, c := range hp.Choices {
			if nv, ok := Normalize(hp.Kind, c); !ok || nv != c {
				fail("data", "choice %d (%v) is not a valid %s", i, c, hp.Kind)
			}
		}
	default:
		fail("domain", "unknown domain %v", hp.Domain)
	}
	return errs
}

// Space is an ordered set of hyperparameters. Insertion order is canonical.
type Space struct {
	params []Hyperparameter
	index  map[string]int
}

// New creates an empty space
func New() *Space {
	return &Space{index: make(map[string]int)}
}

// Add appends a hyperparameter. Empty and duplicate names are rejected here;
// value invariants are checked by Validate.
func (s *Space) Add(hp Hyperparameter) error {
	if hp.Name == "" {
		return &FieldError{Field: "name", Reason: "must not be empty"}
	}
	if _, exists := s.index[hp.Name]; exists {
		return &FieldError{Param: hp.Name, Field: "name", Reason: "duplicate hyperparameter"}
	}
	if hp.Domain == DomainCategorical {
		choices := slices.Clone(hp.Choices)
		for i, c := range choices {
			if nv, ok := Normalize(hp.Kind, c); ok {
				choices[i] = nv
			}
		}
		hp.Choices = choices
	}
	s.index[hp.Name] = len(s.params)
	s.params = append(s.params, hp)
	return nil
}

// Validate checks every hyperparameter and, when allowed is non-empty, that
// each domain is one the caller accepts. All failures are joined.
func (s *Space) Validate(allowed ...Domain) error {
	if s.Len() == 0 {
		return &FieldError{Field: "hyperparameter", Reason: "search space is empty"}
	}
	var errs []error
	for _, hp := range s.params {
		errs = append(errs, hp.validate()...)
		if len(allowed) > 0 && !slices.Contains(allowed, hp.Domain) {
			errs = append(errs, &FieldError{Param: hp.Name, Field: "domain", Reason: fmt.Sprintf("%s is not supported here (allowed: %v)", hp.Domain, allowed)})
		}
	}
	return errors.Join(errs...)
}

// All iterates hyperparameters in insertion order
func (s *Space) All() iter.Seq2[int, Hyperparameter] {
	return func(yield func(int, Hyperparameter) bool) {
		for i, hp := range s.params {
			if !yield(i, hp) {
				return
			}
		}
	}
}

// Names returns the hyperparameter names in insertion order
func (s *Space) Names() []string {
	out := make([]string, len(s.params))
	for i, hp := range s.params {
		out[i] = hp.Name
	}
	return out
}

// Len returns the number of hyperparameters
func (s *Space) Len() int {
	if s == nil {
		return 0
	}
	return len(s.params)
}

// At returns the i-th hyperparameter
func (s *Space) At(i int) Hyperparameter {
	return s.params[i]
}

// Get looks up a hyperparameter by name
func (s *Space) Get(name string) (Hyperparameter, bool) {
	i, ok := s.index[name]
	if !ok {
		return Hyperparameter{}, false
	}
	return s.params[i], true
}

// KindOf returns the declared type of name
func (s *Space) KindOf(name string) (Kind, bool) {
	hp, ok := s.Get(name)
	return hp.Kind, ok
}

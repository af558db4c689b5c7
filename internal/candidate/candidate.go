// Package candidate holds the immutable parameter assignment proposed by a
// strategy and carried through evaluation.
package candidate

import (
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// Candidate is a frozen ordered mapping name -> value with a unique ID.
// Equality and hashing ignore the ID.
type Candidate struct {
	id     string
	names  []string
	values []any
	index  map[string]int
}

// New creates a candidate with a fresh ID. names and values are copied.
func New(names []string, values []any) (*Candidate, error) {
	return Restore(utils.NewCandidateID(), names, values)
}

// FromMap creates a candidate whose order follows names
func FromMap(names []string, m map[string]any) (*Candidate, error) {
	values := make([]any, len(names))
	for i, n := range names {
		v, ok := m[n]
		if !ok {
			return nil, fmt.Errorf("candidate: missing value for %q", n)
		}
		values[i] = v
	}
	return New(names, values)
}

// Restore rebuilds a candidate with a known ID, as received over the wire
func Restore(id string, names []string, values []any) (*Candidate, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("candidate: %d names but %d values", len(names), len(values))
	}
	c := &Candidate{
		id:     id,
		names:  slices.Clone(names),
		values: slices.Clone(values),
		index:  make(map[string]int, len(names)),
	}
	for i, n := range c.names {
		if _, dup := c.index[n]; dup {
			return nil, fmt.Errorf("candidate: duplicate name %q", n)
		}
		c.index[n] = i
	}
	return c, nil
}

// ID returns the process-unique identifier
func (c *Candidate) ID() string { return c.id }

// Len returns the number of parameters
func (c *Candidate) Len() int { return len(c.names) }

// Keys returns the parameter names in order
func (c *Candidate) Keys() []string { return slices.Clone(c.names) }

// Values returns the parameter values in order
func (c *Candidate) Values() []any { return slices.Clone(c.values) }

// Get returns the value of name
func (c *Candidate) Get(name string) (any, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.values[i], true
}

// Float returns name as a float64. Integer values are widened.
func (c *Candidate) Float(name string) (float64, error) {
	v, ok := c.Get(name)
	if !ok {
		return 0, fmt.Errorf("candidate: no parameter %q", name)
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("candidate: %q is %T, not numeric", name, v)
	}
}

// Int returns name as an int
func (c *Candidate) Int(name string) (int, error) {
	v, ok := c.Get(name)
	if !ok {
		return 0, fmt.Errorf("candidate: no parameter %q", name)
	}
	i, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("candidate: %q is %T, not int", name, v)
	}
	return i, nil
}

// String returns name as a string
func (c *Candidate) String(name string) (string, error) {
	v, ok := c.Get(name)
	if !ok {
		return "", fmt.Errorf("candidate: no parameter %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("candidate: %q is %T, not string", name, v)
	}
	return s, nil
}

// Bool returns name as a bool
func (c *Candidate) Bool(name string) (bool, error) {
	v, ok := c.Get(name)
	if !ok {
		return false, fmt.Errorf("candidate: no parameter %q", name)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("candidate: %q is %T, not bool", name, v)
	}
	return b, nil
}

// Map returns a copy of the mapping
func (c *Candidate) Map() map[string]any {
	m := make(map[string]any, len(c.names))
	for i, n := range c.names {
		m[n] = c.values[i]
	}
	return m
}

// With returns a copy under a new ID with name set to v
func (c *Candidate) With(name string, v any) (*Candidate, error) {
	i, ok := c.index[name]
	if !ok {
		return nil, fmt.Errorf("candidate: no parameter %q", name)
	}
	values := slices.Clone(c.values)
	values[i] = v
	return New(c.names, values)
}

// Key is the canonical string of items sorted by name
func (c *Candidate) Key() string {
	m := c.Map()
	var b strings.Builder
	for i, n := range slices.Sorted(maps.Keys(m)) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(n))
		b.WriteByte('=')
		b.WriteString(formatValue(m[n]))
	}
	return b.String()
}

// Hash is the FNV-1a 64 hash of Key
func (c *Candidate) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(c.Key()))
	return h.Sum64()
}

// Equal reports whether both candidates assign the same values
func (c *Candidate) Equal(o *Candidate) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Key() == o.Key()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return "i:" + strconv.Itoa(x)
	case string:
		return "s:" + strconv.Quote(x)
	case bool:
		return "b:" + strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

// Format renders the candidate for logs as name=value pairs in order
func (c *Candidate) Format() string {
	parts := make([]string, len(c.names))
	for i, n := range c.names {
		parts[i] = fmt.Sprintf("%s=%v", n, c.values[i])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

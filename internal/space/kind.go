package space

import (
	"fmt"
	"math"
	"strings"
)

// Kind is the value type of a hyperparameter
type Kind int

const (
	// KindInteger values are int
	KindInteger Kind = iota + 1
	// KindReal values are float64
	KindReal
	// KindString values are string (categorical only)
	KindString
	// KindBoolean values are bool (categorical only)
	KindBoolean
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind resolves a type name. Aliases from common config dialects are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer":
		return KindInteger, nil
	case "float", "real", "double":
		return KindReal, nil
	case "str", "string":
		return KindString, nil
	case "bool", "boolean":
		return KindBoolean, nil
	default:
		return 0, fmt.Errorf("unknown type %q", s)
	}
}

// Domain is the sampling distribution of a hyperparameter
type Domain int

const (
	// DomainUniform samples uniformly in [lo, hi]
	DomainUniform Domain = iota + 1
	// DomainNormal samples a normal treating [lo, hi] as a 6-sigma interval
	DomainNormal
	// DomainLogUniform samples uniformly in log space
	DomainLogUniform
	// DomainCategorical picks among an enumerated list
	DomainCategorical
)

// AllDomains lists every domain in declaration order
var AllDomains = []Domain{DomainUniform, DomainNormal, DomainLogUniform, DomainCategorical}

func (d Domain) String() string {
	switch d {
	case DomainUniform:
		return "uniform"
	case DomainNormal:
		return "normal"
	case DomainLogUniform:
		return "loguniform"
	case DomainCategorical:
		return "categorical"
	default:
		return fmt.Sprintf("Domain(%d)", int(d))
	}
}

// Numeric reports whether the domain is described by a [lo, hi] range
func (d Domain) Numeric() bool {
	return d == DomainUniform || d == DomainNormal || d == DomainLogUniform
}

// ParseDomain resolves a domain name
func ParseDomain(s string) (Domain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uniform":
		return DomainUniform, nil
	case "normal":
		return DomainNormal, nil
	case "loguniform", "log-uniform", "log_uniform":
		return DomainLogUniform, nil
	case "categorical", "choice":
		return DomainCategorical, nil
	default:
		return 0, fmt.Errorf("unknown domain %q", s)
	}
}

// Normalize converts v to the canonical Go type for kind k: int, float64,
// string or bool. Numeric values are accepted in any Go numeric type; an
// integer kind only accepts integral values.
func Normalize(k Kind, v any) (any, bool) {
	switch k {
	case KindInteger:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return int(f), true
	case KindReal:
		f, ok := toFloat(v)
		if !ok {
			return nil, false
		}
		return f, true
	case KindString:
		s, ok := v.(string)
		return s, ok
	case KindBoolean:
		b, ok := v.(bool)
		return b, ok
	default:
		return nil, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// ToFloat reports v as a float64 when it holds any Go numeric type
func ToFloat(v any) (float64, bool) {
	return toFloat(v)
}

package solver

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
)

// Settings maps option names to scalar values. After validation, values
// have the Go type of their declared kind.
type Settings map[string]any

// Has reports whether name is set
func (s Settings) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Int returns an integer setting, or 0 when unset
func (s Settings) Int(name string) int {
	v, _ := space.Normalize(space.KindInteger, s[name])
	i, _ := v.(int)
	return i
}

// Float returns a real setting, or 0 when unset
func (s Settings) Float(name string) float64 {
	f, _ := space.ToFloat(s[name])
	return f
}

// String returns a string setting, or "" when unset
func (s Settings) String(name string) string {
	v, _ := s[name].(string)
	return v
}

// Bool returns a boolean setting, or false when unset
func (s Settings) Bool(name string) bool {
	v, _ := s[name].(bool)
	return v
}

// Clone returns a shallow copy
func (s Settings) Clone() Settings {
	return maps.Clone(s)
}

// SettingSpec declares one option a strategy understands
type SettingSpec struct {
	Name        string
	Kind        space.Kind
	Default     any
	Required    bool
	Allowed     []any
	Min         *float64
	Max         *float64
	Description string
}

// Bound is a helper for SettingSpec.Min and Max
func Bound(v float64) *float64 {
	return &v
}

// SettingsRegistry collects the setting schema of a run
type SettingsRegistry struct {
	specs []SettingSpec
	index map[string]int
}

// NewSettingsRegistry creates an empty registry
func NewSettingsRegistry() *SettingsRegistry {
	return &SettingsRegistry{index: make(map[string]int)}
}

// Register adds spec. Registering a name again replaces the earlier spec,
// which lets a strategy tighten a common setting.
func (r *SettingsRegistry) Register(spec SettingSpec) {
	if i, ok := r.index[spec.Name]; ok {
		r.specs[i] = spec
		return
	}
	r.index[spec.Name] = len(r.specs)
	r.specs = append(r.specs, spec)
}

// Specs returns the registered specs in registration order
func (r *SettingsRegistry) Specs() []SettingSpec {
	return slices.Clone(r.specs)
}

// Lookup returns the spec for name
func (r *SettingsRegistry) Lookup(name string) (SettingSpec, bool) {
	i, ok := r.index[name]
	if !ok {
		return SettingSpec{}, false
	}
	return r.specs[i], true
}

// Validate checks in against the schema and returns a new map with values
// coerced to their kinds and defaults filled. Every failure is reported.
// Names without a spec are passed through untouched.
func (r *SettingsRegistry) Validate(in Settings) (Settings, error) {
	out := in.Clone()
	if out == nil {
		out = Settings{}
	}

	var errs []error
	for _, spec := range r.specs {
		raw, present := in[spec.Name]
		if !present || raw == nil {
			if spec.Required {
				errs = append(errs, &SettingError{Name: spec.Name, Reason: "is required"})
			} else if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}

		v, ok := space.Normalize(spec.Kind, raw)
		if !ok {
			errs = append(errs, &SettingError{Name: spec.Name, Reason: fmt.Sprintf("expected %s, got %T (%v)", spec.Kind, raw, raw)})
			continue
		}
		if len(spec.Allowed) > 0 && !slices.Contains(spec.Allowed, v) {
			errs = append(errs, &SettingError{Name: spec.Name, Reason: fmt.Sprintf("%v is not one of %v", v, spec.Allowed)})
			continue
		}
		if f, numeric := space.ToFloat(v); numeric {
			if spec.Min != nil && f < *spec.Min {
				errs = append(errs, &SettingError{Name: spec.Name, Reason: fmt.Sprintf("must be >= %v, got %v", *spec.Min, v)})
				continue
			}
			if spec.Max != nil && f > *spec.Max {
				errs = append(errs, &SettingError{Name: spec.Name, Reason: fmt.Sprintf("must be <= %v, got %v", *spec.Max, v)})
				continue
			}
		}
		out[spec.Name] = v
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// Common setting names understood by every strategy
const (
	SettingSolver        = "solver"
	SettingSeed          = "seed"
	SettingOutputDir     = "output_dir"
	SettingPatience      = "patience"
	SettingMinDelta      = "min_delta"
	SettingTargetLoss    = "target_loss"
	SettingMaxIterations = "max_iterations"
	SettingBatchSize     = "batch_size"
)

// RegisterCommon declares the settings the solver itself consumes
func RegisterCommon(r *SettingsRegistry) {
	r.Register(SettingSpec{Name: SettingSolver, Kind: space.KindString, Required: true, Description: "strategy name"})
	r.Register(SettingSpec{Name: SettingSeed, Kind: space.KindInteger, Default: 0, Description: "random seed, 0 picks one from the clock"})
	r.Register(SettingSpec{Name: SettingOutputDir, Kind: space.KindString, Default: "", Description: "directory for the best checkpoint"})
	r.Register(SettingSpec{Name: SettingPatience, Kind: space.KindInteger, Default: 0, Min: Bound(0), Description: "batches without improvement before stopping, 0 disables"})
	r.Register(SettingSpec{Name: SettingMinDelta, Kind: space.KindReal, Default: 0.0, Min: Bound(0), Description: "smallest loss decrease that counts as improvement"})
	r.Register(SettingSpec{Name: SettingTargetLoss, Kind: space.KindReal, Description: "stop once the best loss reaches this value"})
}

// MaxIterationsSpec is the iteration budget shared by the sequential strategies
func MaxIterationsSpec(required bool) SettingSpec {
	return SettingSpec{Name: SettingMaxIterations, Kind: space.KindInteger, Required: required, Min: Bound(1), Description: "evaluation budget"}
}

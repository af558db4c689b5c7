package solver

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/ledger"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
)

// StrategySpace is the strategy's own representation of the search space.
// The solver never looks inside it.
type StrategySpace any

// Observation reports one evaluated candidate back to the strategy. Failed
// trials carry +Inf so surrogate models are not fed NaN.
type Observation struct {
	Candidate *candidate.Candidate
	Loss      float64
	Status    ledger.Status
}

// Strategy is a search algorithm plugged into the run loop
type Strategy interface {
	Name() string

	// RegisterSettings declares the settings the strategy reads
	RegisterSettings(r *SettingsRegistry)

	// ConvertSpace prepares the strategy for a validated space
	ConvertSpace(sp *space.Space, settings Settings) (StrategySpace, error)

	// NextBatch proposes candidates. An empty batch ends the run.
	NextBatch(ctx context.Context, s StrategySpace) ([]*candidate.Candidate, error)

	// Observe feeds back the results of the last batch, in batch order
	Observe(results []Observation) error
}

// Evaluator runs black-box evaluations for a batch. The returned outcomes
// line up with batch. An error means the transport failed and is fatal.
type Evaluator interface {
	EvaluateBatch(ctx context.Context, batch []*candidate.Candidate) ([]ledger.Outcome, error)
	Close(ctx context.Context) error
}

// SetupEvaluator is implemented by evaluators that prepare data once per run
type SetupEvaluator interface {
	Setup(ctx context.Context, settings map[string]any) error
}

// CallbackCarrier is implemented by evaluators holding a per-trial callback
type CallbackCarrier interface {
	Callback() func(ledger.Trial)
}

// Entry is one registered strategy: how to build it and which domains it
// accepts. The settings schema comes from the strategy's RegisterSettings.
type Entry struct {
	Name        string
	Description string
	Domains     []space.Domain
	Factory     func() Strategy
}

// Schema returns the full settings schema for the entry
func (e Entry) Schema() *SettingsRegistry {
	r := NewSettingsRegistry()
	RegisterCommon(r)
	if e.Factory != nil {
		e.Factory().RegisterSettings(r)
	}
	return r
}

// Registry maps strategy names to entries
type Registry struct {
	entries map[string]Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds e. Names must be unique.
func (r *Registry) Register(e Entry) error {
	if e.Name == "" || e.Factory == nil {
		return fmt.Errorf("strategy entry needs a name and a factory")
	}
	if _, exists := r.entries[e.Name]; exists {
		return fmt.Errorf("strategy %q already registered", e.Name)
	}
	if len(e.Domains) == 0 {
		e.Domains = slices.Clone(space.AllDomains)
	}
	r.entries[e.Name] = e
	return nil
}

// MustRegister is Register that panics, for package-level tables
func (r *Registry) MustRegister(e Entry) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Lookup returns the entry for name
func (r *Registry) Lookup(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, &SettingError{Name: SettingSolver, Reason: fmt.Sprintf("unknown strategy %q (known: %v)", name, r.Names())}
	}
	return e, nil
}

// Names lists registered strategies alphabetically
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

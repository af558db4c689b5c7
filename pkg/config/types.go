package config

// ProjectFile is the YAML project description. Hyperparameters keep the
// order they appear in the document.
type ProjectFile struct {
	Hyperparameters []Hyperparameter `validate:"required,min=1,dive"`
	Settings        map[string]any   `validate:"required"`
	// Objective optionally names a built-in black box for the CLI
	Objective string
}

// Hyperparameter is one entry of the hyperparameter mapping
type Hyperparameter struct {
	Name      string `yaml:"-" validate:"required"`
	Domain    string `yaml:"domain" validate:"required,domain"`
	Data      []any  `yaml:"data" validate:"required,min=1"`
	Type      string `yaml:"type" validate:"required,kind"`
	Frequency int    `yaml:"frequency,omitempty" validate:"omitempty,gt=0"`
}

// Top-level keys
const (
	keyHyperparameter  = "hyperparameter"
	keyHyperparameters = "hyperparameters"
	keySettings        = "settings"
	keyObjective       = "objective"
)

package solver

import (
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
)

// Project is the search space and settings of one run. It is built up front
// and frozen once handed to a Solver.
type Project struct {
	Space    *space.Space
	Settings Settings
}

// NewProject creates an empty project
func NewProject() *Project {
	return &Project{Space: space.New(), Settings: Settings{}}
}

// AddHyperparameter appends hp to the search space
func (p *Project) AddHyperparameter(hp space.Hyperparameter) error {
	return p.Space.Add(hp)
}

// AddSetting sets a scalar option
func (p *Project) AddSetting(name string, value any) {
	if p.Settings == nil {
		p.Settings = Settings{}
	}
	p.Settings[name] = value
}

// Strategy returns the configured strategy name
func (p *Project) Strategy() string {
	return p.Settings.String(SettingSolver)
}

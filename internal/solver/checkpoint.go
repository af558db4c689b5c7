package solver

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BestFileName is the checkpoint written to output_dir
const BestFileName = "best.yaml"

// Checkpoint is the on-disk record of the best trial so far
type Checkpoint struct {
	RunID    string         `yaml:"run_id"`
	Strategy string         `yaml:"strategy"`
	TID      int            `yaml:"tid"`
	Loss     float64        `yaml:"loss"`
	Params   map[string]any `yaml:"params"`
	Trials   int            `yaml:"trials"`
	Updated  time.Time      `yaml:"updated"`
}

// WriteCheckpoint atomically replaces dir/best.yaml with cp
func WriteCheckpoint(dir string, cp Checkpoint) error {
	data, err := yaml.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".best-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, BestFileName)); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// ReadCheckpoint loads dir/best.yaml
func ReadCheckpoint(dir string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(dir, BestFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := yaml.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return &cp, nil
}

package config

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseProjectYAML parses a project from YAML bytes and validates it.
// Every problem found is reported, not just the first.
func ParseProjectYAML(data []byte) (*ProjectFile, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse project yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("failed to parse project yaml: empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("failed to parse project yaml: line %d: top level must be a mapping", root.Line)
	}

	pf := &ProjectFile{}
	var errs []error
	seen := make(map[string]bool)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if seen[key.Value] {
			errs = append(errs, fmt.Errorf("line %d: duplicate key %q", key.Line, key.Value))
			continue
		}
		seen[key.Value] = true

		switch key.Value {
		case keyHyperparameter, keyHyperparameters:
			hps, err := decodeHyperparameters(value)
			errs = append(errs, err)
			pf.Hyperparameters = append(pf.Hyperparameters, hps...)
		case keySettings:
			if err := value.Decode(&pf.Settings); err != nil {
				errs = append(errs, fmt.Errorf("line %d: settings: %w", value.Line, err))
			}
		case keyObjective:
			if err := value.Decode(&pf.Objective); err != nil {
				errs = append(errs, fmt.Errorf("line %d: objective: %w", value.Line, err))
			}
		default:
			errs = append(errs, fmt.Errorf("line %d: unknown key %q", key.Line, key.Value))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}

	if err := validateProject(pf); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	return pf, nil
}

// ParseProjectYAMLString parses a project from a YAML string
func ParseProjectYAMLString(text string) (*ProjectFile, error) {
	return ParseProjectYAML([]byte(text))
}

func decodeHyperparameters(n *yaml.Node) ([]Hyperparameter, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: hyperparameter must map names to definitions", n.Line)
	}
	var out []Hyperparameter
	var errs []error
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], n.Content[i+1]
		var hp Hyperparameter
		if err := value.Decode(&hp); err != nil {
			errs = append(errs, fmt.Errorf("line %d: hyperparameter %s: %w", value.Line, key.Value, err))
			continue
		}
		hp.Name = key.Value
		out = append(out, hp)
	}
	return out, errors.Join(errs...)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/GoSim-25-26J-441/hyperopt/internal/solver"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("domain", func(fl validator.FieldLevel) bool {
		_, err := space.ParseDomain(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("kind", func(fl validator.FieldLevel) bool {
		_, err := space.ParseKind(fl.Field().String())
		return err == nil
	})
	return v
}

// LoadProject loads and validates a project file
func LoadProject(path string) (*ProjectFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file %s: %w", path, err)
	}
	pf, err := ParseProjectYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse project file %s: %w", path, err)
	}
	return pf, nil
}

// validateProject checks struct rules, then the settings the file itself
// must carry. Strategy specific settings are checked by the solver.
func validateProject(pf *ProjectFile) error {
	var errs []error
	if err := validate.Struct(pf); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(pf, fe))
		}
	}
	if pf.Settings != nil {
		name, ok := pf.Settings[solver.SettingSolver].(string)
		if !ok || strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("settings.%s: required", solver.SettingSolver))
		}
	}
	return errors.Join(errs...)
}

// fieldError names the offending hyperparameter instead of its index
func fieldError(pf *ProjectFile, fe validator.FieldError) error {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "ProjectFile."); ok {
		path = rest
	}
	var idx int
	if n, _ := fmt.Sscanf(path, "Hyperparameters[%d]", &idx); n == 1 && idx < len(pf.Hyperparameters) {
		if name := pf.Hyperparameters[idx].Name; name != "" {
			path = "hyperparameter." + name + "." + strings.ToLower(fe.Field())
		}
	} else {
		path = strings.ToLower(path)
	}

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s: required", path)
	case "domain":
		return fmt.Errorf("%s: unknown domain %q", path, fe.Value())
	case "kind":
		return fmt.Errorf("%s: unknown type %q", path, fe.Value())
	case "gt", "min":
		return fmt.Errorf("%s: must be %s %s", path, map[string]string{"gt": "greater than", "min": "at least"}[fe.Tag()], fe.Param())
	default:
		return fmt.Errorf("%s: failed %s validation", path, fe.Tag())
	}
}

// Project converts the file into a solver project. Conversion errors for
// all hyperparameters are reported together.
func (pf *ProjectFile) Project() (*solver.Project, error) {
	p := solver.NewProject()
	var errs []error
	for _, h := range pf.Hyperparameters {
		domain, err := space.ParseDomain(h.Domain)
		if err != nil {
			errs = append(errs, fmt.Errorf("hyperparameter %s: %w", h.Name, err))
			continue
		}
		kind, err := space.ParseKind(h.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("hyperparameter %s: %w", h.Name, err))
			continue
		}
		hp, err := space.NewHyperparameter(h.Name, domain, kind, h.Data, h.Frequency)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.AddHyperparameter(hp); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		errs = append(errs, p.Space.Validate())
	}
	for k, v := range pf.Settings {
		p.AddSetting(k, v)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

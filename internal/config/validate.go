package config

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"

	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	exactVersionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		// version_expr accepts an exact version, a SemVer range, or the
		// "latest" tag.
		_ = v.RegisterValidation("version_expr", func(fl validator.FieldLevel) bool {
			expr := fl.Field().String()
			if expr == "" || expr == "latest" {
				return true
			}
			if exactVersionPattern.MatchString(expr) {
				return true
			}
			_, err := semver.NewConstraint(expr)
			return err == nil
		})

		validateInst = v
	})

	return validateInst
}

// Validate performs shape validation and the cross-field consistency checks
// on a canonical Config: every pipeline stage names a known kind with at
// least one configured plugin, and every fallback references an existing
// sibling within the same kind.
func Validate(cfg *Config) error {
	if cfg == nil {
		return raggerrors.NewInvalidInput("config", "configuration is nil")
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	kinds := map[string]struct{}{}
	for _, kind := range canonicalKindOrder {
		kinds[kind] = struct{}{}
	}

	for kind := range cfg.Plugins {
		if _, ok := kinds[kind]; !ok {
			return raggerrors.NewUnknownKind(kind)
		}
	}

	for i, stage := range cfg.Pipeline.Stages {
		if _, ok := kinds[stage.Stage]; !ok {
			return raggerrors.NewUnknownKind(stage.Stage)
		}
		specs := cfg.Plugins[stage.Stage]
		if len(specs) == 0 {
			return raggerrors.NewInvalidInput(
				fmt.Sprintf("pipeline.stages[%d]", i),
				fmt.Sprintf("stage %q has no configured plugins", stage.Stage))
		}
		if stage.Name != "" {
			if _, ok := specs[stage.Name]; !ok {
				return raggerrors.NewInvalidInput(
					fmt.Sprintf("pipeline.stages[%d]", i),
					fmt.Sprintf("stage %q references unconfigured plugin %q", stage.Stage, stage.Name))
			}
		}
	}

	for kind, specs := range cfg.Plugins {
		for localName, spec := range specs {
			if spec.Fallback == "" {
				continue
			}
			if spec.Fallback == localName {
				return raggerrors.NewInvalidInput(
					fmt.Sprintf("plugins.%s.%s.fallback", kind, localName),
					"fallback must not reference itself")
			}
			if _, ok := specs[spec.Fallback]; !ok {
				return raggerrors.NewInvalidInput(
					fmt.Sprintf("plugins.%s.%s.fallback", kind, localName),
					fmt.Sprintf("fallback %q is not configured for kind %q", spec.Fallback, kind))
			}
		}
	}

	return nil
}

func convertValidationError(err error) error {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		first := errs[0]
		return raggerrors.NewInvalidInput(first.Namespace(),
			fmt.Sprintf("failed %q validation", first.Tag()))
	}
	return raggerrors.NewInvalidInput("config", err.Error())
}

package garp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidParameter is wrapped by every parameter validation failure.
var ErrInvalidParameter = errors.New("invalid parameter")

// ParamError names the parameter that is missing or out of range.
type ParamError struct {
	Name string
	Err  error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("Parameter %s not set properly.", e.Name)
}

func (e *ParamError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidParameter
}

func (e *ParamError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// Parameter names accepted by ParamsFromValues.
const (
	ParamMaxGenerations   = "MaxGenerations"
	ParamConvergenceLimit = "ConvergenceLimit"
	ParamPopulationSize   = "PopulationSize"
	ParamResamples        = "Resamples"
)

// Params are the user-facing knobs of a GARP run.
type Params struct {
	MaxGenerations   int     `json:"max_generations"`
	ConvergenceLimit float64 `json:"convergence_limit"`
	PopulationSize   int     `json:"population_size"`
	Resamples        int     `json:"resamples"`
}

func DefaultParams() Params {
	return Params{
		MaxGenerations:   400,
		ConvergenceLimit: 0.01,
		PopulationSize:   50,
		Resamples:        2500,
	}
}

// Validate checks every parameter in declaration order and reports the
// first one out of range.
func (p Params) Validate() error {
	if p.MaxGenerations < 1 {
		return &ParamError{Name: ParamMaxGenerations}
	}
	if !(p.ConvergenceLimit >= 0 && p.ConvergenceLimit <= 1) {
		return &ParamError{Name: ParamConvergenceLimit}
	}
	if p.PopulationSize < 1 || p.PopulationSize > 500 {
		return &ParamError{Name: ParamPopulationSize}
	}
	if p.Resamples < 1 || p.Resamples > 100000 {
		return &ParamError{Name: ParamResamples}
	}
	return nil
}

// ParamsFromValues parses the four required parameters from string values.
// A missing or malformed value is a ParamError; ranges are checked by
// Validate.
func ParamsFromValues(values map[string]string) (Params, error) {
	var p Params
	var err error
	if p.MaxGenerations, err = intParam(values, ParamMaxGenerations); err != nil {
		return Params{}, err
	}
	if p.ConvergenceLimit, err = floatParam(values, ParamConvergenceLimit); err != nil {
		return Params{}, err
	}
	if p.PopulationSize, err = intParam(values, ParamPopulationSize); err != nil {
		return Params{}, err
	}
	if p.Resamples, err = intParam(values, ParamResamples); err != nil {
		return Params{}, err
	}
	return p, nil
}

func intParam(values map[string]string, name string) (int, error) {
	raw, ok := values[name]
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, &ParamError{Name: name}
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ParamError{Name: name, Err: err}
	}
	return v, nil
}

func floatParam(values map[string]string, name string) (float64, error) {
	raw, ok := values[name]
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, &ParamError{Name: name}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &ParamError{Name: name, Err: err}
	}
	return v, nil
}

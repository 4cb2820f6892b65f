package garp

import (
	"fmt"

	"nichegarp/internal/model"
	"nichegarp/internal/rules"
	"nichegarp/internal/ruleset"
)

// Model returns the persisted form of a finished run.
func (a *Algorithm) Model() (model.GarpModel, error) {
	if a.state != StateDone {
		return model.GarpModel{}, ErrNotDone
	}
	return model.GarpModel{
		Generations:        a.generation,
		Convergence:        a.convergence,
		AccuracyLimit:      a.accuracyLimit,
		Mortality:          a.mortality,
		Significance:       a.significance,
		FinalCrossoverRate: a.crossoverRate,
		FinalMutationRate:  a.mutationRate,
		FinalGapSize:       a.gapSize,
		PopulationSize:     a.params.PopulationSize,
		Layers:             a.layers,
		Rules:              a.fittest.Records(),
	}, nil
}

// Restore replaces the algorithm state with a finished run loaded from rec.
// The restored algorithm can score samples but not iterate further.
func (a *Algorithm) Restore(rec model.GarpModel) error {
	fittest, err := restoreRules(rec)
	if err != nil {
		a.log.Error().Err(err).Msg("could not restore serialized model")
		return err
	}
	a.generation = rec.Generations
	a.convergence = rec.Convergence
	a.accuracyLimit = rec.AccuracyLimit
	a.mortality = rec.Mortality
	a.significance = rec.Significance
	a.crossoverRate = rec.FinalCrossoverRate
	a.mutationRate = rec.FinalMutationRate
	a.gapSize = rec.FinalGapSize
	a.params.PopulationSize = rec.PopulationSize
	a.layers = rec.Layers
	a.offspring = ruleset.New(2 * rec.PopulationSize)
	a.fittest = fittest
	a.state = StateDone
	return nil
}

// Predictor scores samples with a restored fittest rule set.
type Predictor struct {
	record model.GarpModel
	rules  *ruleset.RuleSet
}

// LoadModel rebuilds the fittest rule set of rec.
func LoadModel(rec model.GarpModel) (*Predictor, error) {
	set, err := restoreRules(rec)
	if err != nil {
		return nil, err
	}
	return &Predictor{record: rec, rules: set}, nil
}

// Value returns the prediction of the first archived rule that applies.
func (p *Predictor) Value(sample model.Sample) float64 {
	return p.rules.Value(sample)
}

func (p *Predictor) Record() model.GarpModel {
	return p.record
}

func restoreRules(rec model.GarpModel) (*ruleset.RuleSet, error) {
	capacity := 2 * rec.PopulationSize
	if capacity < len(rec.Rules) {
		capacity = len(rec.Rules)
	}
	set := ruleset.New(capacity)
	for i, rr := range rec.Rules {
		rule, err := rules.FromRecord(rr)
		if err != nil {
			return nil, fmt.Errorf("restore rule %d: %w", i, err)
		}
		if rec.Layers > 0 && rule.Layers() != rec.Layers {
			return nil, fmt.Errorf("restore rule %d: has %d layers, want %d", i, rule.Layers(), rec.Layers)
		}
		set.Add(rule)
	}
	return set, nil
}

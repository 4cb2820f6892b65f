package garp

import (
	"fmt"
	"math"

	"nichegarp/internal/rules"
	"nichegarp/internal/ruleset"
)

func (a *Algorithm) evaluate(set *ruleset.RuleSet) error {
	for i := 0; i < set.Len(); i++ {
		rule := set.Get(i)
		if !rule.NeedsEvaluation() {
			continue
		}
		if err := rule.Evaluate(a.cache); err != nil {
			a.log.Error().Err(err).Int("generation", a.generation).Msg("rule evaluation failed")
			return fmt.Errorf("evaluate offspring %d: %w", i, err)
		}
	}
	return nil
}

// keepFittest merges clones of the source rules into target. A candidate
// similar to an archived rule replaces it only when it scores strictly
// higher; otherwise unmatched candidates are inserted. The number of
// similar hits feeds the running convergence estimate.
func (a *Algorithm) keepFittest(source, target *ruleset.RuleSet, idx rules.PerfIndex) int {
	converged := 0
	for i := 0; i < source.Len(); i++ {
		candidate := source.Get(i)
		similar := target.FindSimilar(candidate)
		if similar < 0 {
			target.Insert(idx, candidate.Clone())
			continue
		}
		converged++
		if candidate.Performance(idx) > target.Get(similar).Performance(idx) {
			clone := candidate.Clone()
			target.Remove(similar)
			target.Insert(idx, clone)
		}
	}

	a.improvements += converged
	if a.improvements > 0 {
		a.convergence = (a.convergence + float64(converged)/float64(a.improvements)) / 2.0
	} else {
		a.convergence = 1.0
	}
	return converged
}

// colonize tops set up to n rules with freshly seeded ones. Range rules
// predict presence, negated range rules predict absence and logit rules
// pick either with equal odds.
func (a *Algorithm) colonize(set *ruleset.RuleSet, n int) {
	for i := set.Len(); i < n; i++ {
		var rule *rules.Rule
		switch a.rng.Intn(3) {
		case 0:
			rule = rules.New(rules.Range, 1.0, a.layers)
			rule.InitializeRange(a.rng, a.histogram)
		case 1:
			rule = rules.New(rules.NegatedRange, 0.0, a.layers)
			rule.InitializeRange(a.rng, a.histogram)
		default:
			prediction := 0.0
			if a.rng.Float64() > 0.5 {
				prediction = 1.0
			}
			rule = rules.New(rules.Logit, prediction, a.layers)
			rule.InitializeLogit(a.rng, a.regression)
		}
		if set.Add(rule) == 0 {
			return
		}
	}
}

// selectRules refills target with ceil(PopulationSize*gapSize) clones drawn
// from source by Baker's stochastic universal sampling.
func (a *Algorithm) selectRules(source, target *ruleset.RuleSet, gapSize float64) error {
	popSize := a.params.PopulationSize
	n := source.Len()
	if n == 0 {
		return fmt.Errorf("garp: select from an empty archive")
	}
	sample := a.susSample(source, popSize)

	// Fisher-Yates over the first popSize draws.
	for i := 0; i < popSize; i++ {
		j := i + a.rng.Intn(popSize-i)
		sample[i], sample[j] = sample[j], sample[i]
	}

	target.Clear()
	size := float64(popSize) * gapSize
	for i := 0; float64(i) < size; i++ {
		clone := source.Get(sample[i]).Clone()
		clone.ForceEvaluation()
		if target.Add(clone) == 0 {
			a.log.Error().Msg("Target rule set is full")
			return ErrTargetFull
		}
	}
	return nil
}

// susSample returns popSize+1 archive indexes. Slots the pointer walk does
// not reach keep their i%n default.
func (a *Algorithm) susSample(source *ruleset.RuleSet, popSize int) []int {
	n := source.Len()
	_, worst, avg := source.PerformanceSummary(DefaultPerfIndex)
	factor := 1.0
	if avg-worst != 0 {
		factor = 1.0 / (avg - worst)
	}

	sample := make([]int, popSize+1)
	for i := 0; i < popSize; i++ {
		sample[i] = i % n
	}

	k := 0
	ptr := a.rng.Float64()
	sum := 0.0
	for i := 0; i < n; i++ {
		expected := (source.Get(i).Performance(DefaultPerfIndex) - worst) * factor
		for sum += expected; sum > ptr && k <= popSize; ptr++ {
			sample[k] = i
			k++
		}
	}
	return sample
}

func (a *Algorithm) mutate(set *ruleset.RuleSet) {
	temperature := 2.0 / float64(a.generation)
	for i := 0; i < set.Len(); i++ {
		set.Get(i).Mutate(a.rng, temperature)
	}
}

// crossover recombines int(crossoverRate*n)/2 random pairs.
func (a *Algorithm) crossover(set *ruleset.RuleSet) {
	n := set.Len()
	if n < 2 || a.layers == 0 {
		return
	}
	last := int(math.Floor(a.crossoverRate * float64(n)))
	for x := 0; x < last; x += 2 {
		mom := a.rng.Intn(n)
		dad := a.rng.Intn(n)
		if dad == mom {
			dad = (dad + 1) % n
		}
		cut1 := a.rng.Intn(a.layers)
		cut2 := a.rng.Intn(a.layers)
		set.Get(mom).Crossover(set.Get(dad), cut1, cut2)
	}
}

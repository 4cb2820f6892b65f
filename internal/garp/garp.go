package garp

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"nichegarp/internal/envstats"
	"nichegarp/internal/model"
	"nichegarp/internal/rules"
	"nichegarp/internal/ruleset"
	"nichegarp/internal/sampler"
)

var (
	// ErrTargetFull is returned when selection overflows the offspring set.
	ErrTargetFull = fmt.Errorf("garp: %w", ruleset.ErrFull)
	// ErrNotInitialized is returned by Iterate before a successful Initialize.
	ErrNotInitialized = errors.New("garp: algorithm is not initialized")
	// ErrNotDone is returned when serializing a run that has not finished.
	ErrNotDone = errors.New("garp: algorithm has not finished")
	// ErrDegenerateInput is returned when the resampled cache cannot
	// support rule evaluation.
	ErrDegenerateInput = errors.New("garp: degenerate training data")
)

// DefaultPerfIndex ranks the archive and drives selection and the final
// filter.
const DefaultPerfIndex = rules.PerfSignificance

// Fixed operator settings. They are recorded in every serialized model.
const (
	DefaultMortality     = 0.9
	DefaultGapSize       = 0.1
	DefaultAccuracyLimit = 0.0
	DefaultCrossoverRate = 0.1
	DefaultMutationRate  = 0.6
	DefaultSignificance  = 2.70
)

// State is the lifecycle stage of an Algorithm.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateIterating
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateIterating:
		return "iterating"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Config wires an Algorithm to its collaborators. Rand takes precedence
// over Seed when both are set.
type Config struct {
	Params  Params
	Sampler sampler.Sampler
	Rand    *rand.Rand
	Seed    int64
	Logger  *zerolog.Logger
}

// Algorithm is a single GARP run. It is not safe for concurrent use.
type Algorithm struct {
	params  Params
	sampler sampler.Sampler
	rng     *rand.Rand
	log     zerolog.Logger

	state        State
	cache        []model.Occurrence
	histogram    *envstats.Histogram
	regression   *envstats.Regression
	offspring    *ruleset.RuleSet
	fittest      *ruleset.RuleSet
	layers       int
	generation   int
	convergence  float64
	improvements int
	maxProgress  float64
	evicted      int

	mortality     float64
	gapSize       float64
	accuracyLimit float64
	crossoverRate float64
	mutationRate  float64
	significance  float64
}

func New(cfg Config) *Algorithm {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Algorithm{
		params:        cfg.Params,
		sampler:       cfg.Sampler,
		rng:           rng,
		log:           logger.With().Str("component", "garp").Logger(),
		convergence:   1.0,
		mortality:     DefaultMortality,
		gapSize:       DefaultGapSize,
		accuracyLimit: DefaultAccuracyLimit,
		crossoverRate: DefaultCrossoverRate,
		mutationRate:  DefaultMutationRate,
		significance:  DefaultSignificance,
	}
}

// Initialize validates parameters, caches Resamples occurrences drawn from
// the sampler, builds the environment statistics and colonizes the first
// offspring generation.
func (a *Algorithm) Initialize() error {
	if a.state != StateUninitialized {
		return fmt.Errorf("garp: initialize called in state %s", a.state)
	}
	a.state = StateInitializing

	if err := a.params.Validate(); err != nil {
		a.log.Error().Msg(err.Error())
		a.state = StateUninitialized
		return err
	}
	if err := a.prime(); err != nil {
		a.log.Error().Err(err).Msg("initialization failed")
		a.state = StateUninitialized
		return err
	}

	a.offspring = ruleset.New(2 * a.params.PopulationSize)
	a.fittest = ruleset.New(2 * a.params.PopulationSize)
	a.fittest.OnEvict(func(*rules.Rule) { a.evicted++ })
	a.colonize(a.offspring, a.params.PopulationSize)

	a.state = StateIterating
	a.log.Debug().
		Int("population_size", a.params.PopulationSize).
		Int("resamples", a.params.Resamples).
		Int("layers", a.layers).
		Msg("initialized")
	return nil
}

func (a *Algorithm) prime() error {
	if a.sampler == nil {
		return fmt.Errorf("%w: sampler is required", ErrDegenerateInput)
	}
	a.layers = a.sampler.NumIndependent()
	if a.layers <= 0 {
		return fmt.Errorf("%w: sampler has no environmental layers", ErrDegenerateInput)
	}
	if a.sampler.NumPresence() == 0 {
		return fmt.Errorf("%w: sampler has no presences", ErrDegenerateInput)
	}
	if a.params.Resamples < 2 {
		return fmt.Errorf("%w: at least two resamples are required", ErrDegenerateInput)
	}

	a.cache = make([]model.Occurrence, 0, a.params.Resamples)
	for i := 0; i < a.params.Resamples; i++ {
		occ, err := a.sampler.Sample(a.rng)
		if err != nil {
			return fmt.Errorf("draw resample %d: %w", i, err)
		}
		if len(occ.Env) != a.layers {
			return fmt.Errorf("%w: resample %d has %d layers, want %d", ErrDegenerateInput, i, len(occ.Env), a.layers)
		}
		a.cache = append(a.cache, occ)
	}

	var err error
	if a.histogram, err = envstats.NewHistogram(a.cache); err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	if a.regression, err = envstats.NewRegression(a.cache); err != nil {
		return fmt.Errorf("build regression: %w", err)
	}
	return nil
}

// Iterate runs one generation. It is a no-op once the run is done.
func (a *Algorithm) Iterate() error {
	switch a.state {
	case StateDone:
		return nil
	case StateIterating:
	default:
		return ErrNotInitialized
	}
	if a.Done() {
		a.finish()
		return nil
	}

	a.generation++
	if err := a.evaluate(a.offspring); err != nil {
		return err
	}
	a.keepFittest(a.offspring, a.fittest, DefaultPerfIndex)
	a.fittest.Trim(a.params.PopulationSize)

	best, worst, avg := a.fittest.PerformanceSummary(DefaultPerfIndex)
	a.log.Debug().
		Int("generation", a.generation).
		Int("rules", a.fittest.Len()).
		Float64("convergence", a.convergence).
		Float64("best", best).
		Float64("worst", worst).
		Float64("avg", avg).
		Msg("generation complete")

	if a.Done() {
		a.finish()
		return nil
	}

	if err := a.selectRules(a.fittest, a.offspring, a.gapSize); err != nil {
		return err
	}
	a.colonize(a.offspring, a.params.PopulationSize)
	a.offspring.Trim(a.params.PopulationSize)
	a.mutate(a.offspring)
	a.crossover(a.offspring)
	return nil
}

func (a *Algorithm) finish() {
	a.fittest.Filter(DefaultPerfIndex, a.significance)
	a.state = StateDone
	a.log.Info().
		Int("generations", a.generation).
		Float64("convergence", a.convergence).
		Int("rules", a.fittest.Len()).
		Msg("garp run finished")
}

// Done reports whether the generation cap or the convergence limit has
// been reached.
func (a *Algorithm) Done() bool {
	if a.state == StateDone {
		return true
	}
	if a.state != StateIterating {
		return false
	}
	return a.generation >= a.params.MaxGenerations || a.convergence < a.params.ConvergenceLimit
}

// Progress is a non-decreasing estimate in [0, 1].
func (a *Algorithm) Progress() float64 {
	if a.Done() {
		return 1.0
	}
	if a.params.MaxGenerations <= 0 {
		return a.maxProgress
	}
	progress := float64(a.generation) / float64(a.params.MaxGenerations)
	if a.convergence > 0 {
		if byConvergence := a.params.ConvergenceLimit / a.convergence; byConvergence > progress {
			progress = byConvergence
		}
	}
	if progress > 1 {
		progress = 1
	}
	if progress > a.maxProgress {
		a.maxProgress = progress
	}
	return a.maxProgress
}

// Value scores a normalized environment vector with the fittest archive.
func (a *Algorithm) Value(sample model.Sample) float64 {
	if a.fittest == nil {
		return 0
	}
	return a.fittest.Value(sample)
}

func (a *Algorithm) State() State { return a.state }
func (a *Algorithm) Generation() int { return a.generation }
func (a *Algorithm) Convergence() float64 { return a.convergence }
func (a *Algorithm) Params() Params { return a.params }
func (a *Algorithm) Layers() int { return a.layers }

// Fittest exposes the archive. Callers must not modify it.
func (a *Algorithm) Fittest() *ruleset.RuleSet {
	return a.fittest
}

// Offspring exposes the current offspring set. Callers must not modify it.
func (a *Algorithm) Offspring() *ruleset.RuleSet {
	return a.offspring
}

// Cache returns a copy of the resampled occurrences.
func (a *Algorithm) Cache() []model.Occurrence {
	return append([]model.Occurrence(nil), a.cache...)
}

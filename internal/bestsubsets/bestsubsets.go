// Package bestsubsets runs GARP repeatedly on resampled training splits
// and keeps the runs with low omission and median commission as an
// ensemble.
package bestsubsets

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"nichegarp/internal/garp"
	"nichegarp/internal/model"
	"nichegarp/internal/sampler"
)

// ErrNoRuns is returned when no run finished before selection.
var ErrNoRuns = errors.New("bestsubsets: no finished runs")

type Config struct {
	Params  Params
	Garp    garp.Params
	Sampler *sampler.Memory
	Seed    int64
	Logger  *zerolog.Logger
	// OnRun is called after every finished run. Calls are serialized.
	OnRun func(RunResult)
}

// RunResult is one finished GARP run with its errors on held-out data.
type RunResult struct {
	RunID       int
	Omission    float64
	Commission  float64
	Generations int
	Convergence float64
	Model       model.GarpModel
	// Diagnostics hold one entry per generation of the run.
	Diagnostics []model.GenerationDiagnostics

	predictor *garp.Predictor
}

func (r RunResult) Value(sample model.Sample) float64 {
	return r.predictor.Value(sample)
}

// Run executes up to TotalRuns GARP runs on a bounded worker pool and
// selects the best subset. Scheduling stops early once enough runs fall
// under a hard omission threshold. Splits are drawn sequentially from a
// generator seeded with cfg.Seed and run i is seeded with cfg.Seed+i+1.
func Run(ctx context.Context, cfg Config) (*Ensemble, error) {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	log := logger.With().Str("component", "bestsubsets").Logger()

	if err := cfg.Params.Validate(); err != nil {
		log.Error().Msg(err.Error())
		return nil, err
	}
	if err := cfg.Garp.Validate(); err != nil {
		log.Error().Msg(err.Error())
		return nil, err
	}
	if cfg.Sampler == nil {
		return nil, fmt.Errorf("%w: sampler is required", garp.ErrDegenerateInput)
	}

	s := cfg.Params.settings()
	if cfg.Params.ModelsUnderOmission > cfg.Params.TotalRuns {
		log.Warn().
			Int("models_under_omission", cfg.Params.ModelsUnderOmission).
			Int("total_runs", cfg.Params.TotalRuns).
			Msg("ModelsUnderOmission is greater than the number of runs and will be reduced")
	}
	if cfg.Params.TrainingProportion <= 1 {
		log.Warn().
			Float64("training_proportion", cfg.Params.TrainingProportion).
			Msg("training proportion is a percentage; small values may leave no presences for training")
	}

	var (
		mu            sync.Mutex
		results       []RunResult
		underOmission atomic.Int64
	)
	earlyStop := func() bool {
		return !s.softOmission && underOmission.Load() >= int64(s.modelsUnderOmission)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	p := pool.New().WithMaxGoroutines(s.maxThreads).WithContext(ctx).WithCancelOnError()
	for runID := 0; runID < s.totalRuns; runID++ {
		runID := runID
		if ctx.Err() != nil || earlyStop() {
			break
		}
		train, test, err := cfg.Sampler.Split(rng, s.trainProportion)
		if err != nil {
			_ = p.Wait()
			return nil, err
		}
		log.Debug().
			Int("run", runID).
			Int("train_presences", train.NumPresence()).
			Int("test_presences", test.NumPresence()).
			Int("train_absences", train.NumAbsence()).
			Int("test_absences", test.NumAbsence()).
			Msg("starting run")

		seed := cfg.Seed + int64(runID) + 1
		p.Go(func(ctx context.Context) error {
			result, err := runOne(ctx, runID, seed, cfg.Garp, s, train, test, &logger)
			if err != nil {
				return fmt.Errorf("run %d: %w", runID, err)
			}
			if !s.softOmission && result.Omission <= s.omissionThreshold {
				underOmission.Add(1)
			}
			mu.Lock()
			defer mu.Unlock()
			results = append(results, result)
			if cfg.OnRun != nil {
				cfg.OnRun(result)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].RunID < results[j].RunID })
	best, err := selectBest(results, s)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("selected", len(best)).
		Int("finished", len(results)).
		Int("total_runs", s.totalRuns).
		Msg("selected best subset of models")
	return &Ensemble{totalRuns: s.totalRuns, runs: results, best: best}, nil
}

func runOne(ctx context.Context, runID int, seed int64, params garp.Params, s settings, train, test *sampler.Memory, logger *zerolog.Logger) (RunResult, error) {
	runLogger := logger.With().Int("run", runID).Logger()
	alg := garp.New(garp.Config{Params: params, Sampler: train, Seed: seed, Logger: &runLogger})
	var diagnostics []model.GenerationDiagnostics
	err := alg.Run(ctx, func(d model.GenerationDiagnostics) {
		diagnostics = append(diagnostics, d)
	})
	if err != nil {
		return RunResult{}, err
	}
	rec, err := alg.Model()
	if err != nil {
		return RunResult{}, err
	}
	predictor, err := garp.LoadModel(rec)
	if err != nil {
		return RunResult{}, err
	}

	rng := rand.New(rand.NewSource(seed))
	commission, err := commissionError(rng, predictor, train, s.commissionSamples)
	if err != nil {
		return RunResult{}, err
	}
	evaluation := test
	if evaluation.NumPresence() == 0 {
		evaluation = train
	}
	return RunResult{
		RunID:       runID,
		Omission:    omissionError(predictor, evaluation),
		Commission:  commission,
		Generations: rec.Generations,
		Convergence: rec.Convergence,
		Model:       rec,
		Diagnostics: diagnostics,
		predictor:   predictor,
	}, nil
}

// omissionError is the fraction of presences predicted absent.
func omissionError(p *garp.Predictor, m *sampler.Memory) float64 {
	presences := m.Presences()
	if len(presences) == 0 {
		return 0
	}
	omitted := 0
	for _, occ := range presences {
		if p.Value(occ.Env) == 0 {
			omitted++
		}
	}
	return float64(omitted) / float64(len(presences))
}

// commissionError estimates the area predicted present from absences, or
// background points when the sampler has no absences.
func commissionError(rng *rand.Rand, p *garp.Predictor, m *sampler.Memory, samples int) (float64, error) {
	var points []model.Occurrence
	if m.NumAbsence() == 0 {
		var err error
		if points, err = m.PseudoAbsences(rng, samples); err != nil {
			return 0, err
		}
	} else {
		points = make([]model.Occurrence, samples)
		for i := range points {
			occ, err := m.Absence(rng)
			if err != nil {
				return 0, err
			}
			points[i] = occ
		}
	}
	sum := 0.0
	for _, occ := range points {
		if v := p.Value(occ.Env); v > 0 {
			sum += v
		}
	}
	return sum / float64(samples), nil
}

// selectBest sorts runs by omission, keeps the first modelsUnderOmission,
// sorts those by commission and returns the window of
// round(commissionThreshold*modelsUnderOmission) runs centred on the median.
// The window holds at least one run.
func selectBest(runs []RunResult, s settings) ([]RunResult, error) {
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	sorted := append([]RunResult(nil), runs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Omission < sorted[j].Omission })

	under := s.modelsUnderOmission
	if under > len(sorted) {
		under = len(sorted)
	}
	if under < 1 {
		under = 1
	}
	head := sorted[:under]
	sort.SliceStable(head, func(i, j int) bool { return head[i].Commission < head[j].Commission })

	numBest := int(s.commissionThreshold*float64(under) + 0.5)
	if numBest < 1 {
		numBest = 1
	}
	median := under / 2
	first := int(math.Ceil(float64(median) - float64(numBest)/2))
	if first < 0 {
		first = 0
	}
	if first+numBest > under {
		first = under - numBest
	}
	return append([]RunResult(nil), head[first:first+numBest]...), nil
}

package bestsubsets

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nichegarp/internal/garp"
	"nichegarp/internal/model"
	"nichegarp/internal/sampler"
)

func separableSampler(t *testing.T, seed int64) *sampler.Memory {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var presences, absences []model.Occurrence
	for i := 0; i < 40; i++ {
		presences = append(presences, model.Occurrence{
			Abundance: 1,
			Env:       model.Sample{0.2 + rng.Float64()*0.6, -0.3 + rng.Float64()*0.8},
		})
		absences = append(absences, model.Occurrence{
			Env: model.Sample{-0.9 + rng.Float64()*0.8, -0.9 + rng.Float64()*1.8},
		})
	}
	m, err := sampler.NewMemory(presences, absences, nil)
	require.NoError(t, err)
	return m
}

func quickGarp() garp.Params {
	return garp.Params{MaxGenerations: 25, ConvergenceLimit: 0.01, PopulationSize: 10, Resamples: 200}
}

func testConfig(t *testing.T) Config {
	params := DefaultParams()
	params.TotalRuns = 4
	params.ModelsUnderOmission = 4
	params.CommissionSampleSize = 200
	params.MaxThreads = 2
	return Config{Params: params, Garp: quickGarp(), Sampler: separableSampler(t, 3), Seed: 11}
}

func fakeRuns(omission, commission []float64) []RunResult {
	runs := make([]RunResult, len(omission))
	for i := range runs {
		runs[i] = RunResult{RunID: i, Omission: omission[i], Commission: commission[i]}
	}
	return runs
}

func runIDs(runs []RunResult) []int {
	ids := make([]int, len(runs))
	for i, run := range runs {
		ids[i] = run.RunID
	}
	return ids
}

func TestSelectBestTakesMedianCommissionWindow(t *testing.T) {
	// Omission keeps runs 0..3, commission order inside them is 2,0,3,1.
	runs := fakeRuns(
		[]float64{0.0, 0.1, 0.0, 0.05, 0.5, 0.6},
		[]float64{0.3, 0.9, 0.1, 0.5, 0.0, 0.0},
	)
	s := Params{TotalRuns: 6, ModelsUnderOmission: 4, CommissionThreshold: 50}.settings()

	best, err := selectBest(runs, s)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, runIDs(best))
}

func TestSelectBestKeepsAtLeastOneRun(t *testing.T) {
	runs := fakeRuns([]float64{0, 0, 0}, []float64{0.3, 0.1, 0.2})
	s := Params{TotalRuns: 3, ModelsUnderOmission: 3, CommissionThreshold: 0}.settings()

	best, err := selectBest(runs, s)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, runIDs(best))

	_, err = selectBest(nil, s)
	require.ErrorIs(t, err, ErrNoRuns)
}

func TestParamsValidateAndClamp(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	bad := DefaultParams()
	bad.TrainingProportion = 120
	err := bad.Validate()
	require.ErrorIs(t, err, garp.ErrInvalidParameter)
	assert.Equal(t, "Parameter TrainingProportion not set properly.", err.Error())

	bad = DefaultParams()
	bad.CommissionSampleSize = 0
	require.ErrorIs(t, bad.Validate(), garp.ErrInvalidParameter)

	for _, mutate := range []func(*Params){
		func(p *Params) { p.TrainingProportion = math.NaN() },
		func(p *Params) { p.HardOmissionThreshold = math.NaN() },
		func(p *Params) { p.CommissionThreshold = math.NaN() },
	} {
		bad = DefaultParams()
		mutate(&bad)
		require.ErrorIs(t, bad.Validate(), garp.ErrInvalidParameter)
	}

	p := DefaultParams()
	p.TotalRuns = 3
	p.ModelsUnderOmission = 20
	p.MaxThreads = 0
	s := p.settings()
	assert.Equal(t, 3, s.modelsUnderOmission)
	assert.Equal(t, 1, s.maxThreads)
	assert.True(t, s.softOmission)
	assert.InDelta(t, 0.5, s.trainProportion, 1e-12)
}

func TestRunBuildsEnsemble(t *testing.T) {
	cfg := testConfig(t)
	var seen []int
	cfg.OnRun = func(r RunResult) { seen = append(seen, r.RunID) }

	ens, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, ens.Runs(), 4)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, seen)
	require.Len(t, ens.Best(), 2)

	for _, run := range ens.Runs() {
		assert.GreaterOrEqual(t, run.Omission, 0.0)
		assert.LessOrEqual(t, run.Omission, 1.0)
		assert.GreaterOrEqual(t, run.Commission, 0.0)
		assert.LessOrEqual(t, run.Commission, 1.0)
		require.Len(t, run.Diagnostics, run.Generations)
		for g, d := range run.Diagnostics {
			assert.Equal(t, g+1, d.Generation)
		}
	}
	for _, sample := range []model.Sample{{0.5, 0.1}, {-0.5, 0.0}} {
		v := ens.Value(sample)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	loaded, err := LoadEnsemble(ens.Record("ens-1"))
	require.NoError(t, err)
	for _, sample := range []model.Sample{{0.5, 0.1}, {-0.5, 0.0}, {0.9, 0.9}} {
		assert.Equal(t, ens.Value(sample), loaded.Value(sample))
	}
}

func TestRunIsIndependentOfThreadCount(t *testing.T) {
	single := testConfig(t)
	single.Params.MaxThreads = 1
	parallel := testConfig(t)
	parallel.Params.MaxThreads = 4

	a, err := Run(context.Background(), single)
	require.NoError(t, err)
	b, err := Run(context.Background(), parallel)
	require.NoError(t, err)

	require.Len(t, b.Runs(), len(a.Runs()))
	for i := range a.Runs() {
		assert.Equal(t, a.Runs()[i].Omission, b.Runs()[i].Omission)
		assert.Equal(t, a.Runs()[i].Commission, b.Runs()[i].Commission)
		assert.Equal(t, a.Runs()[i].Model.Rules, b.Runs()[i].Model.Rules)
	}
}

func TestRunStopsEarlyUnderHardOmission(t *testing.T) {
	cfg := testConfig(t)
	cfg.Params.TotalRuns = 6
	cfg.Params.MaxThreads = 1
	cfg.Params.ModelsUnderOmission = 1
	cfg.Params.HardOmissionThreshold = 99.9

	ens, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Less(t, len(ens.Runs()), 6)
	assert.Len(t, ens.Best(), 1)
}

func TestRunRejectsInvalidParams(t *testing.T) {
	cfg := testConfig(t)
	cfg.Params.TotalRuns = 0
	_, err := Run(context.Background(), cfg)
	require.ErrorIs(t, err, garp.ErrInvalidParameter)

	cfg = testConfig(t)
	cfg.Sampler = nil
	_, err = Run(context.Background(), cfg)
	require.ErrorIs(t, err, garp.ErrDegenerateInput)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, testConfig(t))
	require.True(t, errors.Is(err, context.Canceled))
}

func TestOmissionAndCommission(t *testing.T) {
	rec := model.GarpModel{
		PopulationSize: 2,
		Layers:         1,
		Rules: []model.RuleRecord{{
			Type:        "d",
			Prediction:  1,
			Chromosome1: []float64{0},
			Chromosome2: []float64{1},
			Performance: make([]float64, 10),
		}},
	}
	predictor, err := garp.LoadModel(rec)
	require.NoError(t, err)

	m, err := sampler.NewMemory(
		[]model.Occurrence{{Abundance: 1, Env: model.Sample{0.5}}, {Abundance: 1, Env: model.Sample{-0.5}}},
		[]model.Occurrence{{Env: model.Sample{0.2}}},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, 0.5, omissionError(predictor, m))

	commission, err := commissionError(rand.New(rand.NewSource(1)), predictor, m, 10)
	require.NoError(t, err)
	assert.Equal(t, 1.0, commission)
}

func TestCommissionFallsBackToBackground(t *testing.T) {
	rec := model.GarpModel{
		PopulationSize: 2,
		Layers:         1,
		Rules: []model.RuleRecord{{
			Type:        "d",
			Prediction:  1,
			Chromosome1: []float64{0},
			Chromosome2: []float64{1},
			Performance: make([]float64, 10),
		}},
	}
	predictor, err := garp.LoadModel(rec)
	require.NoError(t, err)
	presences := []model.Occurrence{{Abundance: 1, Env: model.Sample{0.5}}}

	inside, err := sampler.NewMemory(presences, nil, []model.Occurrence{{Env: model.Sample{0.3}}, {Env: model.Sample{0.7}}})
	require.NoError(t, err)
	commission, err := commissionError(rand.New(rand.NewSource(1)), predictor, inside, 10)
	require.NoError(t, err)
	assert.Equal(t, 1.0, commission)

	outside, err := sampler.NewMemory(presences, nil, []model.Occurrence{{Env: model.Sample{-0.3}}})
	require.NoError(t, err)
	commission, err = commissionError(rand.New(rand.NewSource(1)), predictor, outside, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, commission)

	none, err := sampler.NewMemory(presences, nil, nil)
	require.NoError(t, err)
	_, err = commissionError(rand.New(rand.NewSource(1)), predictor, none, 10)
	require.ErrorIs(t, err, sampler.ErrNoBackground)
}

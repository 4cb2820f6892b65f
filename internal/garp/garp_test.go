package garp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"nichegarp/internal/model"
	"nichegarp/internal/rules"
	"nichegarp/internal/ruleset"
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
	if err != nil {
		t.Fatalf("new sampler: %v", err)
	}
	return m
}

func newTestAlgorithm(t *testing.T, params Params, seed int64) *Algorithm {
	t.Helper()
	return New(Config{
		Params:  params,
		Sampler: separableSampler(t, seed),
		Rand:    rand.New(rand.NewSource(seed)),
	})
}

func scored(t *testing.T, kind rules.Kind, prediction, sig float64, c1, c2 []float64) *rules.Rule {
	t.Helper()
	perf := make([]float64, rules.NumPerformance)
	perf[rules.PerfSignificance] = sig
	r, err := rules.Restore(kind, prediction, c1, c2, perf)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	return r
}

type zeroSource struct{}

func (zeroSource) Int63() int64 { return 0 }
func (zeroSource) Seed(int64) {}

func TestParamsFromValues(t *testing.T) {
	p, err := ParamsFromValues(map[string]string{
		ParamMaxGenerations:   "100",
		ParamConvergenceLimit: "0.05",
		ParamPopulationSize:   "20",
		ParamResamples:        "500",
	})
	if err != nil {
		t.Fatalf("parse params: %v", err)
	}
	if p.MaxGenerations != 100 || p.ConvergenceLimit != 0.05 || p.PopulationSize != 20 || p.Resamples != 500 {
		t.Fatalf("unexpected params %+v", p)
	}

	_, err = ParamsFromValues(map[string]string{ParamMaxGenerations: "100"})
	var pe *ParamError
	if !errors.As(err, &pe) || pe.Name != ParamConvergenceLimit {
		t.Fatalf("expected ConvergenceLimit param error, got %v", err)
	}
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if _, err := ParamsFromValues(map[string]string{ParamMaxGenerations: "ten"}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected malformed value error, got %v", err)
	}
}

func TestInitializeRejectsNaNConvergenceLimit(t *testing.T) {
	params, err := ParamsFromValues(map[string]string{
		ParamMaxGenerations:   "10",
		ParamConvergenceLimit: "NaN",
		ParamPopulationSize:   "10",
		ParamResamples:        "100",
	})
	if err == nil {
		err = New(Config{Params: params, Sampler: separableSampler(t, 1)}).Initialize()
	}
	var pe *ParamError
	if !errors.As(err, &pe) || pe.Name != ParamConvergenceLimit {
		t.Fatalf("expected ConvergenceLimit error for NaN, got %v", err)
	}
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{ParamMaxGenerations, func(p *Params) { p.MaxGenerations = 0 }},
		{ParamConvergenceLimit, func(p *Params) { p.ConvergenceLimit = 1.5 }},
		{ParamConvergenceLimit, func(p *Params) { p.ConvergenceLimit = -0.1 }},
		{ParamConvergenceLimit, func(p *Params) { p.ConvergenceLimit = math.NaN() }},
		{ParamPopulationSize, func(p *Params) { p.PopulationSize = 501 }},
		{ParamPopulationSize, func(p *Params) { p.PopulationSize = 0 }},
		{ParamResamples, func(p *Params) { p.Resamples = 100001 }},
	}
	for _, tc := range cases {
		p := DefaultParams()
		tc.mutate(&p)
		var pe *ParamError
		if err := p.Validate(); !errors.As(err, &pe) || pe.Name != tc.name {
			t.Fatalf("expected %s error, got %v", tc.name, err)
		}
	}
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestInitializeReportsInvalidParameter(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	params := DefaultParams()
	params.PopulationSize = 0
	alg := New(Config{Params: params, Sampler: separableSampler(t, 1), Logger: &logger})

	err := alg.Initialize()
	var pe *ParamError
	if !errors.As(err, &pe) || pe.Name != ParamPopulationSize {
		t.Fatalf("expected PopulationSize error, got %v", err)
	}
	if !strings.Contains(buf.String(), "Parameter PopulationSize not set properly.") {
		t.Fatalf("expected logged parameter error, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error level log, got %q", buf.String())
	}
	if alg.State() != StateUninitialized {
		t.Fatalf("expected uninitialized state, got %s", alg.State())
	}
	if err := alg.Iterate(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestInitializeRejectsDegenerateInput(t *testing.T) {
	params := Params{MaxGenerations: 5, ConvergenceLimit: 0.01, PopulationSize: 4, Resamples: 1}
	if err := newTestAlgorithm(t, params, 2).Initialize(); !errors.Is(err, ErrDegenerateInput) {
		t.Fatalf("expected degenerate input error for one resample, got %v", err)
	}

	empty, err := sampler.NewMemory(nil, []model.Occurrence{{Env: model.Sample{0}}}, nil)
	if err != nil {
		t.Fatalf("new sampler: %v", err)
	}
	params.Resamples = 10
	alg := New(Config{Params: params, Sampler: empty})
	if err := alg.Initialize(); !errors.Is(err, ErrDegenerateInput) {
		t.Fatalf("expected degenerate input error for no presences, got %v", err)
	}
}

func TestSingleGenerationScenario(t *testing.T) {
	params := Params{MaxGenerations: 1, ConvergenceLimit: 0.01, PopulationSize: 4, Resamples: 10}
	alg := newTestAlgorithm(t, params, 3)
	if err := alg.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(alg.Cache()) != 10 || alg.Layers() != 2 {
		t.Fatalf("unexpected cache: %d occurrences, %d layers", len(alg.Cache()), alg.Layers())
	}
	if alg.Offspring().Len() != 4 {
		t.Fatalf("expected 4 colonized offspring, got %d", alg.Offspring().Len())
	}
	if err := alg.Iterate(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if alg.Fittest().Len() > 4 {
		t.Fatalf("expected at most 4 archived rules, got %d", alg.Fittest().Len())
	}
	if !alg.Done() || alg.Progress() != 1 {
		t.Fatalf("expected done after one generation, done=%t progress=%f", alg.Done(), alg.Progress())
	}
	gen := alg.Generation()
	if err := alg.Iterate(); err != nil || alg.Generation() != gen {
		t.Fatalf("iterate after done must be a no-op, err=%v generation=%d", err, alg.Generation())
	}
}

func TestConvergenceTerminatesEarly(t *testing.T) {
	params := Params{MaxGenerations: 1000, ConvergenceLimit: 0.99, PopulationSize: 20, Resamples: 400}
	alg := newTestAlgorithm(t, params, 4)

	var generations []int
	err := alg.Run(context.Background(), func(d model.GenerationDiagnostics) {
		generations = append(generations, d.Generation)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if alg.Generation() >= 100 {
		t.Fatalf("expected convergence well before 1000 generations, ran %d", alg.Generation())
	}
	if alg.Convergence() >= 0.99 {
		t.Fatalf("expected convergence below limit, got %f", alg.Convergence())
	}
	if len(generations) != alg.Generation() {
		t.Fatalf("observer saw %d generations, want %d", len(generations), alg.Generation())
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	params := Params{MaxGenerations: 30, ConvergenceLimit: 0.0, PopulationSize: 10, Resamples: 200}
	alg := newTestAlgorithm(t, params, 5)
	if err := alg.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	last := alg.Progress()
	for !alg.Done() {
		if err := alg.Iterate(); err != nil {
			t.Fatalf("iterate: %v", err)
		}
		p := alg.Progress()
		if p < last || p > 1 {
			t.Fatalf("progress went from %f to %f", last, p)
		}
		last = p
	}
	if last != 1 || alg.Generation() != 30 {
		t.Fatalf("expected full progress after 30 generations, got %f at %d", last, alg.Generation())
	}
}

func TestFinishedArchiveIsSignificant(t *testing.T) {
	params := Params{MaxGenerations: 15, ConvergenceLimit: 0.0, PopulationSize: 12, Resamples: 300}
	alg := newTestAlgorithm(t, params, 6)
	if err := alg.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	set := alg.Fittest()
	if set.Len() == 0 {
		t.Fatal("expected significant rules on separable data")
	}
	for i := 0; i < set.Len(); i++ {
		if set.Get(i).Performance(DefaultPerfIndex) < DefaultSignificance {
			t.Fatalf("rule %d below significance threshold", i)
		}
		if i > 0 && set.Get(i-1).Performance(DefaultPerfIndex) < set.Get(i).Performance(DefaultPerfIndex) {
			t.Fatalf("archive not sorted at %d", i)
		}
	}
	if alg.Value(model.Sample{0.5, 0.1}) != 1 {
		t.Fatal("expected presence prediction inside the presence cluster")
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	params := Params{MaxGenerations: 50, ConvergenceLimit: 0.0, PopulationSize: 8, Resamples: 100}
	alg := newTestAlgorithm(t, params, 7)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := alg.Run(ctx, func(model.GenerationDiagnostics) {
		calls++
		if calls == 3 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if alg.Generation() != 3 {
		t.Fatalf("expected to stop after 3 generations, got %d", alg.Generation())
	}
}

func TestKeepFittestReplacesAndTracksConvergence(t *testing.T) {
	alg := New(Config{Params: DefaultParams()})
	source := ruleset.New(4)
	source.Add(scored(t, rules.Range, 1, 1, []float64{-1, -1}, []float64{1, 1}))
	source.Add(scored(t, rules.Range, 1, 2, []float64{-0.5, -1}, []float64{0.5, 1}))
	target := ruleset.New(4)

	if got := alg.keepFittest(source, target, DefaultPerfIndex); got != 1 {
		t.Fatalf("expected 1 converged hit, got %d", got)
	}
	if target.Len() != 1 || target.Get(0).Performance(DefaultPerfIndex) != 2 {
		t.Fatalf("expected better similar rule to replace the archived one")
	}
	if target.Get(0) == source.Get(1) {
		t.Fatal("archive must hold a clone, not the offspring rule")
	}
	if alg.Convergence() != 1 {
		t.Fatalf("expected convergence 1, got %f", alg.Convergence())
	}

	if got := alg.keepFittest(source, target, DefaultPerfIndex); got != 2 {
		t.Fatalf("expected 2 converged hits, got %d", got)
	}
	want := (1.0 + 2.0/3.0) / 2.0
	if diff := alg.Convergence() - want; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("expected convergence %f, got %f", want, alg.Convergence())
	}
	if target.Len() != 1 {
		t.Fatalf("equal scores must not replace, archive has %d rules", target.Len())
	}
}

func archiveOf(t *testing.T, sigs ...float64) *ruleset.RuleSet {
	set := ruleset.New(2 * len(sigs))
	for _, s := range sigs {
		set.Insert(DefaultPerfIndex, scored(t, rules.Range, 1, s, []float64{-1, -1}, []float64{1, 1}))
	}
	return set
}

func TestSelectGapSizeBounds(t *testing.T) {
	params := DefaultParams()
	params.PopulationSize = 4
	alg := New(Config{Params: params, Rand: rand.New(rand.NewSource(8))})
	source := archiveOf(t, 5, 4, 3, 1)

	target := ruleset.New(8)
	if err := alg.selectRules(source, target, 1.0); err != nil {
		t.Fatalf("select: %v", err)
	}
	if target.Len() != 4 {
		t.Fatalf("gap 1.0 should yield PopulationSize rules, got %d", target.Len())
	}
	for i := 0; i < target.Len(); i++ {
		if !target.Get(i).NeedsEvaluation() {
			t.Fatalf("selected rule %d not marked for evaluation", i)
		}
	}

	if err := alg.selectRules(source, target, 0.0); err != nil {
		t.Fatalf("select: %v", err)
	}
	if target.Len() != 0 {
		t.Fatalf("gap 0.0 should yield no rules, got %d", target.Len())
	}

	if err := alg.selectRules(source, target, 0.3); err != nil {
		t.Fatalf("select: %v", err)
	}
	if target.Len() != 2 {
		t.Fatalf("gap 0.3 of 4 should keep ceil(1.2)=2 rules, got %d", target.Len())
	}

	if err := alg.selectRules(source, ruleset.New(2), 1.0); !errors.Is(err, ErrTargetFull) {
		t.Fatalf("expected ErrTargetFull, got %v", err)
	}
}

func TestSUSFillsBoundarySlot(t *testing.T) {
	params := DefaultParams()
	params.PopulationSize = 2
	alg := New(Config{Params: params, Rand: rand.New(zeroSource{})})
	source := archiveOf(t, 1, 1, 0)

	sample := alg.susSample(source, params.PopulationSize)
	if len(sample) != params.PopulationSize+1 {
		t.Fatalf("expected %d slots, got %d", params.PopulationSize+1, len(sample))
	}
	// Expected counts are [1.5, 1.5, 0]. With the pointer starting at 0 the
	// third tick lands on rule 1 in slot k == PopulationSize.
	want := []int{0, 0, 1}
	for i := range want {
		if sample[i] != want[i] {
			t.Fatalf("unexpected draw %v, want %v", sample, want)
		}
	}
}

func TestSUSFavoursBetterRules(t *testing.T) {
	params := DefaultParams()
	params.PopulationSize = 6
	alg := New(Config{Params: params, Rand: rand.New(rand.NewSource(9))})
	source := archiveOf(t, 10, 9, 1, 0, 0, 0)

	counts := make([]int, source.Len())
	for rep := 0; rep < 200; rep++ {
		for _, idx := range alg.susSample(source, params.PopulationSize)[:params.PopulationSize] {
			if idx < 0 || idx >= source.Len() {
				t.Fatalf("draw %d out of range", idx)
			}
			counts[idx]++
		}
	}
	if counts[0] <= counts[3] || counts[1] <= counts[4] {
		t.Fatalf("expected better rules drawn more often, counts %v", counts)
	}
}

func TestModelRoundTripPreservesPredictions(t *testing.T) {
	params := Params{MaxGenerations: 10, ConvergenceLimit: 0.0, PopulationSize: 10, Resamples: 200}
	alg := newTestAlgorithm(t, params, 10)
	if _, err := alg.Model(); !errors.Is(err, ErrNotDone) {
		t.Fatalf("expected ErrNotDone before the run, got %v", err)
	}
	if err := alg.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	rec, err := alg.Model()
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if rec.Generations != 10 || rec.Significance != DefaultSignificance || rec.FinalGapSize != DefaultGapSize {
		t.Fatalf("unexpected model metadata %+v", rec)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded model.GarpModel
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	predictor, err := LoadModel(decoded)
	if err != nil {
		t.Fatalf("load model: %v", err)
	}
	restored := New(Config{})
	if err := restored.Restore(decoded); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored.Done() || restored.Generation() != 10 {
		t.Fatal("restored algorithm should be finished")
	}

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 300; i++ {
		s := model.Sample{rng.Float64()*2 - 1, rng.Float64()*2 - 1}
		want := alg.Value(s)
		if got := predictor.Value(s); got != want {
			t.Fatalf("predictor disagrees at %v: %f != %f", s, got, want)
		}
		if got := restored.Value(s); got != want {
			t.Fatalf("restored algorithm disagrees at %v: %f != %f", s, got, want)
		}
	}

	decoded.Rules = append(decoded.Rules, model.RuleRecord{Type: "q", Chromosome1: []float64{0, 0}, Chromosome2: []float64{0, 0}})
	if _, err := LoadModel(decoded); !errors.Is(err, rules.ErrUnknownRuleType) {
		t.Fatalf("expected ErrUnknownRuleType, got %v", err)
	}
}

func TestCrossoverAndMutateKeepOffspringValid(t *testing.T) {
	params := Params{MaxGenerations: 5, ConvergenceLimit: 0.0, PopulationSize: 30, Resamples: 100}
	alg := newTestAlgorithm(t, params, 12)
	if err := alg.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	alg.generation = 1
	alg.mutate(alg.offspring)
	alg.crossover(alg.offspring)
	for i := 0; i < alg.offspring.Len(); i++ {
		r := alg.offspring.Get(i)
		c1, c2 := r.Chrom1(), r.Chrom2()
		for j := range c1 {
			if c1[j] < -1 || c1[j] > 1 || c2[j] < -1 || c2[j] > 1 {
				t.Fatalf("rule %d gene %d out of range: %f %f", i, j, c1[j], c2[j])
			}
		}
		if !r.NeedsEvaluation() {
			t.Fatalf("rule %d should need evaluation after mutation", i)
		}
	}
}

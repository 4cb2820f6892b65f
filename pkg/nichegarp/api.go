// Package nichegarp is the public API for training GARP niche models,
// building best-subsets ensembles and projecting them onto new
// environmental samples.
package nichegarp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"nichegarp/internal/bestsubsets"
	"nichegarp/internal/garp"
	"nichegarp/internal/model"
	"nichegarp/internal/sampler"
	"nichegarp/internal/stats"
	"nichegarp/internal/storage"
)

const (
	defaultRunsDir    = "garp_runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "nichegarp.db"

	KindGarp        = "garp"
	KindBestSubsets = "best_subsets"
	// KindBestSubsetsMember marks the artifacts of one GARP run inside a
	// best-subsets ensemble.
	KindBestSubsetsMember = "best_subsets_member"
)

// ErrNoGenerationSeries is returned when diagnostics or a convergence plot
// are requested for a best-subsets run. Its member runs carry the series.
var ErrNoGenerationSeries = errors.New("best-subsets runs have no generation series")

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *zerolog.Logger
}

type Client struct {
	store  storage.Store
	log    zerolog.Logger
	inited bool

	runsDir    string
	exportsDir string
}

// DataSource names occurrence CSV files or carries occurrences directly.
// In-memory occurrences take precedence over files.
type DataSource struct {
	PresenceCSV   string
	AbsenceCSV    string
	BackgroundCSV string
	Presences     []model.Occurrence
	Absences      []model.Occurrence
	Background    []model.Occurrence
	Normalize     bool
}

type TrainRequest struct {
	Data   DataSource
	Params garp.Params
	Seed   int64
	Plot   bool
	// Observer receives diagnostics after every generation.
	Observer func(model.GenerationDiagnostics)
}

type TrainSummary struct {
	RunID        string
	ModelID      string
	ArtifactsDir string
	Generations  int
	Convergence  float64
	Rules        int
	Diagnostics  []model.GenerationDiagnostics
}

type BestSubsetsRequest struct {
	Data   DataSource
	Garp   garp.Params
	Params bestsubsets.Params
	Seed   int64
	// OnRun receives each finished run.
	OnRun func(bestsubsets.RunResult)
}

type BestSubsetsSummary struct {
	RunID        string
	ModelID      string
	ArtifactsDir string
	Report       stats.EnsembleReport
	// MemberRuns are the run ids under which each GARP run's diagnostics
	// and model are kept, in run order.
	MemberRuns []string
}

type PredictRequest struct {
	ModelID string
	// Samples hold raw environment values. They are normalized with the
	// model's recorded bounds when it has any.
	Samples []model.Sample
}

type PredictResponse struct {
	ModelID string
	Kind    string
	Values  []float64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	ModelID      string
	Kind         string
	CreatedAtUTC string
	Seed         int64
	Generations  int
	Convergence  float64
	Rules        int
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
	// Format selects an additional model encoding: "yaml" or "binary".
	Format string
}

type ExportSummary struct {
	RunID     string
	Directory string
	ModelFile string
}

type PlotRequest struct {
	RunID  string
	Latest bool
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		store:      store,
		log:        logger,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.inited {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.inited = true
	return nil
}

// Train runs GARP to completion and persists the model, the run record and
// per-generation diagnostics.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if err := c.Init(ctx); err != nil {
		return TrainSummary{}, err
	}
	if req.Params == (garp.Params{}) {
		req.Params = garp.DefaultParams()
	}
	data, normalizer, err := loadData(req.Data)
	if err != nil {
		return TrainSummary{}, err
	}

	now := time.Now().UTC()
	runID := newRunID(KindGarp, req.Seed)
	logger := c.log.With().Str("run_id", runID).Logger()

	alg := garp.New(garp.Config{Params: req.Params, Sampler: data, Seed: req.Seed, Logger: &logger})
	var diagnostics []model.GenerationDiagnostics
	err = alg.Run(ctx, func(d model.GenerationDiagnostics) {
		diagnostics = append(diagnostics, d)
		if req.Observer != nil {
			req.Observer(d)
		}
	})
	if err != nil {
		return TrainSummary{}, err
	}

	rec, err := alg.Model()
	if err != nil {
		return TrainSummary{}, err
	}
	rec.ID = uuid.NewString()
	storage.Stamp(&rec.VersionedRecord)
	if normalizer != nil {
		rec.Normalization = normalizer.Record()
	}
	if err := c.store.SaveModel(ctx, rec); err != nil {
		return TrainSummary{}, err
	}

	run := model.RunRecord{
		RunID:            runID,
		ModelID:          rec.ID,
		Kind:             KindGarp,
		CreatedAtUTC:     now.Format(time.RFC3339Nano),
		Seed:             req.Seed,
		PopulationSize:   req.Params.PopulationSize,
		MaxGenerations:   req.Params.MaxGenerations,
		Resamples:        req.Params.Resamples,
		ConvergenceLimit: req.Params.ConvergenceLimit,
		Generations:      rec.Generations,
		Convergence:      rec.Convergence,
		Rules:            len(rec.Rules),
	}
	if err := c.saveRun(ctx, run, diagnostics); err != nil {
		return TrainSummary{}, err
	}

	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config:      runConfig(run, req.Data),
		Model:       &rec,
		Diagnostics: diagnostics,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	if req.Plot && len(diagnostics) > 0 {
		if _, err := stats.WriteConvergencePlot(runDir, runID, diagnostics); err != nil {
			return TrainSummary{}, err
		}
	}
	if err := stats.AppendRunIndex(c.runsDir, indexEntry(run)); err != nil {
		return TrainSummary{}, err
	}

	return TrainSummary{
		RunID:        runID,
		ModelID:      rec.ID,
		ArtifactsDir: filepath.Clean(runDir),
		Generations:  rec.Generations,
		Convergence:  rec.Convergence,
		Rules:        len(rec.Rules),
		Diagnostics:  diagnostics,
	}, nil
}

// BestSubsets runs the best-subsets procedure and persists the ensemble.
func (c *Client) BestSubsets(ctx context.Context, req BestSubsetsRequest) (BestSubsetsSummary, error) {
	if err := c.Init(ctx); err != nil {
		return BestSubsetsSummary{}, err
	}
	if req.Garp == (garp.Params{}) {
		req.Garp = garp.DefaultParams()
	}
	if req.Params == (bestsubsets.Params{}) {
		req.Params = bestsubsets.DefaultParams()
	}
	data, normalizer, err := loadData(req.Data)
	if err != nil {
		return BestSubsetsSummary{}, err
	}

	now := time.Now().UTC()
	runID := newRunID(KindBestSubsets, req.Seed)
	logger := c.log.With().Str("run_id", runID).Logger()

	ens, err := bestsubsets.Run(ctx, bestsubsets.Config{
		Params:  req.Params,
		Garp:    req.Garp,
		Sampler: data,
		Seed:    req.Seed,
		Logger:  &logger,
		OnRun:   req.OnRun,
	})
	if err != nil {
		return BestSubsetsSummary{}, err
	}

	rec := ens.Record(uuid.NewString())
	storage.Stamp(&rec.VersionedRecord)
	for i := range rec.Members {
		storage.Stamp(&rec.Members[i].Model.VersionedRecord)
		if normalizer != nil {
			rec.Members[i].Model.Normalization = normalizer.Record()
		}
	}
	if err := c.store.SaveEnsemble(ctx, rec); err != nil {
		return BestSubsetsSummary{}, err
	}

	run := model.RunRecord{
		RunID:            runID,
		ModelID:          rec.ID,
		Kind:             KindBestSubsets,
		CreatedAtUTC:     now.Format(time.RFC3339Nano),
		Seed:             req.Seed,
		PopulationSize:   req.Garp.PopulationSize,
		MaxGenerations:   req.Garp.MaxGenerations,
		Resamples:        req.Garp.Resamples,
		ConvergenceLimit: req.Garp.ConvergenceLimit,
		Rules:            len(rec.Members),
	}
	storage.Stamp(&run.VersionedRecord)
	if err := c.store.SaveRun(ctx, run); err != nil {
		return BestSubsetsSummary{}, err
	}

	runs := ens.Runs()
	summaries := make([]stats.EnsembleRun, len(runs))
	memberRuns := make([]string, len(runs))
	for i, r := range runs {
		summaries[i] = stats.EnsembleRun{
			RunID:       r.RunID,
			Generations: r.Generations,
			Omission:    r.Omission,
			Commission:  r.Commission,
			Selected:    ens.Selected(r.RunID),
		}
		memberRuns[i] = MemberRunID(runID, r.RunID)
		if err := c.saveMemberRun(ctx, memberRuns[i], run, req.Data, r, normalizer); err != nil {
			return BestSubsetsSummary{}, err
		}
	}

	cfg := runConfig(run, req.Data)
	cfg.TotalRuns = req.Params.TotalRuns
	cfg.MaxThreads = req.Params.MaxThreads
	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config:      cfg,
		Ensemble:    &rec,
		Diagnostics: []model.GenerationDiagnostics{},
	})
	if err != nil {
		return BestSubsetsSummary{}, err
	}
	report := stats.BuildEnsembleReport(rec.ID, ens.TotalRuns(), summaries)
	if _, err := stats.WriteEnsembleReport(runDir, report); err != nil {
		return BestSubsetsSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, indexEntry(run)); err != nil {
		return BestSubsetsSummary{}, err
	}

	return BestSubsetsSummary{
		RunID:        runID,
		ModelID:      rec.ID,
		ArtifactsDir: filepath.Clean(runDir),
		Report:       report,
		MemberRuns:   memberRuns,
	}, nil
}

// Predict projects raw samples with a stored model or ensemble. Models
// missing from the store are read back from the run artifacts.
func (c *Client) Predict(ctx context.Context, req PredictRequest) (PredictResponse, error) {
	if req.ModelID == "" {
		return PredictResponse{}, errors.New("predict requires a model id")
	}
	if err := c.Init(ctx); err != nil {
		return PredictResponse{}, err
	}

	single, ok, err := c.store.GetModel(ctx, req.ModelID)
	if err != nil {
		return PredictResponse{}, err
	}
	if !ok {
		rec, found, err := c.ensembleRecord(ctx, req.ModelID)
		if err != nil {
			return PredictResponse{}, err
		}
		if found {
			return predictEnsemble(rec, req.Samples)
		}
		single, ok, err = c.artifactModel(req.ModelID)
		if err != nil {
			return PredictResponse{}, err
		}
	}
	if !ok {
		return PredictResponse{}, fmt.Errorf("model not found: %s", req.ModelID)
	}

	predictor, err := garp.LoadModel(single)
	if err != nil {
		return PredictResponse{}, err
	}
	values, err := project(single.Normalization, single.Layers, req.Samples, predictor.Value)
	if err != nil {
		return PredictResponse{}, err
	}
	return PredictResponse{ModelID: single.ID, Kind: KindGarp, Values: values}, nil
}

func predictEnsemble(rec model.EnsembleModel, samples []model.Sample) (PredictResponse, error) {
	ens, err := bestsubsets.LoadEnsemble(rec)
	if err != nil {
		return PredictResponse{}, err
	}
	first := rec.Members[0].Model
	values, err := project(first.Normalization, first.Layers, samples, ens.Value)
	if err != nil {
		return PredictResponse{}, err
	}
	return PredictResponse{ModelID: rec.ID, Kind: KindBestSubsets, Values: values}, nil
}

// ensembleRecord looks an ensemble up in the store, then in the artifacts.
func (c *Client) ensembleRecord(ctx context.Context, modelID string) (model.EnsembleModel, bool, error) {
	rec, ok, err := c.store.GetEnsemble(ctx, modelID)
	if err != nil || ok {
		return rec, ok, err
	}
	entry, ok, err := c.indexEntryForModel(modelID, KindBestSubsets)
	if err != nil || !ok {
		return model.EnsembleModel{}, false, err
	}
	rec, ok, err = stats.ReadEnsemble(c.runsDir, entry.RunID)
	if err != nil || !ok {
		return model.EnsembleModel{}, ok, err
	}
	return rec, true, storage.CheckEnsemble(rec)
}

func (c *Client) artifactModel(modelID string) (model.GarpModel, bool, error) {
	entry, ok, err := c.indexEntryForModel(modelID, KindGarp)
	if err != nil || !ok {
		return model.GarpModel{}, false, err
	}
	rec, ok, err := stats.ReadModel(c.runsDir, entry.RunID)
	if err != nil || !ok {
		return model.GarpModel{}, ok, err
	}
	return rec, true, storage.CheckModel(rec)
}

func (c *Client) indexEntryForModel(modelID, kind string) (stats.RunIndexEntry, bool, error) {
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return stats.RunIndexEntry{}, false, err
	}
	for _, e := range entries {
		if e.ModelID == modelID && e.Kind == kind {
			return e, true, nil
		}
	}
	return stats.RunIndexEntry{}, false, nil
}

// Runs lists the artifact run index, newest first.
func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			ModelID:      e.ModelID,
			Kind:         e.Kind,
			CreatedAtUTC: e.CreatedAtUTC,
			Seed:         e.Seed,
			Generations:  e.Generations,
			Convergence:  e.Convergence,
			Rules:        e.Rules,
		})
	}
	return out, nil
}

// StoredRuns lists the run records held by the store, oldest first.
func (c *Client) StoredRuns(ctx context.Context) ([]model.RunRecord, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListRuns(ctx)
}

// Diagnostics reads per-generation diagnostics from the store, falling
// back to the run artifacts written by an earlier process.
func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "diagnostics")
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	kind, err := c.runKind(ctx, runID)
	if err != nil {
		return nil, err
	}
	if kind == KindBestSubsets {
		return nil, fmt.Errorf("%w: use a member run id such as %s", ErrNoGenerationSeries, MemberRunID(runID, 0))
	}

	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		diagnostics, ok, err = stats.ReadGenerationDiagnostics(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	return diagnostics, nil
}

// Export copies a run's artifacts and optionally re-encodes its model.
func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	summary := ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}
	if req.Format == "" || req.Format == "json" {
		return summary, nil
	}

	cfg, ok, err := stats.ReadRunConfig(c.runsDir, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	if !ok || (cfg.Kind != KindGarp && cfg.Kind != KindBestSubsetsMember) {
		return ExportSummary{}, fmt.Errorf("run %s has no single garp model to encode as %s", runID, req.Format)
	}
	rec, ok, err := stats.ReadModel(c.runsDir, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	if !ok {
		return ExportSummary{}, fmt.Errorf("model not found for run id: %s", runID)
	}

	var data []byte
	var name string
	switch req.Format {
	case "yaml":
		data, err = yaml.Marshal(rec)
		name = "model.yaml"
	case "binary":
		data, err = storage.EncodeModelBinary(rec)
		name = "model.bin"
	default:
		return ExportSummary{}, fmt.Errorf("unsupported export format: %s", req.Format)
	}
	if err != nil {
		return ExportSummary{}, err
	}
	summary.ModelFile = filepath.Join(summary.Directory, name)
	if err := os.WriteFile(summary.ModelFile, data, 0o644); err != nil {
		return ExportSummary{}, err
	}
	return summary, nil
}

// Plot renders the convergence plot of a run into its artifact directory.
func (c *Client) Plot(ctx context.Context, req PlotRequest) (string, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "plot")
	if err != nil {
		return "", err
	}
	diagnostics, err := c.Diagnostics(ctx, DiagnosticsRequest{RunID: runID})
	if err != nil {
		return "", err
	}
	return stats.WriteConvergencePlot(filepath.Join(c.runsDir, runID), runID, diagnostics)
}

// runKind reports the kind recorded for runID, or "" when it is unknown.
func (c *Client) runKind(ctx context.Context, runID string) (string, error) {
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if ok {
		return run.Kind, nil
	}
	cfg, ok, err := stats.ReadRunConfig(c.runsDir, runID)
	if err != nil || !ok {
		return "", err
	}
	return cfg.Kind, nil
}

func (c *Client) resolveRunID(runID string, latest bool, op string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", op)
	}
	return runID, nil
}

// MemberRunID names the artifacts of run member inside best-subsets run runID.
func MemberRunID(runID string, member int) string {
	return fmt.Sprintf("%s-run%d", runID, member)
}

// saveMemberRun keeps the per-generation diagnostics and model of one
// best-subsets run next to the ensemble. Member runs are not indexed.
func (c *Client) saveMemberRun(ctx context.Context, memberID string, parent model.RunRecord, data DataSource, r bestsubsets.RunResult, normalizer *sampler.Normalizer) error {
	if err := c.store.SaveGenerationDiagnostics(ctx, memberID, r.Diagnostics); err != nil {
		return err
	}
	member := r.Model
	storage.Stamp(&member.VersionedRecord)
	if normalizer != nil {
		member.Normalization = normalizer.Record()
	}
	cfg := runConfig(parent, data)
	cfg.RunID = memberID
	cfg.Kind = KindBestSubsetsMember
	cfg.Seed = parent.Seed + int64(r.RunID) + 1
	_, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config:      cfg,
		Model:       &member,
		Diagnostics: r.Diagnostics,
	})
	return err
}

func (c *Client) saveRun(ctx context.Context, run model.RunRecord, diagnostics []model.GenerationDiagnostics) error {
	storage.Stamp(&run.VersionedRecord)
	if err := c.store.SaveRun(ctx, run); err != nil {
		return err
	}
	return c.store.SaveGenerationDiagnostics(ctx, run.RunID, diagnostics)
}

func loadData(src DataSource) (*sampler.Memory, *sampler.Normalizer, error) {
	var (
		data *sampler.Memory
		err  error
	)
	if len(src.Presences) > 0 {
		data, err = sampler.NewMemory(src.Presences, src.Absences, src.Background)
	} else {
		if src.PresenceCSV == "" {
			return nil, nil, errors.New("presence data is required")
		}
		data, err = sampler.LoadMemory(src.PresenceCSV, src.AbsenceCSV, src.BackgroundCSV)
	}
	if err != nil {
		return nil, nil, err
	}
	if !src.Normalize {
		return data, nil, nil
	}
	normalizer, err := sampler.FitNormalizer(data)
	if err != nil {
		return nil, nil, err
	}
	return normalizer.Normalize(data), normalizer, nil
}

func project(norm *model.Normalization, layers int, samples []model.Sample, value func(model.Sample) float64) ([]float64, error) {
	var normalizer *sampler.Normalizer
	if norm != nil {
		var err error
		if normalizer, err = sampler.NormalizerFromRecord(norm); err != nil {
			return nil, err
		}
	}
	out := make([]float64, len(samples))
	for i, sample := range samples {
		if layers > 0 && len(sample) != layers {
			return nil, fmt.Errorf("sample %d has %d layers, want %d", i, len(sample), layers)
		}
		if normalizer != nil {
			sample = normalizer.Apply(sample)
		}
		out[i] = value(sample)
	}
	return out, nil
}

func newRunID(kind string, seed int64) string {
	return fmt.Sprintf("%s-%d-%s", kind, seed, uuid.NewString()[:8])
}

func runConfig(run model.RunRecord, data DataSource) stats.RunConfig {
	return stats.RunConfig{
		RunID:            run.RunID,
		Kind:             run.Kind,
		PresenceCSV:      data.PresenceCSV,
		AbsenceCSV:       data.AbsenceCSV,
		BackgroundCSV:    data.BackgroundCSV,
		Normalize:        data.Normalize,
		MaxGenerations:   run.MaxGenerations,
		ConvergenceLimit: run.ConvergenceLimit,
		PopulationSize:   run.PopulationSize,
		Resamples:        run.Resamples,
		Seed:             run.Seed,
	}
}

func indexEntry(run model.RunRecord) stats.RunIndexEntry {
	return stats.RunIndexEntry{
		RunID:        run.RunID,
		ModelID:      run.ModelID,
		Kind:         run.Kind,
		CreatedAtUTC: run.CreatedAtUTC,
		Seed:         run.Seed,
		Generations:  run.Generations,
		Convergence:  run.Convergence,
		Rules:        run.Rules,
	}
}

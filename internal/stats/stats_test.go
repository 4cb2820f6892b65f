package stats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nichegarp/internal/model"
)

func sampleDiagnostics() []model.GenerationDiagnostics {
	return []model.GenerationDiagnostics{
		{Generation: 1, Rules: 4, Convergence: 1, Best: 2.5, Mean: 1.0},
		{Generation: 2, Rules: 5, Convergence: 0.6, Best: 3.5, Mean: 2.0},
		{Generation: 3, Rules: 5, Convergence: 0.3, Best: 4.5, Mean: 2.5},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	m := model.GarpModel{ID: "model-1", Generations: 3, Layers: 2}
	runDir, err := WriteRunArtifacts(baseDir, RunArtifacts{
		Config:      RunConfig{RunID: "run-123", Kind: "garp", PopulationSize: 4, Seed: 7},
		Model:       &m,
		Diagnostics: sampleDiagnostics(),
	})
	require.NoError(t, err)

	for _, file := range []string{configFile, modelFile, diagnosticsFile, convergenceFile} {
		_, err := os.Stat(filepath.Join(runDir, file))
		require.NoError(t, err, file)
	}

	exported, err := ExportRunArtifacts(baseDir, "run-123", outDir)
	require.NoError(t, err)
	for _, file := range []string{configFile, modelFile, diagnosticsFile, convergenceFile} {
		_, err := os.Stat(filepath.Join(exported, file))
		require.NoError(t, err, file)
	}
	_, err = os.Stat(filepath.Join(exported, plotFile))
	assert.True(t, os.IsNotExist(err))

	cfg, ok, err := ReadRunConfig(baseDir, "run-123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), cfg.Seed)

	loaded, ok, err := ReadModel(baseDir, "run-123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "model-1", loaded.ID)

	diagnostics, ok, err := ReadGenerationDiagnostics(baseDir, "run-123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleDiagnostics(), diagnostics)
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	_, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{})
	require.Error(t, err)
}

func TestConvergenceSeriesRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	runDir := filepath.Join(baseDir, "run-1")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, WriteConvergenceSeries(runDir, sampleDiagnostics()))

	series, ok, err := ReadConvergenceSeries(baseDir, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 0.6, 0.3}, series)

	_, ok, err = ReadConvergenceSeries(baseDir, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunIndexNewestFirstAndReplace(t *testing.T) {
	baseDir := t.TempDir()
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z"}))
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "b", CreatedAtUTC: "2026-01-03T00:00:00Z"}))
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "c", CreatedAtUTC: "2026-01-02T00:00:00Z"}))
	require.NoError(t, AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", CreatedAtUTC: "2026-01-04T00:00:00Z", Rules: 9}))

	index, err := ListRunIndex(baseDir)
	require.NoError(t, err)
	require.Len(t, index, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{index[0].RunID, index[1].RunID, index[2].RunID})
	assert.Equal(t, 9, index[0].Rules)

	empty, err := ListRunIndex(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestWriteConvergencePlot(t *testing.T) {
	runDir := t.TempDir()
	path, err := WriteConvergencePlot(runDir, "run-1", sampleDiagnostics())
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	_, err = WriteConvergencePlot(runDir, "empty", nil)
	require.Error(t, err)
}

func TestEnsembleReport(t *testing.T) {
	runs := []EnsembleRun{
		{RunID: 0, Omission: 0, Commission: 0.2, Selected: true},
		{RunID: 1, Omission: 0.5, Commission: 0.4},
		{RunID: 2, Omission: 0.25, Commission: 0.6, Selected: true},
	}
	report := BuildEnsembleReport("ens-1", 4, runs)
	assert.Equal(t, 4, report.TotalRuns)
	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, 2, report.Selected)
	assert.InDelta(t, 0.25, report.Omission.Mean, 1e-12)
	assert.InDelta(t, 0.4, report.Commission.Mean, 1e-12)
	assert.InDelta(t, 0.2, report.Commission.Std, 1e-12)
	assert.Equal(t, 0.5, report.Omission.Max)

	path, err := WriteEnsembleReport(t.TempDir(), report)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(path), ensembleRunsFile))
	require.NoError(t, err)
}

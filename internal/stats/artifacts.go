package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"nichegarp/internal/model"
)

const (
	runIndexFile    = "run_index.json"
	configFile      = "config.json"
	modelFile       = "model.json"
	diagnosticsFile = "generation_diagnostics.json"
	convergenceFile = "convergence.csv"
	plotFile        = "convergence.png"
)

// RunConfig is the training setup recorded next to every run.
type RunConfig struct {
	RunID            string  `json:"run_id"`
	Kind             string  `json:"kind"`
	PresenceCSV      string  `json:"presence_csv,omitempty"`
	AbsenceCSV       string  `json:"absence_csv,omitempty"`
	BackgroundCSV    string  `json:"background_csv,omitempty"`
	Normalize        bool    `json:"normalize"`
	MaxGenerations   int     `json:"max_generations"`
	ConvergenceLimit float64 `json:"convergence_limit"`
	PopulationSize   int     `json:"population_size"`
	Resamples        int     `json:"resamples"`
	Seed             int64   `json:"seed"`
	TotalRuns        int     `json:"total_runs,omitempty"`
	MaxThreads       int     `json:"max_threads,omitempty"`
}

type RunArtifacts struct {
	Config      RunConfig                     `json:"config"`
	Model       *model.GarpModel              `json:"model,omitempty"`
	Ensemble    *model.EnsembleModel          `json:"ensemble,omitempty"`
	Diagnostics []model.GenerationDiagnostics `json:"diagnostics"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	ModelID      string  `json:"model_id"`
	Kind         string  `json:"kind"`
	CreatedAtUTC string  `json:"created_at_utc"`
	Seed         int64   `json:"seed"`
	Generations  int     `json:"generations"`
	Convergence  float64 `json:"convergence"`
	Rules        int     `json:"rules"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	switch {
	case artifacts.Model != nil:
		if err := writeJSON(filepath.Join(runDir, modelFile), artifacts.Model); err != nil {
			return "", err
		}
	case artifacts.Ensemble != nil:
		if err := writeJSON(filepath.Join(runDir, modelFile), artifacts.Ensemble); err != nil {
			return "", err
		}
	}
	if err := writeJSON(filepath.Join(runDir, diagnosticsFile), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if err := WriteConvergenceSeries(runDir, artifacts.Diagnostics); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends win ties.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory into outDir. The plot is copied
// only when one was rendered.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, diagnosticsFile, convergenceFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{modelFile, plotFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadModel(baseDir, runID string) (model.GarpModel, bool, error) {
	var m model.GarpModel
	ok, err := readJSON(filepath.Join(baseDir, runID, modelFile), &m)
	return m, ok, err
}

func ReadEnsemble(baseDir, runID string) (model.EnsembleModel, bool, error) {
	var e model.EnsembleModel
	ok, err := readJSON(filepath.Join(baseDir, runID, modelFile), &e)
	return e, ok, err
}

func ReadGenerationDiagnostics(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	var diagnostics []model.GenerationDiagnostics
	ok, err := readJSON(filepath.Join(baseDir, runID, diagnosticsFile), &diagnostics)
	return diagnostics, ok, err
}

// WriteConvergenceSeries writes one CSV row per generation.
func WriteConvergenceSeries(runDir string, diagnostics []model.GenerationDiagnostics) error {
	file, err := os.Create(filepath.Join(runDir, convergenceFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "convergence", "rules", "best", "mean"}); err != nil {
		return err
	}
	for _, d := range diagnostics {
		if err := writer.Write([]string{
			strconv.Itoa(d.Generation),
			strconv.FormatFloat(d.Convergence, 'f', -1, 64),
			strconv.Itoa(d.Rules),
			strconv.FormatFloat(d.Best, 'f', -1, 64),
			strconv.FormatFloat(d.Mean, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadConvergenceSeries returns the convergence column of a run.
func ReadConvergenceSeries(baseDir, runID string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, convergenceFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("convergence series header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

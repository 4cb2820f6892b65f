package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	ensembleReportFile = "ensemble_report.json"
	ensembleRunsFile   = "ensemble_runs.csv"
)

// EnsembleRun is the outcome of one best-subsets run.
type EnsembleRun struct {
	RunID       int     `json:"run_id"`
	Generations int     `json:"generations"`
	Omission    float64 `json:"omission"`
	Commission  float64 `json:"commission"`
	Selected    bool    `json:"selected"`
}

type ErrorSummary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

type EnsembleReport struct {
	ModelID     string        `json:"model_id"`
	GeneratedAt string        `json:"generated_at_utc"`
	TotalRuns   int           `json:"total_runs"`
	Completed   int           `json:"completed"`
	Selected    int           `json:"selected"`
	Omission    ErrorSummary  `json:"omission"`
	Commission  ErrorSummary  `json:"commission"`
	Runs        []EnsembleRun `json:"runs"`
}

// BuildEnsembleReport summarizes the omission and commission of runs.
func BuildEnsembleReport(modelID string, totalRuns int, runs []EnsembleRun) EnsembleReport {
	report := EnsembleReport{
		ModelID:   modelID,
		TotalRuns: totalRuns,
		Completed: len(runs),
		Runs:      append([]EnsembleRun(nil), runs...),
	}
	omission := make([]float64, 0, len(runs))
	commission := make([]float64, 0, len(runs))
	for _, run := range runs {
		if run.Selected {
			report.Selected++
		}
		omission = append(omission, run.Omission)
		commission = append(commission, run.Commission)
	}
	report.Omission = summarize(omission)
	report.Commission = summarize(commission)
	return report
}

func WriteEnsembleReport(runDir string, report EnsembleReport) (string, error) {
	if report.ModelID == "" {
		return "", fmt.Errorf("report model id is required")
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if report.GeneratedAt == "" {
		report.GeneratedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	path := filepath.Join(runDir, ensembleReportFile)
	if err := writeJSON(path, report); err != nil {
		return "", err
	}
	if err := writeEnsembleRuns(filepath.Join(runDir, ensembleRunsFile), report.Runs); err != nil {
		return "", err
	}
	return path, nil
}

func writeEnsembleRuns(path string, runs []EnsembleRun) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"run_id", "generations", "omission", "commission", "selected"}); err != nil {
		return err
	}
	for _, run := range runs {
		if err := writer.Write([]string{
			strconv.Itoa(run.RunID),
			strconv.Itoa(run.Generations),
			strconv.FormatFloat(run.Omission, 'f', -1, 64),
			strconv.FormatFloat(run.Commission, 'f', -1, 64),
			strconv.FormatBool(run.Selected),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func summarize(values []float64) ErrorSummary {
	if len(values) == 0 {
		return ErrorSummary{}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return ErrorSummary{
		Mean: mean,
		Std:  std,
		Min:  floats.Min(values),
		Max:  floats.Max(values),
	}
}

package bestsubsets

import (
	"errors"
	"fmt"

	"nichegarp/internal/garp"
	"nichegarp/internal/model"
)

// Ensemble averages the predictions of the selected runs.
type Ensemble struct {
	totalRuns int
	runs      []RunResult
	best      []RunResult
}

// Value is the mean prediction of the selected runs.
func (e *Ensemble) Value(sample model.Sample) float64 {
	if len(e.best) == 0 {
		return 0
	}
	sum := 0.0
	for _, run := range e.best {
		sum += run.Value(sample)
	}
	return sum / float64(len(e.best))
}

// Best returns the selected runs in commission order.
func (e *Ensemble) Best() []RunResult {
	return append([]RunResult(nil), e.best...)
}

// Runs returns every finished run ordered by run id. It is empty for an
// ensemble loaded from a record.
func (e *Ensemble) Runs() []RunResult {
	return append([]RunResult(nil), e.runs...)
}

func (e *Ensemble) TotalRuns() int {
	return e.totalRuns
}

func (e *Ensemble) Selected(runID int) bool {
	for _, run := range e.best {
		if run.RunID == runID {
			return true
		}
	}
	return false
}

// Record serializes the selected runs.
func (e *Ensemble) Record(id string) model.EnsembleModel {
	members := make([]model.EnsembleMember, len(e.best))
	for i, run := range e.best {
		members[i] = model.EnsembleMember{
			RunID:      run.RunID,
			Omission:   run.Omission,
			Commission: run.Commission,
			Model:      run.Model,
		}
	}
	return model.EnsembleModel{ID: id, TotalRuns: e.totalRuns, Members: members}
}

// LoadEnsemble rebuilds the selected runs of a serialized ensemble.
func LoadEnsemble(rec model.EnsembleModel) (*Ensemble, error) {
	if len(rec.Members) == 0 {
		return nil, errors.New("bestsubsets: ensemble has no members")
	}
	best := make([]RunResult, len(rec.Members))
	for i, member := range rec.Members {
		predictor, err := garp.LoadModel(member.Model)
		if err != nil {
			return nil, fmt.Errorf("load member %d: %w", member.RunID, err)
		}
		best[i] = RunResult{
			RunID:       member.RunID,
			Omission:    member.Omission,
			Commission:  member.Commission,
			Generations: member.Model.Generations,
			Convergence: member.Model.Convergence,
			Model:       member.Model,
			predictor:   predictor,
		}
	}
	return &Ensemble{totalRuns: rec.TotalRuns, best: best}, nil
}

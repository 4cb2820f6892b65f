package storage

import (
	"context"

	"nichegarp/internal/model"
)

// DefaultStoreKind is used when no backend is configured.
const DefaultStoreKind = "memory"

// Store persists finished models, best-subsets ensembles, the run index and
// per-generation diagnostics.
type Store interface {
	Init(ctx context.Context) error
	SaveModel(ctx context.Context, m model.GarpModel) error
	GetModel(ctx context.Context, id string) (model.GarpModel, bool, error)
	SaveEnsemble(ctx context.Context, e model.EnsembleModel) error
	GetEnsemble(ctx context.Context, id string) (model.EnsembleModel, bool, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
}

package storage

import (
	"context"
	"errors"
	"sync"

	"nichegarp/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

// MemoryStore keeps records in process memory. Values are copied on save and
// on read so callers never share slices with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	models      map[string]model.GarpModel
	ensembles   map[string]model.EnsembleModel
	runs        map[string]model.RunRecord
	diagnostics map[string][]model.GenerationDiagnostics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.models = make(map[string]model.GarpModel)
	s.ensembles = make(map[string]model.EnsembleModel)
	s.runs = make(map[string]model.RunRecord)
	s.diagnostics = make(map[string][]model.GenerationDiagnostics)
	return nil
}

func (s *MemoryStore) SaveModel(_ context.Context, m model.GarpModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if err := checkVersion(m.VersionedRecord); err != nil {
		return err
	}
	s.models[m.ID] = cloneModel(m)
	return nil
}

func (s *MemoryStore) GetModel(_ context.Context, id string) (model.GarpModel, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[id]
	if !ok {
		return model.GarpModel{}, false, nil
	}
	return cloneModel(m), true, nil
}

func (s *MemoryStore) SaveEnsemble(_ context.Context, e model.EnsembleModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if err := checkVersion(e.VersionedRecord); err != nil {
		return err
	}
	s.ensembles[e.ID] = cloneEnsemble(e)
	return nil
}

func (s *MemoryStore) GetEnsemble(_ context.Context, id string) (model.EnsembleModel, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.ensembles[id]
	if !ok {
		return model.EnsembleModel{}, false, nil
	}
	return cloneEnsemble(e), true, nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return err
	}
	s.runs[run.RunID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.diagnostics[runID] = cloneDiagnostics(diagnostics)
	return nil
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneDiagnostics(diagnostics), true, nil
}

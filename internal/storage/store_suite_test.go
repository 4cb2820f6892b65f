package storage

import (
	"context"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"nichegarp/internal/model"
)

// storeSuite exercises the Store contract against any backend.
type storeSuite struct {
	suite.Suite
	ctx      context.Context
	newStore func() Store
	store    Store
}

func (s *storeSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
	require.NoError(s.T(), s.store.Init(s.ctx))
}

func (s *storeSuite) TearDownTest() {
	require.NoError(s.T(), CloseIfSupported(s.store))
}

func (s *storeSuite) TestModelRoundTrip() {
	m := fixtureModel(s.T())
	require.NoError(s.T(), s.store.SaveModel(s.ctx, m))

	loaded, ok, err := s.store.GetModel(s.ctx, m.ID)
	require.NoError(s.T(), err)
	require.True(s.T(), ok)
	require.Equal(s.T(), m, loaded)

	_, ok, err = s.store.GetModel(s.ctx, "missing")
	require.NoError(s.T(), err)
	require.False(s.T(), ok)
}

func (s *storeSuite) TestModelVersionMismatchRejected() {
	m := fixtureModel(s.T())
	m.SchemaVersion = CurrentSchemaVersion + 1
	require.ErrorIs(s.T(), s.store.SaveModel(s.ctx, m), ErrVersionMismatch)
}

func (s *storeSuite) TestEnsembleRoundTrip() {
	m := fixtureModel(s.T())
	e := model.EnsembleModel{
		VersionedRecord: m.VersionedRecord,
		ID:              "ensemble-1",
		TotalRuns:       5,
		Members: []model.EnsembleMember{
			{RunID: 2, Omission: 0, Commission: 0.4, Model: m},
			{RunID: 4, Omission: 0.1, Commission: 0.5, Model: m},
		},
	}
	require.NoError(s.T(), s.store.SaveEnsemble(s.ctx, e))

	loaded, ok, err := s.store.GetEnsemble(s.ctx, e.ID)
	require.NoError(s.T(), err)
	require.True(s.T(), ok)
	require.Equal(s.T(), e, loaded)
}

func (s *storeSuite) TestListRunsOrdered() {
	version := model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
	runs := []model.RunRecord{
		{VersionedRecord: version, RunID: "b", CreatedAtUTC: "2026-01-02T00:00:00Z", Generations: 7},
		{VersionedRecord: version, RunID: "a", CreatedAtUTC: "2026-01-02T00:00:00Z", Generations: 3},
		{VersionedRecord: version, RunID: "c", CreatedAtUTC: "2026-01-01T00:00:00Z", Generations: 9},
	}
	for _, run := range runs {
		require.NoError(s.T(), s.store.SaveRun(s.ctx, run))
	}

	listed, err := s.store.ListRuns(s.ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), listed, 3)
	require.Equal(s.T(), []string{"c", "a", "b"}, []string{listed[0].RunID, listed[1].RunID, listed[2].RunID})

	run, ok, err := s.store.GetRun(s.ctx, "a")
	require.NoError(s.T(), err)
	require.True(s.T(), ok)
	require.Equal(s.T(), 3, run.Generations)
}

func (s *storeSuite) TestGenerationDiagnosticsRoundTrip() {
	diagnostics := []model.GenerationDiagnostics{
		{Generation: 1, Rules: 4, Convergence: 0.5, Best: 3.2, Worst: 0, Mean: 1.1},
		{Generation: 2, Rules: 4, Convergence: 0.25, Best: 4.0, Worst: 1, Mean: 2.5, Evicted: 2,
			Kinds: []model.KindStats{{Kind: "range", Count: 3, Max: 4, Mean: 2.5, Presences: 3}}},
	}
	require.NoError(s.T(), s.store.SaveGenerationDiagnostics(s.ctx, "run-1", diagnostics))

	loaded, ok, err := s.store.GetGenerationDiagnostics(s.ctx, "run-1")
	require.NoError(s.T(), err)
	require.True(s.T(), ok)
	require.Equal(s.T(), diagnostics, loaded)

	_, ok, err = s.store.GetGenerationDiagnostics(s.ctx, "run-2")
	require.NoError(s.T(), err)
	require.False(s.T(), ok)
}

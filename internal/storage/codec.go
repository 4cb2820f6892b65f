package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"nichegarp/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp fills in the current versions on a record that has none.
func Stamp(v *model.VersionedRecord) {
	if v.SchemaVersion == 0 {
		v.SchemaVersion = CurrentSchemaVersion
	}
	if v.CodecVersion == 0 {
		v.CodecVersion = CurrentCodecVersion
	}
}

func EncodeModel(m model.GarpModel) ([]byte, error) {
	return json.Marshal(m)
}

func DecodeModel(data []byte) (model.GarpModel, error) {
	var m model.GarpModel
	if err := json.Unmarshal(data, &m); err != nil {
		return model.GarpModel{}, err
	}
	if err := CheckModel(m); err != nil {
		return model.GarpModel{}, err
	}
	return m, nil
}

func EncodeEnsemble(e model.EnsembleModel) ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEnsemble(data []byte) (model.EnsembleModel, error) {
	var e model.EnsembleModel
	if err := json.Unmarshal(data, &e); err != nil {
		return model.EnsembleModel{}, err
	}
	if err := CheckEnsemble(e); err != nil {
		return model.EnsembleModel{}, err
	}
	return e, nil
}

// CheckModel reports ErrVersionMismatch for a model written by another
// schema or codec version.
func CheckModel(m model.GarpModel) error {
	return checkVersion(m.VersionedRecord)
}

// CheckEnsemble applies CheckModel to the ensemble and to every member.
func CheckEnsemble(e model.EnsembleModel) error {
	if err := checkVersion(e.VersionedRecord); err != nil {
		return err
	}
	for i, member := range e.Members {
		if err := checkVersion(member.Model.VersionedRecord); err != nil {
			return fmt.Errorf("member %d: %w", i, err)
		}
	}
	return nil
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var r model.RunRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(r.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return r, nil
}

func EncodeGenerationDiagnostics(diagnostics []model.GenerationDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeGenerationDiagnostics(data []byte) ([]model.GenerationDiagnostics, error) {
	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}

// sortRuns orders runs oldest first, breaking ties by run id.
func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC < runs[j].CreatedAtUTC
		}
		return runs[i].RunID < runs[j].RunID
	})
}

func cloneModel(m model.GarpModel) model.GarpModel {
	out := m
	if m.Normalization != nil {
		out.Normalization = &model.Normalization{
			Min: append([]float64(nil), m.Normalization.Min...),
			Max: append([]float64(nil), m.Normalization.Max...),
		}
	}
	out.Rules = make([]model.RuleRecord, len(m.Rules))
	for i, r := range m.Rules {
		out.Rules[i] = model.RuleRecord{
			Type:        r.Type,
			Prediction:  r.Prediction,
			Chromosome1: append([]float64(nil), r.Chromosome1...),
			Chromosome2: append([]float64(nil), r.Chromosome2...),
			Performance: append([]float64(nil), r.Performance...),
		}
	}
	return out
}

func cloneEnsemble(e model.EnsembleModel) model.EnsembleModel {
	out := e
	out.Members = make([]model.EnsembleMember, len(e.Members))
	for i, member := range e.Members {
		member.Model = cloneModel(member.Model)
		out.Members[i] = member
	}
	return out
}

func cloneDiagnostics(diagnostics []model.GenerationDiagnostics) []model.GenerationDiagnostics {
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	for i, d := range diagnostics {
		d.Kinds = append([]model.KindStats(nil), d.Kinds...)
		out[i] = d
	}
	return out
}

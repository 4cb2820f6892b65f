package bestsubsets

import (
	"nichegarp/internal/garp"
)

const (
	ParamTrainingProportion    = "TrainingProportion"
	ParamTotalRuns             = "TotalRuns"
	ParamHardOmissionThreshold = "HardOmissionThreshold"
	ParamModelsUnderOmission   = "ModelsUnderOmissionThreshold"
	ParamCommissionThreshold   = "CommissionThreshold"
	ParamCommissionSampleSize  = "CommissionSampleSize"
	ParamMaxThreads            = "MaxThreads"
)

// Params drive the best-subsets procedure. Proportions and thresholds are
// percentages in [0, 100].
type Params struct {
	TrainingProportion    float64 `json:"training_proportion"`
	TotalRuns             int     `json:"total_runs"`
	HardOmissionThreshold float64 `json:"hard_omission_threshold"`
	ModelsUnderOmission   int     `json:"models_under_omission"`
	CommissionThreshold   float64 `json:"commission_threshold"`
	CommissionSampleSize  int     `json:"commission_sample_size"`
	MaxThreads            int     `json:"max_threads"`
}

func DefaultParams() Params {
	return Params{
		TrainingProportion:    50,
		TotalRuns:             10,
		HardOmissionThreshold: 100,
		ModelsUnderOmission:   10,
		CommissionThreshold:   50,
		CommissionSampleSize:  10000,
		MaxThreads:            1,
	}
}

func (p Params) Validate() error {
	if !inPercentRange(p.TrainingProportion) {
		return &garp.ParamError{Name: ParamTrainingProportion}
	}
	if p.TotalRuns < 1 || p.TotalRuns > 10000 {
		return &garp.ParamError{Name: ParamTotalRuns}
	}
	if !inPercentRange(p.HardOmissionThreshold) {
		return &garp.ParamError{Name: ParamHardOmissionThreshold}
	}
	if p.ModelsUnderOmission < 0 || p.ModelsUnderOmission > 10000 {
		return &garp.ParamError{Name: ParamModelsUnderOmission}
	}
	if !inPercentRange(p.CommissionThreshold) {
		return &garp.ParamError{Name: ParamCommissionThreshold}
	}
	if p.CommissionSampleSize < 1 {
		return &garp.ParamError{Name: ParamCommissionSampleSize}
	}
	if p.MaxThreads > 1024 {
		return &garp.ParamError{Name: ParamMaxThreads}
	}
	return nil
}

// inPercentRange rejects NaN along with values outside [0, 100].
func inPercentRange(v float64) bool {
	return v >= 0 && v <= 100
}

// settings are Params converted to proportions with the clamps applied.
type settings struct {
	trainProportion     float64
	totalRuns           int
	omissionThreshold   float64
	softOmission        bool
	modelsUnderOmission int
	commissionThreshold float64
	commissionSamples   int
	maxThreads          int
}

func (p Params) settings() settings {
	s := settings{
		trainProportion:     p.TrainingProportion / 100,
		totalRuns:           p.TotalRuns,
		omissionThreshold:   p.HardOmissionThreshold / 100,
		modelsUnderOmission: p.ModelsUnderOmission,
		commissionThreshold: p.CommissionThreshold / 100,
		commissionSamples:   p.CommissionSampleSize,
		maxThreads:          p.MaxThreads,
	}
	s.softOmission = s.omissionThreshold >= 1
	if s.modelsUnderOmission > s.totalRuns {
		s.modelsUnderOmission = s.totalRuns
	}
	if s.maxThreads < 1 {
		s.maxThreads = 1
	}
	return s
}

package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version" yaml:"schema_version"`
	CodecVersion  int `json:"codec_version" yaml:"codec_version"`
}

// Occurrence is a georeferenced point with the environment sampled at it.
// Abundance greater than zero marks a presence; zero marks an absence or
// background point.
type Occurrence struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Abundance float64 `json:"abundance"`
	Env       Sample  `json:"env"`
}

// Class returns 1 for presences and 0 otherwise.
func (o Occurrence) Class() float64 {
	if o.Abundance > 0 {
		return 1
	}
	return 0
}

// RuleRecord is the serialized form of a single GARP rule.
type RuleRecord struct {
	Type        string    `json:"type" yaml:"type"`
	Prediction  float64   `json:"prediction" yaml:"prediction"`
	Chromosome1 []float64 `json:"chromosome1" yaml:"chromosome1"`
	Chromosome2 []float64 `json:"chromosome2" yaml:"chromosome2"`
	Performance []float64 `json:"performance" yaml:"performance"`
}

// Normalization records the per-layer bounds used to scale raw environment
// values into the [-1, +1] gene space.
type Normalization struct {
	Min []float64 `json:"min" yaml:"min"`
	Max []float64 `json:"max" yaml:"max"`
}

// GarpModel is a finished GARP run: metadata plus the fittest rule set.
type GarpModel struct {
	VersionedRecord    `yaml:",inline"`
	ID                 string         `json:"id" yaml:"id"`
	Generations        int            `json:"generations" yaml:"generations"`
	Convergence        float64        `json:"convergence" yaml:"convergence"`
	AccuracyLimit      float64        `json:"accuracy_limit" yaml:"accuracy_limit"`
	Mortality          float64        `json:"mortality" yaml:"mortality"`
	Significance       float64        `json:"significance" yaml:"significance"`
	FinalCrossoverRate float64        `json:"final_crossover_rate" yaml:"final_crossover_rate"`
	FinalMutationRate  float64        `json:"final_mutation_rate" yaml:"final_mutation_rate"`
	FinalGapSize       float64        `json:"final_gap_size" yaml:"final_gap_size"`
	PopulationSize     int            `json:"population_size" yaml:"population_size"`
	Layers             int            `json:"layers" yaml:"layers"`
	Normalization      *Normalization `json:"normalization,omitempty" yaml:"normalization,omitempty"`
	Rules              []RuleRecord   `json:"rules" yaml:"rules"`
}

// EnsembleMember is one GARP run kept by the best-subsets procedure.
type EnsembleMember struct {
	RunID      int       `json:"run_id" yaml:"run_id"`
	Omission   float64   `json:"omission" yaml:"omission"`
	Commission float64   `json:"commission" yaml:"commission"`
	Model      GarpModel `json:"model" yaml:"model"`
}

// EnsembleModel is the serialized best-subsets result.
type EnsembleModel struct {
	VersionedRecord `yaml:",inline"`
	ID              string           `json:"id" yaml:"id"`
	TotalRuns       int              `json:"total_runs" yaml:"total_runs"`
	Members         []EnsembleMember `json:"members" yaml:"members"`
}

// KindStats summarizes the rules of one kind inside a rule set.
type KindStats struct {
	Kind      string  `json:"kind"`
	Count     int     `json:"count"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
	Presences int     `json:"presences"`
}

// GenerationDiagnostics describes the fittest archive after one generation.
type GenerationDiagnostics struct {
	Generation  int         `json:"generation"`
	Rules       int         `json:"rules"`
	Convergence float64     `json:"convergence"`
	Best        float64     `json:"best"`
	Worst       float64     `json:"worst"`
	Mean        float64     `json:"mean"`
	Evicted     int         `json:"evicted"`
	Kinds       []KindStats `json:"kinds,omitempty"`
}

// RunRecord indexes a training run.
type RunRecord struct {
	VersionedRecord
	RunID            string  `json:"run_id"`
	ModelID          string  `json:"model_id"`
	Kind             string  `json:"kind"`
	CreatedAtUTC     string  `json:"created_at_utc"`
	Seed             int64   `json:"seed"`
	PopulationSize   int     `json:"population_size"`
	MaxGenerations   int     `json:"max_generations"`
	Resamples        int     `json:"resamples"`
	ConvergenceLimit float64 `json:"convergence_limit"`
	Generations      int     `json:"generations"`
	Convergence      float64 `json:"convergence"`
	Rules            int     `json:"rules"`
}

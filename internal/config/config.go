// Package config loads the garpctl configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"nichegarp/internal/bestsubsets"
	"nichegarp/internal/garp"
	"nichegarp/internal/logging"
	"nichegarp/internal/storage"
)

// Config holds every setting of a training session. It is read from a YAML
// file and can be overridden by GARP_ prefixed environment variables, for
// example GARP_GARP_POPULATION_SIZE.
type Config struct {
	Garp        GarpConfig        `mapstructure:"garp" yaml:"garp"`
	BestSubsets BestSubsetsConfig `mapstructure:"best_subsets" yaml:"best_subsets"`
	Data        DataConfig        `mapstructure:"data" yaml:"data"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts" yaml:"artifacts"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Seed        int64             `mapstructure:"seed" yaml:"seed"`
}

type GarpConfig struct {
	MaxGenerations   int     `mapstructure:"max_generations" yaml:"max_generations"`
	ConvergenceLimit float64 `mapstructure:"convergence_limit" yaml:"convergence_limit"`
	PopulationSize   int     `mapstructure:"population_size" yaml:"population_size"`
	Resamples        int     `mapstructure:"resamples" yaml:"resamples"`
}

// BestSubsetsConfig takes percentages in [0, 100] for the proportion and
// the thresholds.
type BestSubsetsConfig struct {
	TrainingProportion    float64 `mapstructure:"training_proportion" yaml:"training_proportion"`
	TotalRuns             int     `mapstructure:"total_runs" yaml:"total_runs"`
	HardOmissionThreshold float64 `mapstructure:"hard_omission_threshold" yaml:"hard_omission_threshold"`
	ModelsUnderOmission   int     `mapstructure:"models_under_omission" yaml:"models_under_omission"`
	CommissionThreshold   float64 `mapstructure:"commission_threshold" yaml:"commission_threshold"`
	CommissionSampleSize  int     `mapstructure:"commission_sample_size" yaml:"commission_sample_size"`
	MaxThreads            int     `mapstructure:"max_threads" yaml:"max_threads"`
}

type DataConfig struct {
	PresenceCSV   string `mapstructure:"presence_csv" yaml:"presence_csv"`
	AbsenceCSV    string `mapstructure:"absence_csv" yaml:"absence_csv"`
	BackgroundCSV string `mapstructure:"background_csv" yaml:"background_csv"`
	Normalize     bool   `mapstructure:"normalize" yaml:"normalize"`
}

type StorageConfig struct {
	Kind   string `mapstructure:"kind" yaml:"kind"`
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	File    string `mapstructure:"file" yaml:"file"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

// Default returns a Config with the GARP and best-subsets defaults.
func Default() *Config {
	gp := garp.DefaultParams()
	bp := bestsubsets.DefaultParams()
	return &Config{
		Garp: GarpConfig{
			MaxGenerations:   gp.MaxGenerations,
			ConvergenceLimit: gp.ConvergenceLimit,
			PopulationSize:   gp.PopulationSize,
			Resamples:        gp.Resamples,
		},
		BestSubsets: BestSubsetsConfig{
			TrainingProportion:    bp.TrainingProportion,
			TotalRuns:             bp.TotalRuns,
			HardOmissionThreshold: bp.HardOmissionThreshold,
			ModelsUnderOmission:   bp.ModelsUnderOmission,
			CommissionThreshold:   bp.CommissionThreshold,
			CommissionSampleSize:  bp.CommissionSampleSize,
			MaxThreads:            bp.MaxThreads,
		},
		Data:      DataConfig{Normalize: true},
		Storage:   StorageConfig{Kind: storage.DefaultStoreKind, DBPath: "nichegarp.db"},
		Artifacts: ArtifactsConfig{Dir: "garp_runs"},
		Logging:   LoggingConfig{Level: "info", Console: true},
		Seed:      1,
	}
}

// LoadFromPath reads configuration from path and merges environment
// overrides. A missing file is created with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GARP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Data.PresenceCSV = expandPath(cfg.Data.PresenceCSV)
	cfg.Data.AbsenceCSV = expandPath(cfg.Data.AbsenceCSV)
	cfg.Data.BackgroundCSV = expandPath(cfg.Data.BackgroundCSV)
	cfg.Storage.DBPath = expandPath(cfg.Storage.DBPath)
	cfg.Artifacts.Dir = expandPath(cfg.Artifacts.Dir)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	return cfg, nil
}

// SaveToPath writes the configuration as YAML.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// Validate checks ranges that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if err := c.GarpParams().Validate(); err != nil {
		return err
	}
	if err := c.BestSubsetsParams().Validate(); err != nil {
		return err
	}
	switch c.Storage.Kind {
	case "", storage.DefaultStoreKind:
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("invalid storage kind '%s', must be one of: memory, sqlite", c.Storage.Kind)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) GarpParams() garp.Params {
	return garp.Params{
		MaxGenerations:   c.Garp.MaxGenerations,
		ConvergenceLimit: c.Garp.ConvergenceLimit,
		PopulationSize:   c.Garp.PopulationSize,
		Resamples:        c.Garp.Resamples,
	}
}

func (c *Config) BestSubsetsParams() bestsubsets.Params {
	return bestsubsets.Params{
		TrainingProportion:    c.BestSubsets.TrainingProportion,
		TotalRuns:             c.BestSubsets.TotalRuns,
		HardOmissionThreshold: c.BestSubsets.HardOmissionThreshold,
		ModelsUnderOmission:   c.BestSubsets.ModelsUnderOmission,
		CommissionThreshold:   c.BestSubsets.CommissionThreshold,
		CommissionSampleSize:  c.BestSubsets.CommissionSampleSize,
		MaxThreads:            c.BestSubsets.MaxThreads,
	}
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, File: c.Logging.File, Console: c.Logging.Console}
}

func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

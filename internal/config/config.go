package config

import (
	"fmt"
	"os"

	"github.com/kylegalloway/cilearn/internal/continual"
)

// Config represents the full cilearn.yaml configuration.
type Config struct {
	SchemaVersion int              `yaml:"schema_version"`
	Run           RunConfig        `yaml:"run"`
	Continual     ContinualConfig  `yaml:"continual"`
	Training      TrainingConfig   `yaml:"training"`
	Learner       LearnerConfig    `yaml:"learner"`
	Checkpoint    CheckpointConfig `yaml:"checkpoint"`
	Archive       ArchiveConfig    `yaml:"archive"`
	Telemetry     TelemetryConfig  `yaml:"telemetry"`
	Logging       LoggingConfig    `yaml:"logging"`
}

type RunConfig struct {
	Name     string `yaml:"name"`
	DumpPath string `yaml:"dump_path"`
	Seed     int64  `yaml:"seed"`
}

type ContinualConfig struct {
	NumTask            int    `yaml:"num_task"`
	ILMode             string `yaml:"il_mode"`
	ClassificationType string `yaml:"classification_type"`
	EvalPhase          string `yaml:"eval_phase"`
	TasksFile          string `yaml:"tasks_file"`
}

// Mode returns the parsed incremental-learning mode. Validate has already
// rejected unknown values.
func (c ContinualConfig) Mode() continual.ILMode {
	return continual.ILMode(c.ILMode)
}

// Granularity returns the parsed classification type.
func (c ContinualConfig) Granularity() continual.Granularity {
	return continual.Granularity(c.ClassificationType)
}

// Phase returns the split used for end-of-task evaluation.
func (c ContinualConfig) Phase() continual.Phase {
	return continual.Phase(c.EvalPhase)
}

type TrainingConfig struct {
	Epochs                    int  `yaml:"epochs"`
	BatchSize                 int  `yaml:"batch_size"`
	Workers                   int  `yaml:"workers"`
	Adaptive                  bool `yaml:"adaptive"`
	AdaptiveMinRAMPerWorkerMB int  `yaml:"adaptive_min_ram_per_worker_mb"`
}

type LearnerConfig struct {
	Kind            string  `yaml:"kind"` // "ncm" or "scripted"
	Dim             int     `yaml:"dim"`
	ClassesPerTask  int     `yaml:"classes_per_task"`
	SamplesPerClass int     `yaml:"samples_per_class"`
	Noise           float64 `yaml:"noise"`
	Drift           float64 `yaml:"drift"`
	ReplayPerClass  int     `yaml:"replay_per_class"`
	// ScriptFile holds a YAML accuracy matrix for the scripted learner.
	ScriptFile string `yaml:"script_file"`
}

type CheckpointConfig struct {
	Enabled   bool `yaml:"enabled"`
	MinDiskMB int  `yaml:"min_disk_mb"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TelemetryConfig struct {
	Prometheus bool   `yaml:"prometheus"`
	Namespace  string `yaml:"namespace"`
	ListenAddr string `yaml:"listen_addr"`
	// Trace writes OpenTelemetry spans to stderr.
	Trace bool `yaml:"trace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Load reads and parses a cilearn.yaml file, applying defaults and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg, err := Migrate(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks a Config for logical errors.
func Validate(cfg *Config) error {
	if cfg.Run.Name == "" {
		return fmt.Errorf("run.name is required")
	}
	if cfg.Run.DumpPath == "" {
		return fmt.Errorf("run.dump_path is required")
	}

	if cfg.Continual.NumTask < 1 {
		return fmt.Errorf("continual.num_task must be >= 1, got %d", cfg.Continual.NumTask)
	}
	if _, err := continual.ParseILMode(cfg.Continual.ILMode); err != nil {
		return fmt.Errorf("continual.il_mode: %w", err)
	}
	if _, err := continual.ParseGranularity(cfg.Continual.ClassificationType); err != nil {
		return fmt.Errorf("continual.classification_type: %w", err)
	}
	if _, err := continual.ParsePhase(cfg.Continual.EvalPhase); err != nil {
		return fmt.Errorf("continual.eval_phase: %w", err)
	}

	if cfg.Training.Epochs < 1 {
		return fmt.Errorf("training.epochs must be >= 1, got %d", cfg.Training.Epochs)
	}
	if cfg.Training.BatchSize < 1 {
		return fmt.Errorf("training.batch_size must be >= 1, got %d", cfg.Training.BatchSize)
	}
	if cfg.Training.Workers < 1 || cfg.Training.Workers > 64 {
		return fmt.Errorf("training.workers must be 1-64, got %d", cfg.Training.Workers)
	}

	switch cfg.Learner.Kind {
	case "ncm":
		if cfg.Learner.Dim < 1 {
			return fmt.Errorf("learner.dim must be >= 1, got %d", cfg.Learner.Dim)
		}
		if cfg.Learner.ClassesPerTask < 1 {
			return fmt.Errorf("learner.classes_per_task must be >= 1, got %d", cfg.Learner.ClassesPerTask)
		}
		if cfg.Learner.SamplesPerClass < 2 {
			return fmt.Errorf("learner.samples_per_class must be >= 2, got %d", cfg.Learner.SamplesPerClass)
		}
		if cfg.Learner.Noise < 0 || cfg.Learner.Drift < 0 {
			return fmt.Errorf("learner.noise and learner.drift must be non-negative")
		}
		if cfg.Learner.ReplayPerClass < 0 {
			return fmt.Errorf("learner.replay_per_class must be >= 0, got %d", cfg.Learner.ReplayPerClass)
		}
	case "scripted":
		if cfg.Learner.ScriptFile == "" {
			return fmt.Errorf("learner.script_file is required for the scripted learner")
		}
	default:
		return fmt.Errorf("unknown learner.kind %q (want %q or %q)", cfg.Learner.Kind, "ncm", "scripted")
	}

	if cfg.Checkpoint.MinDiskMB < 0 {
		return fmt.Errorf("checkpoint.min_disk_mb must be >= 0, got %d", cfg.Checkpoint.MinDiskMB)
	}
	if cfg.Archive.Enabled && cfg.Archive.Path == "" {
		return fmt.Errorf("archive.path is required when the archive is enabled")
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging.format %q", cfg.Logging.Format)
	}

	return nil
}

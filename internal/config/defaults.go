package config

import (
	"path/filepath"

	"github.com/kylegalloway/cilearn/internal/continual"
)

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = 1
	}
	if cfg.Run.DumpPath == "" {
		cfg.Run.DumpPath = "runs"
	}

	// Continual defaults
	if cfg.Continual.ILMode == "" {
		cfg.Continual.ILMode = string(continual.CIL)
	}
	if cfg.Continual.ClassificationType == "" {
		cfg.Continual.ClassificationType = string(continual.SentenceLevel)
	}
	if cfg.Continual.EvalPhase == "" {
		cfg.Continual.EvalPhase = string(continual.PhaseTest)
	}

	// Training defaults
	if cfg.Training.Epochs == 0 {
		cfg.Training.Epochs = 3
	}
	if cfg.Training.BatchSize == 0 {
		cfg.Training.BatchSize = 32
	}
	if cfg.Training.Workers == 0 {
		cfg.Training.Workers = 4
	}
	if cfg.Training.AdaptiveMinRAMPerWorkerMB == 0 {
		cfg.Training.AdaptiveMinRAMPerWorkerMB = 256
	}

	// Learner defaults
	if cfg.Learner.Kind == "" {
		cfg.Learner.Kind = "ncm"
	}
	if cfg.Learner.Dim == 0 {
		cfg.Learner.Dim = 16
	}
	if cfg.Learner.ClassesPerTask == 0 {
		cfg.Learner.ClassesPerTask = 2
	}
	if cfg.Learner.SamplesPerClass == 0 {
		cfg.Learner.SamplesPerClass = 64
	}
	if cfg.Learner.Noise == 0 {
		cfg.Learner.Noise = 1.0
	}

	if cfg.Checkpoint.MinDiskMB == 0 {
		cfg.Checkpoint.MinDiskMB = 100
	}
	if cfg.Archive.Path == "" {
		cfg.Archive.Path = filepath.Join(cfg.Run.DumpPath, "archive")
	}

	// Telemetry defaults
	if cfg.Telemetry.Namespace == "" {
		cfg.Telemetry.Namespace = "cilearn"
	}
	if cfg.Telemetry.ListenAddr == "" {
		cfg.Telemetry.ListenAddr = ":9108"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

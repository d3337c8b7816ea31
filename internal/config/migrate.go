package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const maxSupportedSchemaVersion = 1

// legacyV0 is the flat layout older run scripts wrote: one key per command
// line argument, no sections.
type legacyV0 struct {
	Name               string `yaml:"name"`
	DumpPath           string `yaml:"dump_path"`
	Seed               int64  `yaml:"seed"`
	NumTask            int    `yaml:"num_task"`
	ILMode             string `yaml:"il_mode"`
	ClassificationType string `yaml:"classification_type"`
	EvalPhase          string `yaml:"eval_phase"`
	Epochs             int    `yaml:"epochs"`
	BatchSize          int    `yaml:"batch_size"`
}

func (l legacyV0) isSet() bool {
	return l.NumTask != 0 || l.ILMode != "" || l.ClassificationType != "" || l.Name != ""
}

// Migrate decodes raw YAML into the current schema. A document without
// schema_version is read as v1 unless it uses the flat v0 keys.
func Migrate(raw []byte) (*Config, error) {
	var probe struct {
		SchemaVersion int `yaml:"schema_version"`
		legacyV0      `yaml:",inline"`
	}
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("parse schema_version: %w", err)
	}

	switch {
	case probe.SchemaVersion == 0 && probe.legacyV0.isSet():
		return migrateV0(probe.legacyV0), nil
	case probe.SchemaVersion <= maxSupportedSchemaVersion && probe.SchemaVersion >= 0:
		return decodeV1(raw)
	default:
		return nil, fmt.Errorf("unsupported schema_version %d (max supported: %d)",
			probe.SchemaVersion, maxSupportedSchemaVersion)
	}
}

func decodeV1(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF and leaves cfg zero.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.SchemaVersion = 1
	return &cfg, nil
}

func migrateV0(l legacyV0) *Config {
	return &Config{
		SchemaVersion: 1,
		Run:           RunConfig{Name: l.Name, DumpPath: l.DumpPath, Seed: l.Seed},
		Continual: ContinualConfig{
			NumTask:            l.NumTask,
			ILMode:             l.ILMode,
			ClassificationType: l.ClassificationType,
			EvalPhase:          l.EvalPhase,
		},
		Training: TrainingConfig{Epochs: l.Epochs, BatchSize: l.BatchSize},
	}
}

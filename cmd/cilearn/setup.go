package main

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kylegalloway/cilearn/internal/config"
	"github.com/kylegalloway/cilearn/internal/learner"
	"github.com/kylegalloway/cilearn/internal/learner/ncm"
	"github.com/kylegalloway/cilearn/internal/parallel"
	"github.com/kylegalloway/cilearn/internal/tasks"
)

// resolve makes p relative to the config file's directory.
func resolve(cfgPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(cfgPath), p)
}

// loadStream reads the task stream file, or synthesizes one when none is set.
func loadStream(cfg *config.Config, cfgPath string) (*tasks.Stream, error) {
	if cfg.Continual.TasksFile == "" {
		return tasks.Synthesize(cfg.Continual.NumTask, cfg.Learner.ClassesPerTask), nil
	}
	stream, err := tasks.Load(resolve(cfgPath, cfg.Continual.TasksFile))
	if err != nil {
		return nil, err
	}
	if stream.Len() != cfg.Continual.NumTask {
		return nil, fmt.Errorf("tasks file has %d tasks, continual.num_task is %d", stream.Len(), cfg.Continual.NumTask)
	}
	return stream, nil
}

// buildLearner constructs the learner named by learner.kind.
func buildLearner(cfg *config.Config, cfgPath string, stream *tasks.Stream, log *zap.Logger) (learner.Learner, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Learner.Kind {
	case "scripted":
		s, err := learner.LoadScripted(resolve(cfgPath, cfg.Learner.ScriptFile))
		if err != nil {
			return nil, err
		}
		if len(s.Accuracies) < cfg.Continual.NumTask {
			return nil, fmt.Errorf("script has %d rows, continual.num_task is %d", len(s.Accuracies), cfg.Continual.NumTask)
		}
		return s, nil
	case "ncm":
		workers := parallel.EffectiveWorkers(cfg.Training.Workers, cfg.Training.Adaptive,
			cfg.Training.AdaptiveMinRAMPerWorkerMB, log)
		return ncm.New(ncm.Config{
			Dim:             cfg.Learner.Dim,
			SamplesPerClass: cfg.Learner.SamplesPerClass,
			Noise:           cfg.Learner.Noise,
			Drift:           cfg.Learner.Drift,
			ReplayPerClass:  cfg.Learner.ReplayPerClass,
			Epochs:          cfg.Training.Epochs,
			BatchSize:       cfg.Training.BatchSize,
			Workers:         workers,
			Seed:            uint64(cfg.Run.Seed),
			Granularity:     cfg.Continual.Granularity(),
		}, stream, log.Named("ncm"))
	default:
		return nil, fmt.Errorf("unknown learner kind %q", cfg.Learner.Kind)
	}
}

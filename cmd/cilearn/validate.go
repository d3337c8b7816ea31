package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kylegalloway/cilearn/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config, task stream and learner inputs without training",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return validate(cmd.OutOrStdout(), configPath)
	},
}

func validate(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	stream, err := loadStream(cfg, path)
	if err != nil {
		return err
	}
	if _, err := buildLearner(cfg, path, stream, logger); err != nil {
		return fmt.Errorf("learner: %w", err)
	}

	fmt.Fprintf(w, "Config OK: %s\n", path)
	fmt.Fprintf(w, "Run:      %s (dump %s)\n", cfg.Run.Name, cfg.Run.DumpPath)
	fmt.Fprintf(w, "Tasks:    %d, %d classes\n", stream.Len(), stream.TotalClasses())
	fmt.Fprintf(w, "Mode:     %s, %s, eval on %s\n", cfg.Continual.ILMode, cfg.Continual.ClassificationType, cfg.Continual.EvalPhase)
	fmt.Fprintf(w, "Learner:  %s\n", cfg.Learner.Kind)
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kylegalloway/cilearn/internal/archive"
	"github.com/kylegalloway/cilearn/internal/config"
	"github.com/kylegalloway/cilearn/internal/ui"
)

var reportArchivePath string

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "List archived runs or show one run's matrix and metrics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := archivePath()
		if err != nil {
			return err
		}
		p, err := archive.OpenBadger(archive.Options{Path: path, Logger: logger})
		if err != nil {
			return err
		}
		defer p.Close()

		out, err := report(p, args)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportArchivePath, "archive", "", "Archive directory (default: archive.path from the config)")
}

// archivePath prefers the --archive flag and falls back to the config.
func archivePath() (string, error) {
	if reportArchivePath != "" {
		return reportArchivePath, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("no --archive given and %w", err)
	}
	return resolve(configPath, cfg.Archive.Path), nil
}

func report(p archive.Provider, args []string) (string, error) {
	if len(args) == 0 {
		metas, err := p.List()
		if err != nil {
			return "", err
		}
		return ui.FormatRunList(metas), nil
	}
	run, err := p.Load(args[0])
	if err != nil {
		return "", err
	}
	rs, err := summaryFromArchive(run)
	if err != nil {
		return "", err
	}
	return ui.FormatSummary(rs), nil
}

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub002/internal/manifest"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty agpm.toml in the project directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := buildConfig()
			manifestPath := filepath.Join(cfg.ProjectDir, manifest.FileName)

			if _, err := os.Stat(manifestPath); err == nil {
				log.Info().Str("path", manifestPath).Msg("agpm.toml already exists")
				return nil
			}

			if err := manifest.Save(manifestPath, manifest.New()); err != nil {
				return err
			}
			log.Info().Str("path", manifestPath).Msg("created agpm.toml")
			return nil
		},
	}
}

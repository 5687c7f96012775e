package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub002/internal/installer"
	"github.com/aig787/agpm-sub002/internal/lockfile"
	"github.com/aig787/agpm-sub002/internal/manifest"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the manifest and, if present, the installed lockfile",
		Long: `validate checks that every source a dependency references is
declared in [sources], then – if agpm.lock exists – verifies that each
installed file's on-disk checksum still matches the lockfile entry
(spec.md's sha256(read(install_path)) == lockfile.checksum invariant).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := buildConfig()

			man, err := manifest.Load(filepath.Join(cfg.ProjectDir, manifest.FileName))
			if err != nil {
				return err
			}
			if err := man.Validate(); err != nil {
				return err
			}
			log.Info().Msg("manifest is valid")

			lockPath := filepath.Join(cfg.ProjectDir, lockfile.FileName)
			lock, err := lockfile.Load(lockPath)
			if err != nil {
				log.Info().Msg("no agpm.lock present; nothing to verify")
				return nil
			}

			in := installer.New(cfg, log)
			stale, err := in.Verify(lock)
			if err != nil {
				return err
			}
			if len(stale) == 0 {
				log.Info().Msg("all installed resources match the lockfile")
				return nil
			}

			for _, p := range stale {
				fmt.Println(p)
			}
			return fmt.Errorf("%d installed resource(s) do not match agpm.lock", len(stale))
		},
	}
}

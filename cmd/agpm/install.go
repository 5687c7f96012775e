package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub002/internal/config"
	"github.com/aig787/agpm-sub002/pkg/agpm"
)

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Resolve the manifest and install its dependencies",
		Long: `install reads agpm.toml, resolves every direct and transitive
dependency (backtracking on version conflicts), installs each resource into
its tool-specific directory, and writes agpm.lock (plus agpm.private.lock
when any resource is marked private).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInstall(cmd.Context(), buildConfig())
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Re-resolve dependencies against the latest matching versions",
		Long: `update behaves like install but forces a fetch of every declared
source before resolving, so semver constraints pick up newly published tags
instead of reusing what is already in the Git cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := buildConfig()
			cfg.FetchPolicy = config.FetchAlways
			return runInstall(cmd.Context(), cfg)
		},
	}
}

func runInstall(ctx context.Context, cfg config.Config) error {
	out, err := agpm.Install(ctx, cfg, log)
	if err != nil {
		return err
	}

	log.Info().
		Int("resources", len(out.Lock.AllResources())).
		Int("written", len(out.Install.Written)).
		Int("skipped", len(out.Install.Skipped)).
		Int("backtrack_updates", len(out.Updates)).
		Msg("install complete")

	for _, u := range out.Updates {
		log.Debug().
			Str("resource", u.ResourceIdentity.Key()).
			Str("old", u.OldVersion).
			Str("new", u.NewVersion).
			Msg("backtracking repaired a version conflict")
	}

	return nil
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub002/internal/manifest"
	"github.com/aig787/agpm-sub002/internal/resource"
)

func newRemoveCmd() *cobra.Command {
	var (
		typeFlag string
		skipRun  bool
	)

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a dependency declared in agpm.toml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := resource.Type(typeFlag)
			if !t.Valid() {
				return fmt.Errorf("unknown resource type %q", typeFlag)
			}

			cfg := buildConfig()
			manifestPath := manifestPathFor(cfg.ProjectDir)

			man, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}

			table := man.Dependencies[t]
			if _, ok := table[args[0]]; !ok {
				return fmt.Errorf("no %s dependency named %q in agpm.toml", t, args[0])
			}
			delete(table, args[0])

			if err := manifest.Save(manifestPath, man); err != nil {
				return err
			}
			log.Info().Str("type", string(t)).Str("name", args[0]).Msg("removed dependency")

			if skipRun {
				return nil
			}
			return runInstall(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&typeFlag, "type", "", fmt.Sprintf("resource type (%s)", strings.Join(typeNames(), ", ")))
	cmd.Flags().BoolVar(&skipRun, "no-run", false, "edit the manifest without re-running install")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

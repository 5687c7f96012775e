package main

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub002/internal/manifest"
	"github.com/aig787/agpm-sub002/internal/resource"
)

func newAddCmd() *cobra.Command {
	var (
		typeFlag   string
		source     string
		constraint string
		tool       string
		alias      string
		flatten    bool
		noInstall  bool
		skipRun    bool
	)

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Declare a new dependency in agpm.toml",
		Long: `add writes an entry under the [<type>] table of agpm.toml for the given path and,
unless --no-run is given, immediately resolves and installs it (mirroring
the teacher's "dep ensure -add" workflow).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := resource.Type(typeFlag)
			if !t.Valid() {
				return fmt.Errorf("unknown resource type %q", typeFlag)
			}

			relPath := resource.CanonicalName(args[0], t)
			key := alias
			if key == "" {
				key = path.Base(relPath)
			}

			cfg := buildConfig()
			manifestPath := manifestPathFor(cfg.ProjectDir)

			man, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			if source != "" {
				if _, ok := man.Sources[source]; !ok {
					return fmt.Errorf("source %q is not declared in [sources]; add it first", source)
				}
			}

			man.Dependencies[t][key] = resource.DependencySpec{
				Source:        source,
				Path:          relPath,
				Version:       constraint,
				Type:          t,
				Tool:          tool,
				ManifestAlias: key,
				Install:       !noInstall,
				Flatten:       flatten,
				Templating:    true,
			}

			if err := manifest.Save(manifestPath, man); err != nil {
				return err
			}
			log.Info().Str("type", string(t)).Str("path", relPath).Str("alias", key).Msg("added dependency")

			if skipRun {
				return nil
			}
			return runInstall(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&typeFlag, "type", "", fmt.Sprintf("resource type (%s)", strings.Join(typeNames(), ", ")))
	cmd.Flags().StringVar(&source, "source", "", "manifest source name (omit for a local dependency)")
	cmd.Flags().StringVar(&constraint, "version", "", "version constraint (semver range, exact tag, or Git ref; empty = HEAD)")
	cmd.Flags().StringVar(&tool, "tool", "", "target tool (default: derived from agpm.toml/config default)")
	cmd.Flags().StringVar(&alias, "name", "", "manifest table key (default: basename of path)")
	cmd.Flags().BoolVar(&flatten, "flatten", false, "strip intermediate directories on install")
	cmd.Flags().BoolVar(&noInstall, "no-install", false, "record as content-only; never written to disk")
	cmd.Flags().BoolVar(&skipRun, "no-run", false, "write the manifest entry without resolving/installing")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func typeNames() []string {
	names := make([]string, 0, len(resource.AllTypes))
	for _, t := range resource.AllTypes {
		names = append(names, string(t))
	}
	return names
}

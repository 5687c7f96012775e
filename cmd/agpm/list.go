package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub002/internal/lockfile"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every resource locked in agpm.lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := buildConfig()
			lock, err := lockfile.Load(filepath.Join(cfg.ProjectDir, lockfile.FileName))
			if err != nil {
				return fmt.Errorf("loading agpm.lock: %w (run \"agpm install\" first)", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tNAME\tSOURCE\tVERSION\tTOOL\tINSTALL PATH")
			for _, r := range lock.AllResources() {
				source := r.Source
				if source == "" {
					source = "-"
				}
				version := r.Version
				if version == "" {
					version = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Type, r.Name, source, version, r.Tool, r.InstallPath)
			}
			return w.Flush()
		},
	}
}

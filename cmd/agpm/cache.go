package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the Git cache",
	}
	cmd.AddCommand(newCachePathCmd(), newCacheCleanCmd())
	return cmd
}

func newCachePathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the Git cache directory",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Println(buildConfig().CacheDir)
			return nil
		},
	}
}

func newCacheCleanCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove every bare clone and worktree from the Git cache",
		Long: `clean deletes the entire cache directory. Every source will be
re-cloned and every worktree rematerialized on the next install.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			dir := buildConfig().CacheDir
			if !yes {
				return fmt.Errorf("refusing to remove %s without --yes", dir)
			}
			if err := os.RemoveAll(dir); err != nil {
				return err
			}
			log.Info().Str("dir", dir).Msg("cache cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

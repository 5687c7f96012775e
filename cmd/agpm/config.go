package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aig787/agpm-sub002/internal/config"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration for this invocation",
		Long: `config prints the config.Config that install/update would run
with, after merging CLI flags, the config file, and AGPM_* environment
variables – useful for confirming precedence without side effects.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := buildConfig()
			fmt.Printf("project_dir:              %s\n", cfg.ProjectDir)
			fmt.Printf("cache_dir:                %s\n", cfg.CacheDir)
			fmt.Printf("fetch_policy:             %s\n", fetchPolicyName(cfg.FetchPolicy))
			fmt.Printf("concurrency:              %d\n", cfg.Concurrency)
			fmt.Printf("backtrack_timeout:        %s\n", cfg.BacktrackTimeout)
			fmt.Printf("max_backtrack_iterations: %d\n", cfg.MaxBacktrackIterations)
			fmt.Printf("max_render_depth:         %d\n", cfg.MaxRenderDepth)
			fmt.Printf("content_filter_max_bytes: %d\n", cfg.ContentFilterMaxBytes)
			fmt.Printf("default_tool:             %s\n", cfg.DefaultTool)
			return nil
		},
	}
}

func fetchPolicyName(p config.FetchPolicy) string {
	switch p {
	case config.FetchIfMissing:
		return "if-missing"
	case config.FetchAlways:
		return "always"
	case config.FetchOffline:
		return "offline"
	default:
		return "unknown"
	}
}

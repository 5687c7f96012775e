package main

import (
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/aig787/agpm-sub002/internal/config"
	"github.com/aig787/agpm-sub002/internal/manifest"
)

// buildConfig assembles the explicit config.Config every internal
// constructor expects, from the bound viper values (CLI flags, then AGPM_*
// environment variables, then the config file, in that precedence order).
func buildConfig() config.Config {
	cfg := config.Default(viper.GetString("project-dir"), viper.GetString("cache-dir"))

	if viper.GetBool("offline") {
		cfg.FetchPolicy = config.FetchOffline
	}
	if n := viper.GetInt("concurrency"); n > 0 {
		cfg.Concurrency = n
	}

	return cfg
}

// manifestPathFor is the agpm.toml path for a given project directory.
func manifestPathFor(projectDir string) string {
	return filepath.Join(projectDir, manifest.FileName)
}

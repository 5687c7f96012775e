package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Global flags, registered once on rootCmd and read by every subcommand –
// the same package-level-flag-variable shape the teacher's cmd/dep commands
// use for their own flag.FlagSet, adapted onto cobra persistent flags.
var (
	cfgFile     string
	projectDir  string
	cacheDir    string
	logLevel    string
	offline     bool
	concurrency int

	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "agpm",
	Short: "Dependency manager for AI-assistant resources",
	Long: `agpm resolves, locks, and installs agent, snippet, command, script,
hook, MCP-server, and skill resources declared in a project's agpm.toml
manifest, the same way a package manager resolves library dependencies.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
}

// Execute runs the root command and exits the process with a non-zero
// status on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("agpm failed")
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.agpm/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project-dir", wd, "project root containing agpm.toml")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", defaultCacheDir(), "Git cache directory (bare clones + worktrees)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "never touch the network; fail if a source/SHA is missing from the cache")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "concurrency setting recorded in the config (0 = auto-detect); install itself runs sequentially")

	_ = viper.BindPFlag("project-dir", rootCmd.PersistentFlags().Lookup("project-dir"))
	_ = viper.BindPFlag("cache-dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("offline", rootCmd.PersistentFlags().Lookup("offline"))
	_ = viper.BindPFlag("concurrency", rootCmd.PersistentFlags().Lookup("concurrency"))

	rootCmd.AddCommand(
		newInitCmd(),
		newInstallCmd(),
		newUpdateCmd(),
		newValidateCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newListCmd(),
		newTreeCmd(),
		newCacheCmd(),
		newConfigCmd(),
	)
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".agpm", "cache")
	}
	return filepath.Join(home, ".agpm", "cache")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			log.Fatal().Err(err).Str("file", cfgFile).Msg("reading config file")
		}
		return
	}

	home, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(filepath.Join(home, ".agpm"))
	}
	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	viper.SetEnvPrefix("agpm")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // optional: silently continue if absent
}

func setupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/merlian/merlian/internal/config"
	"github.com/merlian/merlian/internal/engine"
	"github.com/merlian/merlian/internal/logutil"
)

var flagLogLevel string

var rootCmd = &cobra.Command{
	Use:          "merlian",
	Short:        "Merlian: local semantic + text search over your image folders",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `Merlian indexes screenshots and photos in local folders and lets you find
them by describing what they look like or by the text they contain.
Everything lives in ~/.merlian/ (override with MERLIAN_HOME).

Build with -tags sqlite_fts5 (make build) for bm25-ranked text search;
without it text matching falls back to LIKE.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides log.level")
}

// Execute is called by main.go.
func Execute() {
	defer logutil.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads merlian.yaml and initialises the logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w\nRun 'merlian init' first.", err)
	}
	level := cfg.Log.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	if err := logutil.Init(level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openEngine loads config and opens the engine over its data dir.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	e, err := engine.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot open data dir %s: %w", cfg.DataDir, err)
	}
	return e, nil
}

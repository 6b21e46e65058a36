package main

import (
	"time"

	"github.com/nholik/freshness-sentinel/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// targetFlags override the environment for the commands that check targets.
type targetFlags struct {
	baseURL       string
	targetsFile   string
	checkInterval time.Duration
	fetchTimeout  time.Duration
}

func (f *targetFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.baseURL, "base-url", "", "deployment base URL; overrides FS_BASE_URL")
	fs.StringVar(&f.targetsFile, "targets", "", "YAML file listing targets; overrides FS_TARGETS_FILE")
	fs.DurationVar(&f.checkInterval, "interval", 0, "time between checks; overrides FS_CHECK_INTERVAL")
	fs.DurationVar(&f.fetchTimeout, "timeout", 0, "manifest request timeout; overrides FS_FETCH_TIMEOUT")
}

func (f *targetFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if flags.Changed("targets") {
		cfg.TargetsFile = f.targetsFile
	}
	if flags.Changed("interval") {
		cfg.CheckInterval = f.checkInterval
	}
	if flags.Changed("timeout") {
		cfg.FetchTimeout = f.fetchTimeout
	}
}

// resolveTargets validates cfg and expands it into the configured targets.
func resolveTargets(cfg config.Config) ([]config.Target, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg.Targets()
}

package main

import (
	"io"

	"github.com/nholik/freshness-sentinel/internal/config"
	"github.com/nholik/freshness-sentinel/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds state shared by the subcommands. It is populated by the root
// command before any subcommand runs.
//
// Command results go to out; logs and errors go to errOut so that results can
// be captured by scripts.
type app struct {
	out    io.Writer
	errOut io.Writer
	in     io.Reader

	logLevel string
	logFile  string

	newLogger func(level, path string) (zerolog.Logger, io.Closer)
	logger    zerolog.Logger
	closer    io.Closer
	cfg       config.Config
}

func newApp(out, errOut io.Writer, in io.Reader) *app {
	return &app{
		out:    out,
		errOut: errOut,
		in:     in,
		newLogger: func(level, path string) (zerolog.Logger, io.Closer) {
			return logging.NewWithFile(errOut, level, path)
		},
		logger: zerolog.Nop(),
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "freshness-sentinel",
		Short:        "Stamp builds with a version and tell loaded clients when a newer build is deployed",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error); overrides FS_LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&a.logFile, "log-file", "", "also write logs to this rotated file; overrides FS_LOG_FILE")

	rootCmd.AddCommand(
		newStampCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newCheckCmd(a),
	)
	return rootCmd
}

// init loads the environment and builds the logger. Targets are validated by
// the commands that need them.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = a.logFile
	}
	a.cfg = cfg
	a.logger, a.closer = a.newLogger(cfg.LogLevel, cfg.LogFile)
	return nil
}

func (a *app) close() {
	if a.closer == nil {
		return
	}
	if err := a.closer.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close log file")
	}
	a.closer = nil
}

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nholik/freshness-sentinel/internal/config"
	"github.com/nholik/freshness-sentinel/internal/coordinator"
	"github.com/nholik/freshness-sentinel/internal/healthcheck"
	"github.com/nholik/freshness-sentinel/internal/metrics"
	"github.com/nholik/freshness-sentinel/internal/monitor"
	"github.com/nholik/freshness-sentinel/internal/notify"
	"github.com/nholik/freshness-sentinel/internal/prompt"
	"github.com/nholik/freshness-sentinel/internal/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type watchFlags struct {
	targetFlags
	autoRefresh   bool
	interactive   bool
	dryRun        bool
	reloadCommand string
	healthPort    int
}

func newWatchCmd(a *app) *cobra.Command {
	flags := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll deployed manifests and notify when a loaded client is stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runWatch(cmd, flags)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().BoolVar(&flags.autoRefresh, "auto-refresh", false, "reload automatically after an update is detected; overrides FS_AUTO_REFRESH")
	cmd.Flags().BoolVar(&flags.interactive, "interactive", false, "prompt on the terminal to refresh or dismiss; overrides FS_INTERACTIVE")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "log notifications instead of sending them; overrides FS_DRY_RUN")
	cmd.Flags().StringVar(&flags.reloadCommand, "reload-command", "", "shell command that reloads the client; overrides FS_RELOAD_COMMAND")
	cmd.Flags().IntVar(&flags.healthPort, "health-port", 0, "port for health, status and control endpoints, 0 to disable; overrides FS_HEALTH_PORT")
	return cmd
}

func (f *watchFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	f.targetFlags.apply(cmd, cfg)
	flags := cmd.Flags()
	if flags.Changed("auto-refresh") {
		cfg.AutoRefresh = f.autoRefresh
	}
	if flags.Changed("interactive") {
		cfg.Interactive = f.interactive
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if flags.Changed("reload-command") {
		cfg.ReloadCommand = f.reloadCommand
	}
	if flags.Changed("health-port") {
		cfg.HealthPort = f.healthPort
	}
}

func (a *app) runWatch(cmd *cobra.Command, flags *watchFlags) error {
	cfg := a.cfg
	flags.apply(cmd, &cfg)

	targets, err := resolveTargets(cfg)
	if err != nil {
		return err
	}

	notifier, err := buildNotifier(a.logger, cfg)
	if err != nil {
		return err
	}

	promMetrics := metrics.New()
	tracker := healthcheck.NewTracker()
	for _, target := range targets {
		interval := target.CheckInterval
		if interval <= 0 {
			interval = cfg.CheckInterval
		}
		tracker.Register(target.Name, interval)
	}

	deps := coordinator.Dependencies{
		Notifier:       notifier,
		Observers:      []monitor.Observer{promMetrics, tracker},
		ReloadObserver: promMetrics,
	}
	if cfg.Interactive {
		deps.Presenter = prompt.New(a.out, a.in)
	}

	coord, err := coordinator.New(a.logger, cfg, targets, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server.Start(ctx, a.logger, server.Options{
		CheckInterval: cfg.CheckInterval,
		Tracker:       tracker,
		Metrics:       promMetrics,
		Targets:       coord,
		HealthPort:    cfg.HealthPort,
		MetricsPort:   cfg.MetricsPort,
	})

	return coord.Run(ctx)
}

// buildNotifier combines the configured channels. With none configured the
// update is only logged.
func buildNotifier(logger zerolog.Logger, cfg config.Config) (notify.Notifier, error) {
	var channels []notify.Notifier
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate)
		if err != nil {
			return nil, err
		}
		channels = append(channels, webhook)
	}

	var notifier notify.Notifier
	switch len(channels) {
	case 0:
		notifier = notify.NewNoop(logger, "no notification channel configured; updates are only logged")
	case 1:
		notifier = channels[0]
	default:
		notifier = notify.NewMultiNotifier(channels...)
	}

	if cfg.DryRun {
		notifier = notify.NewDryRunNotifier(logger, notifier)
	}
	return notifier, nil
}

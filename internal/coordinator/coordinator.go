package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nholik/freshness-sentinel/internal/config"
	"github.com/nholik/freshness-sentinel/internal/entry"
	"github.com/nholik/freshness-sentinel/internal/fetcher"
	"github.com/nholik/freshness-sentinel/internal/monitor"
	"github.com/nholik/freshness-sentinel/internal/notify"
	"github.com/nholik/freshness-sentinel/internal/reload"
	"github.com/nholik/freshness-sentinel/internal/session"
	"github.com/rs/zerolog"
)

// Dependencies are shared by every session.
type Dependencies struct {
	Notifier       notify.Notifier
	Presenter      session.Presenter
	Observers      []monitor.Observer
	ReloadObserver session.ReloadObserver
	MonitorOptions []monitor.Option
}

// Coordinator manages one Session per target.
// It runs sessions in parallel and waits for context cancellation.
type Coordinator struct {
	logger        zerolog.Logger
	cfg           config.Config
	targets       []config.Target
	deps          Dependencies
	sessions      map[string]*session.Session
	order         []string
	sessionErrors map[string]error
	mu            sync.RWMutex
}

// New constructs a Coordinator and a session for every target. Targets that
// cannot be wired are logged and skipped; an error is returned only when no
// target is usable.
func New(logger zerolog.Logger, cfg config.Config, targets []config.Target, deps Dependencies) (*Coordinator, error) {
	c := &Coordinator{
		logger:        logger,
		cfg:           cfg,
		targets:       targets,
		deps:          deps,
		sessions:      make(map[string]*session.Session),
		sessionErrors: make(map[string]error),
	}

	for _, target := range targets {
		s, err := c.buildSession(target)
		if err != nil {
			logger.Error().Err(err).Str("target", target.Name).Msg("failed to initialize target")
			c.recordError(target.Name, err)
			continue
		}
		c.sessions[target.Name] = s
		c.order = append(c.order, target.Name)
	}

	if len(c.sessions) == 0 {
		return nil, errors.New("no usable targets configured")
	}
	return c, nil
}

// targetWiring is everything a target needs besides shared dependencies.
type targetWiring struct {
	options  monitor.Options
	fetcher  *fetcher.HTTPFetcher
	source   session.SourceFactory
	reloader monitor.Reloader
}

// wireTarget builds the manifest fetcher, version source and reloader of a target.
func (c *Coordinator) wireTarget(target config.Target) (targetWiring, error) {
	targetLogger := c.logger.With().Str("target", target.Name).Logger()

	manifestURL, err := target.ManifestURL()
	if err != nil {
		return targetWiring{}, err
	}
	manifestFetcher, err := fetcher.NewHTTPFetcher(manifestURL, c.cfg.FetchTimeout, 0)
	if err != nil {
		return targetWiring{}, fmt.Errorf("manifest fetcher: %w", err)
	}

	source, err := c.sourceFactory(target)
	if err != nil {
		return targetWiring{}, err
	}

	var reloader monitor.Reloader = reload.NewLogReloader(targetLogger)
	if target.ReloadCommand != "" {
		commandReloader, err := reload.NewCommandReloader(targetLogger, target.ReloadCommand)
		if err != nil {
			return targetWiring{}, err
		}
		reloader = commandReloader
	}

	interval := target.CheckInterval
	if interval <= 0 {
		interval = c.cfg.CheckInterval
	}

	return targetWiring{
		options: monitor.Options{
			Name:             target.Name,
			CheckInterval:    interval,
			ShowNotification: c.cfg.ShowNotification,
			AutoRefresh:      target.AutoRefreshEnabled(),
			AutoRefreshDelay: c.cfg.AutoRefreshDelay,
			FetchTimeout:     c.cfg.FetchTimeout,
		},
		fetcher:  manifestFetcher,
		source:   source,
		reloader: reloader,
	}, nil
}

func (c *Coordinator) buildSession(target config.Target) (*session.Session, error) {
	wiring, err := c.wireTarget(target)
	if err != nil {
		return nil, err
	}

	return session.New(c.logger, session.Config{
		Target:         target.Name,
		Options:        wiring.options,
		StartDelay:     c.cfg.StartDelay,
		Source:         wiring.source,
		Fetcher:        wiring.fetcher,
		Reloader:       wiring.reloader,
		Notifier:       c.deps.Notifier,
		Presenter:      c.deps.Presenter,
		Observers:      c.deps.Observers,
		ReloadObserver: c.deps.ReloadObserver,
		MonitorOptions: c.deps.MonitorOptions,
	})
}

// sourceFactory reads the loaded token from a local entry document when one
// is configured, and from the served entry document otherwise.
func (c *Coordinator) sourceFactory(target config.Target) (session.SourceFactory, error) {
	if target.EntryPath != "" {
		path := target.EntryPath
		return func() (monitor.VersionSource, error) {
			return entry.NewFileSource(path), nil
		}, nil
	}

	entryURL, err := target.EntryDocumentURL()
	if err != nil {
		return nil, err
	}
	if _, err := entry.NewHTTPSource(entryURL, c.cfg.FetchTimeout); err != nil {
		return nil, fmt.Errorf("entry source: %w", err)
	}
	timeout := c.cfg.FetchTimeout
	return func() (monitor.VersionSource, error) {
		return entry.NewHTTPSource(entryURL, timeout)
	}, nil
}

// Run starts all sessions in parallel and blocks until context is canceled.
// Returns nil on clean shutdown; logs any per-session errors internally.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info().
		Int("targets", len(c.order)).
		Msg("starting coordinator")

	var wg sync.WaitGroup
	for _, name := range c.order {
		wg.Add(1)
		go c.runSession(ctx, &wg, c.sessions[name])
	}

	wg.Wait()
	c.logger.Info().Msg("all sessions stopped")

	c.mu.RLock()
	defer c.mu.RUnlock()
	for target, err := range c.sessionErrors {
		if err != nil {
			c.logger.Error().Err(err).Str("target", target).Msg("session error")
		}
	}

	return nil
}

func (c *Coordinator) runSession(ctx context.Context, wg *sync.WaitGroup, s *session.Session) {
	defer wg.Done()

	targetLogger := c.logger.With().Str("target", s.Target()).Logger()
	targetLogger.Info().Msg("session started")

	if err := s.Run(ctx); err != nil {
		targetLogger.Error().Err(err).Msg("session exited with error")
		c.recordError(s.Target(), err)
	} else {
		targetLogger.Info().Msg("session exited cleanly")
	}
}

// recordError records a per-target error for later reporting.
func (c *Coordinator) recordError(target string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionErrors[target] = err
}

// Errors returns a copy of the per-target errors.
func (c *Coordinator) Errors() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]error, len(c.sessionErrors))
	for k, v := range c.sessionErrors {
		result[k] = v
	}
	return result
}

// Statuses returns the status of every session in configuration order.
func (c *Coordinator) Statuses() []session.Status {
	statuses := make([]session.Status, 0, len(c.order))
	for _, name := range c.order {
		statuses = append(statuses, c.sessions[name].Status())
	}
	return statuses
}

// Lookup returns the session of the named target.
func (c *Coordinator) Lookup(name string) (*session.Session, bool) {
	s, ok := c.sessions[name]
	return s, ok
}

// Targets returns the targets that have a running session.
func (c *Coordinator) Targets() []config.Target {
	result := make([]config.Target, 0, len(c.order))
	for _, target := range c.targets {
		if _, ok := c.sessions[target.Name]; ok {
			result = append(result, target)
		}
	}
	return result
}

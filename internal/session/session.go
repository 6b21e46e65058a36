// Package session runs the freshness monitor for one target across client
// reloads. Each load of the client gets its own monitor instance and id.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nholik/freshness-sentinel/internal/manifest"
	"github.com/nholik/freshness-sentinel/internal/monitor"
	"github.com/nholik/freshness-sentinel/internal/notify"
	"github.com/nholik/freshness-sentinel/internal/prompt"
	"github.com/rs/zerolog"
)

const defaultNotifyTimeout = time.Minute

// ErrNotLoaded is returned by actions issued before the first load started.
var ErrNotLoaded = errors.New("no client load is active")

// SourceFactory builds the version source for a new load. It is called once
// per load so that a reloaded client is read afresh.
type SourceFactory func() (monitor.VersionSource, error)

// Presenter shows an update to the user and invokes the chosen action.
type Presenter interface {
	Prompt(ctx context.Context, event notify.UpdateEvent, actions prompt.Actions) prompt.Choice
}

// ReloadObserver is told about every reload a session performs.
type ReloadObserver interface {
	ObserveReload(target string, err error)
}

// Config wires one target.
type Config struct {
	Target         string
	Options        monitor.Options
	StartDelay     time.Duration
	Source         SourceFactory
	Fetcher        monitor.ManifestFetcher
	Reloader       monitor.Reloader
	Notifier       notify.Notifier
	Presenter      Presenter
	Observers      []monitor.Observer
	ReloadObserver ReloadObserver
	NotifyTimeout  time.Duration
	// MonitorOptions are appended to every monitor the session builds.
	MonitorOptions []monitor.Option
}

// Status is a monitor status annotated with load information.
type Status struct {
	monitor.Status
	LoadID    string     `json:"load_id,omitempty"`
	Loads     int        `json:"loads"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Session owns the monitor of the current load.
type Session struct {
	logger zerolog.Logger
	cfg    Config
	now    func() time.Time

	reloads  chan struct{}
	dispatch sync.WaitGroup

	mu      sync.Mutex
	current *load
	loads   int
}

type load struct {
	id      string
	monitor *monitor.Monitor
	started time.Time
	cancel  context.CancelFunc
}

// New validates cfg and returns an idle session.
func New(logger zerolog.Logger, cfg Config) (*Session, error) {
	if cfg.Source == nil {
		return nil, errors.New("version source factory is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("manifest fetcher is required")
	}
	if cfg.Target == "" {
		cfg.Target = "default"
	}
	if cfg.Options.Name == "" {
		cfg.Options.Name = cfg.Target
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.StartDelay < 0 {
		return nil, fmt.Errorf("start delay cannot be negative: %s", cfg.StartDelay)
	}

	return &Session{
		logger:  logger.With().Str("target", cfg.Target).Logger(),
		cfg:     cfg,
		now:     time.Now,
		reloads: make(chan struct{}, 1),
	}, nil
}

// Target returns the target name.
func (s *Session) Target() string {
	return s.cfg.Target
}

// Run waits for the start delay, then monitors load after load until ctx is
// done. A reload ends the current load and starts the next one.
func (s *Session) Run(ctx context.Context) error {
	for {
		if !sleepWithContext(ctx, s.cfg.StartDelay) {
			s.dispatch.Wait()
			return nil
		}

		current, err := s.startLoad(ctx)
		if err != nil {
			s.dispatch.Wait()
			return err
		}

		select {
		case <-ctx.Done():
			s.endLoad(current)
			s.dispatch.Wait()
			return nil
		case <-s.reloads:
			s.endLoad(current)
			s.logger.Info().Str("load_id", current.id).Msg("client reloaded; starting next load")
		}
	}
}

func (s *Session) startLoad(ctx context.Context) (*load, error) {
	source, err := s.cfg.Source()
	if err != nil {
		return nil, fmt.Errorf("build version source: %w", err)
	}

	loadCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	listener := &loadListener{session: s, runCtx: ctx, ctx: loadCtx, id: id}

	options := []monitor.Option{
		monitor.WithListener(listener),
		monitor.WithReloader(monitor.ReloaderFunc(s.reload)),
	}
	for _, observer := range s.cfg.Observers {
		options = append(options, monitor.WithObserver(observer))
	}
	options = append(options, s.cfg.MonitorOptions...)

	mon, err := monitor.New(s.logger.With().Str("load_id", id).Logger(), source, s.cfg.Fetcher, s.cfg.Options, options...)
	if err != nil {
		cancel()
		return nil, err
	}
	listener.monitor = mon

	current := &load{id: id, monitor: mon, started: s.now().UTC(), cancel: cancel}

	s.mu.Lock()
	s.current = current
	s.loads++
	s.mu.Unlock()

	mon.Start()
	return current, nil
}

func (s *Session) endLoad(current *load) {
	current.cancel()
	current.monitor.Stop()
}

// reload runs the configured reloader and then ends the current load.
func (s *Session) reload(ctx context.Context) error {
	var err error
	if s.cfg.Reloader != nil {
		err = s.cfg.Reloader.Reload(ctx)
	}
	if s.cfg.ReloadObserver != nil {
		s.cfg.ReloadObserver.ObserveReload(s.cfg.Target, err)
	}

	select {
	case s.reloads <- struct{}{}:
	default:
	}
	return err
}

func (s *Session) currentLoad() *load {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CheckNow runs a manual check on the current load.
func (s *Session) CheckNow(ctx context.Context) (bool, error) {
	current := s.currentLoad()
	if current == nil {
		return false, ErrNotLoaded
	}
	return current.monitor.ManualCheck(ctx), nil
}

// Dismiss hides the notification of the current load.
func (s *Session) Dismiss() error {
	current := s.currentLoad()
	if current == nil {
		return ErrNotLoaded
	}
	current.monitor.Dismiss()
	return nil
}

// Refresh starts a reload of the client and returns without waiting for it.
// Ending the session cancels a reload still in progress.
func (s *Session) Refresh() error {
	current := s.currentLoad()
	if current == nil {
		return ErrNotLoaded
	}
	current.monitor.Refresh()
	return nil
}

// Status reports the state of the current load.
func (s *Session) Status() Status {
	s.mu.Lock()
	current, loads := s.current, s.loads
	s.mu.Unlock()

	if current == nil {
		return Status{Status: monitor.Status{
			Name:      s.cfg.Target,
			Lifecycle: monitor.LifecycleStopped,
			Phase:     monitor.PhaseNoUpdate,
		}}
	}
	started := current.started
	return Status{
		Status:    current.monitor.Status(),
		LoadID:    current.id,
		Loads:     loads,
		StartedAt: &started,
	}
}

func (s *Session) dispatchAsync(fn func()) {
	s.dispatch.Add(1)
	go func() {
		defer s.dispatch.Done()
		fn()
	}()
}

// loadListener forwards the monitor's notification lifecycle to the
// notifier and presenter of its session.
type loadListener struct {
	session *Session
	// runCtx outlives the load so a notification survives the reload it announced.
	runCtx  context.Context
	ctx     context.Context
	id      string
	monitor *monitor.Monitor
}

func (l *loadListener) OnUpdateDetected(latest manifest.VersionManifest) {
	s := l.session
	current, _ := l.monitor.ClientState().CurrentVersion()
	event := notify.UpdateEvent{
		Target:         s.cfg.Target,
		CurrentVersion: current,
		Manifest:       latest,
		DetectedAt:     s.now().UTC(),
	}

	if s.cfg.Notifier != nil {
		s.dispatchAsync(func() {
			ctx, cancel := context.WithTimeout(l.runCtx, s.cfg.NotifyTimeout)
			defer cancel()
			if err := s.cfg.Notifier.Notify(ctx, event); err != nil {
				s.logger.Error().Err(err).Str("load_id", l.id).Msg("failed to deliver update notification")
			}
		})
	}
	if s.cfg.Presenter != nil {
		s.dispatchAsync(func() {
			choice := s.cfg.Presenter.Prompt(l.ctx, event, l.monitor)
			s.logger.Debug().Str("load_id", l.id).Str("choice", string(choice)).Msg("prompt closed")
		})
	}
}

func (l *loadListener) OnDismiss() {
	l.session.logger.Debug().Str("load_id", l.id).Msg("notification hidden")
}

func (l *loadListener) OnRefreshRequested() {
	l.session.logger.Info().Str("load_id", l.id).Msg("reload requested")
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
